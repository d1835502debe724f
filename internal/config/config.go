package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the custodian service configuration.
type Config struct {
	HostID   string `json:"host_id"`
	LogLevel string `json:"log_level"`

	// Evidence vault root. Snapshots live under <VaultDir>/emergency_snapshots.
	VaultDir string `json:"vault_dir"`

	// Monitoring
	PollInterval  time.Duration `json:"poll_interval"`
	BPFObjectPath string        `json:"bpf_object_path"`

	// Detection
	SignaturesFile string        `json:"signatures_file"`
	DedupWindow    time.Duration `json:"dedup_window"`
	DedupCap       int           `json:"dedup_cap"`

	// Snapshot engine
	CaptureNetwork bool          `json:"capture_network"`
	TaskTimeout    time.Duration `json:"task_timeout"`
	ProcessCap     int           `json:"process_cap"`
	FSMetadataCap  int64         `json:"fs_metadata_cap_bytes"`
	FSRoots        []string      `json:"fs_roots"`

	// Incident pipeline
	QueueSize    int           `json:"queue_size"`
	DrainTimeout time.Duration `json:"drain_timeout"`

	// Collaborators
	NATSURL         string        `json:"nats_url"`
	IncidentSubject string        `json:"incident_subject"`
	AlertSubject    string        `json:"alert_subject"`
	ReasonerURL     string        `json:"reasoner_url"`
	ReasonerTimeout time.Duration `json:"reasoner_timeout"`

	// HTTP status API
	HTTPAddr string `json:"http_addr"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "localhost"
	}

	cfg := &Config{
		HostID:   getEnv("CUSTODIAN_HOST_ID", hostname),
		LogLevel: getEnv("CUSTODIAN_LOG_LEVEL", "info"),

		VaultDir: getEnv("CUSTODIAN_VAULT_DIR", "./evidence"),

		PollInterval:  getMillisEnv("CUSTODIAN_POLL_INTERVAL_MS", 250*time.Millisecond),
		BPFObjectPath: getEnv("CUSTODIAN_BPF_OBJECT", "/usr/lib/custodian/exec_tracer.o"),

		SignaturesFile: getEnv("CUSTODIAN_SIGNATURES_FILE", ""),
		DedupWindow:    getSecondsEnv("CUSTODIAN_DEDUP_WINDOW_SEC", 30*time.Second),
		DedupCap:       getIntEnv("CUSTODIAN_DEDUP_CAP", 4096),

		CaptureNetwork: getBoolEnv("CUSTODIAN_CAPTURE_NETWORK", true),
		TaskTimeout:    getSecondsEnv("CUSTODIAN_TASK_TIMEOUT_SEC", 5*time.Second),
		ProcessCap:     getIntEnv("CUSTODIAN_PROCESS_CAP", 100),
		FSMetadataCap:  getInt64Env("CUSTODIAN_FS_METADATA_CAP_BYTES", 100*1024),
		FSRoots:        getListEnv("CUSTODIAN_FS_ROOTS", []string{"/tmp", "/home", "/var"}),

		QueueSize:    getIntEnv("CUSTODIAN_QUEUE_SIZE", 256),
		DrainTimeout: getSecondsEnv("CUSTODIAN_DRAIN_TIMEOUT_SEC", 10*time.Second),

		NATSURL:         getEnv("CUSTODIAN_NATS_URL", "nats://localhost:4222"),
		IncidentSubject: getEnv("CUSTODIAN_INCIDENT_SUBJECT", "custodian.incidents"),
		AlertSubject:    getEnv("CUSTODIAN_ALERT_SUBJECT", "custodian.alerts"),
		ReasonerURL:     getEnv("CUSTODIAN_REASONER_URL", ""),
		ReasonerTimeout: getSecondsEnv("CUSTODIAN_REASONER_TIMEOUT_SEC", 5*time.Second),

		HTTPAddr: getEnv("CUSTODIAN_HTTP_ADDR", ":8087"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.HostID == "" {
		return fmt.Errorf("host_id cannot be empty")
	}
	if c.VaultDir == "" {
		return fmt.Errorf("vault_dir cannot be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.DedupWindow <= 0 {
		return fmt.Errorf("dedup_window must be positive")
	}
	if c.DedupCap <= 0 {
		return fmt.Errorf("dedup_cap must be positive")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive")
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("task_timeout must be positive")
	}
	if c.ProcessCap <= 0 {
		return fmt.Errorf("process_cap must be positive")
	}
	return nil
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable with a default value.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getInt64Env gets an int64 environment variable with a default value.
func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getBoolEnv gets a bool environment variable with a default value.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getSecondsEnv gets a duration environment variable expressed in seconds.
func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

// getMillisEnv gets a duration environment variable expressed in milliseconds.
func getMillisEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if millis, err := strconv.Atoi(value); err == nil {
			return time.Duration(millis) * time.Millisecond
		}
	}
	return defaultValue
}

// getListEnv gets a comma-separated list environment variable.
func getListEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

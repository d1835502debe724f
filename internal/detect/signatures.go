package detect

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"custodian/internal/model"
)

// Signature maps a case-insensitive command substring to a threat
// classification. Tables are ordered: the first matching entry wins.
type Signature struct {
	Pattern     string           `yaml:"pattern"`
	Type        model.ThreatType `yaml:"threat_type"`
	Severity    model.Severity   `yaml:"severity"`
	Description string           `yaml:"description"`
}

// BuiltinSignatures returns the signature table for the given platform
// ("windows", "linux", "darwin").
func BuiltinSignatures(goos string) []Signature {
	switch goos {
	case "windows":
		return []Signature{
			{Pattern: "wevtutil", Type: model.ThreatLogClearing, Severity: model.SeverityCritical, Description: "Windows Event Log manipulation"},
			{Pattern: "vssadmin delete", Type: model.ThreatVSSDeletion, Severity: model.SeverityCritical, Description: "Volume Shadow Copy deletion"},
			{Pattern: "clear-eventlog", Type: model.ThreatLogClearing, Severity: model.SeverityCritical, Description: "PowerShell event log clearing"},
			{Pattern: "cipher /w", Type: model.ThreatFileWiping, Severity: model.SeverityHigh, Description: "Secure file deletion"},
			{Pattern: "bcdedit", Type: model.ThreatBootConfig, Severity: model.SeverityHigh, Description: "Boot configuration modification"},
		}
	case "darwin":
		return []Signature{
			{Pattern: "log erase", Type: model.ThreatLogClearing, Severity: model.SeverityCritical, Description: "System log erasure"},
			{Pattern: "rm -rf /var/log", Type: model.ThreatLogClearing, Severity: model.SeverityCritical, Description: "System log deletion"},
			{Pattern: "srm", Type: model.ThreatFileWiping, Severity: model.SeverityHigh, Description: "Secure file deletion"},
		}
	default: // linux and other unix
		return []Signature{
			{Pattern: "rm -rf /var/log", Type: model.ThreatLogClearing, Severity: model.SeverityCritical, Description: "System log deletion"},
			{Pattern: "auditctl -d", Type: model.ThreatLogClearing, Severity: model.SeverityCritical, Description: "Audit rule deletion"},
			{Pattern: "journalctl --vacuum", Type: model.ThreatLogClearing, Severity: model.SeverityHigh, Description: "Journal log cleanup"},
			{Pattern: "history -c", Type: model.ThreatLogClearing, Severity: model.SeverityMedium, Description: "Command history clearing"},
			{Pattern: "shred", Type: model.ThreatFileWiping, Severity: model.SeverityHigh, Description: "Secure file deletion"},
		}
	}
}

// RiskyExecutables returns process names that warrant a capture even when no
// signature matches the command text. The executable itself is the signal.
func RiskyExecutables(goos string) []string {
	if goos == "windows" {
		return []string{"wevtutil.exe", "vssadmin.exe", "cipher.exe", "bcdedit.exe"}
	}
	return []string{"shred", "srm", "wipe"}
}

type signatureFile struct {
	Signatures []Signature `yaml:"signatures"`
}

// LoadSignatureFile reads extra signatures from a YAML file. Loaded entries
// are matched before the built-in table.
func LoadSignatureFile(path string) ([]Signature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signature file: %w", err)
	}

	var parsed signatureFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse signature file: %w", err)
	}

	for i, sig := range parsed.Signatures {
		if sig.Pattern == "" {
			return nil, fmt.Errorf("signature %d: pattern cannot be empty", i)
		}
		if sig.Type == "" {
			parsed.Signatures[i].Type = model.ThreatOther
		}
		if sig.Severity == "" {
			parsed.Signatures[i].Severity = model.SeverityMedium
		}
	}

	return parsed.Signatures, nil
}

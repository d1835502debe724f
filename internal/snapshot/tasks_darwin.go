//go:build darwin

package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DetectCapabilities probes what this platform can capture.
func DetectCapabilities() Capabilities {
	return Capabilities{
		VolumeState: false,
		Admin:       os.Geteuid() == 0,
	}
}

type darwinTasks struct {
	opts Options
	caps Capabilities
}

func newPlatformTasks(opts Options, caps Capabilities) TaskSet {
	return &darwinTasks{opts: opts, caps: caps}
}

func (t *darwinTasks) Task(cat Category) (TaskFunc, bool) {
	switch cat {
	case CategoryProcessList:
		return func(ctx context.Context, dir string) error {
			return runCommandToFile(ctx, filepath.Join(dir, "process_state.txt"),
				"ps", "axo", "pid,ppid,user,lstart,comm,args")
		}, true
	case CategoryNetworkState:
		return func(ctx context.Context, dir string) error {
			return runCommandToFile(ctx, filepath.Join(dir, "network_state.txt"),
				"netstat", "-anv")
		}, true
	case CategoryLogArtifacts:
		return t.captureUnifiedLog, true
	case CategoryFSMetadata:
		return func(ctx context.Context, dir string) error {
			return captureFSMetadata(ctx, filepath.Join(dir, "filesystem_metadata.txt"), t.opts.FSRoots, t.opts.FSMetadataCap)
		}, true
	}
	return nil, false
}

// captureUnifiedLog exports the last hour of the unified log.
func (t *darwinTasks) captureUnifiedLog(ctx context.Context, dir string) error {
	logsDir := filepath.Join(dir, "system_logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}
	return runCommandToFile(ctx, filepath.Join(logsDir, "system.log"),
		"log", "show", "--last", "1h")
}

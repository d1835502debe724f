//go:build windows

package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

var windowsEventLogs = []string{"Security", "System", "Application"}

// DetectCapabilities probes what this platform can capture.
func DetectCapabilities() Capabilities {
	// Writing to the Windows directory is a cheap elevation probe.
	probe := filepath.Join(os.Getenv("SystemRoot"), "custodian-elevation-probe")
	admin := false
	if f, err := os.Create(probe); err == nil {
		f.Close()
		os.Remove(probe)
		admin = true
	}
	return Capabilities{
		VolumeState: true,
		Admin:       admin,
	}
}

type windowsTasks struct {
	opts Options
	caps Capabilities
}

func newPlatformTasks(opts Options, caps Capabilities) TaskSet {
	return &windowsTasks{opts: opts, caps: caps}
}

func (t *windowsTasks) Task(cat Category) (TaskFunc, bool) {
	switch cat {
	case CategoryProcessList:
		return func(ctx context.Context, dir string) error {
			return runCommandToFile(ctx, filepath.Join(dir, "process_state.csv"),
				"tasklist", "/v", "/fo", "csv")
		}, true
	case CategoryNetworkState:
		return func(ctx context.Context, dir string) error {
			return runCommandToFile(ctx, filepath.Join(dir, "network_state.txt"),
				"netstat", "-ano")
		}, true
	case CategoryLogArtifacts:
		return t.captureEventLogs, true
	case CategoryVolumeState:
		return func(ctx context.Context, dir string) error {
			return runCommandToFile(ctx, filepath.Join(dir, "vss_state.txt"),
				"vssadmin", "list", "shadows")
		}, true
	case CategoryFSMetadata:
		return func(ctx context.Context, dir string) error {
			return captureFSMetadata(ctx, filepath.Join(dir, "filesystem_metadata.txt"), t.opts.FSRoots, t.opts.FSMetadataCap)
		}, true
	}
	return nil, false
}

// captureEventLogs exports the Windows event logs. Full .evtx export needs
// Administrator; the fallback captures log metadata and the most recent
// events, plus a notice explaining the limitation.
func (t *windowsTasks) captureEventLogs(ctx context.Context, dir string) error {
	logsDir := filepath.Join(dir, "event_logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}

	exported := 0
	for _, logName := range windowsEventLogs {
		if ctx.Err() != nil {
			break
		}

		evtx := filepath.Join(logsDir, logName+".evtx")
		if err := runCommandToFile(ctx, filepath.Join(logsDir, logName+"_export.log"),
			"wevtutil", "epl", logName, evtx); err == nil {
			if _, serr := os.Stat(evtx); serr == nil {
				exported++
				continue
			}
		}

		// Metadata and recent events don't need elevation.
		_ = runCommandToFile(ctx, filepath.Join(logsDir, logName+"_metadata.txt"),
			"wevtutil", "gli", logName)
		_ = runCommandToFile(ctx, filepath.Join(logsDir, logName+"_recent_events.txt"),
			"wevtutil", "qe", logName, "/c:10", "/rd:true", "/f:text")
	}

	if exported == 0 {
		return writeLimitationNotice(logsDir,
			"Full event log export requires Administrator privileges.\n"+
				"Captured log metadata and recent events only.")
	}
	return nil
}

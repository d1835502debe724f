//go:build !linux && !windows && !darwin

package snapshot

import (
	"context"
	"path/filepath"
)

// DetectCapabilities probes what this platform can capture.
func DetectCapabilities() Capabilities {
	return Capabilities{}
}

type genericTasks struct {
	opts Options
}

func newPlatformTasks(opts Options, _ Capabilities) TaskSet {
	return &genericTasks{opts: opts}
}

// Task returns best-effort generic unix captures.
func (t *genericTasks) Task(cat Category) (TaskFunc, bool) {
	switch cat {
	case CategoryProcessList:
		return func(ctx context.Context, dir string) error {
			return runCommandToFile(ctx, filepath.Join(dir, "process_state.txt"),
				"ps", "aux")
		}, true
	case CategoryNetworkState:
		return func(ctx context.Context, dir string) error {
			return runCommandToFile(ctx, filepath.Join(dir, "network_state.txt"),
				"netstat", "-an")
		}, true
	case CategoryFSMetadata:
		return func(ctx context.Context, dir string) error {
			return captureFSMetadata(ctx, filepath.Join(dir, "filesystem_metadata.txt"), t.opts.FSRoots, t.opts.FSMetadataCap)
		}, true
	}
	return nil, false
}

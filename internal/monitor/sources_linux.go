//go:build linux

package monitor

import (
	"log/slog"
	"time"
)

// PlatformSources returns the sources this platform supports: the exec
// tracer for event-driven detection plus the differential poller as a
// safety net for anything the tracer misses.
func PlatformSources(logger *slog.Logger, pollInterval time.Duration, bpfObjectPath string) []Source {
	return []Source{
		NewEBPFSource(logger, bpfObjectPath),
		NewPoller(logger, pollInterval),
	}
}

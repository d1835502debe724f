//go:build !linux

package monitor

import (
	"log/slog"
	"time"
)

// PlatformSources returns the sources this platform supports. Without a
// kernel event channel the differential poller is the sole strategy.
func PlatformSources(logger *slog.Logger, pollInterval time.Duration, _ string) []Source {
	return []Source{
		NewPoller(logger, pollInterval),
	}
}

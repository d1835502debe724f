package monitor

import (
	"context"
	"log/slog"
	"time"

	"custodian/internal/model"
)

// scanFunc returns the current process table keyed by pid.
type scanFunc func() (map[int]model.ProcessSpawnEvent, error)

// Poller detects spawns by differencing successive process table scans. It
// is the universal fallback: it works everywhere, at the cost of missing
// processes that start and exit between two scans. Its baseline is private;
// restarting the poller re-seeds it without emitting the backlog.
type Poller struct {
	logger   *slog.Logger
	interval time.Duration
	scan     scanFunc
}

// NewPoller creates the differential poller using the platform scanner.
func NewPoller(logger *slog.Logger, interval time.Duration) *Poller {
	return &Poller{
		logger:   logger.With("component", "poller"),
		interval: interval,
		scan:     newProcessScanner(),
	}
}

func newTestPoller(logger *slog.Logger, interval time.Duration, scan scanFunc) *Poller {
	return &Poller{logger: logger, interval: interval, scan: scan}
}

func (p *Poller) Name() string { return "polling" }

// Run seeds the baseline from the first scan, then emits only pids that
// appear in a later scan. The seed scan never emits: everything already
// running predates monitoring.
func (p *Poller) Run(ctx context.Context, emit Handler) error {
	known, err := p.scan()
	if err != nil {
		p.logger.Warn("baseline scan failed, starting empty", "error", err)
		known = map[int]model.ProcessSpawnEvent{}
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		current, err := p.scan()
		if err != nil {
			p.logger.Warn("process scan failed", "error", err)
			continue
		}

		for pid, ev := range current {
			if _, seen := known[pid]; !seen {
				emit(ev)
			}
		}
		known = current
	}
}

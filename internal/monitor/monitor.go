package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"custodian/internal/model"
)

// ErrSourceUnavailable reports that a source cannot run on this host, e.g.
// the kernel tracer object is missing or the caller lacks privileges. The
// monitor degrades to its remaining sources instead of failing startup.
var ErrSourceUnavailable = errors.New("event source unavailable")

// Handler receives one process spawn event. It is called synchronously from
// the source's worker goroutine and must return quickly.
type Handler func(model.ProcessSpawnEvent)

// Source observes process creation and emits events until its context is
// canceled.
type Source interface {
	Name() string
	Run(ctx context.Context, emit Handler) error
}

// Monitor runs every available source concurrently against one handler.
// Event-driven sources give sub-second latency; the differential poller runs
// alongside them as a safety net, and alone where no event channel exists.
type Monitor struct {
	logger  *slog.Logger
	sources []Source
	handler Handler

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	active  []string
}

// New creates a monitor over the given sources.
func New(logger *slog.Logger, sources []Source, handler Handler) *Monitor {
	return &Monitor{
		logger:  logger.With("component", "monitor"),
		sources: sources,
		handler: handler,
	}
}

// Start launches one worker per source. It is idempotent, and it fails only
// when no source at all could run.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	m.active = nil
	started := 0
	for _, src := range m.sources {
		src := src
		m.wg.Add(1)
		started++
		m.active = append(m.active, src.Name())
		go func() {
			defer m.wg.Done()
			if err := src.Run(runCtx, m.handler); err != nil && !errors.Is(err, context.Canceled) {
				if errors.Is(err, ErrSourceUnavailable) {
					m.logger.Warn("event source unavailable, continuing degraded",
						"source", src.Name(), "error", err)
					return
				}
				m.logger.Error("event source stopped", "source", src.Name(), "error", err)
			}
		}()
	}

	if started == 0 {
		cancel()
		return fmt.Errorf("no process event sources available")
	}

	m.cancel = cancel
	m.running = true
	m.logger.Info("process monitoring started", "sources", m.active)
	return nil
}

// Stop cancels every source worker and waits for them to exit. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("process monitoring stopped")
}

// Active returns the names of the sources the monitor was started with.
func (m *Monitor) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.active...)
}

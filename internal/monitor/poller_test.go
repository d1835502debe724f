package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodian/internal/model"
)

type scriptedScanner struct {
	mu    sync.Mutex
	scans []map[int]model.ProcessSpawnEvent
	calls int
}

func (s *scriptedScanner) scan() (map[int]model.ProcessSpawnEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.scans) {
		idx = len(s.scans) - 1
	}
	s.calls++
	return s.scans[idx], nil
}

func proc(pid int, name string) model.ProcessSpawnEvent {
	return model.ProcessSpawnEvent{PID: pid, Name: name, Cmdline: name, Method: "polling"}
}

func collectEvents(t *testing.T, p *Poller, want int) []model.ProcessSpawnEvent {
	t.Helper()

	var mu sync.Mutex
	var events []model.ProcessSpawnEvent

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx, func(ev model.ProcessSpawnEvent) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		})
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n >= want {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	return append([]model.ProcessSpawnEvent(nil), events...)
}

func TestPoller_EmitsOnlyNewProcesses(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	baseline := map[int]model.ProcessSpawnEvent{
		1:   proc(1, "init"),
		100: proc(100, "sshd"),
	}
	withSpawn := map[int]model.ProcessSpawnEvent{
		1:    proc(1, "init"),
		100:  proc(100, "sshd"),
		4242: proc(4242, "shred"),
	}

	scanner := &scriptedScanner{scans: []map[int]model.ProcessSpawnEvent{baseline, baseline, withSpawn, withSpawn}}
	p := newTestPoller(logger, 10*time.Millisecond, scanner.scan)

	events := collectEvents(t, p, 1)
	require.NotEmpty(t, events)
	// Only the new pid is emitted; the pre-existing ones never are.
	for _, ev := range events {
		assert.Equal(t, 4242, ev.PID)
		assert.Equal(t, "shred", ev.Name)
	}
	assert.Len(t, events, 1)
}

func TestPoller_BaselineScanNeverEmits(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	table := map[int]model.ProcessSpawnEvent{
		1: proc(1, "init"),
		2: proc(2, "kthreadd"),
	}
	scanner := &scriptedScanner{scans: []map[int]model.ProcessSpawnEvent{table}}
	p := newTestPoller(logger, 10*time.Millisecond, scanner.scan)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	emitted := 0
	_ = p.Run(ctx, func(model.ProcessSpawnEvent) { emitted++ })
	assert.Equal(t, 0, emitted)
}

func TestPoller_ExitedPidsDropFromBaseline(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	first := map[int]model.ProcessSpawnEvent{1: proc(1, "init"), 50: proc(50, "worker")}
	second := map[int]model.ProcessSpawnEvent{1: proc(1, "init")}
	// The pid returns later: it is a new process and must be emitted.
	third := map[int]model.ProcessSpawnEvent{1: proc(1, "init"), 50: proc(50, "worker")}

	scanner := &scriptedScanner{scans: []map[int]model.ProcessSpawnEvent{first, second, third, third}}
	p := newTestPoller(logger, 10*time.Millisecond, scanner.scan)

	events := collectEvents(t, p, 1)
	require.NotEmpty(t, events)
	assert.Equal(t, 50, events[0].PID)
}

func TestMonitor_StartStopIdempotent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	scanner := &scriptedScanner{scans: []map[int]model.ProcessSpawnEvent{{1: proc(1, "init")}}}
	p := newTestPoller(logger, 10*time.Millisecond, scanner.scan)

	m := New(logger, []Source{p}, func(model.ProcessSpawnEvent) {})
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))

	assert.Equal(t, []string{"polling"}, m.Active())

	m.Stop()
	m.Stop()

	// A restart rebuilds the active list instead of appending to it.
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, []string{"polling"}, m.Active())
	m.Stop()
}

func TestMonitor_DegradesWhenSourceUnavailable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	unavailable := &failingSource{err: fmt.Errorf("%w: no tracer", ErrSourceUnavailable)}
	scanner := &scriptedScanner{scans: []map[int]model.ProcessSpawnEvent{{1: proc(1, "init")}}}
	p := newTestPoller(logger, 10*time.Millisecond, scanner.scan)

	m := New(logger, []Source{unavailable, p}, func(model.ProcessSpawnEvent) {})
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	assert.Equal(t, []string{"tracer", "polling"}, m.Active())
}

type failingSource struct {
	err error
}

func (f *failingSource) Name() string { return "tracer" }

func (f *failingSource) Run(ctx context.Context, emit Handler) error { return f.err }

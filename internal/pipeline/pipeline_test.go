package pipeline

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

	"custodian/internal/metrics"
	"custodian/internal/model"
)

var testMetrics = metrics.New()

type stubEngine struct {
	mu        sync.Mutex
	triggered []model.ThreatType
	fail      bool
}

func (s *stubEngine) Trigger(ctx context.Context, threat model.ThreatType, command string, proc model.ProcessInfo) (*model.SnapshotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, fmt.Errorf("capture failed")
	}
	s.triggered = append(s.triggered, threat)
	now := time.Now()
	return &model.SnapshotRecord{
		ID:          fmt.Sprintf("SNAP-test-%d", len(s.triggered)),
		ThreatType:  threat,
		Command:     command,
		Process:     proc,
		StartedAt:   now,
		CompletedAt: now.Add(40 * time.Millisecond),
		Tasks: []model.TaskResult{
			{Category: "process_list", OK: true},
			{Category: "volume_state", OK: true},
		},
	}, nil
}

func (s *stubEngine) Info(id string) (*model.SnapshotInfo, error) {
	return &model.SnapshotInfo{ID: id, Path: "/tmp/" + id, SizeBytes: 1024, FileCount: 3}, nil
}

type stubVault struct {
	mu        sync.Mutex
	evidence  []string
	archives  []string
	reports   []string
	failWrite bool
}

func (s *stubVault) PreserveEvidence(incidentID string, data any, kind string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return "", fmt.Errorf("ledger unwritable")
	}
	s.evidence = append(s.evidence, incidentID)
	return "EVD-test", nil
}

func (s *stubVault) PreserveSnapshotArchive(incidentID, snapshotID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return "", fmt.Errorf("ledger unwritable")
	}
	s.archives = append(s.archives, snapshotID)
	return "ART-test", nil
}

func (s *stubVault) SaveReport(incidentID, content, reportType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return "", fmt.Errorf("ledger unwritable")
	}
	s.reports = append(s.reports, content)
	return "/reports/" + incidentID, nil
}

type stubReasoner struct {
	verdict *model.Verdict
	err     error
	delay   time.Duration
}

func (s *stubReasoner) Analyze(ctx context.Context, cc model.CommandContext) (*model.Verdict, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.verdict, s.err
}

type stubPublisher struct {
	mu        sync.Mutex
	incidents []model.IncidentRecord
	alerts    []string
}

func (s *stubPublisher) PublishIncident(rec model.IncidentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = append(s.incidents, rec)
	return nil
}

func (s *stubPublisher) PublishAlert(kind, message string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, kind)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func waitProcessed(t *testing.T, p *Pipeline, want uint64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if processed, _ := p.Stats(); processed >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pipeline did not process %d items in time", want)
}

func TestPipeline_EndToEndVSSDeletion(t *testing.T) {
	engine := &stubEngine{}
	vlt := &stubVault{}
	pub := &stubPublisher{}
	p := New(testLogger(), testMetrics, engine, vlt, nil, pub, Options{QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	detected := time.Now()
	ok := p.Enqueue(&WorkItem{
		Command: "vssadmin delete shadows /all /quiet",
		Process: model.ProcessInfo{PID: 4242, Name: "vssadmin.exe", Username: "attacker"},
		Match: model.ThreatMatch{
			Type:        model.ThreatVSSDeletion,
			Severity:    model.SeverityCritical,
			Description: "Volume Shadow Copy deletion",
		},
		Critical:   true,
		DetectedAt: detected,
	})
	require.True(t, ok)
	waitProcessed(t, p, 1)

	// Snapshot triggered for the right threat.
	require.Equal(t, []model.ThreatType{model.ThreatVSSDeletion}, engine.triggered)

	// Exactly one archive, one evidence entry, one report.
	assert.Equal(t, []string{"SNAP-test-1"}, vlt.archives)
	assert.Len(t, vlt.evidence, 1)
	require.Len(t, vlt.reports, 1)
	assert.Contains(t, vlt.reports[0], "vssadmin delete shadows /all /quiet")
	assert.Contains(t, vlt.reports[0], "volume_state")

	// One incident record published with the snapshot id.
	require.Len(t, pub.incidents, 1)
	rec := pub.incidents[0]
	assert.Contains(t, rec.ID, "INC-")
	assert.Equal(t, "vss_deletion", rec.Category)
	assert.Equal(t, model.SeverityCritical, rec.Severity)
	assert.Equal(t, "SNAP-test-1", rec.SnapshotID)

	tickets := p.Tickets()
	require.Len(t, tickets, 1)
	assert.Equal(t, model.IncidentStatusReported, tickets[0].Status)
}

func TestPipeline_ProcessesInArrivalOrder(t *testing.T) {
	engine := &stubEngine{}
	vlt := &stubVault{}
	p := New(testLogger(), testMetrics, engine, vlt, nil, nil, Options{QueueSize: 16})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	threats := []model.ThreatType{model.ThreatLogClearing, model.ThreatVSSDeletion, model.ThreatFileWiping}
	for _, threat := range threats {
		p.Enqueue(&WorkItem{
			Command:    "cmd",
			Match:      model.ThreatMatch{Type: threat, Severity: model.SeverityHigh},
			DetectedAt: time.Now(),
		})
	}
	waitProcessed(t, p, 3)

	assert.Equal(t, threats, engine.triggered)
}

func TestPipeline_FullQueueDrops(t *testing.T) {
	engine := &stubEngine{}
	vlt := &stubVault{}
	p := New(testLogger(), testMetrics, engine, vlt, nil, nil, Options{QueueSize: 1})

	// No consumer running: the second item cannot fit.
	first := p.Enqueue(&WorkItem{Command: "a", DetectedAt: time.Now()})
	second := p.Enqueue(&WorkItem{Command: "b", DetectedAt: time.Now()})

	assert.True(t, first)
	assert.False(t, second)
	_, dropped := p.Stats()
	assert.Equal(t, uint64(1), dropped)
}

func TestPipeline_StopDrainsQueuedItems(t *testing.T) {
	engine := &stubEngine{}
	vlt := &stubVault{}
	p := New(testLogger(), testMetrics, engine, vlt, nil, nil, Options{QueueSize: 16})

	for i := 0; i < 4; i++ {
		p.Enqueue(&WorkItem{
			Command:    fmt.Sprintf("cmd-%d", i),
			Match:      model.ThreatMatch{Type: model.ThreatOther, Severity: model.SeverityHigh},
			DetectedAt: time.Now(),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// Items queued before the stop marker are all processed.
	p.Stop(3 * time.Second)

	processed, _ := p.Stats()
	assert.Equal(t, uint64(4), processed)
	assert.Len(t, engine.triggered, 4)
}

func TestPipeline_SnapshotFailureDegradesIncident(t *testing.T) {
	engine := &stubEngine{fail: true}
	vlt := &stubVault{}
	pub := &stubPublisher{}
	p := New(testLogger(), testMetrics, engine, vlt, nil, pub, Options{QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Enqueue(&WorkItem{
		Command:    "rm -rf /var/log",
		Match:      model.ThreatMatch{Type: model.ThreatLogClearing, Severity: model.SeverityCritical},
		DetectedAt: time.Now(),
	})
	waitProcessed(t, p, 1)

	tickets := p.Tickets()
	require.Len(t, tickets, 1)
	assert.Equal(t, model.IncidentStatusDegraded, tickets[0].Status)
	assert.Empty(t, tickets[0].SnapshotID)

	// The report still exists and says capture failed.
	require.Len(t, vlt.reports, 1)
	assert.Contains(t, vlt.reports[0], "snapshot FAILED")

	// No archive for a snapshot that never happened.
	assert.Empty(t, vlt.archives)
}

func TestPipeline_ReasonerVerdictRaisesSeverity(t *testing.T) {
	engine := &stubEngine{}
	vlt := &stubVault{}
	reasoner := &stubReasoner{verdict: &model.Verdict{
		IsThreat:   true,
		Confidence: 0.95,
		Category:   "anti_forensics",
		Severity:   model.SeverityCritical,
	}}
	p := New(testLogger(), testMetrics, engine, vlt, reasoner, nil, Options{QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Enqueue(&WorkItem{
		Command:    "history -c",
		Match:      model.ThreatMatch{Type: model.ThreatLogClearing, Severity: model.SeverityMedium},
		DetectedAt: time.Now(),
	})
	waitProcessed(t, p, 1)

	tickets := p.Tickets()
	require.Len(t, tickets, 1)
	assert.Equal(t, model.SeverityCritical, tickets[0].Severity)
	require.NotNil(t, tickets[0].Verdict)
	assert.InDelta(t, 0.95, tickets[0].Verdict.Confidence, 0.001)
}

func TestPipeline_ReasonerTimeoutMeansUnknown(t *testing.T) {
	engine := &stubEngine{}
	vlt := &stubVault{}
	reasoner := &stubReasoner{delay: 5 * time.Second}
	p := New(testLogger(), testMetrics, engine, vlt, reasoner, nil, Options{
		QueueSize:       8,
		ReasonerTimeout: 30 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Enqueue(&WorkItem{
		Command:    "shred -u /etc/shadow",
		Match:      model.ThreatMatch{Type: model.ThreatFileWiping, Severity: model.SeverityHigh},
		DetectedAt: time.Now(),
	})
	waitProcessed(t, p, 1)

	tickets := p.Tickets()
	require.Len(t, tickets, 1)
	assert.Nil(t, tickets[0].Verdict)
	// Matcher severity stands.
	assert.Equal(t, model.SeverityHigh, tickets[0].Severity)
}

func TestPipeline_VaultFailureRaisesAlert(t *testing.T) {
	engine := &stubEngine{}
	vlt := &stubVault{failWrite: true}
	pub := &stubPublisher{}
	p := New(testLogger(), testMetrics, engine, vlt, nil, pub, Options{QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Enqueue(&WorkItem{
		Command:    "wevtutil cl Security",
		Match:      model.ThreatMatch{Type: model.ThreatLogClearing, Severity: model.SeverityCritical},
		DetectedAt: time.Now(),
	})
	waitProcessed(t, p, 1)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.NotEmpty(t, pub.alerts)
	for _, kind := range pub.alerts {
		assert.Equal(t, "vault_write_failure", kind)
	}
}

func TestPipeline_CriticalFloorsAtHigh(t *testing.T) {
	engine := &stubEngine{}
	vlt := &stubVault{}
	p := New(testLogger(), testMetrics, engine, vlt, nil, nil, Options{QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// An externally forced-critical item with a low matcher severity still
	// reports at least HIGH.
	p.Enqueue(&WorkItem{
		Command:    "custom",
		Match:      model.ThreatMatch{Type: model.ThreatOther, Severity: model.SeverityLow},
		Critical:   true,
		DetectedAt: time.Now(),
	})
	waitProcessed(t, p, 1)

	tickets := p.Tickets()
	require.Len(t, tickets, 1)
	assert.Equal(t, model.SeverityHigh, tickets[0].Severity)
}

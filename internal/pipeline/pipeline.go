package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"custodian/internal/metrics"
	"custodian/internal/model"
)

// WorkItem is one complete unit of incident work. The fast path fills it in
// and enqueues; everything slow happens on the consumer side.
type WorkItem struct {
	Command    string
	Process    model.ProcessInfo
	Match      model.ThreatMatch
	Verdict    *model.Verdict
	Critical   bool
	DetectedAt time.Time
}

// SnapshotEngine triggers emergency evidence capture.
type SnapshotEngine interface {
	Trigger(ctx context.Context, threat model.ThreatType, command string, proc model.ProcessInfo) (*model.SnapshotRecord, error)
	Info(id string) (*model.SnapshotInfo, error)
}

// EvidenceVault is the subset of vault operations the consumer needs.
type EvidenceVault interface {
	PreserveEvidence(incidentID string, data any, kind string) (string, error)
	PreserveSnapshotArchive(incidentID, snapshotID string) (string, error)
	SaveReport(incidentID, content, reportType string) (string, error)
}

// Reasoner is the external reasoning collaborator. A nil Reasoner or an
// erroring call is treated as "unknown".
type Reasoner interface {
	Analyze(ctx context.Context, cc model.CommandContext) (*model.Verdict, error)
}

// Publisher hands finished incidents to reporting and alerting collaborators.
type Publisher interface {
	PublishIncident(rec model.IncidentRecord) error
	PublishAlert(kind, message string, fields map[string]any) error
}

// Pipeline decouples the latency-critical detection path from slow incident
// work. Enqueue never blocks; a single consumer processes items strictly in
// arrival order.
type Pipeline struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	engine    SnapshotEngine
	vault     EvidenceVault
	reasoner  Reasoner
	publisher Publisher

	reasonerTimeout time.Duration

	queue chan *WorkItem
	done  chan struct{}
	once  sync.Once

	mu        sync.Mutex
	processed uint64
	dropped   uint64
	tickets   []*model.IncidentTicket
}

// Options configures a Pipeline.
type Options struct {
	QueueSize       int
	ReasonerTimeout time.Duration
}

// New creates a pipeline. The reasoner and publisher may be nil; their
// absence degrades classification and reporting, never capture.
func New(logger *slog.Logger, m *metrics.Metrics, engine SnapshotEngine, vault EvidenceVault, reasoner Reasoner, publisher Publisher, opts Options) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.ReasonerTimeout <= 0 {
		opts.ReasonerTimeout = 5 * time.Second
	}
	return &Pipeline{
		logger:          logger.With("component", "pipeline"),
		metrics:         m,
		engine:          engine,
		vault:           vault,
		reasoner:        reasoner,
		publisher:       publisher,
		reasonerTimeout: opts.ReasonerTimeout,
		queue:           make(chan *WorkItem, opts.QueueSize),
		done:            make(chan struct{}),
	}
}

// Enqueue offers a work item to the consumer without blocking. A full queue
// drops the item: detection latency is never traded for reporting.
func (p *Pipeline) Enqueue(item *WorkItem) bool {
	select {
	case p.queue <- item:
		p.metrics.QueueDepth.Set(float64(len(p.queue)))
		return true
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		p.metrics.QueueDropped.Inc()
		p.logger.Warn("incident queue full, dropping work item",
			"command", item.Command,
			"process", item.Process.Name)
		return false
	}
}

// Run consumes work items until the sentinel stop marker arrives or the
// context is cancelled. It must be called exactly once, on its own goroutine.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.done)

	p.logger.Info("incident consumer started", "queue_size", cap(p.queue))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("incident consumer context cancelled")
			return
		case item := <-p.queue:
			p.metrics.QueueDepth.Set(float64(len(p.queue)))
			if item == nil {
				// Sentinel stop marker.
				p.logger.Info("incident consumer drained")
				return
			}
			p.process(ctx, item)
		}
	}
}

// Stop enqueues the sentinel stop marker and waits, bounded, for the
// consumer to drain.
func (p *Pipeline) Stop(timeout time.Duration) {
	p.once.Do(func() {
		select {
		case p.queue <- nil:
		case <-time.After(timeout):
			p.logger.Warn("could not enqueue stop marker, queue stuck full")
			return
		}

		select {
		case <-p.done:
		case <-time.After(timeout):
			p.logger.Warn("incident consumer did not drain before deadline",
				"pending", len(p.queue))
		}
	})
}

// Depth returns the number of queued work items.
func (p *Pipeline) Depth() int {
	return len(p.queue)
}

// Stats returns processed and dropped item counts.
func (p *Pipeline) Stats() (processed, dropped uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed, p.dropped
}

// Tickets returns a copy of the incident tickets seen so far.
func (p *Pipeline) Tickets() []*model.IncidentTicket {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*model.IncidentTicket, len(p.tickets))
	copy(out, p.tickets)
	return out
}

// process runs every incident step for one item. Each step's failure is
// caught here and logged; evidence capture happens first so a later failure
// can never cost evidentiary timeliness.
func (p *Pipeline) process(ctx context.Context, item *WorkItem) {
	ticket := &model.IncidentTicket{
		ID:         newIncidentID(item.DetectedAt),
		Command:    item.Command,
		Process:    item.Process,
		Match:      item.Match,
		Severity:   item.Match.Severity,
		Verdict:    item.Verdict,
		Status:     model.IncidentStatusOpen,
		DetectedAt: item.DetectedAt,
	}

	logger := p.logger.With("incident_id", ticket.ID, "threat_type", ticket.Match.Type)
	logger.Info("processing incident",
		"command", item.Command,
		"process", item.Process.Name,
		"pid", item.Process.PID,
		"severity", ticket.Severity)

	// Step 1: capture evidence before anything else.
	record, err := p.engine.Trigger(ctx, item.Match.Type, item.Command, item.Process)
	if err != nil {
		logger.Error("emergency snapshot failed", "error", err)
		ticket.Status = model.IncidentStatusDegraded
	} else {
		ticket.SnapshotID = record.ID
		ticket.Status = model.IncidentStatusPreserved
	}

	// Step 2: ask the reasoning collaborator, bounded. Errors mean "unknown"
	// and the matcher's severity stands.
	if ticket.Verdict == nil && p.reasoner != nil {
		rctx, cancel := context.WithTimeout(ctx, p.reasonerTimeout)
		verdict, err := p.reasoner.Analyze(rctx, model.CommandContext{
			Command:     item.Command,
			ProcessName: item.Process.Name,
			PID:         item.Process.PID,
			ParentPID:   item.Process.ParentPID,
			Username:    item.Process.Username,
			Timestamp:   item.DetectedAt,
		})
		cancel()
		if err != nil {
			logger.Warn("reasoning collaborator unavailable, verdict unknown", "error", err)
		} else {
			ticket.Verdict = verdict
		}
	}
	if ticket.Verdict != nil && ticket.Verdict.Severity.Rank() > ticket.Severity.Rank() {
		ticket.Severity = ticket.Verdict.Severity
	}
	if item.Critical && ticket.Severity.Rank() < model.SeverityHigh.Rank() {
		ticket.Severity = model.SeverityHigh
	}

	// Step 3: build and persist the incident report.
	report := BuildIncidentReport(ticket, record, p.snapshotInfo(ticket.SnapshotID))
	if _, err := p.vault.SaveReport(ticket.ID, report, "forensic"); err != nil {
		p.escalateVaultFailure(logger, ticket.ID, "save_report", err)
	}

	// Step 4: preserve raw metadata and the archived snapshot.
	if _, err := p.vault.PreserveEvidence(ticket.ID, ticket, "incident_metadata"); err != nil {
		p.escalateVaultFailure(logger, ticket.ID, "preserve_evidence", err)
	}
	if ticket.SnapshotID != "" {
		if _, err := p.vault.PreserveSnapshotArchive(ticket.ID, ticket.SnapshotID); err != nil {
			p.escalateVaultFailure(logger, ticket.ID, "preserve_snapshot_archive", err)
		}
	}

	// Step 5: hand off to reporting collaborators, best-effort.
	if p.publisher != nil {
		rec := model.IncidentRecord{
			ID:         ticket.ID,
			Category:   string(ticket.Match.Type),
			Severity:   ticket.Severity,
			Command:    ticket.Command,
			SnapshotID: ticket.SnapshotID,
			DetectedAt: ticket.DetectedAt,
			ReportedAt: time.Now(),
		}
		if ticket.Verdict != nil {
			rec.Category = nonEmpty(ticket.Verdict.Category, rec.Category)
			rec.Confidence = ticket.Verdict.Confidence
		}
		if err := p.publisher.PublishIncident(rec); err != nil {
			logger.Warn("incident publish failed", "error", err)
		}
	}

	if ticket.Status == model.IncidentStatusPreserved {
		ticket.Status = model.IncidentStatusReported
	}

	p.mu.Lock()
	p.processed++
	p.tickets = append(p.tickets, ticket)
	p.mu.Unlock()
	p.metrics.IncidentsProcessed.Inc()

	logger.Info("incident processed",
		"snapshot_id", ticket.SnapshotID,
		"severity", ticket.Severity,
		"status", ticket.Status)
}

func (p *Pipeline) snapshotInfo(id string) *model.SnapshotInfo {
	if id == "" {
		return nil
	}
	info, err := p.engine.Info(id)
	if err != nil {
		p.logger.Warn("snapshot info unavailable", "snapshot_id", id, "error", err)
		return nil
	}
	return info
}

// escalateVaultFailure logs and alerts on a vault write failure. An
// unrecorded preservation action is equivalent, for custody purposes, to it
// never happening, so operators must hear about it.
func (p *Pipeline) escalateVaultFailure(logger *slog.Logger, incidentID, step string, err error) {
	p.metrics.VaultWriteFailures.Inc()
	logger.Error("vault write failed", "step", step, "error", err)

	if p.publisher != nil {
		if aerr := p.publisher.PublishAlert("vault_write_failure",
			fmt.Sprintf("vault write failed during %s", step),
			map[string]any{"incident_id": incidentID, "error": err.Error()}); aerr != nil {
			logger.Warn("vault failure alert publish failed", "error", aerr)
		}
	}
}

func newIncidentID(ts time.Time) string {
	return fmt.Sprintf("INC-%s-%s", ts.Format("20060102-150405"), uuid.NewString()[:8])
}

func nonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

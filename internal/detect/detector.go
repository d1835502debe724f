package detect

import (
	"log/slog"
	"sync/atomic"
	"time"

	"custodian/internal/metrics"
	"custodian/internal/model"
	"custodian/internal/pipeline"
)

// Detector is the fast path: it receives spawn events synchronously from the
// source workers, classifies them, and hands matches to the incident queue.
// Nothing slow happens here.
type Detector struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	matcher *Matcher
	dedup   *Deduplicator
	queue   *pipeline.Pipeline

	observed uint64
	flagged  uint64
}

// NewDetector wires the matcher, deduplicator and incident queue together.
func NewDetector(logger *slog.Logger, m *metrics.Metrics, matcher *Matcher, dedup *Deduplicator, queue *pipeline.Pipeline) *Detector {
	return &Detector{
		logger:  logger.With("component", "detector"),
		metrics: m,
		matcher: matcher,
		dedup:   dedup,
		queue:   queue,
	}
}

// HandleEvent classifies one process spawn event. It is called from the
// observing worker's own goroutine and must return quickly.
func (d *Detector) HandleEvent(ev model.ProcessSpawnEvent) {
	atomic.AddUint64(&d.observed, 1)
	d.metrics.ProcessesObserved.WithLabelValues(ev.Method).Inc()

	decoded, markers := Decode(ev.Cmdline)
	match := d.matcher.Match(ev.Cmdline, decoded, markers, ev.Name)
	if match == nil {
		return
	}

	atomic.AddUint64(&d.flagged, 1)
	d.metrics.ThreatsFlagged.WithLabelValues(string(match.Type), string(match.Severity)).Inc()

	if !d.dedup.ShouldTrigger(ev.Name, ev.Cmdline) {
		d.metrics.DedupSuppressed.Inc()
		d.logger.Debug("repeat detection suppressed",
			"process", ev.Name,
			"command", ev.Cmdline)
		return
	}

	d.logger.Info("threat detected",
		"threat_type", match.Type,
		"severity", match.Severity,
		"process", ev.Name,
		"pid", ev.PID,
		"method", ev.Method,
		"command", ev.Cmdline)

	d.queue.Enqueue(&pipeline.WorkItem{
		Command:    ev.Cmdline,
		Process:    ev.Process(),
		Match:      *match,
		Critical:   match.Severity == model.SeverityCritical,
		DetectedAt: ev.Timestamp,
	})
}

// HandleThreatContext accepts an externally supplied threat context, e.g.
// from a network-based detector, and always triggers capture. The external
// detector already decided; no pattern matching and no deduplication apply
// here, so distinct reports of the same threat type each get their own
// snapshot.
func (d *Detector) HandleThreatContext(threatType model.ThreatType, severity model.Severity, description string, proc model.ProcessInfo) {
	match := d.matcher.ForcedMatch(threatType, severity, description)

	atomic.AddUint64(&d.flagged, 1)
	d.metrics.ThreatsFlagged.WithLabelValues(string(match.Type), string(match.Severity)).Inc()

	d.logger.Info("external threat context accepted",
		"threat_type", threatType,
		"severity", match.Severity)

	d.queue.Enqueue(&pipeline.WorkItem{
		Command:    proc.Cmdline,
		Process:    proc,
		Match:      match,
		Critical:   true,
		DetectedAt: time.Now(),
	})
}

// Stats returns observed and flagged event counts.
func (d *Detector) Stats() (observed, flagged, suppressed uint64) {
	return atomic.LoadUint64(&d.observed), atomic.LoadUint64(&d.flagged), d.dedup.Suppressed()
}

package snapshot

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"custodian/internal/metrics"
	"custodian/internal/model"
)

// Category names one evidence capture task inside a snapshot.
type Category string

const (
	CategoryProcessList  Category = "process_list"
	CategoryNetworkState Category = "network_state"
	CategoryLogArtifacts Category = "log_artifacts"
	CategoryVolumeState  Category = "volume_state"
	CategoryFSMetadata   Category = "filesystem_metadata"
)

// Capabilities describes what evidence this platform can produce.
type Capabilities struct {
	// VolumeState is true where a volume/backup-state tool exists (vssadmin).
	VolumeState bool
	// Admin is true when the process runs with elevated privileges, enabling
	// full log export instead of metadata-only capture.
	Admin bool
}

// TaskFunc captures one evidence category into the snapshot directory. Any
// external command it shells out to must run under the task context so a
// hung tool cannot stall the snapshot.
type TaskFunc func(ctx context.Context, dir string) error

// TaskSet maps categories to platform capture implementations.
type TaskSet interface {
	Task(cat Category) (TaskFunc, bool)
}

// Options bounds the capture work.
type Options struct {
	CaptureNetwork bool
	TaskTimeout    time.Duration
	ProcessCap     int
	FSMetadataCap  int64
	FSRoots        []string
}

// Engine captures evidence snapshots concurrently within a tight time
// budget. One snapshot produces one directory with one artifact per
// completed task; failed tasks leave nothing or a partial artifact plus an
// explanatory notice, and never block their siblings.
type Engine struct {
	logger       *slog.Logger
	metrics      *metrics.Metrics
	snapshotsDir string
	caps         Capabilities
	opts         Options
	tasks        TaskSet
}

// New creates an engine rooted at snapshotsDir using the platform task set.
func New(logger *slog.Logger, m *metrics.Metrics, snapshotsDir string, opts Options) (*Engine, error) {
	caps := DetectCapabilities()
	return NewWithTasks(logger, m, snapshotsDir, caps, newPlatformTasks(opts, caps), opts)
}

// NewWithTasks creates an engine with explicit capabilities and tasks.
func NewWithTasks(logger *slog.Logger, m *metrics.Metrics, snapshotsDir string, caps Capabilities, tasks TaskSet, opts Options) (*Engine, error) {
	if err := os.MkdirAll(snapshotsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshots dir: %w", err)
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 5 * time.Second
	}
	return &Engine{
		logger:       logger.With("component", "snapshot"),
		metrics:      m,
		snapshotsDir: snapshotsDir,
		caps:         caps,
		opts:         opts,
		tasks:        tasks,
	}, nil
}

// SelectCategories returns the capture categories applicable to a threat
// type on a platform with the given capabilities. Process-list capture
// always runs; network capture runs when enabled; the rest depend on what
// the attacker is trying to destroy.
func SelectCategories(threat model.ThreatType, caps Capabilities, captureNetwork bool) []Category {
	cats := []Category{CategoryProcessList}
	if captureNetwork {
		cats = append(cats, CategoryNetworkState)
	}

	switch threat {
	case model.ThreatLogClearing:
		cats = append(cats, CategoryLogArtifacts)
	case model.ThreatVSSDeletion:
		if caps.VolumeState {
			cats = append(cats, CategoryVolumeState)
		}
	case model.ThreatFileWiping:
		cats = append(cats, CategoryFSMetadata)
	}

	return cats
}

// Trigger captures an emergency snapshot for the given threat. It launches
// one goroutine per applicable category, waits for every task to finish or
// time out, and returns the completed record. The snapshot directory exists
// even when individual tasks fail.
func (e *Engine) Trigger(ctx context.Context, threat model.ThreatType, command string, proc model.ProcessInfo) (*model.SnapshotRecord, error) {
	start := time.Now()
	id := fmt.Sprintf("SNAP-%s-%s", start.Format("20060102-150405"), uuid.NewString()[:8])
	dir := filepath.Join(e.snapshotsDir, id)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	e.logger.Info("emergency snapshot triggered",
		"snapshot_id", id,
		"threat_type", threat,
		"command", command)

	record := &model.SnapshotRecord{
		ID:         id,
		ThreatType: threat,
		Command:    command,
		Process:    proc,
		StartedAt:  start,
	}

	// The trigger context itself is part of the evidence.
	if err := writeJSON(filepath.Join(dir, "trigger.json"), map[string]any{
		"snapshot_id": id,
		"threat_type": threat,
		"command":     command,
		"process":     proc,
		"triggered":   start.Format(time.RFC3339Nano),
	}); err != nil {
		e.logger.Warn("failed to write trigger context", "snapshot_id", id, "error", err)
	}

	cats := SelectCategories(threat, e.caps, e.opts.CaptureNetwork)
	results := make([]model.TaskResult, len(cats))

	var wg sync.WaitGroup
	for i, cat := range cats {
		task, ok := e.tasks.Task(cat)
		if !ok {
			results[i] = model.TaskResult{Category: string(cat), OK: false, Error: "not implemented on this platform"}
			continue
		}

		wg.Add(1)
		go func(i int, cat Category, task TaskFunc) {
			defer wg.Done()
			results[i] = e.runTask(ctx, cat, task, dir)
		}(i, cat, task)
	}
	wg.Wait()

	record.CompletedAt = time.Now()
	record.Tasks = results

	e.metrics.SnapshotsTaken.Inc()
	e.metrics.SnapshotDuration.Observe(record.Elapsed().Seconds())
	for _, r := range results {
		if !r.OK {
			e.metrics.CaptureFailures.WithLabelValues(r.Category).Inc()
		}
	}

	e.logger.Info("emergency snapshot completed",
		"snapshot_id", id,
		"elapsed_ms", record.Elapsed().Milliseconds(),
		"tasks", len(results))

	return record, nil
}

// runTask executes one capture task under its own deadline. A panic or error
// in one task is contained here.
func (e *Engine) runTask(ctx context.Context, cat Category, task TaskFunc, dir string) (result model.TaskResult) {
	start := time.Now()
	result = model.TaskResult{Category: string(cat)}

	defer func() {
		result.Elapsed = time.Since(start)
		if r := recover(); r != nil {
			result.OK = false
			result.Error = fmt.Sprintf("panic: %v", r)
			e.logger.Error("capture task panicked", "category", cat, "panic", r)
		}
	}()

	tctx, cancel := context.WithTimeout(ctx, e.opts.TaskTimeout)
	defer cancel()

	if err := task(tctx, dir); err != nil {
		result.OK = false
		result.Error = err.Error()
		e.logger.Warn("capture task failed", "category", cat, "error", err)
		return result
	}

	result.OK = true
	return result
}

// Dir returns the directory for a snapshot id.
func (e *Engine) Dir(id string) string {
	return filepath.Join(e.snapshotsDir, id)
}

// Info computes size, file count and creation time for a snapshot by
// inspecting its directory. Nothing is cached.
func (e *Engine) Info(id string) (*model.SnapshotInfo, error) {
	dir := e.Dir(id)
	stat, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s not found: %w", id, err)
	}

	info := &model.SnapshotInfo{
		ID:      id,
		Path:    dir,
		Created: stat.ModTime(),
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		info.SizeBytes += fi.Size()
		info.FileCount++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to inspect snapshot %s: %w", id, err)
	}

	return info, nil
}

// List enumerates all snapshots, newest first.
func (e *Engine) List() ([]model.SnapshotInfo, error) {
	entries, err := os.ReadDir(e.snapshotsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshots dir: %w", err)
	}

	var out []model.SnapshotInfo
	for _, entry := range entries {
		if !entry.IsDir() || len(entry.Name()) < 5 || entry.Name()[:5] != "SNAP-" {
			continue
		}
		info, err := e.Info(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out, nil
}

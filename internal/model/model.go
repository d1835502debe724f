package model

import "time"

// ThreatType classifies what a destructive command is trying to destroy.
type ThreatType string

const (
	ThreatLogClearing ThreatType = "log_clearing"
	ThreatVSSDeletion ThreatType = "vss_deletion"
	ThreatFileWiping  ThreatType = "file_wiping"
	ThreatBootConfig  ThreatType = "boot_config"
	ThreatOther       ThreatType = "other"
)

// Severity is the ordered threat severity scale.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns the position of the severity on the LOW..CRITICAL ladder.
// Unknown values rank below LOW.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Escalate raises the severity one step. CRITICAL is a ceiling.
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	case SeverityHigh:
		return SeverityCritical
	}
	return SeverityCritical
}

// ProcessInfo describes the process behind an event or incident.
type ProcessInfo struct {
	PID       int       `json:"pid"`
	Name      string    `json:"name"`
	Cmdline   string    `json:"cmdline"`
	Username  string    `json:"username"`
	ParentPID int       `json:"parent_pid"`
	StartTime time.Time `json:"start_time,omitempty"`
}

// ProcessSpawnEvent is one observed process creation. Events are ephemeral:
// produced by a source worker, handed synchronously to the detector, and
// never persisted.
type ProcessSpawnEvent struct {
	PID       int       `json:"pid"`
	Name      string    `json:"name"`
	Cmdline   string    `json:"cmdline"`
	Username  string    `json:"username"`
	ParentPID int       `json:"parent_pid"`
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
}

// Process returns the event's process fields as a ProcessInfo.
func (e ProcessSpawnEvent) Process() ProcessInfo {
	return ProcessInfo{
		PID:       e.PID,
		Name:      e.Name,
		Cmdline:   e.Cmdline,
		Username:  e.Username,
		ParentPID: e.ParentPID,
	}
}

// ThreatMatch is the matcher's verdict for one command. Created per event,
// not persisted.
type ThreatMatch struct {
	Type        ThreatType `json:"threat_type"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description"`
	Obfuscation []string   `json:"obfuscation,omitempty"`
}

// TaskResult records the outcome of one capture task inside a snapshot.
type TaskResult struct {
	Category string        `json:"category"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// SnapshotRecord describes one completed emergency snapshot. Immutable once
// capture completes; size and file count are derived on demand from the
// snapshot directory, never stored here.
type SnapshotRecord struct {
	ID          string       `json:"snapshot_id"`
	ThreatType  ThreatType   `json:"threat_type"`
	Command     string       `json:"command"`
	Process     ProcessInfo  `json:"process"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
	Tasks       []TaskResult `json:"tasks"`
}

// Elapsed is the wall-clock duration of the whole capture.
func (r *SnapshotRecord) Elapsed() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// SnapshotInfo is the on-demand view of a snapshot directory.
type SnapshotInfo struct {
	ID        string    `json:"snapshot_id"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"total_size_bytes"`
	FileCount int       `json:"file_count"`
	Created   time.Time `json:"created"`
}

// CustodyEntry is one append-only chain-of-custody ledger record. Entries
// are never edited or removed; corrections are new entries.
type CustodyEntry struct {
	ID          string    `json:"id"`
	IncidentID  string    `json:"incident_id"`
	Kind        string    `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	SourcePath  string    `json:"source_path,omitempty"`
	StoredPath  string    `json:"stored_path"`
	SHA256      string    `json:"hash_sha256"`
	Action      string    `json:"action"`
	CollectedBy string    `json:"collected_by"`
}

// Custody entry kinds.
const (
	CustodyKindEvidence = "evidence"
	CustodyKindArtifact = "artifact"
	CustodyKindReport   = "report"
)

// IncidentTicket tracks one detected incident through the pipeline.
type IncidentTicket struct {
	ID         string      `json:"incident_id"`
	Command    string      `json:"command"`
	Process    ProcessInfo `json:"process"`
	Match      ThreatMatch `json:"match"`
	SnapshotID string      `json:"snapshot_id,omitempty"`
	Severity   Severity    `json:"severity"`
	Verdict    *Verdict    `json:"verdict,omitempty"`
	Status     string      `json:"status"`
	DetectedAt time.Time   `json:"detected_at"`
}

// Incident ticket statuses.
const (
	IncidentStatusOpen      = "open"
	IncidentStatusPreserved = "preserved"
	IncidentStatusReported  = "reported"
	IncidentStatusDegraded  = "degraded"
)

// CommandContext is the structured input handed to the external reasoning
// collaborator.
type CommandContext struct {
	Command     string    `json:"command"`
	ProcessName string    `json:"process_name"`
	PID         int       `json:"pid"`
	ParentPID   int       `json:"parent_pid"`
	Username    string    `json:"username"`
	Timestamp   time.Time `json:"timestamp"`
	WorkingDir  string    `json:"working_dir,omitempty"`
	Elevated    bool      `json:"elevated"`
}

// Verdict is the reasoning collaborator's classification of a command. An
// unavailable or erroring collaborator yields no Verdict; callers treat that
// as "unknown" and fall back to the matcher's severity.
type Verdict struct {
	IsThreat          bool     `json:"is_threat"`
	Confidence        float64  `json:"confidence"`
	Category          string   `json:"category"`
	Severity          Severity `json:"severity"`
	Explanation       string   `json:"explanation"`
	RecommendedAction string   `json:"recommended_action"`
}

// IncidentRecord is the structured record handed to reporting and alerting
// collaborators once an incident has been preserved.
type IncidentRecord struct {
	ID         string    `json:"incident_id"`
	Category   string    `json:"category"`
	Severity   Severity  `json:"severity"`
	Command    string    `json:"command"`
	SnapshotID string    `json:"snapshot_id"`
	Confidence float64   `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
	ReportedAt time.Time `json:"reported_at"`
}

package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"custodian/internal/metrics"
	"custodian/internal/model"
)

// ErrVaultWrite marks ledger or artifact write failures. Callers escalate it
// to an operator-visible channel: an unrecorded preservation action is
// equivalent, for custody purposes, to it never happening.
var ErrVaultWrite = errors.New("vault write failure")

const (
	ledgerFile   = "chain_of_custody.json"
	snapshotsDir = "emergency_snapshots"
	collectedBy  = "custodian"
)

// Vault is the append-only evidence store. Its ledger is the single source
// of truth for what evidence exists and its integrity hash; entries are
// never edited or removed, and every preservation action appends exactly one
// entry before it is considered complete.
type Vault struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	root    string

	// The ledger has no structured concurrent-append format; every writer
	// serializes through this lock.
	mu sync.Mutex
}

// New opens (or initializes) a vault at root, creating the layout
// root/{incidents,artifacts,reports,logs}/ plus the ledger file.
func New(logger *slog.Logger, m *metrics.Metrics, root string) (*Vault, error) {
	for _, sub := range []string{"", "incidents", "artifacts", "reports", "logs"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create vault layout: %w", err)
		}
	}

	v := &Vault{
		logger:  logger.With("component", "vault"),
		metrics: m,
		root:    root,
	}

	ledger := v.ledgerPath()
	if _, err := os.Stat(ledger); os.IsNotExist(err) {
		if err := os.WriteFile(ledger, []byte("[]"), 0o644); err != nil {
			return nil, fmt.Errorf("failed to initialize custody ledger: %w", err)
		}
		v.logger.Info("custody ledger initialized", "path", ledger)
	}

	return v, nil
}

// Root returns the vault root directory.
func (v *Vault) Root() string { return v.root }

// SnapshotsDir returns the emergency snapshots root, which lives beside the
// vault subdirectories for layout compatibility.
func (v *Vault) SnapshotsDir() string { return filepath.Join(v.root, snapshotsDir) }

func (v *Vault) ledgerPath() string { return filepath.Join(v.root, ledgerFile) }

// PreserveEvidence stores a JSON evidence blob under the incident and
// records it in the custody ledger.
func (v *Vault) PreserveEvidence(incidentID string, data any, kind string) (string, error) {
	now := time.Now()
	evidenceID := fmt.Sprintf("EVD-%s-%s-%s", now.Format("20060102-150405"), kind, uuid.NewString()[:8])

	incidentDir := filepath.Join(v.root, "incidents", incidentID)
	if err := os.MkdirAll(incidentDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: failed to create incident dir: %v", ErrVaultWrite, err)
	}

	path := filepath.Join(incidentDir, evidenceID+".json")
	blob, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal evidence: %v", ErrVaultWrite, err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return "", fmt.Errorf("%w: failed to write evidence: %v", ErrVaultWrite, err)
	}

	hash, err := hashFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to hash evidence: %v", ErrVaultWrite, err)
	}

	if err := v.appendEntry(model.CustodyEntry{
		ID:          evidenceID,
		IncidentID:  incidentID,
		Kind:        model.CustodyKindEvidence,
		Timestamp:   now,
		StoredPath:  path,
		SHA256:      hash,
		Action:      "evidence_preserved",
		CollectedBy: collectedBy,
	}); err != nil {
		return "", err
	}

	v.metrics.BytesPreserved.Add(float64(len(blob)))
	return evidenceID, nil
}

// PreserveFileArtifact copies a source file into vault storage, hashes the
// copy, and records both paths in the ledger. Integrity guarantees apply to
// the stored copy only, never the original.
func (v *Vault) PreserveFileArtifact(incidentID, sourcePath, artifactType string) (string, error) {
	now := time.Now()
	artifactID := fmt.Sprintf("ART-%s-%s", now.Format("20060102-150405"), uuid.NewString()[:8])

	artifactDir := filepath.Join(v.root, "artifacts", incidentID)
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: failed to create artifact dir: %v", ErrVaultWrite, err)
	}

	// Stored name layout is id_type_originalname, fixed for compatibility
	// with existing vault readers.
	dest := filepath.Join(artifactDir, fmt.Sprintf("%s_%s_%s", artifactID, artifactType, filepath.Base(sourcePath)))
	size, err := copyFile(sourcePath, dest)
	if err != nil {
		return "", fmt.Errorf("%w: failed to copy artifact: %v", ErrVaultWrite, err)
	}

	hash, err := hashFile(dest)
	if err != nil {
		return "", fmt.Errorf("%w: failed to hash artifact: %v", ErrVaultWrite, err)
	}

	if err := v.appendEntry(model.CustodyEntry{
		ID:          artifactID,
		IncidentID:  incidentID,
		Kind:        model.CustodyKindArtifact,
		Timestamp:   now,
		SourcePath:  sourcePath,
		StoredPath:  dest,
		SHA256:      hash,
		Action:      "artifact_preserved",
		CollectedBy: collectedBy,
	}); err != nil {
		return "", err
	}

	v.metrics.BytesPreserved.Add(float64(size))
	return artifactID, nil
}

// PreserveSnapshotArchive packages an emergency snapshot directory as a
// tar+zstd archive and preserves it as a file artifact of the incident.
func (v *Vault) PreserveSnapshotArchive(incidentID, snapshotID string) (string, error) {
	snapDir := filepath.Join(v.SnapshotsDir(), snapshotID)
	if _, err := os.Stat(snapDir); err != nil {
		return "", fmt.Errorf("snapshot %s not found: %w", snapshotID, err)
	}

	archive := filepath.Join(os.TempDir(), snapshotID+".tar.zst")
	if err := archiveDirectory(snapDir, archive); err != nil {
		return "", fmt.Errorf("%w: failed to archive snapshot: %v", ErrVaultWrite, err)
	}
	defer os.Remove(archive)

	return v.PreserveFileArtifact(incidentID, archive, "snapshot_archive")
}

// SaveReport stores a generated report. Forensic reports enter the custody
// ledger; other report types are working documents.
func (v *Vault) SaveReport(incidentID, content, reportType string) (string, error) {
	now := time.Now()
	name := fmt.Sprintf("%s_%s_%s.md", incidentID, reportType, now.Format("20060102-150405"))
	path := filepath.Join(v.root, "reports", name)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("%w: failed to write report: %v", ErrVaultWrite, err)
	}

	if reportType == "forensic" {
		hash, err := hashFile(path)
		if err != nil {
			return "", fmt.Errorf("%w: failed to hash report: %v", ErrVaultWrite, err)
		}
		if err := v.appendEntry(model.CustodyEntry{
			ID:          fmt.Sprintf("REP-%s-%s", now.Format("20060102-150405"), uuid.NewString()[:8]),
			IncidentID:  incidentID,
			Kind:        model.CustodyKindReport,
			Timestamp:   now,
			StoredPath:  path,
			SHA256:      hash,
			Action:      "report_generated",
			CollectedBy: collectedBy,
		}); err != nil {
			return "", err
		}
	}

	v.metrics.BytesPreserved.Add(float64(len(content)))
	return path, nil
}

// VerifyIntegrity recomputes the SHA-256 of the stored copy behind a custody
// entry and compares it with the recorded hash. A missing stored file fails
// closed. This detects post-copy tampering, not pre-copy substitution.
func (v *Vault) VerifyIntegrity(id string) (bool, error) {
	entries, err := v.Entries()
	if err != nil {
		return false, err
	}

	// Latest entry wins: corrections are appended, never edited.
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].ID != id {
			continue
		}
		current, err := hashFile(entries[i].StoredPath)
		if err != nil {
			v.logger.Warn("integrity verification failed closed",
				"id", id, "path", entries[i].StoredPath, "error", err)
			return false, nil
		}
		return current == entries[i].SHA256, nil
	}

	return false, fmt.Errorf("no custody entry for id %s", id)
}

// Entries returns every custody ledger entry, oldest first.
func (v *Vault) Entries() ([]model.CustodyEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.readLedger()
}

// Custody returns the custody entries for one incident.
func (v *Vault) Custody(incidentID string) ([]model.CustodyEntry, error) {
	entries, err := v.Entries()
	if err != nil {
		return nil, err
	}
	var out []model.CustodyEntry
	for _, e := range entries {
		if e.IncidentID == incidentID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Stats summarizes the vault contents.
func (v *Vault) Stats() (map[string]any, error) {
	entries, err := v.Entries()
	if err != nil {
		return nil, err
	}

	stats := map[string]any{
		"vault_path":               v.root,
		"chain_of_custody_entries": len(entries),
		"total_incidents":          countDirEntries(filepath.Join(v.root, "incidents")),
		"total_artifacts":          countDirEntries(filepath.Join(v.root, "artifacts")),
		"total_reports":            countDirEntries(filepath.Join(v.root, "reports")),
	}
	return stats, nil
}

// appendEntry appends one entry to the ledger under the single-writer lock,
// using read-entire/append/rewrite discipline.
func (v *Vault) appendEntry(entry model.CustodyEntry) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.readLedger()
	if err != nil {
		v.metrics.VaultWriteFailures.Inc()
		return err
	}

	entries = append(entries, entry)
	blob, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		v.metrics.VaultWriteFailures.Inc()
		return fmt.Errorf("%w: failed to marshal ledger: %v", ErrVaultWrite, err)
	}
	if err := os.WriteFile(v.ledgerPath(), blob, 0o644); err != nil {
		v.metrics.VaultWriteFailures.Inc()
		return fmt.Errorf("%w: failed to rewrite ledger: %v", ErrVaultWrite, err)
	}

	v.metrics.VaultEntries.WithLabelValues(entry.Kind).Inc()
	v.logger.Debug("custody entry appended",
		"id", entry.ID,
		"incident_id", entry.IncidentID,
		"kind", entry.Kind,
		"action", entry.Action)
	return nil
}

func (v *Vault) readLedger() ([]model.CustodyEntry, error) {
	data, err := os.ReadFile(v.ledgerPath())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read ledger: %v", ErrVaultWrite, err)
	}
	var entries []model.CustodyEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: ledger corrupt: %v", ErrVaultWrite, err)
	}
	return entries, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dest string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return n, err
	}
	return n, out.Close()
}

func countDirEntries(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	return len(entries)
}

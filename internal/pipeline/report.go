package pipeline

import (
	"fmt"
	"strings"
	"time"

	"custodian/internal/model"
)

// BuildIncidentReport renders the textual incident report persisted for each
// processed incident. The snapshot record and info may be nil when capture
// failed; the report says so instead of omitting the section.
func BuildIncidentReport(ticket *model.IncidentTicket, record *model.SnapshotRecord, info *model.SnapshotInfo) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# INCIDENT REPORT: %s\n\n", ticket.ID)
	fmt.Fprintf(&b, "Generated: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "Severity: %s\n", ticket.Severity)
	fmt.Fprintf(&b, "Status: %s\n\n", ticket.Status)

	b.WriteString("## Threat Details\n\n")
	fmt.Fprintf(&b, "- Threat type: %s\n", ticket.Match.Type)
	fmt.Fprintf(&b, "- Description: %s\n", ticket.Match.Description)
	fmt.Fprintf(&b, "- Detected at: %s\n", ticket.DetectedAt.Format(time.RFC3339))
	if len(ticket.Match.Obfuscation) > 0 {
		fmt.Fprintf(&b, "- Obfuscation: %s\n", strings.Join(ticket.Match.Obfuscation, ", "))
	}
	b.WriteString("\n### Command\n\n")
	fmt.Fprintf(&b, "```\n%s\n```\n\n", ticket.Command)

	b.WriteString("### Process\n\n")
	fmt.Fprintf(&b, "- Name: %s\n", valueOr(ticket.Process.Name, "unknown"))
	fmt.Fprintf(&b, "- PID: %d\n", ticket.Process.PID)
	fmt.Fprintf(&b, "- User: %s\n", valueOr(ticket.Process.Username, "unknown"))
	fmt.Fprintf(&b, "- Parent PID: %d\n\n", ticket.Process.ParentPID)

	b.WriteString("## External Analysis\n\n")
	if ticket.Verdict != nil {
		v := ticket.Verdict
		fmt.Fprintf(&b, "- Threat: %t\n", v.IsThreat)
		fmt.Fprintf(&b, "- Confidence: %.0f%%\n", v.Confidence*100)
		fmt.Fprintf(&b, "- Category: %s\n", valueOr(v.Category, "unknown"))
		fmt.Fprintf(&b, "- Recommended action: %s\n", valueOr(v.RecommendedAction, "none"))
		if v.Explanation != "" {
			fmt.Fprintf(&b, "\n%s\n", v.Explanation)
		}
	} else {
		b.WriteString("Verdict unknown: reasoning collaborator unavailable. ")
		b.WriteString("Classification falls back to the signature matcher.\n")
	}
	b.WriteString("\n")

	b.WriteString("## Evidence Collected\n\n")
	if record == nil {
		b.WriteString("Emergency snapshot FAILED. No capture artifacts exist for this incident.\n")
	} else {
		fmt.Fprintf(&b, "- Snapshot ID: `%s`\n", record.ID)
		fmt.Fprintf(&b, "- Capture window: %s to %s (%s)\n",
			record.StartedAt.Format(time.RFC3339Nano),
			record.CompletedAt.Format(time.RFC3339Nano),
			record.Elapsed())
		if info != nil {
			fmt.Fprintf(&b, "- Size: %d bytes in %d files\n", info.SizeBytes, info.FileCount)
			fmt.Fprintf(&b, "- Location: `%s`\n", info.Path)
		}
		b.WriteString("\n### Capture Tasks\n\n")
		for _, task := range record.Tasks {
			if task.OK {
				fmt.Fprintf(&b, "- %s: completed in %s\n", task.Category, task.Elapsed)
			} else {
				fmt.Fprintf(&b, "- %s: FAILED (%s)\n", task.Category, task.Error)
			}
		}
	}
	b.WriteString("\n")

	b.WriteString("## Chain of Custody\n\n")
	b.WriteString("- Captured by: custodian emergency snapshot engine\n")
	b.WriteString("- Integrity: SHA-256 hashed on preservation\n")
	b.WriteString("- Ledger: append-only chain_of_custody.json at the vault root\n")

	return b.String()
}

func valueOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

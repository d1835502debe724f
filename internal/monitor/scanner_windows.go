//go:build windows

package monitor

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"custodian/internal/model"
)

// newProcessScanner returns a tasklist-backed process table scanner.
// Windows exposes no procfs and kernel event subscription needs components
// this service does not ship, so differential polling is the sole strategy
// here.
func newProcessScanner() scanFunc {
	return func() (map[int]model.ProcessSpawnEvent, error) {
		out, err := exec.Command("tasklist", "/v", "/fo", "csv", "/nh").Output()
		if err != nil {
			return nil, fmt.Errorf("failed to run tasklist: %w", err)
		}
		return parseTasklistCSV(out, time.Now())
	}
}

func parseTasklistCSV(out []byte, now time.Time) (map[int]model.ProcessSpawnEvent, error) {
	table := make(map[int]model.ProcessSpawnEvent)
	r := csv.NewReader(bytes.NewReader(out))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse tasklist output: %w", err)
	}

	for _, rec := range records {
		if len(rec) < 7 {
			continue
		}
		pid, err := strconv.Atoi(rec[1])
		if err != nil {
			continue
		}
		table[pid] = model.ProcessSpawnEvent{
			PID:       pid,
			Name:      rec[0],
			Cmdline:   rec[0], // tasklist exposes no command line; the name still feeds the risky-name check
			Username:  rec[6],
			Timestamp: now,
			Method:    "polling",
		}
	}
	return table, nil
}

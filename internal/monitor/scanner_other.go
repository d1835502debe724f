//go:build !linux && !windows

package monitor

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"custodian/internal/model"
)

// newProcessScanner returns a ps-backed process table scanner for unix
// platforms without procfs.
func newProcessScanner() scanFunc {
	return func() (map[int]model.ProcessSpawnEvent, error) {
		out, err := exec.Command("ps", "axo", "pid=,ppid=,user=,comm=,args=").Output()
		if err != nil {
			return nil, fmt.Errorf("failed to run ps: %w", err)
		}
		return parsePSOutput(out, time.Now()), nil
	}
}

func parsePSOutput(out []byte, now time.Time) map[int]model.ProcessSpawnEvent {
	table := make(map[int]model.ProcessSpawnEvent)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, _ := strconv.Atoi(fields[1])

		table[pid] = model.ProcessSpawnEvent{
			PID:       pid,
			ParentPID: ppid,
			Username:  fields[2],
			Name:      shortName(fields[3]),
			Cmdline:   strings.Join(fields[4:], " "),
			Timestamp: now,
			Method:    "polling",
		}
	}
	return table
}

func shortName(comm string) string {
	if idx := strings.LastIndex(comm, "/"); idx >= 0 {
		return comm[idx+1:]
	}
	return comm
}

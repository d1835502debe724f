//go:build linux

package monitor

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/procfs"

	"custodian/internal/model"
)

// newProcessScanner returns a procfs-backed process table scanner.
func newProcessScanner() scanFunc {
	return func() (map[int]model.ProcessSpawnEvent, error) {
		pfs, err := procfs.NewFS("/proc")
		if err != nil {
			return nil, fmt.Errorf("failed to open procfs: %w", err)
		}

		procs, err := pfs.AllProcs()
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate processes: %w", err)
		}

		now := time.Now()
		table := make(map[int]model.ProcessSpawnEvent, len(procs))
		for _, p := range procs {
			ev := model.ProcessSpawnEvent{
				PID:       p.PID,
				Timestamp: now,
				Method:    "polling",
			}

			if comm, err := p.Comm(); err == nil {
				ev.Name = comm
			}
			// Kernel threads and zombies expose an empty cmdline. Fall back
			// to the executable path, then the short name, so command text
			// is never empty for the matcher.
			if argv, err := p.CmdLine(); err == nil && len(argv) > 0 {
				ev.Cmdline = strings.Join(argv, " ")
			} else if exe, err := p.Executable(); err == nil && exe != "" {
				ev.Cmdline = exe
			} else {
				ev.Cmdline = ev.Name
			}
			if stat, err := p.Stat(); err == nil {
				ev.ParentPID = stat.PPID
			}
			ev.Username = scanOwner(p.PID)
			if ev.Name == "" {
				ev.Name = ev.Cmdline
			}

			table[p.PID] = ev
		}
		return table, nil
	}
}

func scanOwner(pid int) string {
	fi, err := os.Stat("/proc/" + strconv.Itoa(pid))
	if err != nil {
		return ""
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return ""
	}
	uid := strconv.FormatUint(uint64(st.Uid), 10)
	if u, err := user.LookupId(uid); err == nil {
		return u.Username
	}
	return uid
}

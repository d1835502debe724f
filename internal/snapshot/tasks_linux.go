//go:build linux

package snapshot

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/procfs"
)

// linuxLogFiles are the system logs worth preserving before a log-clearing
// command lands.
var linuxLogFiles = []string{
	"/var/log/auth.log",
	"/var/log/syslog",
	"/var/log/kern.log",
	"/var/log/audit/audit.log",
}

// DetectCapabilities probes what this platform can capture.
func DetectCapabilities() Capabilities {
	return Capabilities{
		VolumeState: false, // no vssadmin equivalent
		Admin:       os.Geteuid() == 0,
	}
}

type linuxTasks struct {
	opts Options
	caps Capabilities
}

func newPlatformTasks(opts Options, caps Capabilities) TaskSet {
	return &linuxTasks{opts: opts, caps: caps}
}

func (t *linuxTasks) Task(cat Category) (TaskFunc, bool) {
	switch cat {
	case CategoryProcessList:
		return t.captureProcessList, true
	case CategoryNetworkState:
		return t.captureNetworkState, true
	case CategoryLogArtifacts:
		return t.captureLogs, true
	case CategoryFSMetadata:
		return func(ctx context.Context, dir string) error {
			return captureFSMetadata(ctx, filepath.Join(dir, "filesystem_metadata.txt"), t.opts.FSRoots, t.opts.FSMetadataCap)
		}, true
	}
	return nil, false
}

type processEntry struct {
	PID       int    `json:"pid"`
	Name      string `json:"name"`
	Cmdline   string `json:"cmdline"`
	Username  string `json:"username"`
	StartTime string `json:"start_time,omitempty"`
}

// captureProcessList snapshots the full process table via procfs, capped.
func (t *linuxTasks) captureProcessList(ctx context.Context, dir string) error {
	pfs, err := procfs.NewFS("/proc")
	if err != nil {
		return fmt.Errorf("failed to open procfs: %w", err)
	}

	procs, err := pfs.AllProcs()
	if err != nil {
		return fmt.Errorf("failed to enumerate processes: %w", err)
	}

	var bootTime uint64
	if st, err := pfs.Stat(); err == nil {
		bootTime = st.BootTime
	}

	entries := make([]processEntry, 0, len(procs))
	for _, p := range procs {
		if ctx.Err() != nil {
			break
		}
		if t.opts.ProcessCap > 0 && len(entries) >= t.opts.ProcessCap {
			break
		}

		entry := processEntry{PID: p.PID}
		if comm, err := p.Comm(); err == nil {
			entry.Name = comm
		}
		if argv, err := p.CmdLine(); err == nil && len(argv) > 0 {
			entry.Cmdline = joinArgv(argv)
		}
		entry.Username = procOwner(p.PID)
		if stat, err := p.Stat(); err == nil && bootTime > 0 {
			started := time.Unix(int64(bootTime+stat.Starttime/100), 0)
			entry.StartTime = started.Format(time.RFC3339)
		}
		entries = append(entries, entry)
	}

	return writeJSON(filepath.Join(dir, "process_state.json"), map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"processes": entries,
	})
}

// captureNetworkState prefers ss (it resolves the owning pid); when ss is
// unavailable the procfs socket tables are captured without pids.
func (t *linuxTasks) captureNetworkState(ctx context.Context, dir string) error {
	if err := runCommandToFile(ctx, filepath.Join(dir, "network_state.txt"), "ss", "-tunap"); err == nil {
		return nil
	}

	pfs, err := procfs.NewFS("/proc")
	if err != nil {
		return fmt.Errorf("failed to open procfs: %w", err)
	}

	type socketEntry struct {
		Proto  string `json:"proto"`
		Local  string `json:"local"`
		Remote string `json:"remote"`
		State  uint64 `json:"state"`
		UID    uint64 `json:"uid"`
		Inode  uint64 `json:"inode"`
	}

	var sockets []socketEntry
	if tcp, err := pfs.NetTCP(); err == nil {
		for _, line := range tcp {
			sockets = append(sockets, socketEntry{
				Proto:  "tcp",
				Local:  fmt.Sprintf("%s:%d", line.LocalAddr, line.LocalPort),
				Remote: fmt.Sprintf("%s:%d", line.RemAddr, line.RemPort),
				State:  line.St,
				UID:    line.UID,
				Inode:  line.Inode,
			})
		}
	}
	if udp, err := pfs.NetUDP(); err == nil {
		for _, line := range udp {
			sockets = append(sockets, socketEntry{
				Proto:  "udp",
				Local:  fmt.Sprintf("%s:%d", line.LocalAddr, line.LocalPort),
				Remote: fmt.Sprintf("%s:%d", line.RemAddr, line.RemPort),
				State:  line.St,
				UID:    line.UID,
				Inode:  line.Inode,
			})
		}
	}

	return writeJSON(filepath.Join(dir, "network_state.json"), map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"note":      "captured from procfs; owning pid not resolved (ss unavailable)",
		"sockets":   sockets,
	})
}

// captureLogs copies readable system logs and exports the recent journal.
// Without privileges most of these are unreadable; the limitation notice
// records that instead of failing the task.
func (t *linuxTasks) captureLogs(ctx context.Context, dir string) error {
	logsDir := filepath.Join(dir, "system_logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}

	captured := 0
	for _, logFile := range linuxLogFiles {
		if ctx.Err() != nil {
			break
		}
		if _, err := os.Stat(logFile); err != nil {
			continue
		}
		if err := copyFileInto(logFile, logsDir); err == nil {
			captured++
		}
	}

	if err := runCommandToFile(ctx, filepath.Join(logsDir, "journal_recent.txt"),
		"journalctl", "-n", "500", "--no-pager"); err == nil {
		captured++
	}

	if captured == 0 {
		return writeLimitationNotice(logsDir,
			"No system logs were readable. Full log capture requires root privileges;\n"+
				"re-run the service as root to preserve complete log artifacts.")
	}
	return nil
}

func procOwner(pid int) string {
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

func joinArgv(argv []string) string {
	out := argv[0]
	for _, a := range argv[1:] {
		out += " " + a
	}
	return out
}

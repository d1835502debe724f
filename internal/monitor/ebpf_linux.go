//go:build linux

package monitor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"

	"custodian/internal/model"
)

// execEvent mirrors the record layout emitted by the exec tracer object on
// its ring buffer.
type execEvent struct {
	PID  uint32
	PPID uint32
	UID  uint32
	Comm [16]byte
	Argv [256]byte
}

// EBPFSource traces sched_process_exec through a compiled BPF object and
// reads spawn events off a ring buffer. This is the event-driven channel:
// no sampling gap, sub-millisecond delivery.
type EBPFSource struct {
	logger     *slog.Logger
	objectPath string
}

// NewEBPFSource creates the tracer source. Availability is only known at
// Run time, once the object is loaded and attached.
func NewEBPFSource(logger *slog.Logger, objectPath string) *EBPFSource {
	return &EBPFSource{
		logger:     logger.With("component", "ebpf_source"),
		objectPath: objectPath,
	}
}

func (s *EBPFSource) Name() string { return "ebpf" }

// Run loads the tracer object, attaches it to the sched_process_exec
// tracepoint and pumps ring buffer records until ctx is canceled. Load or
// attach failures surface as ErrSourceUnavailable so the monitor degrades
// to polling.
func (s *EBPFSource) Run(ctx context.Context, emit Handler) error {
	if _, err := os.Stat(s.objectPath); err != nil {
		return fmt.Errorf("%w: tracer object %s: %v", ErrSourceUnavailable, s.objectPath, err)
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("%w: failed to remove memlock limit: %v", ErrSourceUnavailable, err)
	}

	spec, err := ebpf.LoadCollectionSpec(s.objectPath)
	if err != nil {
		return fmt.Errorf("%w: failed to load BPF collection spec: %v", ErrSourceUnavailable, err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return fmt.Errorf("%w: failed to create BPF collection: %v", ErrSourceUnavailable, err)
	}
	defer coll.Close()

	prog, ok := coll.Programs["handle_exec"]
	if !ok {
		return fmt.Errorf("%w: tracer object has no handle_exec program", ErrSourceUnavailable)
	}
	events, ok := coll.Maps["events"]
	if !ok {
		return fmt.Errorf("%w: tracer object has no events map", ErrSourceUnavailable)
	}

	tp, err := link.Tracepoint("sched", "sched_process_exec", prog, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to attach tracepoint: %v", ErrSourceUnavailable, err)
	}
	defer tp.Close()

	rd, err := ringbuf.NewReader(events)
	if err != nil {
		return fmt.Errorf("%w: failed to open ring buffer: %v", ErrSourceUnavailable, err)
	}

	go func() {
		<-ctx.Done()
		rd.Close()
	}()

	s.logger.Info("exec tracer attached", "object", s.objectPath)

	for {
		record, err := rd.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return ctx.Err()
			}
			s.logger.Warn("ring buffer read failed", "error", err)
			continue
		}

		var e execEvent
		if err := binary.Read(bytes.NewReader(record.RawSample), binary.LittleEndian, &e); err != nil {
			s.logger.Warn("failed to parse exec event", "error", err)
			continue
		}

		emit(model.ProcessSpawnEvent{
			PID:       int(e.PID),
			ParentPID: int(e.PPID),
			Name:      cString(e.Comm[:]),
			Cmdline:   cString(e.Argv[:]),
			Username:  lookupUsername(e.UID),
			Timestamp: time.Now(),
			Method:    "ebpf",
		})
	}
}

// cString converts a NUL padded kernel buffer to a string. The argv buffer
// separates arguments with NULs, so interior NULs become spaces and the
// trailing padding is dropped.
func cString(b []byte) string {
	args := bytes.FieldsFunc(b, func(r rune) bool { return r == 0 })
	return string(bytes.Join(args, []byte{' '}))
}

func lookupUsername(uid uint32) string {
	s := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(s); err == nil {
		return u.Username
	}
	return s
}

// Package checkpoint implements the checkpoint engine: attaching to a
// running target, taking periodic consistent snapshots of its registers,
// memory regions, and open files, and culling old snapshots to keep a
// bounded on-disk history.
package checkpoint

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"

	stderrors "errors"

	"github.com/Codadillo/simple-sls/logging"
	"github.com/Codadillo/simple-sls/procfs"
	"github.com/Codadillo/simple-sls/ptrace"
	"github.com/Codadillo/simple-sls/regs"

	slserrors "github.com/Codadillo/simple-sls/errors"
)

// Tracer is the subset of *ptrace.Tracer the engine depends on. Defined as
// an interface so tests can drive the checkpoint algorithm against a fake
// target without a real traced process.
type Tracer interface {
	Stop() error
	WaitStopped() error
	Resume() error
	GetRegs() (regs.RegisterBank, error)
	Detach() error
	Close()
}

// Introspector is the subset of *procfs.Process the engine depends on.
type Introspector interface {
	Regions() ([]procfs.RegionDescriptor, error)
	MemRead(low, high uint64) ([]byte, error)
	Descriptors() ([]procfs.FileDescriptorRecord, error)
	Close() error
}

// Stats reports the pause and total wall-clock duration of one checkpoint.
type Stats struct {
	Pause time.Duration
	Total time.Duration
}

// Engine performs checkpoints for a single attached target and keeps a
// bounded history of them under its root directory.
type Engine struct {
	tracer       Tracer
	introspector Introspector
	pid          int
	root         string
	seq          uint64
	lastMaps     []procfs.RegionDescriptor
}

// Attach binds to pid, reads any pre-existing sequence pointer and
// previous region list under root (both zero/empty for a fresh root), and
// leaves the target running. It does not take a checkpoint.
func Attach(pid int, root string) (*Engine, error) {
	tr := ptrace.New(pid)
	if err := tr.Attach(); err != nil {
		return nil, err
	}
	if err := tr.WaitStopped(); err != nil {
		tr.Close()
		return nil, err
	}
	if err := tr.Resume(); err != nil {
		tr.Close()
		return nil, err
	}

	introspector, err := procfs.Open(pid)
	if err != nil {
		tr.Close()
		return nil, err
	}

	seq, err := ReadSeq(root)
	if err != nil {
		introspector.Close()
		tr.Close()
		return nil, err
	}

	var lastMaps []procfs.RegionDescriptor
	if seq > 0 {
		lastMaps, err = readMaps(root, seq)
		if err != nil {
			introspector.Close()
			tr.Close()
			return nil, err
		}
	}

	return newEngine(tr, introspector, pid, root, seq, lastMaps), nil
}

func newEngine(tracer Tracer, introspector Introspector, pid int, root string, seq uint64, lastMaps []procfs.RegionDescriptor) *Engine {
	return &Engine{
		tracer:       tracer,
		introspector: introspector,
		pid:          pid,
		root:         root,
		seq:          seq,
		lastMaps:     lastMaps,
	}
}

// Close detaches the tracer and releases the introspector's memory handle.
func (e *Engine) Close() error {
	e.tracer.Close()
	return e.introspector.Close()
}

type regionCapture struct {
	desc      procfs.RegionDescriptor
	reuse     bool
	reuseFrom int
	data      []byte
}

// Checkpoint performs one atomic snapshot at seq+1 and returns the pause
// and total durations. See the checkpoint algorithm: stop, snapshot
// registers and region list, resume, then decide per-region capture/reuse/
// drop, enumerate descriptors, and persist to disk under an atomic seq
// replacement.
func (e *Engine) Checkpoint() (Stats, error) {
	log := logging.WithPID(logging.WithSeq(logging.Default(), e.seq+1), e.pid)
	totalStart := time.Now()

	pauseStart := time.Now()
	if err := e.tracer.Stop(); err != nil {
		return Stats{}, err
	}
	if err := e.tracer.WaitStopped(); err != nil {
		return Stats{}, err
	}

	bank, err := e.tracer.GetRegs()
	if err != nil {
		return Stats{}, err
	}
	regions, err := e.introspector.Regions()
	if err != nil {
		return Stats{}, err
	}

	if err := e.tracer.Resume(); err != nil {
		return Stats{}, err
	}
	pause := time.Since(pauseStart)

	captures := make([]regionCapture, 0, len(regions))
	for _, desc := range regions {
		if isBootstrapRegion(desc) {
			continue
		}

		if !desc.Perms.Write {
			if j, ok := findReusable(e.lastMaps, desc); ok {
				captures = append(captures, regionCapture{desc: desc, reuse: true, reuseFrom: j})
				continue
			}
		}

		data, err := e.introspector.MemRead(desc.Low, desc.High)
		if err != nil {
			if isSkippableReadErr(err) {
				log.Debug("dropping unreadable region", "low", desc.Low, "high", desc.High)
				continue
			}
			return Stats{}, err
		}
		captures = append(captures, regionCapture{desc: desc, data: data})
	}

	descriptors, err := e.introspector.Descriptors()
	if err != nil {
		return Stats{}, err
	}

	newSeq := e.seq + 1
	if err := e.persist(newSeq, bank, captures, descriptors); err != nil {
		return Stats{}, err
	}

	newMaps := make([]procfs.RegionDescriptor, len(captures))
	for i, c := range captures {
		newMaps[i] = c.desc
	}

	e.seq = newSeq
	e.lastMaps = newMaps

	total := time.Since(totalStart)
	log.Debug("checkpoint complete", "pause_ns", pause.Nanoseconds(), "total_ns", total.Nanoseconds(), "regions", len(captures))

	return Stats{Pause: pause, Total: total}, nil
}

func (e *Engine) persist(newSeq uint64, bank regs.RegisterBank, captures []regionCapture, descriptors []procfs.FileDescriptorRecord) error {
	dir := CheckpointDir(e.root, newSeq)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return slserrors.Wrap(err, slserrors.ErrIo, "mkdir checkpoint dir")
	}

	for i, c := range captures {
		dst := RegionPath(e.root, newSeq, i)
		if c.reuse {
			src := RegionPath(e.root, e.seq, c.reuseFrom)
			if err := os.Link(src, dst); err != nil {
				return slserrors.Wrap(err, slserrors.ErrIo, "hard link region")
			}
			continue
		}
		if err := os.WriteFile(dst, c.data, 0o644); err != nil {
			return slserrors.Wrap(err, slserrors.ErrIo, "write region")
		}
	}

	if err := writeRegs(e.root, newSeq, bank); err != nil {
		return err
	}
	descs := make([]procfs.RegionDescriptor, len(captures))
	for i, c := range captures {
		descs[i] = c.desc
	}
	if err := writeMaps(e.root, newSeq, descs); err != nil {
		return err
	}
	if err := writeFiles(e.root, newSeq, descriptors); err != nil {
		return err
	}

	return WriteSeq(e.root, newSeq)
}

// isBootstrapRegion reports whether desc is backed by a previous restore
// bootstrapper's generated executable, identified by its fixed file name.
func isBootstrapRegion(desc procfs.RegionDescriptor) bool {
	return desc.PathKind == procfs.PathFile && filepath.Base(desc.Path) == BootstrapGUID
}

// findReusable returns the index of a structurally identical descriptor in
// lastMaps, if any. RegionDescriptor is fully comparable, and because two
// identical descriptors cannot coexist in one address space, the first
// match is unambiguous.
func findReusable(lastMaps []procfs.RegionDescriptor, desc procfs.RegionDescriptor) (int, bool) {
	for j, old := range lastMaps {
		if old == desc {
			return j, true
		}
	}
	return 0, false
}

// isSkippableReadErr reports whether err is the specific I/O failure
// (EIO) the checkpoint algorithm tolerates by dropping the region, as
// opposed to a fatal read error.
func isSkippableReadErr(err error) bool {
	var errno syscall.Errno
	if stderrors.As(err, &errno) {
		return errno == syscall.EIO
	}
	return false
}

// Cull leaves at most maxCps most-recent checkpoints on disk, removing the
// oldest first. The checkpoint referenced by the current sequence pointer
// is never removed. A maxCps <= 0 disables culling.
func (e *Engine) Cull(maxCps int) error {
	if maxCps <= 0 {
		return nil
	}

	seqs, err := listCheckpointSeqs(e.root)
	if err != nil {
		return err
	}
	if len(seqs) <= maxCps {
		return nil
	}

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, s := range seqs[:len(seqs)-maxCps] {
		if s == e.seq {
			continue
		}
		if err := os.RemoveAll(CheckpointDir(e.root, s)); err != nil {
			return slserrors.Wrap(err, slserrors.ErrIo, "cull checkpoint")
		}
	}
	return nil
}

func listCheckpointSeqs(root string) ([]uint64, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, slserrors.Wrap(err, slserrors.ErrIo, "readdir root")
	}

	var seqs []uint64
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		s, err := strconv.ParseUint(entry.Name(), 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, s)
	}
	return seqs, nil
}

// Run takes checkpoints on a fixed period until ctx is cancelled or a
// checkpoint fails (the target has disappeared or become unreadable).
func (e *Engine) Run(ctx context.Context, period time.Duration, maxCps int, stats io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		st, err := e.Checkpoint()
		if err != nil {
			return err
		}
		if err := writeStatsLine(stats, st); err != nil {
			return err
		}
		if err := e.Cull(maxCps); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(period):
		}
	}
}

// WriteStatsLine appends one pause_ns,total_ns CSV line for st to w. Used
// by the fixed-period and adaptive loops, and by callers that take a
// single one-shot checkpoint and still want it recorded.
func WriteStatsLine(w io.Writer, st Stats) error {
	return writeStatsLine(w, st)
}

func writeStatsLine(w io.Writer, st Stats) error {
	if w == nil {
		return nil
	}
	_, err := io.WriteString(w, formatStatsLine(st))
	if err != nil {
		return slserrors.Wrap(err, slserrors.ErrIo, "write stats")
	}
	return nil
}

func formatStatsLine(st Stats) string {
	return strconv.FormatInt(st.Pause.Nanoseconds(), 10) + "," + strconv.FormatInt(st.Total.Nanoseconds(), 10) + "\n"
}

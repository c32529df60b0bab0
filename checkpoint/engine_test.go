package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/Codadillo/simple-sls/procfs"
	"github.com/Codadillo/simple-sls/regs"
)

// fakeTracer drives the checkpoint algorithm without a real traced process.
type fakeTracer struct {
	bank regs.RegisterBank
}

func (f *fakeTracer) Stop() error                        { return nil }
func (f *fakeTracer) WaitStopped() error                  { return nil }
func (f *fakeTracer) Resume() error                       { return nil }
func (f *fakeTracer) GetRegs() (regs.RegisterBank, error) { return f.bank, nil }
func (f *fakeTracer) Detach() error                       { return nil }
func (f *fakeTracer) Close()                              {}

// fakeIntrospector serves a fixed region/descriptor list and per-region
// memory contents or errors, keyed by a region's low address.
type fakeIntrospector struct {
	regions     []procfs.RegionDescriptor
	data        map[uint64][]byte
	readErr     map[uint64]error
	descriptors []procfs.FileDescriptorRecord
}

func (f *fakeIntrospector) Regions() ([]procfs.RegionDescriptor, error) { return f.regions, nil }

func (f *fakeIntrospector) MemRead(low, high uint64) ([]byte, error) {
	if err, ok := f.readErr[low]; ok {
		return nil, err
	}
	return f.data[low], nil
}

func (f *fakeIntrospector) Descriptors() ([]procfs.FileDescriptorRecord, error) {
	return f.descriptors, nil
}

func (f *fakeIntrospector) Close() error { return nil }

func writableRegion(low, high uint64) procfs.RegionDescriptor {
	return procfs.RegionDescriptor{Low: low, High: high, Perms: procfs.Perms{Read: true, Write: true}}
}

func readonlyAnonRegion(low, high uint64, tag string) procfs.RegionDescriptor {
	return procfs.RegionDescriptor{Low: low, High: high, Perms: procfs.Perms{Read: true}, PathKind: procfs.PathAnon, Path: tag}
}

func TestEngine_Checkpoint_FreshAttach(t *testing.T) {
	root := t.TempDir()
	tr := &fakeTracer{}
	intro := &fakeIntrospector{
		regions: []procfs.RegionDescriptor{writableRegion(0x1000, 0x2000)},
		data:    map[uint64][]byte{0x1000: []byte("hello")},
	}
	e := newEngine(tr, intro, 1234, root, 0, nil)

	st, err := e.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if st.Total < st.Pause {
		t.Errorf("total duration %v is less than pause duration %v", st.Total, st.Pause)
	}

	seq, err := ReadSeq(root)
	if err != nil {
		t.Fatalf("ReadSeq: %v", err)
	}
	if seq != 1 {
		t.Errorf("seq = %d, want 1", seq)
	}

	data, err := os.ReadFile(RegionPath(root, 1, 0))
	if err != nil {
		t.Fatalf("read region file: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("region 0 contents = %q, want %q", data, "hello")
	}

	if _, err := os.Stat(RegsPath(root, 1)); err != nil {
		t.Errorf("regs document missing: %v", err)
	}
	if _, err := os.Stat(MapsPath(root, 1)); err != nil {
		t.Errorf("maps document missing: %v", err)
	}
	if _, err := os.Stat(FilesPath(root, 1)); err != nil {
		t.Errorf("files document missing: %v", err)
	}
}

func TestEngine_Checkpoint_ReusesImmutableRegionViaHardLink(t *testing.T) {
	root := t.TempDir()
	readonly := readonlyAnonRegion(0x5000, 0x6000, "[vdso]")

	tr := &fakeTracer{}
	intro := &fakeIntrospector{
		regions: []procfs.RegionDescriptor{readonly},
		data:    map[uint64][]byte{0x5000: []byte("unchanging")},
	}
	e := newEngine(tr, intro, 1, root, 0, nil)
	if _, err := e.Checkpoint(); err != nil {
		t.Fatalf("first Checkpoint: %v", err)
	}

	// Second checkpoint sees the identical descriptor and a new mutable
	// region; the identical one must be dedup'd via hard link, not
	// re-read.
	intro.regions = []procfs.RegionDescriptor{readonly, writableRegion(0x7000, 0x8000)}
	intro.data[0x7000] = []byte("fresh")

	if _, err := e.Checkpoint(); err != nil {
		t.Fatalf("second Checkpoint: %v", err)
	}

	firstInfo, err := os.Stat(RegionPath(root, 1, 0))
	if err != nil {
		t.Fatalf("stat first region: %v", err)
	}
	secondInfo, err := os.Stat(RegionPath(root, 2, 0))
	if err != nil {
		t.Fatalf("stat reused region: %v", err)
	}
	if !os.SameFile(firstInfo, secondInfo) {
		t.Error("reused region file is not a hard link to the previous checkpoint's file")
	}

	freshData, err := os.ReadFile(RegionPath(root, 2, 1))
	if err != nil {
		t.Fatalf("read fresh region: %v", err)
	}
	if string(freshData) != "fresh" {
		t.Errorf("region 1 contents = %q, want %q", freshData, "fresh")
	}
}

func TestEngine_Checkpoint_DropsUnreadableRegion(t *testing.T) {
	root := t.TempDir()
	tr := &fakeTracer{}
	intro := &fakeIntrospector{
		regions: []procfs.RegionDescriptor{
			writableRegion(0x1000, 0x2000),
			writableRegion(0x3000, 0x4000),
		},
		data:    map[uint64][]byte{0x1000: []byte("kept")},
		readErr: map[uint64]error{0x3000: syscall.EIO},
	}
	e := newEngine(tr, intro, 1, root, 0, nil)

	if _, err := e.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	regions, err := readMaps(root, 1)
	if err != nil {
		t.Fatalf("readMaps: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("len(regions) = %d, want 1 (unreadable region should be dropped)", len(regions))
	}
	if _, err := os.Stat(RegionPath(root, 1, 1)); !os.IsNotExist(err) {
		t.Error("expected no file written for the dropped region")
	}
}

func TestEngine_Checkpoint_FatalReadErrorAborts(t *testing.T) {
	root := t.TempDir()
	tr := &fakeTracer{}
	intro := &fakeIntrospector{
		regions: []procfs.RegionDescriptor{writableRegion(0x1000, 0x2000)},
		readErr: map[uint64]error{0x1000: syscall.EACCES},
	}
	e := newEngine(tr, intro, 1, root, 0, nil)

	if _, err := e.Checkpoint(); err == nil {
		t.Fatal("expected a fatal error for a non-EIO read failure")
	}
}

func TestEngine_Checkpoint_DropsBootstrapRegion(t *testing.T) {
	root := t.TempDir()
	bootstrapRegion := procfs.RegionDescriptor{
		Low: 0xe0000, High: 0xe1000,
		Perms:    procfs.Perms{Read: true, Exec: true},
		PathKind: procfs.PathFile,
		Path:     filepath.Join(root, "3", BootstrapGUID),
	}

	tr := &fakeTracer{}
	intro := &fakeIntrospector{regions: []procfs.RegionDescriptor{bootstrapRegion}}
	e := newEngine(tr, intro, 1, root, 0, nil)

	if _, err := e.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	regions, err := readMaps(root, 1)
	if err != nil {
		t.Fatalf("readMaps: %v", err)
	}
	if len(regions) != 0 {
		t.Errorf("len(regions) = %d, want 0 (bootstrap region should be dropped)", len(regions))
	}
}

func TestEngine_Cull_KeepsOnlyMostRecent(t *testing.T) {
	root := t.TempDir()
	tr := &fakeTracer{}
	intro := &fakeIntrospector{regions: []procfs.RegionDescriptor{writableRegion(0x1000, 0x2000)}, data: map[uint64][]byte{0x1000: []byte("x")}}
	e := newEngine(tr, intro, 1, root, 0, nil)

	for i := 0; i < 3; i++ {
		if _, err := e.Checkpoint(); err != nil {
			t.Fatalf("Checkpoint %d: %v", i, err)
		}
		if err := e.Cull(1); err != nil {
			t.Fatalf("Cull %d: %v", i, err)
		}
	}

	for _, seq := range []uint64{1, 2} {
		if _, err := os.Stat(CheckpointDir(root, seq)); !os.IsNotExist(err) {
			t.Errorf("checkpoint %d should have been culled", seq)
		}
	}
	if _, err := os.Stat(CheckpointDir(root, 3)); err != nil {
		t.Errorf("checkpoint 3 should remain: %v", err)
	}

	seq, err := ReadSeq(root)
	if err != nil {
		t.Fatalf("ReadSeq: %v", err)
	}
	if seq != 3 {
		t.Errorf("seq = %d, want 3", seq)
	}
}

func TestEngine_Cull_NeverRemovesCurrentSeq(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(CheckpointDir(root, 1), 0o755); err != nil {
		t.Fatal(err)
	}
	e := newEngine(&fakeTracer{}, &fakeIntrospector{}, 1, root, 1, nil)

	if err := e.Cull(1); err != nil {
		t.Fatalf("Cull: %v", err)
	}
	if _, err := os.Stat(CheckpointDir(root, 1)); err != nil {
		t.Errorf("current checkpoint should survive culling: %v", err)
	}
}

func TestAdaptiveSleep(t *testing.T) {
	cases := []struct {
		name         string
		pause, total time.Duration
		alpha        float64
		lo, hi       time.Duration
		want         time.Duration
	}{
		{
			name: "basic", pause: 10 * time.Millisecond, total: 12 * time.Millisecond,
			alpha: 0.1, want: 98 * time.Millisecond,
		},
		{
			name: "clamped by lo", pause: time.Millisecond, total: 2 * time.Millisecond,
			alpha: 1.0, lo: 100 * time.Millisecond, want: 98 * time.Millisecond,
		},
		{
			// hi - total is deeply negative here; the clamp still floors at 0.
			name: "clamped by hi", pause: time.Second, total: time.Second,
			alpha: 0.001, hi: 50 * time.Millisecond, want: 0,
		},
		{
			name: "zero pause never sleeps negative", pause: 0, total: time.Millisecond,
			alpha: 0.5, want: 0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := adaptiveSleep(tc.pause, tc.total, tc.alpha, tc.lo, tc.hi)
			if got != tc.want {
				t.Errorf("adaptiveSleep(%v, %v, %v, %v, %v) = %v, want %v", tc.pause, tc.total, tc.alpha, tc.lo, tc.hi, got, tc.want)
			}
		})
	}
}

func TestRunAdaptive_RejectsNonPositiveAlpha(t *testing.T) {
	root := t.TempDir()
	e := newEngine(&fakeTracer{}, &fakeIntrospector{}, 1, root, 0, nil)

	err := e.RunAdaptive(context.Background(), 0, 0, 0, 3, nil)
	if err == nil {
		t.Fatal("expected an error for alpha <= 0")
	}
}

func TestIsBootstrapRegion(t *testing.T) {
	region := procfs.RegionDescriptor{PathKind: procfs.PathFile, Path: "/tmp/slsdir/3/" + BootstrapGUID}
	if !isBootstrapRegion(region) {
		t.Error("expected region with bootstrap-named file to be recognized")
	}

	other := procfs.RegionDescriptor{PathKind: procfs.PathFile, Path: "/usr/bin/sleep"}
	if isBootstrapRegion(other) {
		t.Error("did not expect an unrelated file-backed region to be recognized as the bootstrapper")
	}
}

package procfs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Codadillo/simple-sls/errors"
)

// Process binds to a target's per-process inspection surface under
// /proc/<pid>, providing seekless, ReadAt-based access to its memory.
type Process struct {
	pid     int
	memFile *os.File
}

// Open binds to pid and opens its memory-as-file handle with seek/read
// access. The handle is kept open for the lifetime of the Process so
// repeated MemRead calls within one stopped window don't race on a shared
// seek cursor (ReadAt, not Seek+Read).
func Open(pid int) (*Process, error) {
	memFile, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", pid), os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrOs, "open /proc/pid/mem")
	}
	return &Process{pid: pid, memFile: memFile}, nil
}

// Close releases the memory file handle.
func (p *Process) Close() error {
	return p.memFile.Close()
}

// PID returns the target's process ID.
func (p *Process) PID() int {
	return p.pid
}

func (p *Process) procPath(name string) string {
	return filepath.Join("/proc", fmt.Sprintf("%d", p.pid), name)
}

func (p *Process) openProcFile(name string) (*os.File, error) {
	return os.Open(p.procPath(name))
}

// MemRead reads the byte range [low, high) from the target's address
// space. Regions the kernel refuses to expose (e.g. the vDSO on some
// configurations) legitimately fail with EIO; callers should treat that
// specific failure as "skip this region," not as fatal.
func (p *Process) MemRead(low, high uint64) ([]byte, error) {
	size := high - low
	buf := make([]byte, size)

	n, err := p.memFile.ReadAt(buf, int64(low))
	if err != nil && uint64(n) < size {
		return nil, errors.Wrap(err, errors.ErrIo, "read mem")
	}
	return buf, nil
}

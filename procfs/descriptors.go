package procfs

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/Codadillo/simple-sls/errors"
)

// Descriptors returns the target's open file descriptors. Only regular
// files are reported as FileDescriptorRecords; sockets, pipes, and other
// anonymous-inode kinds are dropped (their /proc/<pid>/fd symlink targets
// don't point at a real path).
func (p *Process) Descriptors() ([]FileDescriptorRecord, error) {
	dir := p.procPath("fd")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrOs, "readdir /proc/pid/fd")
	}

	var records []FileDescriptorRecord
	for _, entry := range entries {
		fd, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		target, err := os.Readlink(p.procPath("fd/" + entry.Name()))
		if err != nil {
			// The fd may have closed between readdir and readlink; skip it.
			continue
		}

		if !isRegularFileTarget(target) {
			continue
		}
		// A path target can still be a device, FIFO, or directory.
		if info, err := os.Stat(p.procPath("fd/" + entry.Name())); err != nil || !info.Mode().IsRegular() {
			continue
		}

		flags, offset, err := p.readFdInfo(fd)
		if err != nil {
			return nil, err
		}

		records = append(records, FileDescriptorRecord{
			FD:     fd,
			Path:   target,
			Flags:  flags,
			Offset: offset,
		})
	}

	return records, nil
}

// isRegularFileTarget reports whether a /proc/<pid>/fd/<n> symlink target
// names a filesystem path rather than a socket, pipe, or other anonymous
// inode kind. It looks at the name only; Descriptors checks the file type
// of path targets separately.
func isRegularFileTarget(target string) bool {
	if !strings.HasPrefix(target, "/") {
		return false
	}
	switch {
	case strings.HasPrefix(target, "socket:["),
		strings.HasPrefix(target, "pipe:["),
		strings.HasPrefix(target, "anon_inode:"):
		return false
	}
	return true
}

// readFdInfo reads /proc/<pid>/fdinfo/<fd> to recover the access mode
// flags and current offset, neither of which /proc/<pid>/fd alone
// exposes.
func (p *Process) readFdInfo(fd int) (flags int, offset int64, err error) {
	f, openErr := os.Open(p.procPath("fdinfo/" + strconv.Itoa(fd)))
	if openErr != nil {
		return 0, 0, errors.Wrap(openErr, errors.ErrOs, "open fdinfo")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch key {
		case "pos":
			v, parseErr := strconv.ParseInt(value, 10, 64)
			if parseErr != nil {
				return 0, 0, errors.Wrap(parseErr, errors.ErrDecode, "parse fdinfo pos")
			}
			offset = v
		case "flags":
			v, parseErr := strconv.ParseInt(value, 8, 64)
			if parseErr != nil {
				return 0, 0, errors.Wrap(parseErr, errors.ErrDecode, "parse fdinfo flags")
			}
			flags = int(v)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, errors.Wrap(err, errors.ErrIo, "read fdinfo")
	}

	return flags, offset, nil
}

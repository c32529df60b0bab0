package procfs

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Codadillo/simple-sls/errors"
)

// parseMapsLine parses one line of /proc/<pid>/maps, e.g.:
//
//	00400000-00452000 r-xp 00000000 08:02 173521 /usr/bin/cat
//	7ffd12345000-7ffd12366000 rw-p 00000000 00:00 0 [stack]
//
// The textual format is a fixed-column kernel ABI, not something any
// pack example ships a parser for (see DESIGN.md); parsing it by hand
// follows the same "talk to synthetic /proc files directly" convention
// the teacher's cgroup code uses for cgroupfs.
func parseMapsLine(line string) (RegionDescriptor, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return RegionDescriptor{}, fmt.Errorf("malformed maps line: %q", line)
	}

	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return RegionDescriptor{}, fmt.Errorf("malformed address range: %q", fields[0])
	}
	low, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return RegionDescriptor{}, fmt.Errorf("parse low address: %w", err)
	}
	high, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return RegionDescriptor{}, fmt.Errorf("parse high address: %w", err)
	}

	permStr := fields[1]
	if len(permStr) < 4 {
		return RegionDescriptor{}, fmt.Errorf("malformed perms: %q", permStr)
	}
	perms := Perms{
		Read:   permStr[0] == 'r',
		Write:  permStr[1] == 'w',
		Exec:   permStr[2] == 'x',
		Shared: permStr[3] == 's',
	}

	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return RegionDescriptor{}, fmt.Errorf("parse offset: %w", err)
	}

	desc := RegionDescriptor{
		Low:   low,
		High:  high,
		Perms: perms,
	}

	if len(fields) >= 6 {
		path := strings.Join(fields[5:], " ")
		switch {
		case strings.HasPrefix(path, "[") && strings.HasSuffix(path, "]"):
			desc.PathKind = PathAnon
			desc.Path = path
		default:
			desc.PathKind = PathFile
			desc.Path = path
			desc.Offset = offset
		}
	} else {
		desc.PathKind = PathNone
	}

	return desc, nil
}

// Regions returns the ordered list of RegionDescriptors for the target's
// current address space, read from /proc/<pid>/maps.
func (p *Process) Regions() ([]RegionDescriptor, error) {
	f, err := p.openProcFile("maps")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrIo, "open maps")
	}
	defer f.Close()

	var regions []RegionDescriptor
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		desc, err := parseMapsLine(line)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrDecode, "parse maps")
		}
		regions = append(regions, desc)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, errors.ErrIo, "read maps")
	}

	return regions, nil
}

package bootstrap

import (
	"github.com/Codadillo/simple-sls/errors"
	"github.com/Codadillo/simple-sls/procfs"
)

// maxScanAttempts bounds the first-fit search for a free load address so a
// pathological checkpoint (regions covering the entire low address space)
// fails fast instead of looping forever.
const maxScanAttempts = 4096

// chooseBaseAddress finds a page-aligned load address for the
// bootstrapper's single code_window page that does not overlap any region
// in regions, scanning upward from defaultBase one page at a time.
func chooseBaseAddress(regions []procfs.RegionDescriptor) (uint64, error) {
	base := uint64(defaultBase)
	for i := 0; i < maxScanAttempts; i++ {
		if !overlapsAny(regions, base, base+codeWindow) {
			return base, nil
		}
		base += pageSize
	}
	return 0, errors.ErrNoFreeSlot
}

func overlapsAny(regions []procfs.RegionDescriptor, low, high uint64) bool {
	for _, r := range regions {
		if low < r.High && r.Low < high {
			return true
		}
	}
	return false
}

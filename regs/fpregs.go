package regs

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Codadillo/simple-sls/errors"
)

// ntPRFPREG is the NT_PRFPREG note type used by PTRACE_GETREGSET /
// PTRACE_SETREGSET to address the FXSAVE-format floating-point register
// set. golang.org/x/sys/unix does not export a typed FP-register struct
// for amd64, so this repo talks to the raw kernel ABI directly, the same
// way the teacher's seccomp BPF code builds sockFprog/sockFilter by hand.
const ntPRFPREG = 2

// rawFPRegs is byte-exact with the kernel's x86-64 user_fpregs_struct
// (the FXSAVE area): legacy x87 control/status/tag words, the FPU
// instruction/data pointers, MXCSR, eight 128-bit ST/MMX slots, and
// sixteen 128-bit XMM registers.
type rawFPRegs struct {
	Cwd      uint16
	Swd      uint16
	Ftw      uint16
	Fop      uint16
	Rip      uint64
	Rdp      uint64
	Mxcsr    uint32
	MxcrMask uint32
	StSpace  [32]uint32
	XmmSpace [64]uint32
	Padding  [24]uint32
}

// FPRegs is a portable, JSON-serializable view of the floating-point and
// media register file.
type FPRegs struct {
	ControlWord uint16    `json:"cwd"`
	StatusWord  uint16    `json:"swd"`
	TagWord     uint16    `json:"ftw"`
	OpCode      uint16    `json:"fop"`
	Rip         uint64    `json:"rip"`
	Rdp         uint64    `json:"rdp"`
	MXCSR       uint32       `json:"mxcsr"`
	MXCSRMask   uint32       `json:"mxcsr_mask"`
	ST          [8][16]byte  `json:"st"`
	XMM         [16][16]byte `json:"xmm"`
}

func (f *FPRegs) toRaw() *rawFPRegs {
	raw := &rawFPRegs{
		Cwd:      f.ControlWord,
		Swd:      f.StatusWord,
		Ftw:      f.TagWord,
		Fop:      f.OpCode,
		Rip:      f.Rip,
		Rdp:      f.Rdp,
		Mxcsr:    f.MXCSR,
		MxcrMask: f.MXCSRMask,
	}
	for i, slot := range f.ST {
		for j := 0; j < 4; j++ {
			raw.StSpace[i*4+j] = binary.LittleEndian.Uint32(slot[j*4 : j*4+4])
		}
	}
	for i, slot := range f.XMM {
		for j := 0; j < 4; j++ {
			raw.XmmSpace[i*4+j] = binary.LittleEndian.Uint32(slot[j*4 : j*4+4])
		}
	}
	return raw
}

func fpRegsFromRaw(raw *rawFPRegs) FPRegs {
	f := FPRegs{
		ControlWord: raw.Cwd,
		StatusWord:  raw.Swd,
		TagWord:     raw.Ftw,
		OpCode:      raw.Fop,
		Rip:         raw.Rip,
		Rdp:         raw.Rdp,
		MXCSR:       raw.Mxcsr,
		MXCSRMask:   raw.MxcrMask,
	}
	for i := range f.ST {
		for j := 0; j < 4; j++ {
			binary.LittleEndian.PutUint32(f.ST[i][j*4:j*4+4], raw.StSpace[i*4+j])
		}
	}
	for i := range f.XMM {
		for j := 0; j < 4; j++ {
			binary.LittleEndian.PutUint32(f.XMM[i][j*4:j*4+4], raw.XmmSpace[i*4+j])
		}
	}
	return f
}

// GetFPRegs reads the floating-point register set of a ptrace-stopped
// process via PTRACE_GETREGSET/NT_PRFPREG.
func GetFPRegs(pid int) (FPRegs, error) {
	var raw rawFPRegs
	iov := unix.Iovec{Base: (*byte)(unsafe.Pointer(&raw))}
	iov.SetLen(int(unsafe.Sizeof(raw)))

	if err := unix.PtraceGetRegSet(pid, ntPRFPREG, &iov); err != nil {
		return FPRegs{}, errors.Wrap(err, errors.ErrOs, "ptrace getregset(fpregs)")
	}
	return fpRegsFromRaw(&raw), nil
}

// SetFPRegs writes the floating-point register set of a ptrace-stopped
// process via PTRACE_SETREGSET/NT_PRFPREG.
func SetFPRegs(pid int, f FPRegs) error {
	raw := f.toRaw()
	iov := unix.Iovec{Base: (*byte)(unsafe.Pointer(raw))}
	iov.SetLen(int(unsafe.Sizeof(*raw)))

	if err := unix.PtraceSetRegSet(pid, ntPRFPREG, &iov); err != nil {
		return errors.Wrap(err, errors.ErrOs, "ptrace setregset(fpregs)")
	}
	return nil
}

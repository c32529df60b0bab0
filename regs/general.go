// Package regs provides portable, serializable value types for the
// general-purpose and floating-point register banks of a traced process,
// with lossless conversion to and from the kernel-native layout.
package regs

import "golang.org/x/sys/unix"

// GeneralRegs mirrors unix.PtraceRegs (the Linux x86-64 user_regs_struct)
// field-for-field so conversion to and from the kernel-native layout is a
// plain memberwise copy.
type GeneralRegs struct {
	R15      uint64 `json:"r15"`
	R14      uint64 `json:"r14"`
	R13      uint64 `json:"r13"`
	R12      uint64 `json:"r12"`
	Rbp      uint64 `json:"rbp"`
	Rbx      uint64 `json:"rbx"`
	R11      uint64 `json:"r11"`
	R10      uint64 `json:"r10"`
	R9       uint64 `json:"r9"`
	R8       uint64 `json:"r8"`
	Rax      uint64 `json:"rax"`
	Rcx      uint64 `json:"rcx"`
	Rdx      uint64 `json:"rdx"`
	Rsi      uint64 `json:"rsi"`
	Rdi      uint64 `json:"rdi"`
	OrigRax  uint64 `json:"orig_rax"`
	Rip      uint64 `json:"rip"`
	Cs       uint64 `json:"cs"`
	Eflags   uint64 `json:"eflags"`
	Rsp      uint64 `json:"rsp"`
	Ss       uint64 `json:"ss"`
	FsBase   uint64 `json:"fs_base"`
	GsBase   uint64 `json:"gs_base"`
	Ds       uint64 `json:"ds"`
	Es       uint64 `json:"es"`
	Fs       uint64 `json:"fs"`
	Gs       uint64 `json:"gs"`
}

// ToKernel converts to the kernel-native unix.PtraceRegs layout.
func (g *GeneralRegs) ToKernel() *unix.PtraceRegs {
	return &unix.PtraceRegs{
		R15:      g.R15,
		R14:      g.R14,
		R13:      g.R13,
		R12:      g.R12,
		Rbp:      g.Rbp,
		Rbx:      g.Rbx,
		R11:      g.R11,
		R10:      g.R10,
		R9:       g.R9,
		R8:       g.R8,
		Rax:      g.Rax,
		Rcx:      g.Rcx,
		Rdx:      g.Rdx,
		Rsi:      g.Rsi,
		Rdi:      g.Rdi,
		Orig_rax: g.OrigRax,
		Rip:      g.Rip,
		Cs:       g.Cs,
		Eflags:   g.Eflags,
		Rsp:      g.Rsp,
		Ss:       g.Ss,
		Fs_base:  g.FsBase,
		Gs_base:  g.GsBase,
		Ds:       g.Ds,
		Es:       g.Es,
		Fs:       g.Fs,
		Gs:       g.Gs,
	}
}

// GeneralRegsFromKernel converts from the kernel-native unix.PtraceRegs
// layout.
func GeneralRegsFromKernel(k *unix.PtraceRegs) GeneralRegs {
	return GeneralRegs{
		R15:     k.R15,
		R14:     k.R14,
		R13:     k.R13,
		R12:     k.R12,
		Rbp:     k.Rbp,
		Rbx:     k.Rbx,
		R11:     k.R11,
		R10:     k.R10,
		R9:      k.R9,
		R8:      k.R8,
		Rax:     k.Rax,
		Rcx:     k.Rcx,
		Rdx:     k.Rdx,
		Rsi:     k.Rsi,
		Rdi:     k.Rdi,
		OrigRax: k.Orig_rax,
		Rip:     k.Rip,
		Cs:      k.Cs,
		Eflags:  k.Eflags,
		Rsp:     k.Rsp,
		Ss:      k.Ss,
		FsBase:  k.Fs_base,
		GsBase:  k.Gs_base,
		Ds:      k.Ds,
		Es:      k.Es,
		Fs:      k.Fs,
		Gs:      k.Gs,
	}
}

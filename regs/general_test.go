package regs

import "testing"

func TestGeneralRegsRoundTrip(t *testing.T) {
	want := GeneralRegs{
		R15: 1, R14: 2, R13: 3, R12: 4, Rbp: 5, Rbx: 6,
		R11: 7, R10: 8, R9: 9, R8: 10, Rax: 11, Rcx: 12,
		Rdx: 13, Rsi: 14, Rdi: 15, OrigRax: 16, Rip: 0x400000,
		Cs: 0x33, Eflags: 0x246, Rsp: 0x7ffffffde000, Ss: 0x2b,
		FsBase: 20, GsBase: 21, Ds: 0, Es: 0, Fs: 0, Gs: 0,
	}

	kernel := want.ToKernel()
	got := GeneralRegsFromKernel(kernel)

	if got != want {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestGeneralRegsToKernel_Rip(t *testing.T) {
	g := GeneralRegs{Rip: 0xdeadbeef}
	k := g.ToKernel()
	if k.Rip != 0xdeadbeef {
		t.Errorf("Rip = %#x, want %#x", k.Rip, 0xdeadbeef)
	}
}

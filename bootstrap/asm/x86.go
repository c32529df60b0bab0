// Package asm is a minimal x86-64 instruction encoder: not a general
// assembler, just the handful of forms the restore bootstrapper's stub
// program needs to make raw syscalls and jump to itself, emitted as a
// literal []byte with no dynamic loader and no runtime involved.
package asm

import "encoding/binary"

// Register is an x86-64 general-purpose register operand.
type Register int

const (
	RAX Register = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// Cond is a condition code for Jcc.
type Cond byte

const (
	CondE  Cond = 0x4 // ZF=1 (equal / zero)
	CondNE Cond = 0x5 // ZF=0 (not equal)
	CondL  Cond = 0xC // SF != OF (signed less than)
	CondGE Cond = 0xD // SF == OF (signed greater-or-equal)
)

// Builder accumulates encoded instructions into a single machine-code
// buffer.
type Builder struct {
	buf []byte
}

// NewBuilder returns an empty instruction buffer.
func NewBuilder() *Builder {
	return &Builder{}
}

// Bytes returns the accumulated machine code.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Len returns the number of bytes emitted so far.
func (b *Builder) Len() int {
	return len(b.buf)
}

// Append splices a precomputed byte sequence (e.g. a sub-sequence built
// with a separate Builder so its length could be measured before being
// spliced behind a conditional jump) directly into the buffer.
func (b *Builder) Append(raw []byte) *Builder {
	b.buf = append(b.buf, raw...)
	return b
}

func rexW(r, x, base bool) byte {
	rex := byte(0x48) // REX.W
	if r {
		rex |= 0x04
	}
	if x {
		rex |= 0x02
	}
	if base {
		rex |= 0x01
	}
	return rex
}

// MovImm64 emits `mov reg, imm64`.
func (b *Builder) MovImm64(reg Register, imm uint64) *Builder {
	b.buf = append(b.buf, rexW(false, false, reg >= R8), 0xB8+byte(reg&7))
	var imbuf [8]byte
	binary.LittleEndian.PutUint64(imbuf[:], imm)
	b.buf = append(b.buf, imbuf[:]...)
	return b
}

// MovReg emits `mov dst, src` (64-bit register-to-register).
func (b *Builder) MovReg(dst, src Register) *Builder {
	modrm := 0xC0 | (byte(src&7) << 3) | byte(dst&7)
	b.buf = append(b.buf, rexW(src >= R8, false, dst >= R8), 0x89, modrm)
	return b
}

// Xor emits `xor dst, src` (commonly used as `xor reg, reg` to zero a
// register).
func (b *Builder) Xor(dst, src Register) *Builder {
	modrm := 0xC0 | (byte(src&7) << 3) | byte(dst&7)
	b.buf = append(b.buf, rexW(src >= R8, false, dst >= R8), 0x31, modrm)
	return b
}

// CmpImm32 emits `cmp reg, imm32` (sign-extended to 64 bits).
func (b *Builder) CmpImm32(reg Register, imm int32) *Builder {
	modrm := 0xF8 | byte(reg&7)
	b.buf = append(b.buf, rexW(false, false, reg >= R8), 0x81, modrm)
	var imbuf [4]byte
	binary.LittleEndian.PutUint32(imbuf[:], uint32(imm))
	b.buf = append(b.buf, imbuf[:]...)
	return b
}

// Syscall emits the `syscall` instruction.
func (b *Builder) Syscall() *Builder {
	b.buf = append(b.buf, 0x0F, 0x05)
	return b
}

// JmpRel8 emits a short relative jump by the given signed byte offset,
// measured from the instruction following the jump.
func (b *Builder) JmpRel8(rel int8) *Builder {
	b.buf = append(b.buf, 0xEB, byte(rel))
	return b
}

// JmpRel32 emits a near relative jump by the given signed offset,
// measured from the instruction following the jump.
func (b *Builder) JmpRel32(rel int32) *Builder {
	b.buf = append(b.buf, 0xE9)
	var imbuf [4]byte
	binary.LittleEndian.PutUint32(imbuf[:], uint32(rel))
	b.buf = append(b.buf, imbuf[:]...)
	return b
}

// JmpSelf emits an infinite loop (`jmp $`) used as the stub's fallback
// if execution continues past the final self-stop.
func (b *Builder) JmpSelf() *Builder {
	return b.JmpRel8(-2)
}

// Jcc emits a short conditional jump.
func (b *Builder) Jcc(cond Cond, rel int8) *Builder {
	b.buf = append(b.buf, 0x70+byte(cond), byte(rel))
	return b
}

// LeaRIP emits `lea reg, [rip+disp32]`. disp32 is relative to the address
// of the byte immediately following this instruction; the caller computes
// it since this assembler does not resolve labels.
func (b *Builder) LeaRIP(reg Register, disp32 int32) *Builder {
	modrm := (byte(reg&7) << 3) | 0x05
	b.buf = append(b.buf, rexW(reg >= R8, false, false), 0x8D, modrm)
	var imbuf [4]byte
	binary.LittleEndian.PutUint32(imbuf[:], uint32(disp32))
	b.buf = append(b.buf, imbuf[:]...)
	return b
}

package asm

import (
	"bytes"
	"testing"
)

func TestMovImm64(t *testing.T) {
	b := NewBuilder()
	b.MovImm64(RAX, 0x3b) // mov rax, 0x3b (execve syscall number)

	want := []byte{0x48, 0xB8, 0x3b, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(b.Bytes(), want) {
		t.Errorf("MovImm64(RAX, 0x3b) = % x, want % x", b.Bytes(), want)
	}
}

func TestMovImm64_ExtendedRegister(t *testing.T) {
	b := NewBuilder()
	b.MovImm64(R10, 1)

	want := []byte{0x49, 0xBA, 1, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(b.Bytes(), want) {
		t.Errorf("MovImm64(R10, 1) = % x, want % x", b.Bytes(), want)
	}
}

func TestMovReg(t *testing.T) {
	b := NewBuilder()
	b.MovReg(RDI, RAX) // mov rdi, rax

	want := []byte{0x48, 0x89, 0xC7}
	if !bytes.Equal(b.Bytes(), want) {
		t.Errorf("MovReg(RDI, RAX) = % x, want % x", b.Bytes(), want)
	}
}

func TestXor(t *testing.T) {
	b := NewBuilder()
	b.Xor(RAX, RAX)

	want := []byte{0x48, 0x31, 0xC0}
	if !bytes.Equal(b.Bytes(), want) {
		t.Errorf("Xor(RAX, RAX) = % x, want % x", b.Bytes(), want)
	}
}

func TestSyscall(t *testing.T) {
	b := NewBuilder()
	b.Syscall()

	want := []byte{0x0F, 0x05}
	if !bytes.Equal(b.Bytes(), want) {
		t.Errorf("Syscall() = % x, want % x", b.Bytes(), want)
	}
}

func TestJmpSelf(t *testing.T) {
	b := NewBuilder()
	b.JmpSelf()

	want := []byte{0xEB, 0xFE}
	if !bytes.Equal(b.Bytes(), want) {
		t.Errorf("JmpSelf() = % x, want % x", b.Bytes(), want)
	}
}

func TestCmpImm32(t *testing.T) {
	b := NewBuilder()
	b.CmpImm32(RAX, -1)

	want := []byte{0x48, 0x81, 0xF8, 0xFF, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(b.Bytes(), want) {
		t.Errorf("CmpImm32(RAX, -1) = % x, want % x", b.Bytes(), want)
	}
}

func TestBuilder_Chaining(t *testing.T) {
	b := NewBuilder().MovImm64(RAX, 1).MovImm64(RDI, 1).Syscall()
	if b.Len() != 10+10+2 {
		t.Errorf("Len() = %d, want %d", b.Len(), 22)
	}
}

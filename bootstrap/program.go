package bootstrap

import (
	"github.com/Codadillo/simple-sls/bootstrap/asm"
	"github.com/Codadillo/simple-sls/checkpoint"
	"github.com/Codadillo/simple-sls/procfs"
)

// leaInstrLen is the fixed length of the `lea reg, [rip+disp32]` encoding
// this package always uses: REX + opcode + ModRM + disp32.
const leaInstrLen = 7

// program is the assembled bootstrapper payload: a data blob of
// null-terminated path strings followed immediately by the generated
// machine code, with entryOffset marking where execution begins (the first
// byte of code, right after the data blob).
type program struct {
	segment     []byte
	entryOffset int
}

// handshakeFD is the descriptor number the readiness pipe's write end
// lands on in the spawned bootstrapper: os/exec places ExtraFiles
// contiguously starting at fd 3.
const handshakeFD = 3

// buildProgram assembles the stub program that recreates the checkpointed
// regions and file descriptors at base, then self-stops. root/seq name the
// checkpoint whose region files the stub will open. If withHandshake is
// true, the stub writes one byte to handshakeFD right after region
// restoration, before restoring file descriptors — a checkpointed
// FileDescriptorRecord with FD == handshakeFD would otherwise dup2 over
// the inherited pipe before the signal is ever written, and the parent's
// handshake read would then hang until ErrHandshakeTimeout. The self-stop
// at the very end of the stub, not this write, is what the parent's
// ptrace wait actually treats as the authoritative readiness signal; the
// handshake byte only lets it distinguish a hang from a normal one.
func buildProgram(base uint64, root string, seq uint64, regions []procfs.RegionDescriptor, files []procfs.FileDescriptorRecord, withHandshake bool) (program, error) {
	data, regionPathOffsets, filePathOffsets, readyOffset := buildDataBlob(root, seq, regions, files)

	cb := asm.NewBuilder()

	emitUnmaps(cb, base)
	for i, region := range regions {
		emitRegionRestore(cb, len(data), regionPathOffsets[i], region)
	}
	if withHandshake {
		emitHandshakeSignal(cb, len(data), readyOffset)
	}
	for j, file := range files {
		emitFileRestore(cb, len(data), filePathOffsets[j], file)
	}
	emitSelfStop(cb)

	segment := append(data, cb.Bytes()...)
	return program{segment: segment, entryOffset: len(data)}, nil
}

// buildDataBlob lays out every null-terminated path string the generated
// code will reference and returns their byte offsets within the blob, one
// per region and one per file descriptor, in the same order as regions and
// files, plus the offset of a single zero byte used as the handshake
// write's source buffer.
func buildDataBlob(root string, seq uint64, regions []procfs.RegionDescriptor, files []procfs.FileDescriptorRecord) (blob []byte, regionOffsets, fileOffsets []int, readyOffset int) {
	regionOffsets = make([]int, len(regions))
	for i := range regions {
		regionOffsets[i] = len(blob)
		blob = append(blob, []byte(checkpoint.RegionPath(root, seq, i))...)
		blob = append(blob, 0)
	}

	fileOffsets = make([]int, len(files))
	for j, f := range files {
		fileOffsets[j] = len(blob)
		blob = append(blob, []byte(f.Path)...)
		blob = append(blob, 0)
	}

	readyOffset = len(blob)
	blob = append(blob, 0)

	return blob, regionOffsets, fileOffsets, readyOffset
}

// leaPath emits `lea reg, [rip+disp]` addressing the path string at
// strOffset within the data blob (dataLen bytes long, immediately
// preceding the code this builder is emitting).
func leaPath(cb *asm.Builder, dataLen, strOffset int, reg asm.Register) {
	afterInstr := dataLen + cb.Len() + leaInstrLen
	disp := int64(strOffset) - int64(afterInstr)
	cb.LeaRIP(reg, int32(disp))
}

// emitUnmaps unmaps everything except the bootstrapper's own code_window
// page, per step 1 of the restore program: unmap [0, base) and
// [base+codeWindow, topOfUserSpace). Failures are ignored by design — the
// generated code never checks munmap's return value.
func emitUnmaps(cb *asm.Builder, base uint64) {
	cb.MovImm64(asm.RAX, sysMunmap)
	cb.MovImm64(asm.RDI, 0)
	cb.MovImm64(asm.RSI, base)
	cb.Syscall()

	upperBase := base + codeWindow
	cb.MovImm64(asm.RAX, sysMunmap)
	cb.MovImm64(asm.RDI, upperBase)
	cb.MovImm64(asm.RSI, topOfUserSpace-upperBase)
	cb.Syscall()
}

func protBits(p procfs.Perms) uint64 {
	var bits uint64
	if p.Read {
		bits |= protRead
	}
	if p.Write {
		bits |= protWrite
	}
	if p.Exec {
		bits |= protExec
	}
	return bits
}

// emitRegionRestore opens the region's saved byte file and maps it over
// the region's original address range with its saved permissions, then
// closes the transient file descriptor.
func emitRegionRestore(cb *asm.Builder, dataLen, pathOffset int, region procfs.RegionDescriptor) {
	cb.MovImm64(asm.RAX, sysOpen)
	leaPath(cb, dataLen, pathOffset, asm.RDI)
	cb.MovImm64(asm.RSI, openReadOnly)
	cb.MovImm64(asm.RDX, 0)
	cb.Syscall()

	// The open fd is in RAX; stash it in R8, mmap's fd argument register,
	// so it survives being clobbered by the next syscall's RAX.
	cb.MovReg(asm.R8, asm.RAX)

	cb.MovImm64(asm.RAX, sysMmap)
	cb.MovImm64(asm.RDI, region.Low)
	cb.MovImm64(asm.RSI, region.Size())
	cb.MovImm64(asm.RDX, protBits(region.Perms))
	cb.MovImm64(asm.R10, mapFixed|mapPrivate)
	cb.Xor(asm.R9, asm.R9)
	cb.Syscall()

	cb.MovImm64(asm.RAX, sysClose)
	cb.MovReg(asm.RDI, asm.R8)
	cb.Syscall()
}

// emitFileRestore opens the recorded path with the recorded flags,
// duplicates the resulting descriptor onto the checkpointed number if it
// differs, and seeks to the recorded offset. dup2 is itself a no-op when
// old and new descriptor numbers already match, but closing an fd that's
// already the target would destroy it, so the close is conditional.
func emitFileRestore(cb *asm.Builder, dataLen, pathOffset int, file procfs.FileDescriptorRecord) {
	cb.MovImm64(asm.RAX, sysOpen)
	leaPath(cb, dataLen, pathOffset, asm.RDI)
	cb.MovImm64(asm.RSI, uint64(uint32(file.Flags)))
	cb.MovImm64(asm.RDX, 0)
	cb.Syscall()

	// Stash the opened fd in R9; it isn't touched by dup2/close/lseek's
	// own syscall number or fd-number arguments.
	cb.MovReg(asm.R9, asm.RAX)

	cb.MovImm64(asm.RAX, sysDup2)
	cb.MovReg(asm.RDI, asm.R9)
	cb.MovImm64(asm.RSI, uint64(file.FD))
	cb.Syscall()

	closeSeq := asm.NewBuilder().MovImm64(asm.RAX, sysClose).MovReg(asm.RDI, asm.R9).Syscall().Bytes()
	cb.CmpImm32(asm.R9, int32(file.FD))
	cb.Jcc(asm.CondE, int8(len(closeSeq)))
	cb.Append(closeSeq)

	cb.MovImm64(asm.RAX, sysLseek)
	cb.MovImm64(asm.RDI, uint64(file.FD))
	cb.MovImm64(asm.RSI, uint64(file.Offset))
	cb.MovImm64(asm.RDX, 0)
	cb.Syscall()
}

// emitHandshakeSignal writes one byte to the inherited handshake pipe so
// the parent's blocking read (with a timeout) observes readiness instead
// of having to guess from the child's stop alone.
func emitHandshakeSignal(cb *asm.Builder, dataLen, readyOffset int) {
	cb.MovImm64(asm.RAX, sysWrite)
	cb.MovImm64(asm.RDI, handshakeFD)
	leaPath(cb, dataLen, readyOffset, asm.RSI)
	cb.MovImm64(asm.RDX, 1)
	cb.Syscall()
}

// emitSelfStop sends SIGSTOP to the current process (getpid, then kill)
// and falls through to an infinite loop in case execution continues
// unexpectedly afterward.
func emitSelfStop(cb *asm.Builder) {
	cb.MovImm64(asm.RAX, sysGetpid)
	cb.Syscall()
	cb.MovReg(asm.RDI, asm.RAX)
	cb.MovImm64(asm.RAX, sysKill)
	cb.MovImm64(asm.RSI, sigStop)
	cb.Syscall()
	cb.JmpSelf()
}

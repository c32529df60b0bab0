package bootstrap

import (
	"bytes"
	"testing"

	"github.com/Codadillo/simple-sls/bootstrap/asm"
	"github.com/Codadillo/simple-sls/checkpoint"
	"github.com/Codadillo/simple-sls/procfs"
)

func TestBuildDataBlob_Layout(t *testing.T) {
	regions := []procfs.RegionDescriptor{
		{Low: 0x1000, High: 0x2000, PathKind: procfs.PathFile, Path: "/root/a"},
	}
	files := []procfs.FileDescriptorRecord{
		{FD: 3, Path: "/root/b", Flags: 0},
	}

	blob, regionOffsets, fileOffsets, readyOffset := buildDataBlob("/tmp/root", 5, regions, files)

	regionPath := checkpoint.RegionPath("/tmp/root", 5, 0)
	if got := string(blob[regionOffsets[0] : regionOffsets[0]+len(regionPath)]); got != regionPath {
		t.Errorf("region path = %q, want %q", got, regionPath)
	}
	if blob[regionOffsets[0]+len(regionPath)] != 0 {
		t.Errorf("region path not null-terminated")
	}

	if got := string(blob[fileOffsets[0] : fileOffsets[0]+len(files[0].Path)]); got != files[0].Path {
		t.Errorf("file path = %q, want %q", got, files[0].Path)
	}
	if blob[fileOffsets[0]+len(files[0].Path)] != 0 {
		t.Errorf("file path not null-terminated")
	}

	if readyOffset != len(blob)-1 {
		t.Errorf("readyOffset = %d, want %d", readyOffset, len(blob)-1)
	}
	if blob[readyOffset] != 0 {
		t.Errorf("ready byte = %#x, want 0", blob[readyOffset])
	}
}

func TestLeaPath_DisplacementIsBufferRelative(t *testing.T) {
	const dataLen = 16
	const strOffset = 4

	cb := asm.NewBuilder()
	cb.MovImm64(asm.RAX, 0) // pad so leaPath isn't at offset 0
	before := cb.Len()

	leaPath(cb, dataLen, strOffset, asm.RDI)

	instr := cb.Bytes()[before:]
	if len(instr) != leaInstrLen {
		t.Fatalf("lea encoding length = %d, want %d", len(instr), leaInstrLen)
	}

	afterInstr := dataLen + before + leaInstrLen
	wantDisp := int32(strOffset - afterInstr)

	gotDisp := int32(instr[3]) | int32(instr[4])<<8 | int32(instr[5])<<16 | int32(instr[6])<<24
	if gotDisp != wantDisp {
		t.Errorf("disp32 = %d, want %d", gotDisp, wantDisp)
	}
}

func TestEmitFileRestore_ConditionalCloseSkipsWhenFDsMatch(t *testing.T) {
	cb := asm.NewBuilder()
	file := procfs.FileDescriptorRecord{FD: 9, Path: "/proc/self/fd/9", Flags: 0, Offset: 0}

	emitFileRestore(cb, 0, 0, file)

	closeSeq := asm.NewBuilder().MovImm64(asm.RAX, sysClose).MovReg(asm.RDI, asm.R9).Syscall().Bytes()

	buf := cb.Bytes()
	if !bytes.Contains(buf, closeSeq) {
		t.Fatalf("generated code does not contain the conditional close sequence")
	}

	// The Jcc immediately preceding the close sequence must skip exactly
	// its length.
	idx := bytes.Index(buf, closeSeq)
	if idx < 2 {
		t.Fatalf("close sequence appears too early in buffer to have a preceding Jcc")
	}
	rel := int8(buf[idx-1])
	if int(rel) != len(closeSeq) {
		t.Errorf("Jcc rel8 = %d, want %d", rel, len(closeSeq))
	}
	if buf[idx-2] != 0x70+byte(asm.CondE) {
		t.Errorf("opcode before close sequence = %#x, want Jcc(CondE)", buf[idx-2])
	}
}

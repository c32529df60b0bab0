package bootstrap

import "encoding/binary"

// Minimal ELF64 constants this package needs. The standard library's
// debug/elf package only reads ELF files; it has no writer, so the header
// bytes are assembled by hand here, the same way bootstrap/asm hand-encodes
// instructions instead of depending on a general assembler.
const (
	elfHeaderSize = 64
	phdrSize      = 56

	etExec    = 2
	emX86_64  = 0x3e
	ptLoad    = 1
	pfX       = 0x1
	pfW       = 0x2
	pfR       = 0x4
	elfClass  = 2 // ELFCLASS64
	elfData2  = 1 // ELFDATA2LSB
	elfVer    = 1
)

// buildELF wraps segment (a data+code payload, see program.go) in a
// minimal 64-bit ELF executable: one PT_LOAD segment, readable, writable,
// and executable, loaded at base with the whole segment contained in a
// single page so it fits inside the bootstrapper's self-reserved
// code_window.
func buildELF(base uint64, prog program) []byte {
	fileSize := elfHeaderSize + phdrSize + len(prog.segment)
	entry := base + uint64(elfHeaderSize+phdrSize+prog.entryOffset)

	buf := make([]byte, fileSize)

	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = elfClass
	buf[5] = elfData2
	buf[6] = elfVer
	// buf[7:16] (OSABI, ABI version, padding) stay zero.

	binary.LittleEndian.PutUint16(buf[16:18], etExec)
	binary.LittleEndian.PutUint16(buf[18:20], emX86_64)
	binary.LittleEndian.PutUint32(buf[20:24], elfVer)
	binary.LittleEndian.PutUint64(buf[24:32], entry)
	binary.LittleEndian.PutUint64(buf[32:40], elfHeaderSize) // e_phoff
	binary.LittleEndian.PutUint64(buf[40:48], 0)             // e_shoff
	binary.LittleEndian.PutUint32(buf[48:52], 0)              // e_flags
	binary.LittleEndian.PutUint16(buf[52:54], elfHeaderSize)  // e_ehsize
	binary.LittleEndian.PutUint16(buf[54:56], phdrSize)       // e_phentsize
	binary.LittleEndian.PutUint16(buf[56:58], 1)              // e_phnum
	binary.LittleEndian.PutUint16(buf[58:60], 0)              // e_shentsize
	binary.LittleEndian.PutUint16(buf[60:62], 0)              // e_shnum
	binary.LittleEndian.PutUint16(buf[62:64], 0)              // e_shstrndx

	ph := buf[elfHeaderSize : elfHeaderSize+phdrSize]
	binary.LittleEndian.PutUint32(ph[0:4], ptLoad)
	binary.LittleEndian.PutUint32(ph[4:8], pfR|pfW|pfX)
	binary.LittleEndian.PutUint64(ph[8:16], 0)    // p_offset
	binary.LittleEndian.PutUint64(ph[16:24], base) // p_vaddr
	binary.LittleEndian.PutUint64(ph[24:32], base) // p_paddr
	binary.LittleEndian.PutUint64(ph[32:40], uint64(fileSize))
	binary.LittleEndian.PutUint64(ph[40:48], codeWindow) // p_memsz covers the whole reserved page
	binary.LittleEndian.PutUint64(ph[48:56], pageSize)

	copy(buf[elfHeaderSize+phdrSize:], prog.segment)

	return buf
}

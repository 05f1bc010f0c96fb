// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package elf parses the ELF64 header and program-header table exec(2)
// needs to lay a binary's loadable segments into a process's address
// space. It stops at parsing and segment enumeration: this kernel has no
// MMU-mapping path, so exec records the entry point and segment list on
// the target process but does not copy any bytes into physical frames.
package elf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic is the four leading identification bytes every ELF file starts
// with.
var Magic = [4]byte{0x7f, 'E', 'L', 'F'}

// Class and data-encoding bytes this kernel accepts: 64-bit, little endian.
const (
	classNone  = 0
	class32    = 1
	class64    = 2
	dataNone   = 0
	dataLSB    = 1
	dataMSB    = 2
	machineX86 = 62 // EM_X86_64
)

// Segment types relevant to loading; only PT_LOAD carries bytes the
// loader places into memory.
const (
	PTNull    = 0
	PTLoad    = 1
	PTDynamic = 2
	PTInterp  = 3
	PTNote    = 4
)

// Segment flag bits.
const (
	PFExec  = 0x1
	PFWrite = 0x2
	PFRead  = 0x4
)

var (
	// ErrBadMagic is returned when the file doesn't start with the ELF
	// identification bytes.
	ErrBadMagic = errors.New("elf: bad magic")

	// ErrUnsupportedClass is returned for anything other than ELFCLASS64.
	ErrUnsupportedClass = errors.New("elf: unsupported class, only ELF64 is supported")

	// ErrUnsupportedEncoding is returned for anything other than little-endian.
	ErrUnsupportedEncoding = errors.New("elf: unsupported data encoding, only little-endian is supported")

	// ErrUnsupportedMachine is returned for any e_machine other than x86-64.
	ErrUnsupportedMachine = errors.New("elf: unsupported machine, only x86-64 is supported")
)

// rawHeader64 mirrors Elf64_Ehdr byte-for-byte (16-byte e_ident followed
// by the fixed-width fields), so a single binary.Read populates it.
type rawHeader64 struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// rawProgramHeader64 mirrors Elf64_Phdr.
type rawProgramHeader64 struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// Header is the subset of the ELF64 header exec(2) consults.
type Header struct {
	Entry   uint64
	Phoff   uint64
	Phnum   int
	Phentsz int
}

// ProgramHeader is one entry of the program-header table.
type ProgramHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Filesz uint64
	Memsz  uint64
}

// Writable reports whether the segment's flags include PF_W.
func (p ProgramHeader) Writable() bool { return p.Flags&PFWrite != 0 }

// Executable reports whether the segment's flags include PF_X.
func (p ProgramHeader) Executable() bool { return p.Flags&PFExec != 0 }

// Binary is a parsed ELF64 executable: its header plus every PT_LOAD
// segment, in file order.
type Binary struct {
	Header   Header
	Segments []ProgramHeader
}

// Parse reads and validates the ELF64 header and program-header table
// from r, returning the loadable (PT_LOAD) segments exec(2) needs.
func Parse(r io.ReaderAt) (*Binary, error) {
	var raw rawHeader64
	sec := io.NewSectionReader(r, 0, int64(binary.Size(raw)))
	if err := binary.Read(sec, binary.LittleEndian, &raw); err != nil {
		return nil, fmt.Errorf("elf: reading header: %w", err)
	}

	if raw.Ident[0] != Magic[0] || raw.Ident[1] != Magic[1] || raw.Ident[2] != Magic[2] || raw.Ident[3] != Magic[3] {
		return nil, ErrBadMagic
	}
	switch raw.Ident[4] {
	case class64:
	case class32, classNone:
		return nil, ErrUnsupportedClass
	default:
		return nil, ErrUnsupportedClass
	}
	switch raw.Ident[5] {
	case dataLSB:
	case dataMSB, dataNone:
		return nil, ErrUnsupportedEncoding
	default:
		return nil, ErrUnsupportedEncoding
	}
	if raw.Machine != machineX86 {
		return nil, ErrUnsupportedMachine
	}

	hdr := Header{
		Entry:   raw.Entry,
		Phoff:   raw.Phoff,
		Phnum:   int(raw.Phnum),
		Phentsz: int(raw.Phentsize),
	}

	segments := make([]ProgramHeader, 0, hdr.Phnum)
	var rawPhdr rawProgramHeader64
	phdrSize := int64(binary.Size(rawPhdr))
	for i := 0; i < hdr.Phnum; i++ {
		off := int64(hdr.Phoff) + int64(i)*int64(hdr.Phentsz)
		phSec := io.NewSectionReader(r, off, phdrSize)
		if err := binary.Read(phSec, binary.LittleEndian, &rawPhdr); err != nil {
			return nil, fmt.Errorf("elf: reading program header %d: %w", i, err)
		}
		if rawPhdr.Type != PTLoad {
			continue
		}
		segments = append(segments, ProgramHeader{
			Type:   rawPhdr.Type,
			Flags:  rawPhdr.Flags,
			Offset: rawPhdr.Offset,
			Vaddr:  rawPhdr.Vaddr,
			Filesz: rawPhdr.Filesz,
			Memsz:  rawPhdr.Memsz,
		})
	}

	return &Binary{Header: hdr, Segments: segments}, nil
}

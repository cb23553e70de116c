// Copyright 2026 The gVisor Authors.
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

// Package elftest builds ELF64 executables for tests and demos.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"gvisor.dev/kcore/pkg/hostarch"
)

// Segment is one program header of a built image.
type Segment struct {
	// Type defaults to PT_LOAD.
	Type elf.ProgType

	Vaddr uint64
	Flags elf.ProgFlag

	// Data is the file-backed contents.
	Data []byte

	// MemSize defaults to len(Data).
	MemSize uint64
}

// Builder describes an executable. The zero value of each header field is
// replaced by the value a valid x86-64 executable carries.
type Builder struct {
	Entry    uint64
	Segments []Segment

	Class     elf.Class
	Data      elf.Data
	Version   elf.Version
	Machine   elf.Machine
	Type      elf.Type
	Ehsize    uint16
	Phentsize uint16
}

// Bytes returns the image. The header is followed by the program headers
// and then by each segment's data at the next page-aligned file offset.
func (b *Builder) Bytes() []byte {
	or := func(v, def uint64) uint64 {
		if v == 0 {
			return def
		}
		return v
	}
	hdr := elf.Header64{
		Type:      uint16(or(uint64(b.Type), uint64(elf.ET_EXEC))),
		Machine:   uint16(or(uint64(b.Machine), uint64(elf.EM_X86_64))),
		Version:   uint32(or(uint64(b.Version), uint64(elf.EV_CURRENT))),
		Entry:     b.Entry,
		Phoff:     64,
		Ehsize:    uint16(or(uint64(b.Ehsize), 64)),
		Phentsize: uint16(or(uint64(b.Phentsize), 56)),
		Phnum:     uint16(len(b.Segments)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(or(uint64(b.Class), uint64(elf.ELFCLASS64)))
	hdr.Ident[elf.EI_DATA] = byte(or(uint64(b.Data), uint64(elf.ELFDATA2LSB)))
	hdr.Ident[elf.EI_VERSION] = byte(hdr.Version)

	off, _ := hostarch.Addr(64 + 56*len(b.Segments)).RoundUp()
	phdrs := make([]elf.Prog64, len(b.Segments))
	for i, s := range b.Segments {
		phdrs[i] = elf.Prog64{
			Type:   uint32(or(uint64(s.Type), uint64(elf.PT_LOAD))),
			Flags:  uint32(s.Flags),
			Off:    uint64(off),
			Vaddr:  s.Vaddr,
			Paddr:  s.Vaddr,
			Filesz: uint64(len(s.Data)),
			Memsz:  or(s.MemSize, uint64(len(s.Data))),
			Align:  hostarch.PageSize,
		}
		off = (off + hostarch.Addr(len(s.Data))).MustRoundUp()
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &hdr)
	for i := range phdrs {
		binary.Write(&buf, binary.LittleEndian, &phdrs[i])
	}
	for i, s := range b.Segments {
		buf.Write(make([]byte, int(phdrs[i].Off)-buf.Len()))
		buf.Write(s.Data)
	}
	return buf.Bytes()
}

// Minimal returns an executable with a single 4096-byte read-execute
// segment at 0x400000, entered at its first byte.
func Minimal() *Builder {
	return &Builder{
		Entry: 0x400000,
		Segments: []Segment{{
			Vaddr: 0x400000,
			Flags: elf.PF_R | elf.PF_X,
			Data:  bytes.Repeat([]byte{0x90}, hostarch.PageSize),
		}},
	}
}

// Program returns an executable with a text segment of textPages pages, a
// one-page data segment and bssPages pages of zero-filled memory after it.
func Program(textPages, bssPages int) *Builder {
	text := bytes.Repeat([]byte{0x90}, textPages*hostarch.PageSize)
	data := []byte("kcore demo data\x00")
	dataVaddr := uint64(0x400000 + (textPages+1)*hostarch.PageSize)
	return &Builder{
		Entry: 0x400000,
		Segments: []Segment{
			{
				Vaddr: 0x400000,
				Flags: elf.PF_R | elf.PF_X,
				Data:  text,
			},
			{
				Vaddr:   dataVaddr,
				Flags:   elf.PF_R | elf.PF_W,
				Data:    data,
				MemSize: uint64(1+bssPages) * hostarch.PageSize,
			},
		},
	}
}

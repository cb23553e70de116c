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

package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"gvisor.dev/kcore/pkg/hostarch"
	"gvisor.dev/kcore/pkg/log"
)

const (
	// elfHeaderSize is the size of an ELF64 file header.
	elfHeaderSize = 64

	// phdrSize is the size of an ELF64 program header.
	phdrSize = 56
)

// reject logs why an image was refused and returns the error for it.
func reject(err error, format string, v ...any) error {
	msg := fmt.Sprintf(format, v...)
	log.Warningf("Rejecting ELF: %v: %s", err, msg)
	return fmt.Errorf("%w: %s", err, msg)
}

// parseHeader validates the file header of b.
func parseHeader(b []byte) (elf.Header64, error) {
	var hdr elf.Header64
	if len(b) < len(elf.ELFMAG) || !bytes.Equal(b[:len(elf.ELFMAG)], []byte(elf.ELFMAG)) {
		return hdr, reject(ErrInvalidMagic, "image of %d bytes", len(b))
	}
	if len(b) < elfHeaderSize {
		return hdr, reject(ErrTruncatedHeader, "image of %d bytes", len(b))
	}
	if _, err := binary.Decode(b[:elfHeaderSize], binary.LittleEndian, &hdr); err != nil {
		return hdr, reject(ErrTruncatedHeader, "%v", err)
	}

	if c := elf.Class(hdr.Ident[elf.EI_CLASS]); c != elf.ELFCLASS64 {
		return hdr, reject(ErrUnsupportedClass, "%v", c)
	}
	if d := elf.Data(hdr.Ident[elf.EI_DATA]); d != elf.ELFDATA2LSB {
		return hdr, reject(ErrUnsupportedEndianness, "%v", d)
	}
	if v := elf.Version(hdr.Ident[elf.EI_VERSION]); v != elf.EV_CURRENT || elf.Version(hdr.Version) != elf.EV_CURRENT {
		return hdr, reject(ErrUnsupportedVersion, "ident %v, header %d", v, hdr.Version)
	}
	if m := elf.Machine(hdr.Machine); m != elf.EM_X86_64 {
		return hdr, reject(ErrUnsupportedMachine, "%v", m)
	}
	// Relocation is not supported, so only fixed-address executables load.
	if t := elf.Type(hdr.Type); t != elf.ET_EXEC {
		return hdr, reject(ErrUnsupportedType, "%v", t)
	}
	if hdr.Ehsize != elfHeaderSize {
		return hdr, reject(ErrTruncatedHeader, "header size %d", hdr.Ehsize)
	}
	if hdr.Phnum > 0 && hdr.Phentsize != phdrSize {
		return hdr, reject(ErrMalformedProgramHeader, "program header size %d", hdr.Phentsize)
	}
	end, ok := hostarch.Addr(hdr.Phoff).AddLength(uint64(hdr.Phnum) * phdrSize)
	if !ok || uint64(end) > uint64(len(b)) {
		return hdr, reject(ErrMalformedProgramHeader, "%d program headers at offset %#x overrun image of %d bytes", hdr.Phnum, hdr.Phoff, len(b))
	}
	return hdr, nil
}

// parseProgHeaders returns the program headers of b.
func parseProgHeaders(b []byte, hdr *elf.Header64) ([]elf.Prog64, error) {
	phdrs := make([]elf.Prog64, hdr.Phnum)
	for i := range phdrs {
		off := hdr.Phoff + uint64(i)*phdrSize
		if _, err := binary.Decode(b[off:off+phdrSize], binary.LittleEndian, &phdrs[i]); err != nil {
			return nil, reject(ErrMalformedProgramHeader, "header %d: %v", i, err)
		}
	}
	return phdrs, nil
}

func permsOf(flags elf.ProgFlag) hostarch.AccessType {
	return hostarch.AccessType{
		Read:    flags&elf.PF_R != 0,
		Write:   flags&elf.PF_W != 0,
		Execute: flags&elf.PF_X != 0,
	}
}

// Load validates image and returns its segments and process layout.
// Nothing is allocated for the process; a returned error is always of
// class BinaryFormat and matches exactly one of the errors above.
func Load(image []byte, opts Options) (*Image, error) {
	hdr, err := parseHeader(image)
	if err != nil {
		return nil, err
	}
	phdrs, err := parseProgHeaders(image, &hdr)
	if err != nil {
		return nil, err
	}

	stackBottom := hostarch.UserStackTop - hostarch.Addr(opts.StackSize)
	img := &Image{
		Entry:       hostarch.Addr(hdr.Entry),
		StackTop:    hostarch.UserStackTop,
		StackBottom: stackBottom,
	}

	// Validate every loadable header before copying anything.
	var loads []elf.Prog64
	for i, p := range phdrs {
		if elf.ProgType(p.Type) != elf.PT_LOAD {
			continue
		}
		if p.Filesz > p.Memsz {
			return nil, reject(ErrMalformedProgramHeader, "segment %d: file size %#x > memory size %#x", i, p.Filesz, p.Memsz)
		}
		if p.Memsz == 0 {
			continue
		}
		if p.Memsz > opts.MaxSegmentSize {
			return nil, reject(ErrOversizedSegment, "segment %d: memory size %#x > %#x", i, p.Memsz, opts.MaxSegmentSize)
		}
		if fileEnd, ok := hostarch.Addr(p.Off).AddLength(p.Filesz); !ok || uint64(fileEnd) > uint64(len(image)) {
			return nil, reject(ErrMalformedProgramHeader, "segment %d: file range [%#x, +%#x) overruns image of %d bytes", i, p.Off, p.Filesz, len(image))
		}
		end, ok := hostarch.Addr(p.Vaddr).AddLength(p.Memsz)
		if !ok || end > stackBottom {
			return nil, reject(ErrMalformedProgramHeader, "segment %d: [%#x, +%#x) reaches the stack at %v", i, p.Vaddr, p.Memsz, stackBottom)
		}
		if p.Memsz > math.MaxInt {
			return nil, reject(ErrOversizedSegment, "segment %d: memory size %#x", i, p.Memsz)
		}
		loads = append(loads, p)
	}
	if len(loads) == 0 {
		return nil, reject(ErrNoLoadableSegment, "%d program headers", len(phdrs))
	}

	slices.SortFunc(loads, func(a, b elf.Prog64) int {
		switch {
		case a.Vaddr < b.Vaddr:
			return -1
		case a.Vaddr > b.Vaddr:
			return 1
		}
		return 0
	})
	var prev hostarch.AddrRange
	for i, p := range loads {
		r, _ := hostarch.AddrRange{Start: hostarch.Addr(p.Vaddr), End: hostarch.Addr(p.Vaddr + p.Memsz)}.PageRange()
		if i > 0 && r.Overlaps(prev) {
			return nil, reject(ErrMalformedProgramHeader, "segment pages %v overlap %v", r, prev)
		}
		prev = r
	}

	var maxEnd hostarch.Addr
	for _, p := range loads {
		data := slices.Clone(image[p.Off : p.Off+p.Filesz])
		s := Segment{
			Start:    hostarch.Addr(p.Vaddr),
			MemSize:  p.Memsz,
			FileSize: p.Filesz,
			Perms:    permsOf(elf.ProgFlag(p.Flags)),
			Data:     data,
		}
		if end := s.Range().End; end > maxEnd {
			maxEnd = end
		}
		img.Segments = append(img.Segments, s)
	}

	// maxEnd is below the stack, so rounding cannot wrap.
	img.HeapStart = maxEnd.MustRoundUp()
	heapEnd, ok := img.HeapStart.AddLength(opts.HeapSize)
	if !ok || heapEnd > stackBottom {
		return nil, reject(ErrMalformedProgramHeader, "heap [%v, +%#x) reaches the stack at %v", img.HeapStart, opts.HeapSize, stackBottom)
	}
	img.HeapEnd = heapEnd

	executable := false
	for i := range img.Segments {
		s := &img.Segments[i]
		if s.Perms.Execute && s.Range().Contains(img.Entry) {
			executable = true
			break
		}
	}
	if !executable {
		return nil, reject(ErrEntryNotExecutable, "entry %v", img.Entry)
	}

	log.Debugf("Loaded ELF: entry %v, %d segments, heap %v, stack %v", img.Entry, len(img.Segments), img.Heap(), img.Stack())
	return img, nil
}

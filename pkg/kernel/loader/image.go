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

// Package loader parses and validates ELF64 executables and computes the
// memory layout of the process that will run them.
package loader

import (
	"fmt"

	kerrors "gvisor.dev/kcore/pkg/errors"
	"gvisor.dev/kcore/pkg/hostarch"
)

// Errors returned by Load. All are of class BinaryFormat.
var (
	ErrInvalidMagic           = kerrors.New(kerrors.ClassBinaryFormat, "invalid ELF magic")
	ErrTruncatedHeader        = kerrors.New(kerrors.ClassBinaryFormat, "truncated ELF header")
	ErrUnsupportedClass       = kerrors.New(kerrors.ClassBinaryFormat, "unsupported ELF class")
	ErrUnsupportedEndianness  = kerrors.New(kerrors.ClassBinaryFormat, "unsupported ELF byte order")
	ErrUnsupportedVersion     = kerrors.New(kerrors.ClassBinaryFormat, "unsupported ELF version")
	ErrUnsupportedMachine     = kerrors.New(kerrors.ClassBinaryFormat, "unsupported ELF machine")
	ErrUnsupportedType        = kerrors.New(kerrors.ClassBinaryFormat, "unsupported ELF type")
	ErrMalformedProgramHeader = kerrors.New(kerrors.ClassBinaryFormat, "malformed program header")
	ErrNoLoadableSegment      = kerrors.New(kerrors.ClassBinaryFormat, "no loadable segment")
	ErrOversizedSegment       = kerrors.New(kerrors.ClassBinaryFormat, "segment exceeds size limit")
	ErrEntryNotExecutable     = kerrors.New(kerrors.ClassBinaryFormat, "entry point not in an executable segment")
)

// Options bounds the images Load accepts and sizes the stack and heap.
type Options struct {
	// MaxSegmentSize is the largest memory size of one segment.
	MaxSegmentSize uint64

	// StackSize is the size of the stack region below StackTop.
	StackSize uint64

	// HeapSize is the initial size of the heap region.
	HeapSize uint64
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		MaxSegmentSize: 64 << 20,
		StackSize:      8 << 20,
		HeapSize:       1 << 20,
	}
}

// Validate checks that o describes a usable layout.
func (o Options) Validate() error {
	if o.MaxSegmentSize == 0 {
		return fmt.Errorf("max segment size must be positive")
	}
	if o.StackSize == 0 || o.StackSize%hostarch.PageSize != 0 {
		return fmt.Errorf("stack size %#x must be a positive multiple of the page size", o.StackSize)
	}
	if o.StackSize >= uint64(hostarch.UserStackTop) {
		return fmt.Errorf("stack size %#x exceeds the address space", o.StackSize)
	}
	if o.HeapSize%hostarch.PageSize != 0 {
		return fmt.Errorf("heap size %#x must be a multiple of the page size", o.HeapSize)
	}
	return nil
}

// Segment is one loadable region of an image.
type Segment struct {
	// Start is the virtual address of the first byte.
	Start hostarch.Addr

	// MemSize is the size of the region in memory.
	MemSize uint64

	// FileSize is the number of bytes backed by the image. Bytes past it
	// are zero.
	FileSize uint64

	// Perms are the access permissions of the region.
	Perms hostarch.AccessType

	// Data holds the FileSize bytes of file contents. The zero fill up to
	// MemSize is supplied when pages are populated.
	Data []byte
}

// Range returns the addresses spanned by s.
func (s *Segment) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: s.Start, End: s.Start + hostarch.Addr(s.MemSize)}
}

// FileRange returns the addresses backed by file contents.
func (s *Segment) FileRange() hostarch.AddrRange {
	return hostarch.AddrRange{Start: s.Start, End: s.Start + hostarch.Addr(s.FileSize)}
}

// String implements fmt.Stringer.String.
func (s *Segment) String() string {
	return fmt.Sprintf("%v %s filesz=%#x", s.Range(), s.Perms, s.FileSize)
}

// Image is a validated executable and the layout of the address space it
// runs in.
type Image struct {
	// Entry is the initial instruction pointer.
	Entry hostarch.Addr

	// Segments are ordered by Start and never share a page.
	Segments []Segment

	// StackTop is the exclusive upper end of the stack.
	StackTop hostarch.Addr

	// StackBottom is the lowest stack address.
	StackBottom hostarch.Addr

	// HeapStart is the first page above the highest segment.
	HeapStart hostarch.Addr

	// HeapEnd is the initial program break.
	HeapEnd hostarch.Addr
}

// Stack returns the stack range.
func (img *Image) Stack() hostarch.AddrRange {
	return hostarch.AddrRange{Start: img.StackBottom, End: img.StackTop}
}

// Heap returns the initial heap range.
func (img *Image) Heap() hostarch.AddrRange {
	return hostarch.AddrRange{Start: img.HeapStart, End: img.HeapEnd}
}

// SegmentDescription is the printable form of a Segment.
type SegmentDescription struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	FileSize uint64 `json:"file_size"`
	MemSize  uint64 `json:"mem_size"`
	Perms    string `json:"perms"`
}

// Description is the printable form of an Image.
type Description struct {
	Entry    string               `json:"entry"`
	Segments []SegmentDescription `json:"segments"`
	Heap     string               `json:"heap"`
	Stack    string               `json:"stack"`
}

// Describe returns a summary of img.
func (img *Image) Describe() Description {
	d := Description{
		Entry: img.Entry.String(),
		Heap:  img.Heap().String(),
		Stack: img.Stack().String(),
	}
	for i := range img.Segments {
		s := &img.Segments[i]
		d.Segments = append(d.Segments, SegmentDescription{
			Start:    s.Start.String(),
			End:      s.Range().End.String(),
			FileSize: s.FileSize,
			MemSize:  s.MemSize,
			Perms:    s.Perms.String(),
		})
	}
	return d
}

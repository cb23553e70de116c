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

package loader_test

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gvisor.dev/kcore/pkg/errors/kernelerr"
	"gvisor.dev/kcore/pkg/hostarch"
	"gvisor.dev/kcore/pkg/kernel/loader"
	"gvisor.dev/kcore/pkg/kernel/loader/elftest"
)

func TestLoadMinimal(t *testing.T) {
	img, err := loader.Load(elftest.Minimal().Bytes(), loader.DefaultOptions())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if img.Entry != 0x400000 {
		t.Errorf("Entry = %v, want: 0x400000", img.Entry)
	}
	if len(img.Segments) != 1 {
		t.Fatalf("got %d segments, want: 1", len(img.Segments))
	}
	s := img.Segments[0]
	if s.Start != 0x400000 || s.MemSize != hostarch.PageSize || s.Perms != hostarch.ReadExec {
		t.Errorf("segment = %v, want: [0x400000, 0x401000) r-x", &s)
	}
	if img.HeapStart != 0x401000 {
		t.Errorf("HeapStart = %v, want: 0x401000", img.HeapStart)
	}
	if img.StackTop != 0x7ffffffff000 {
		t.Errorf("StackTop = %v, want: 0x7ffffffff000", img.StackTop)
	}
}

func TestLoadLayout(t *testing.T) {
	opts := loader.Options{
		MaxSegmentSize: 1 << 20,
		StackSize:      16 * hostarch.PageSize,
		HeapSize:       4 * hostarch.PageSize,
	}
	img, err := loader.Load(elftest.Program(2, 3).Bytes(), opts)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := loader.Description{
		Entry: "0x400000",
		Segments: []loader.SegmentDescription{
			{Start: "0x400000", End: "0x402000", FileSize: 2 * hostarch.PageSize, MemSize: 2 * hostarch.PageSize, Perms: "r-x"},
			{Start: "0x403000", End: "0x407000", FileSize: 16, MemSize: 4 * hostarch.PageSize, Perms: "rw-"},
		},
		Heap:  "[0x407000, 0x40b000)",
		Stack: "[0x7ffffffef000, 0x7ffffffff000)",
	}
	if diff := cmp.Diff(want, img.Describe()); diff != "" {
		t.Errorf("Describe mismatch (-want +got):\n%s", diff)
	}

	data := img.Segments[1].Data
	if len(data) != 16 {
		t.Fatalf("data segment holds %d bytes, want: 16", len(data))
	}
	if got := string(data[:15]); got != "kcore demo data" {
		t.Errorf("data segment starts %q", got)
	}
}

func TestLoadKeepsOnlyFileContents(t *testing.T) {
	// Many segments with a page of data each and the largest allowed
	// memory size. Their zero fill must not be held by the image.
	opts := loader.DefaultOptions()
	b := &elftest.Builder{Entry: 0x400000}
	const segments = 33
	for i := 0; i < segments; i++ {
		flags := elf.PF_R | elf.PF_W
		if i == 0 {
			flags = elf.PF_R | elf.PF_X
		}
		b.Segments = append(b.Segments, elftest.Segment{
			Vaddr:   0x400000 + uint64(i)*(opts.MaxSegmentSize+hostarch.PageSize),
			Flags:   flags,
			Data:    []byte{0x90},
			MemSize: opts.MaxSegmentSize,
		})
	}
	image := b.Bytes()
	img, err := loader.Load(image, opts)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(img.Segments) != segments {
		t.Fatalf("got %d segments, want: %d", len(img.Segments), segments)
	}
	held := 0
	for i := range img.Segments {
		s := &img.Segments[i]
		if s.MemSize != opts.MaxSegmentSize {
			t.Errorf("segment %v: MemSize = %#x, want: %#x", s, s.MemSize, opts.MaxSegmentSize)
		}
		if uint64(len(s.Data)) != s.FileSize {
			t.Errorf("segment %v holds %d bytes, want: %d", s, len(s.Data), s.FileSize)
		}
		held += len(s.Data)
	}
	if held > len(image) {
		t.Errorf("image of %d bytes loaded into %d bytes of segment data", len(image), held)
	}
}

// corrupt returns the minimal image with fn applied to its bytes.
func corrupt(fn func(b []byte) []byte) []byte {
	return fn(elftest.Minimal().Bytes())
}

func TestLoadErrors(t *testing.T) {
	phdr := func(b []byte, field int) []byte { return b[64+field:] }
	for _, tc := range []struct {
		name  string
		image []byte
		want  error
	}{
		{
			name:  "zero magic",
			image: []byte{0, 0, 0, 0},
			want:  loader.ErrInvalidMagic,
		},
		{
			name:  "empty",
			image: nil,
			want:  loader.ErrInvalidMagic,
		},
		{
			name:  "truncated",
			image: elftest.Minimal().Bytes()[:40],
			want:  loader.ErrTruncatedHeader,
		},
		{
			name:  "class",
			image: (&elftest.Builder{Class: elf.ELFCLASS32}).Bytes(),
			want:  loader.ErrUnsupportedClass,
		},
		{
			name:  "endianness",
			image: (&elftest.Builder{Data: elf.ELFDATA2MSB}).Bytes(),
			want:  loader.ErrUnsupportedEndianness,
		},
		{
			name:  "version",
			image: (&elftest.Builder{Version: 2}).Bytes(),
			want:  loader.ErrUnsupportedVersion,
		},
		{
			name:  "machine",
			image: (&elftest.Builder{Machine: elf.EM_AARCH64}).Bytes(),
			want:  loader.ErrUnsupportedMachine,
		},
		{
			name:  "shared object",
			image: (&elftest.Builder{Type: elf.ET_DYN}).Bytes(),
			want:  loader.ErrUnsupportedType,
		},
		{
			name:  "header size",
			image: (&elftest.Builder{Ehsize: 52}).Bytes(),
			want:  loader.ErrTruncatedHeader,
		},
		{
			name: "program header size",
			image: func() []byte {
				b := elftest.Minimal()
				b.Phentsize = 32
				return b.Bytes()
			}(),
			want: loader.ErrMalformedProgramHeader,
		},
		{
			name: "program headers overrun",
			image: corrupt(func(b []byte) []byte {
				binary.LittleEndian.PutUint16(b[56:], 200)
				return b
			}),
			want: loader.ErrMalformedProgramHeader,
		},
		{
			name: "file size above memory size",
			image: func() []byte {
				b := elftest.Minimal()
				b.Segments[0].MemSize = 16
				return b.Bytes()
			}(),
			want: loader.ErrMalformedProgramHeader,
		},
		{
			name: "file range overruns image",
			image: corrupt(func(b []byte) []byte {
				// p_offset
				binary.LittleEndian.PutUint64(phdr(b, 8), 1<<40)
				return b
			}),
			want: loader.ErrMalformedProgramHeader,
		},
		{
			name: "segment into stack",
			image: (&elftest.Builder{
				Entry:    0x7ffffffff000 - 0x1000,
				Segments: []elftest.Segment{{Vaddr: 0x7ffffffff000 - 0x1000, Flags: elf.PF_R | elf.PF_X, Data: []byte{0x90}}},
			}).Bytes(),
			want: loader.ErrMalformedProgramHeader,
		},
		{
			name: "overlapping pages",
			image: (&elftest.Builder{
				Entry: 0x400000,
				Segments: []elftest.Segment{
					{Vaddr: 0x400000, Flags: elf.PF_R | elf.PF_X, Data: []byte{0x90}},
					{Vaddr: 0x400800, Flags: elf.PF_R | elf.PF_W, Data: []byte{1}},
				},
			}).Bytes(),
			want: loader.ErrMalformedProgramHeader,
		},
		{
			name: "no loadable segment",
			image: (&elftest.Builder{
				Entry:    0x400000,
				Segments: []elftest.Segment{{Type: elf.PT_NOTE, Vaddr: 0x400000, Data: []byte{1}}},
			}).Bytes(),
			want: loader.ErrNoLoadableSegment,
		},
		{
			name: "oversized",
			image: func() []byte {
				b := elftest.Minimal()
				b.Segments[0].MemSize = 1 << 40
				return b.Bytes()
			}(),
			want: loader.ErrOversizedSegment,
		},
		{
			name: "entry in data",
			image: (&elftest.Builder{
				Entry:    0x400000,
				Segments: []elftest.Segment{{Vaddr: 0x400000, Flags: elf.PF_R | elf.PF_W, Data: []byte{1}}},
			}).Bytes(),
			want: loader.ErrEntryNotExecutable,
		},
		{
			name: "entry outside segments",
			image: func() []byte {
				b := elftest.Minimal()
				b.Entry = 0x500000
				return b.Bytes()
			}(),
			want: loader.ErrEntryNotExecutable,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			img, err := loader.Load(tc.image, loader.DefaultOptions())
			if !errors.Is(err, tc.want) {
				t.Fatalf("Load = %v, %v, want: %v", img, err, tc.want)
			}
			if !errors.Is(err, kernelerr.ErrBinaryFormat) {
				t.Errorf("Load error %v is not a binary format error", err)
			}
		})
	}
}

func TestLoadErrorsAreDistinct(t *testing.T) {
	all := []error{
		loader.ErrInvalidMagic,
		loader.ErrTruncatedHeader,
		loader.ErrUnsupportedClass,
		loader.ErrUnsupportedEndianness,
		loader.ErrUnsupportedVersion,
		loader.ErrUnsupportedMachine,
		loader.ErrUnsupportedType,
		loader.ErrMalformedProgramHeader,
		loader.ErrNoLoadableSegment,
		loader.ErrOversizedSegment,
		loader.ErrEntryNotExecutable,
	}
	for i, a := range all {
		for j, b := range all {
			if got := errors.Is(a, b); got != (i == j) {
				t.Errorf("errors.Is(%v, %v) = %v", a, b, got)
			}
		}
	}
}

func TestZeroSizedSegmentsAreSkipped(t *testing.T) {
	b := elftest.Minimal()
	b.Segments = append(b.Segments, elftest.Segment{Vaddr: 0x600000, Flags: elf.PF_R})
	img, err := loader.Load(b.Bytes(), loader.DefaultOptions())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(img.Segments) != 1 {
		t.Errorf("got %d segments, want: 1", len(img.Segments))
	}
}

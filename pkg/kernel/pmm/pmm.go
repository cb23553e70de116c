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

// Package pmm manages physical memory: the host-backed arena that stands in
// for RAM and the bitmap allocator that hands out its frames.
//
// The allocator is guarded by a single mutex. This is a known scalability
// limit and is acceptable at the core counts the kernel targets.
package pmm

import (
	"fmt"
	"slices"
	"sync"

	"gvisor.dev/kcore/pkg/bitmap"
	"gvisor.dev/kcore/pkg/errors/kernelerr"
	"gvisor.dev/kcore/pkg/hostarch"
	"gvisor.dev/kcore/pkg/log"
)

// maxFrames bounds the size of the frame bitmap.
const maxFrames = 1 << 30

// Range is a usable physical memory range [Start, End) as reported by
// firmware.
type Range struct {
	Start uint64
	End   uint64
}

// String implements fmt.Stringer.String.
func (r Range) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.Start, r.End)
}

// Allocator is a first-fit bitmap frame allocator.
type Allocator struct {
	mem *Memory

	// usable is the number of frames inside firmware ranges. It is
	// immutable.
	usable uint32

	// reserved is the number of frames in holes between ranges. It is
	// immutable.
	reserved uint32

	mu sync.Mutex

	// used has one bit per frame of mem. Hole frames are permanently set.
	//
	// +checklocks:mu
	used bitmap.Bitmap

	// hint is a frame index below which no frame is free.
	//
	// +checklocks:mu
	hint uint32

	// +checklocks:mu
	allocs uint64

	// +checklocks:mu
	frees uint64
}

// New consumes the firmware memory map and returns an allocator over it.
// Ranges are shrunk inward to page boundaries. Empty and overlapping ranges
// are rejected.
func New(ranges []Range) (*Allocator, error) {
	if len(ranges) == 0 {
		return nil, kernelerr.Errorf(kernelerr.ErrInvalidArgument, "no usable memory ranges")
	}
	aligned := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		start, ok := hostarch.Addr(r.Start).RoundUp()
		end := hostarch.Addr(r.End).RoundDown()
		if !ok || start >= end {
			return nil, kernelerr.Errorf(kernelerr.ErrInvalidArgument, "memory range %v holds no whole frame", r)
		}
		aligned = append(aligned, Range{Start: uint64(start), End: uint64(end)})
	}
	slices.SortFunc(aligned, func(a, b Range) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	for i := 1; i < len(aligned); i++ {
		if aligned[i].Start < aligned[i-1].End {
			return nil, kernelerr.Errorf(kernelerr.ErrInvalidArgument, "memory ranges %v and %v overlap", aligned[i-1], aligned[i])
		}
	}

	base := aligned[0].Start
	limit := aligned[len(aligned)-1].End
	nframes := (limit - base) >> hostarch.PageShift
	if nframes > maxFrames {
		return nil, kernelerr.Errorf(kernelerr.ErrInvalidArgument, "physical memory spans %d frames, limit is %d", nframes, maxFrames)
	}
	mem, err := newMemory(base, limit-base)
	if err != nil {
		return nil, kernelerr.Errorf(kernelerr.ErrResourceExhaustion, "%w", err)
	}

	a := &Allocator{
		mem:  mem,
		used: bitmap.New(uint32(nframes)),
	}
	prevEnd := base
	for _, r := range aligned {
		a.used.AddRange(a.index(Frame(prevEnd)), a.index(Frame(r.Start)))
		a.usable += uint32((r.End - r.Start) >> hostarch.PageShift)
		prevEnd = r.End
	}
	a.reserved = a.used.GetNumOnes()
	a.hint, _ = a.used.FirstZero(0)
	log.Infof("Physical memory: %d frames usable in %d ranges, %d reserved, base %#x", a.usable, len(aligned), a.reserved, base)
	return a, nil
}

// Memory returns the physical memory the allocator manages.
func (a *Allocator) Memory() *Memory {
	return a.mem
}

func (a *Allocator) index(f Frame) uint32 {
	return uint32((uint64(f) - a.mem.base) >> hostarch.PageShift)
}

func (a *Allocator) frame(i uint32) Frame {
	return Frame(a.mem.base + uint64(i)<<hostarch.PageShift)
}

// AllocateFrame marks the lowest free frame used and returns it. The frame's
// contents are unspecified. ok is false if every frame is in use.
func (a *Allocator) AllocateFrame() (f Frame, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i, ok := a.used.FirstZero(a.hint)
	if !ok {
		return 0, false
	}
	a.used.Add(i)
	a.hint = i + 1
	a.allocs++
	return a.frame(i), true
}

// DeallocateFrame returns f to the free pool.
//
// Precondition: f was returned by AllocateFrame and has not been freed
// since. Violating this is a kernel bug, so DeallocateFrame panics rather
// than corrupt the accounting.
func (a *Allocator) DeallocateFrame(f Frame) {
	if !a.mem.Contains(f) {
		panic(fmt.Sprintf("DeallocateFrame(%v): not a managed frame", f))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.index(f)
	if !a.used.Remove(i) {
		panic(fmt.Sprintf("DeallocateFrame(%v): frame is not allocated", f))
	}
	if i < a.hint {
		a.hint = i
	}
	a.frees++
}

// TotalFrames returns the number of usable frames.
func (a *Allocator) TotalFrames() uint64 {
	return uint64(a.usable)
}

// UsedFrames returns the number of allocated frames.
func (a *Allocator) UsedFrames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint64(a.used.GetNumOnes() - a.reserved)
}

// FreeFrames returns the number of frames available for allocation.
func (a *Allocator) FreeFrames() uint64 {
	return a.TotalFrames() - a.UsedFrames()
}

// Allocations returns the number of successful AllocateFrame calls.
func (a *Allocator) Allocations() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocs
}

// Deallocations returns the number of DeallocateFrame calls.
func (a *Allocator) Deallocations() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frees
}

// Release unmaps physical memory. The allocator must not be used
// afterwards.
func (a *Allocator) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if used := a.used.GetNumOnes() - a.reserved; used != 0 {
		log.Warningf("Releasing physical memory with %d frames still allocated", used)
	}
	return a.mem.release()
}

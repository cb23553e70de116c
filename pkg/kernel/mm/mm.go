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

// Package mm implements process address spaces.
//
// A MemoryManager owns one set of page tables and the regions that describe
// which addresses may be mapped and with what permissions. Pages of loaded
// segments that carry file contents are mapped when the image is loaded;
// every other page (zero-fill tails, the heap and the stack) is mapped by
// HandleFault on first touch.
//
// Lock order: MemoryManager.mu precedes the frame allocator's lock.
package mm

import (
	"fmt"
	"sync"

	"gvisor.dev/kcore/pkg/errors/kernelerr"
	"gvisor.dev/kcore/pkg/hostarch"
	"gvisor.dev/kcore/pkg/kernel/loader"
	"gvisor.dev/kcore/pkg/kernel/pagetables"
	"gvisor.dev/kcore/pkg/kernel/pmm"
)

// Stats counts the frames an address space has consumed.
//
// Allocated - Deallocated == Mapped at all times.
type Stats struct {
	// Allocated is the number of data frames ever mapped.
	Allocated uint64

	// Deallocated is the number of data frames returned.
	Deallocated uint64

	// Mapped is the number of present leaf mappings.
	Mapped uint64

	// Faults is the number of faults handled, including fatal ones.
	Faults uint64

	// TableFrames is the number of frames holding page tables.
	TableFrames uint64
}

// MemoryManager is a process address space.
type MemoryManager struct {
	alloc *pmm.Allocator
	mem   *pmm.Memory

	mu sync.Mutex

	// +checklocks:mu
	pt *pagetables.PageTables

	// +checklocks:mu
	regions regionSet

	// heap and stack are also in regions while non-empty.
	//
	// +checklocks:mu
	heap *region
	// +checklocks:mu
	stack *region

	// brk is the current program break. heap.rng.End is brk rounded up.
	//
	// +checklocks:mu
	brk hostarch.Addr

	// +checklocks:mu
	loaded bool

	// +checklocks:mu
	released bool

	// +checklocks:mu
	stats Stats
}

// New returns an empty address space whose frames come from alloc.
func New(alloc *pmm.Allocator) (*MemoryManager, error) {
	pt, err := pagetables.New(alloc.Memory(), alloc)
	if err != nil {
		return nil, err
	}
	return &MemoryManager{
		alloc:   alloc,
		mem:     alloc.Memory(),
		pt:      pt,
		regions: newRegionSet(),
	}, nil
}

// LoadImage registers the regions of img and maps every segment page that
// holds file contents. On failure the address space is left empty: every
// mapping and frame made by the call is released.
func (m *MemoryManager) LoadImage(img *loader.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return kernelerr.Errorf(kernelerr.ErrInvalidArgument, "LoadImage on a released address space")
	}
	if m.loaded {
		return kernelerr.Errorf(kernelerr.ErrInvalidArgument, "address space already holds an image")
	}

	if err := m.addRegionsLocked(img); err != nil {
		m.regions.clear()
		m.heap, m.stack = nil, nil
		return err
	}

	var mapped []hostarch.Addr
	for i := range img.Segments {
		seg := &img.Segments[i]
		if seg.FileSize == 0 {
			continue
		}
		r := m.regions.find(seg.Start)
		pages, _ := seg.FileRange().PageRange()
		for page := pages.Start; page < pages.End; page += hostarch.PageSize {
			if err := m.populateLocked(r, page); err != nil {
				for _, p := range mapped {
					m.unmapLocked(p)
				}
				m.regions.clear()
				m.heap, m.stack = nil, nil
				return fmt.Errorf("loading segment %v: %w", seg, err)
			}
			mapped = append(mapped, page)
		}
	}
	m.loaded = true
	return nil
}

// addRegionsLocked registers the segment, heap and stack regions of img.
//
// Preconditions: m.mu is locked.
func (m *MemoryManager) addRegionsLocked(img *loader.Image) error {
	for i := range img.Segments {
		seg := &img.Segments[i]
		rng, ok := seg.Range().PageRange()
		if !ok {
			return kernelerr.Errorf(kernelerr.ErrInvalidArgument, "segment %v wraps", seg)
		}
		if o := m.regions.insert(&region{rng: rng, perms: seg.Perms, kind: KindSegment, seg: seg}); o != nil {
			return kernelerr.Errorf(kernelerr.ErrInvalidArgument, "segment %v overlaps %v", rng, o.rng)
		}
	}
	m.heap = &region{rng: img.Heap(), perms: hostarch.ReadWrite, kind: KindHeap}
	if o := m.regions.insert(m.heap); o != nil {
		return kernelerr.Errorf(kernelerr.ErrInvalidArgument, "heap %v overlaps %v", m.heap.rng, o.rng)
	}
	m.brk = img.HeapEnd
	m.stack = &region{rng: img.Stack(), perms: hostarch.ReadWrite, kind: KindStack}
	if o := m.regions.insert(m.stack); o != nil {
		return kernelerr.Errorf(kernelerr.ErrInvalidArgument, "stack %v overlaps %v", m.stack.rng, o.rng)
	}
	return nil
}

// populateLocked backs page with a fresh frame holding the region's initial
// contents and maps it with the region's permissions.
//
// Preconditions: m.mu is locked. page is in r.
func (m *MemoryManager) populateLocked(r *region, page hostarch.Addr) error {
	f, ok := m.alloc.AllocateFrame()
	if !ok {
		return kernelerr.Errorf(kernelerr.ErrResourceExhaustion, "no frame for page %v", page)
	}
	buf := m.mem.Page(f)
	clear(buf)
	if seg := r.seg; seg != nil {
		// Copy the file-backed part of the segment that falls in this
		// page. The page may start before the segment when the segment is
		// unaligned; the rest of the page stays zero.
		start, end := page, page+hostarch.PageSize
		fileRange := seg.FileRange()
		if start < fileRange.Start {
			start = fileRange.Start
		}
		if end > fileRange.End {
			end = fileRange.End
		}
		if start < end {
			copy(buf[start-page:end-page], seg.Data[start-fileRange.Start:end-fileRange.Start])
		}
	}
	if err := m.pt.Map(page, f, pagetables.FlagsFor(r.perms, true)); err != nil {
		m.alloc.DeallocateFrame(f)
		return err
	}
	m.stats.Allocated++
	m.stats.Mapped++
	return nil
}

// unmapLocked removes the mapping of page, if any, and frees its frame.
//
// Preconditions: m.mu is locked.
func (m *MemoryManager) unmapLocked(page hostarch.Addr) bool {
	f, err := m.pt.Unmap(page)
	if err != nil {
		return false
	}
	m.alloc.DeallocateFrame(f)
	m.stats.Deallocated++
	m.stats.Mapped--
	return true
}

// Translate returns the physical address addr maps to.
func (m *MemoryManager) Translate(addr hostarch.Addr) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return 0, false
	}
	return m.pt.Translate(addr)
}

// IsMapped returns true if the page containing addr is present.
func (m *MemoryManager) IsMapped(addr hostarch.Addr) bool {
	_, ok := m.Translate(addr)
	return ok
}

// Regions returns the regions of the address space in address order.
func (m *MemoryManager) Regions() []RegionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regions.infos()
}

// Stats returns the frame accounting of the address space.
func (m *MemoryManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	if !m.released {
		s.TableFrames = uint64(m.pt.TableFrames())
	}
	return s
}

// Check verifies that the frame accounting matches the page tables.
func (m *MemoryManager) Check() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats.Allocated-m.stats.Deallocated != m.stats.Mapped {
		return kernelerr.Errorf(kernelerr.ErrInvariantViolation, "allocated %d - deallocated %d != mapped %d", m.stats.Allocated, m.stats.Deallocated, m.stats.Mapped)
	}
	if m.released {
		return nil
	}
	var present uint64
	m.pt.ForEach(func(hostarch.Addr, pagetables.PTE) { present++ })
	if present != m.stats.Mapped {
		return kernelerr.Errorf(kernelerr.ErrInvariantViolation, "%d present leaves, %d accounted", present, m.stats.Mapped)
	}
	return nil
}

// Release unmaps every page and returns every frame, tables included.
// Release is idempotent.
func (m *MemoryManager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return
	}
	m.pt.Destroy(func(f pmm.Frame) {
		m.alloc.DeallocateFrame(f)
		m.stats.Deallocated++
		m.stats.Mapped--
	})
	m.regions.clear()
	m.heap, m.stack = nil, nil
	m.released = true
}

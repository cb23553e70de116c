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

// Package pagetables provides a generic implementation of 4-level x86-64
// page tables stored in simulated physical memory.
//
// A PageTables is not synchronized. Its owner (the address space) must
// serialize all calls.
package pagetables

import (
	"fmt"

	kerrors "gvisor.dev/kcore/pkg/errors"
	"gvisor.dev/kcore/pkg/errors/kernelerr"
	"gvisor.dev/kcore/pkg/hostarch"
	"gvisor.dev/kcore/pkg/kernel/pmm"
)

// Errors returned by Map and Unmap.
var (
	ErrAlreadyMapped = kerrors.New(kerrors.ClassInvalidArgument, "page already mapped")
	ErrNotMapped     = kerrors.New(kerrors.ClassInvalidArgument, "page not mapped")
)

// leafLevel is the level of the tables holding leaf entries.
const leafLevel = hostarch.PageLevels - 1

// FrameSource provides frames for intermediate tables.
type FrameSource interface {
	AllocateFrame() (pmm.Frame, bool)
	DeallocateFrame(pmm.Frame)
}

// PageTables is a page table hierarchy.
type PageTables struct {
	mem   *pmm.Memory
	alloc FrameSource

	// root is the level 0 table.
	root pmm.Frame

	// destroyed is set by Destroy.
	destroyed bool

	// tables is the number of frames in use as tables, root included.
	tables int

	tlb tlb
}

// New returns a new, empty hierarchy whose tables are allocated from alloc
// and accessed through mem.
func New(mem *pmm.Memory, alloc FrameSource) (*PageTables, error) {
	root, ok := alloc.AllocateFrame()
	if !ok {
		return nil, kernelerr.Errorf(kernelerr.ErrResourceExhaustion, "no frame for root page table")
	}
	mem.Zero(root)
	return &PageTables{
		mem:    mem,
		alloc:  alloc,
		root:   root,
		tables: 1,
	}, nil
}

// Root returns the frame holding the root table.
func (p *PageTables) Root() pmm.Frame {
	return p.root
}

// TableFrames returns the number of frames used by the hierarchy itself.
func (p *PageTables) TableFrames() int {
	return p.tables
}

// TLBStats returns the translation cache hit and miss counts.
func (p *PageTables) TLBStats() (hits, misses uint64) {
	return p.tlb.hits, p.tlb.misses
}

func (p *PageTables) table(f pmm.Frame) table {
	return tableAt(p.mem, f)
}

func (p *PageTables) checkAddr(addr hostarch.Addr) error {
	if p.destroyed {
		return kernelerr.Errorf(kernelerr.ErrInvariantViolation, "page tables used after Destroy")
	}
	if !addr.IsCanonical() || !addr.IsUser() {
		return kernelerr.Errorf(kernelerr.ErrInvalidArgument, "address %v is not a canonical user address", addr)
	}
	return nil
}

// installed records an intermediate table added by Map.
type installed struct {
	parent table
	index  int
	frame  pmm.Frame
}

// Map installs a leaf entry translating the page at addr to frame f, with
// the given flags plus Present. Missing intermediate tables are allocated
// and zeroed on the way down.
//
// If a table cannot be allocated, every table installed by this call is
// removed again and an ErrResourceExhaustion-class error is returned.
// Mapping an already present page returns ErrAlreadyMapped.
func (p *PageTables) Map(addr hostarch.Addr, f pmm.Frame, flags PTE) error {
	if err := p.checkAddr(addr); err != nil {
		return err
	}
	if !addr.IsPageAligned() || !f.IsAligned() {
		return kernelerr.Errorf(kernelerr.ErrInvalidArgument, "Map(%v, %v): unaligned", addr, f)
	}

	var added []installed
	t := p.table(p.root)
	for level := 0; level < leafLevel; level++ {
		i := addr.Index(level)
		e := t.entry(i)
		if e.Valid() {
			if e&Huge != 0 {
				p.rollback(added)
				return kernelerr.Errorf(kernelerr.ErrInvariantViolation, "huge entry at level %d for %v", level, addr)
			}
			t = p.table(e.Frame())
			continue
		}
		next, ok := p.alloc.AllocateFrame()
		if !ok {
			p.rollback(added)
			return kernelerr.Errorf(kernelerr.ErrResourceExhaustion, "no frame for level %d table mapping %v", level+1, addr)
		}
		p.mem.Zero(next)
		t.setEntry(i, MakePTE(next, tableFlags))
		p.tables++
		added = append(added, installed{parent: t, index: i, frame: next})
		t = p.table(next)
	}

	i := addr.Index(leafLevel)
	if t.entry(i).Valid() {
		// Tables are only added on the way to a missing leaf, so there is
		// nothing to undo here.
		return ErrAlreadyMapped
	}
	t.setEntry(i, MakePTE(f, flags|Present))
	p.tlb.invalidate(addr)
	return nil
}

// rollback removes the tables in added, deepest first.
func (p *PageTables) rollback(added []installed) {
	for i := len(added) - 1; i >= 0; i-- {
		a := added[i]
		a.parent.setEntry(a.index, 0)
		p.alloc.DeallocateFrame(a.frame)
		p.tables--
	}
}

// walk returns the tables on the path to addr's leaf, root first. depth is
// the number of tables found; it is less than PageLevels if an intermediate
// entry is absent.
func (p *PageTables) walk(addr hostarch.Addr) (path [hostarch.PageLevels]table, frames [hostarch.PageLevels]pmm.Frame, depth int) {
	f := p.root
	for depth = 0; depth < hostarch.PageLevels; depth++ {
		path[depth] = p.table(f)
		frames[depth] = f
		if depth == leafLevel {
			return path, frames, depth + 1
		}
		e := path[depth].entry(addr.Index(depth))
		if !e.Valid() {
			return path, frames, depth + 1
		}
		f = e.Frame()
	}
	return path, frames, depth
}

// Unmap clears the leaf entry for the page at addr and returns the frame it
// referenced. The caller owns the returned frame. Intermediate tables left
// empty are freed. ErrNotMapped is returned if the page has no mapping.
func (p *PageTables) Unmap(addr hostarch.Addr) (pmm.Frame, error) {
	if err := p.checkAddr(addr); err != nil {
		return 0, err
	}
	page := addr.RoundDown()
	path, frames, depth := p.walk(page)
	if depth != hostarch.PageLevels {
		return 0, ErrNotMapped
	}
	i := page.Index(leafLevel)
	e := path[leafLevel].entry(i)
	if !e.Valid() {
		return 0, ErrNotMapped
	}
	path[leafLevel].setEntry(i, 0)
	p.tlb.invalidate(page)

	// Check if we no longer need each table on the path. The root stays.
	for level := leafLevel; level > 0; level-- {
		if !path[level].empty() {
			break
		}
		path[level-1].setEntry(page.Index(level-1), 0)
		p.alloc.DeallocateFrame(frames[level])
		p.tables--
	}
	return e.Frame(), nil
}

// Lookup returns the leaf entry for addr.
func (p *PageTables) Lookup(addr hostarch.Addr) (PTE, bool) {
	if p.checkAddr(addr) != nil {
		return 0, false
	}
	page := addr.RoundDown()
	if pte, ok := p.tlb.lookup(page); ok {
		return pte, true
	}
	path, _, depth := p.walk(page)
	if depth != hostarch.PageLevels {
		return 0, false
	}
	pte := path[leafLevel].entry(page.Index(leafLevel))
	if !pte.Valid() {
		return 0, false
	}
	p.tlb.insert(page, pte)
	return pte, true
}

// Translate returns the physical address addr maps to.
func (p *PageTables) Translate(addr hostarch.Addr) (uint64, bool) {
	pte, ok := p.Lookup(addr)
	if !ok {
		return 0, false
	}
	return pte.Frame().Addr() + addr.PageOffset(), true
}

// ForEach calls fn for every present leaf in ascending address order.
func (p *PageTables) ForEach(fn func(addr hostarch.Addr, pte PTE)) {
	if p.destroyed {
		return
	}
	p.forEach(p.root, 0, 0, fn)
}

func (p *PageTables) forEach(f pmm.Frame, level int, base hostarch.Addr, fn func(hostarch.Addr, PTE)) {
	t := p.table(f)
	for i := 0; i < hostarch.EntriesPerTable; i++ {
		e := t.entry(i)
		if !e.Valid() {
			continue
		}
		addr := base | hostarch.Addr(i)<<(hostarch.PageShift+uint(leafLevel-level)*9)
		if level == leafLevel {
			fn(addr, e)
			continue
		}
		p.forEach(e.Frame(), level+1, addr, fn)
	}
}

// Destroy clears every leaf, calling fn with each frame that was mapped,
// then frees every table including the root. The hierarchy cannot be used
// afterwards. Destroy is idempotent.
func (p *PageTables) Destroy(fn func(pmm.Frame)) {
	if p.destroyed {
		return
	}
	p.destroy(p.root, 0, fn)
	p.destroyed = true
	p.tlb.flush()
	if p.tables != 0 {
		panic(fmt.Sprintf("page tables leaked %d table frames", p.tables))
	}
}

func (p *PageTables) destroy(f pmm.Frame, level int, fn func(pmm.Frame)) {
	t := p.table(f)
	for i := 0; i < hostarch.EntriesPerTable; i++ {
		e := t.entry(i)
		if !e.Valid() {
			continue
		}
		if level == leafLevel {
			if fn != nil {
				fn(e.Frame())
			}
		} else {
			p.destroy(e.Frame(), level+1, fn)
		}
		t.setEntry(i, 0)
	}
	p.alloc.DeallocateFrame(f)
	p.tables--
}

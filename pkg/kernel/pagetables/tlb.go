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

package pagetables

import "gvisor.dev/kcore/pkg/hostarch"

// tlbSize is the number of sets in the translation cache.
const tlbSize = 64

type tlbEntry struct {
	page  hostarch.Addr
	pte   PTE
	valid bool
}

// tlb is a direct-mapped software translation cache keyed by virtual page.
// It caches leaf entries only, so it must be invalidated whenever a leaf
// changes.
type tlb struct {
	entries [tlbSize]tlbEntry
	hits    uint64
	misses  uint64
}

func tlbSlot(page hostarch.Addr) int {
	return int((page >> hostarch.PageShift) % tlbSize)
}

func (t *tlb) lookup(page hostarch.Addr) (PTE, bool) {
	e := &t.entries[tlbSlot(page)]
	if e.valid && e.page == page {
		t.hits++
		return e.pte, true
	}
	t.misses++
	return 0, false
}

func (t *tlb) insert(page hostarch.Addr, pte PTE) {
	t.entries[tlbSlot(page)] = tlbEntry{page: page, pte: pte, valid: true}
}

func (t *tlb) invalidate(page hostarch.Addr) {
	e := &t.entries[tlbSlot(page)]
	if e.page == page {
		e.valid = false
	}
}

func (t *tlb) flush() {
	for i := range t.entries {
		t.entries[i].valid = false
	}
}

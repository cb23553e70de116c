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

package mm

import (
	"fmt"

	"github.com/google/btree"

	"gvisor.dev/kcore/pkg/hostarch"
	"gvisor.dev/kcore/pkg/kernel/loader"
)

// RegionKind identifies what a region holds.
type RegionKind int

// Region kinds.
const (
	KindSegment RegionKind = iota
	KindHeap
	KindStack
)

// String implements fmt.Stringer.String.
func (k RegionKind) String() string {
	switch k {
	case KindSegment:
		return "segment"
	case KindHeap:
		return "heap"
	case KindStack:
		return "stack"
	default:
		return fmt.Sprintf("RegionKind(%d)", int(k))
	}
}

// region is a page-aligned range of the address space with uniform
// permissions.
type region struct {
	rng   hostarch.AddrRange
	perms hostarch.AccessType
	kind  RegionKind

	// seg supplies the initial contents of segment pages. It is nil for
	// the heap and the stack, which start zeroed.
	seg *loader.Segment
}

// RegionInfo describes a region.
type RegionInfo struct {
	Range hostarch.AddrRange
	Perms hostarch.AccessType
	Kind  RegionKind
}

// String implements fmt.Stringer.String.
func (r RegionInfo) String() string {
	return fmt.Sprintf("%v %s %s", r.Range, r.Perms, r.Kind)
}

const regionTreeDegree = 8

// regionSet is the set of regions of one address space, ordered by start
// address. Regions never overlap; empty regions are kept out of the tree.
type regionSet struct {
	tree *btree.BTreeG[*region]
}

func newRegionSet() regionSet {
	return regionSet{tree: btree.NewG(regionTreeDegree, func(a, b *region) bool {
		return a.rng.Start < b.rng.Start
	})}
}

// find returns the region containing addr, or nil.
func (s *regionSet) find(addr hostarch.Addr) *region {
	var found *region
	s.tree.DescendLessOrEqual(&region{rng: hostarch.AddrRange{Start: addr}}, func(r *region) bool {
		if r.rng.Contains(addr) {
			found = r
		}
		return false
	})
	return found
}

// overlapping returns a region that overlaps rng, or nil.
func (s *regionSet) overlapping(rng hostarch.AddrRange) *region {
	var found *region
	s.tree.DescendLessOrEqual(&region{rng: hostarch.AddrRange{Start: rng.Start}}, func(r *region) bool {
		if r.rng.Overlaps(rng) {
			found = r
		}
		return false
	})
	if found != nil {
		return found
	}
	s.tree.AscendGreaterOrEqual(&region{rng: hostarch.AddrRange{Start: rng.Start}}, func(r *region) bool {
		if r.rng.Start >= rng.End {
			return false
		}
		if r.rng.Overlaps(rng) {
			found = r
			return false
		}
		return true
	})
	return found
}

// insert adds r. It returns the region r overlaps instead, if any.
func (s *regionSet) insert(r *region) *region {
	if r.rng.Length() == 0 {
		return nil
	}
	if o := s.overlapping(r.rng); o != nil {
		return o
	}
	s.tree.ReplaceOrInsert(r)
	return nil
}

func (s *regionSet) remove(r *region) {
	s.tree.Delete(r)
}

// next returns the first non-empty region starting at or after addr, or
// nil.
func (s *regionSet) next(addr hostarch.Addr) *region {
	var found *region
	s.tree.AscendGreaterOrEqual(&region{rng: hostarch.AddrRange{Start: addr}}, func(r *region) bool {
		found = r
		return false
	})
	return found
}

func (s *regionSet) infos() []RegionInfo {
	out := make([]RegionInfo, 0, s.tree.Len())
	s.tree.Ascend(func(r *region) bool {
		out = append(out, RegionInfo{Range: r.rng, Perms: r.perms, Kind: r.kind})
		return true
	})
	return out
}

func (s *regionSet) clear() {
	s.tree.Clear(false)
}

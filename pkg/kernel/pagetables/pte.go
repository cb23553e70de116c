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

import (
	"encoding/binary"
	"fmt"
	"strings"

	"gvisor.dev/kcore/pkg/hostarch"
	"gvisor.dev/kcore/pkg/kernel/pmm"
)

// PTE is an x86-64 page table entry.
type PTE uint64

// Entry bits.
const (
	Present      PTE = 1 << 0
	Writable     PTE = 1 << 1
	User         PTE = 1 << 2
	WriteThrough PTE = 1 << 3
	NoCache      PTE = 1 << 4
	Accessed     PTE = 1 << 5
	Dirty        PTE = 1 << 6
	Huge         PTE = 1 << 7
	Global       PTE = 1 << 8
	NoExecute    PTE = 1 << 63
)

const (
	// addressMask selects the frame address, bits 12 through 51.
	addressMask PTE = 0x000ffffffffff000

	// tableFlags are installed on every intermediate entry. Permissions
	// are enforced at the leaf only.
	tableFlags = Present | Writable | User

	entrySize = 8
)

// MakePTE returns an entry referencing f with the given flags.
func MakePTE(f pmm.Frame, flags PTE) PTE {
	return PTE(f)&addressMask | flags&^addressMask
}

// FlagsFor returns the leaf flags granting the access type at.
func FlagsFor(at hostarch.AccessType, user bool) PTE {
	var flags PTE
	if at.Write {
		flags |= Writable
	}
	if !at.Execute {
		flags |= NoExecute
	}
	if user {
		flags |= User
	}
	return flags
}

// Valid returns true if the entry is present.
func (p PTE) Valid() bool {
	return p&Present != 0
}

// Frame returns the frame referenced by the entry.
func (p PTE) Frame() pmm.Frame {
	return pmm.Frame(p & addressMask)
}

// Flags returns the entry with the address bits cleared.
func (p PTE) Flags() PTE {
	return p &^ addressMask
}

// AccessType returns the access a leaf entry permits. Any present entry is
// readable.
func (p PTE) AccessType() hostarch.AccessType {
	return hostarch.AccessType{
		Read:    p.Valid(),
		Write:   p.Valid() && p&Writable != 0,
		Execute: p.Valid() && p&NoExecute == 0,
	}
}

var pteNames = []struct {
	bit  PTE
	name string
}{
	{Present, "P"},
	{Writable, "W"},
	{User, "U"},
	{WriteThrough, "PWT"},
	{NoCache, "PCD"},
	{Accessed, "A"},
	{Dirty, "D"},
	{Huge, "PS"},
	{Global, "G"},
	{NoExecute, "NX"},
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	var names []string
	for _, n := range pteNames {
		if p&n.bit != 0 {
			names = append(names, n.name)
		}
	}
	return fmt.Sprintf("%#x[%s]", uint64(p&addressMask), strings.Join(names, "|"))
}

// table is a view of one frame as an array of EntriesPerTable entries. All
// access goes through entry and setEntry, which check the index.
type table struct {
	b []byte
}

func tableAt(mem *pmm.Memory, f pmm.Frame) table {
	return table{b: mem.Page(f)}
}

func checkIndex(i int) {
	if i < 0 || i >= hostarch.EntriesPerTable {
		panic(fmt.Sprintf("page table index %d out of range [0, %d)", i, hostarch.EntriesPerTable))
	}
}

func (t table) entry(i int) PTE {
	checkIndex(i)
	return PTE(binary.LittleEndian.Uint64(t.b[i*entrySize:]))
}

func (t table) setEntry(i int, p PTE) {
	checkIndex(i)
	binary.LittleEndian.PutUint64(t.b[i*entrySize:], uint64(p))
}

// empty returns true if no entry of t is present.
func (t table) empty() bool {
	for i := 0; i < hostarch.EntriesPerTable; i++ {
		if t.entry(i).Valid() {
			return false
		}
	}
	return true
}

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

// Package hostarch describes the x86-64 address space the kernel core
// manages: page geometry, address arithmetic and access types.
package hostarch

const (
	// PageShift is the binary log of the system page size.
	PageShift = 12

	// PageSize is the system page size.
	PageSize = 1 << PageShift

	// HugePageShift is the binary log of the system huge page size.
	HugePageShift = 21

	// HugePageSize is the system huge page size.
	HugePageSize = 1 << HugePageShift

	// PageLevels is the number of levels in the translation hierarchy.
	PageLevels = 4

	// EntriesPerTable is the number of entries held by one table at any
	// level of the hierarchy.
	EntriesPerTable = 512

	// levelBits is the number of address bits consumed by each level.
	levelBits = 9

	// virtualBits is the width of a canonical virtual address.
	virtualBits = 48
)

const (
	// UserLimit is the first address above the canonical lower half.
	// Everything below it is available to processes.
	UserLimit Addr = 1 << (virtualBits - 1)

	// UserStackTop is the fixed top of every process stack. The last page of
	// the lower half is never mapped.
	UserStackTop Addr = UserLimit - PageSize
)

// levelShifts is the shift that isolates each level's index, root first.
var levelShifts = [PageLevels]uint{39, 30, 21, 12}

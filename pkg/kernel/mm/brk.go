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
	"gvisor.dev/kcore/pkg/errors/kernelerr"
	"gvisor.dev/kcore/pkg/hostarch"
)

// Brk moves the program break to addr and returns the new break. A zero
// addr only queries the current break.
//
// The heap may not shrink below its start nor grow into the next region.
// Pages released by shrinking are unmapped and their frames freed.
func (m *MemoryManager) Brk(addr hostarch.Addr) (hostarch.Addr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released || m.heap == nil {
		return 0, kernelerr.Errorf(kernelerr.ErrInvalidArgument, "brk on an address space with no heap")
	}
	if addr == 0 {
		return m.brk, nil
	}
	if addr < m.heap.rng.Start {
		return m.brk, kernelerr.Errorf(kernelerr.ErrInvalidArgument, "brk %v below heap start %v", addr, m.heap.rng.Start)
	}
	end, ok := addr.RoundUp()
	if !ok || !end.IsUser() {
		return m.brk, kernelerr.Errorf(kernelerr.ErrInvalidArgument, "brk %v outside the user address space", addr)
	}

	oldEnd := m.heap.rng.End
	switch {
	case end > oldEnd:
		if next := m.regions.next(m.heap.rng.Start + 1); next != nil && next != m.heap && end > next.rng.Start {
			return m.brk, kernelerr.Errorf(kernelerr.ErrResourceExhaustion, "brk %v collides with %s %v", addr, next.kind, next.rng)
		}
	case end < oldEnd:
		for page := end; page < oldEnd; page += hostarch.PageSize {
			m.unmapLocked(page)
		}
	}

	wasEmpty := m.heap.rng.Length() == 0
	m.heap.rng.End = end
	switch {
	case wasEmpty && end > m.heap.rng.Start:
		m.regions.insert(m.heap)
	case !wasEmpty && end == m.heap.rng.Start:
		m.regions.remove(m.heap)
	}
	m.brk = addr
	return addr, nil
}

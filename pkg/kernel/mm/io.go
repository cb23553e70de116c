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

// copyLocked moves bytes between buf and the address space starting at
// addr. Pages are never faulted in: an unmapped page ends the copy with an
// AccessViolation-class error.
//
// Preconditions: m.mu is locked.
func (m *MemoryManager) copyLocked(addr hostarch.Addr, buf []byte, out bool) (int, error) {
	if m.released {
		return 0, kernelerr.Errorf(kernelerr.ErrAccessViolation, "copy at %v on a released address space", addr)
	}
	if _, ok := addr.AddLength(uint64(len(buf))); !ok {
		return 0, kernelerr.Errorf(kernelerr.ErrAccessViolation, "copy of %d bytes at %v wraps", len(buf), addr)
	}
	done := 0
	for done < len(buf) {
		cur := addr + hostarch.Addr(done)
		pte, ok := m.pt.Lookup(cur)
		if !ok {
			return done, kernelerr.Errorf(kernelerr.ErrAccessViolation, "copy at %v: page not mapped", cur)
		}
		page := m.mem.Page(pte.Frame())[cur.PageOffset():]
		var n int
		if out {
			n = copy(page, buf[done:])
		} else {
			n = copy(buf[done:], page)
		}
		done += n
	}
	return done, nil
}

// CopyOut copies src into the address space at addr. It returns the number
// of bytes copied. This is a kernel-side copy: it writes through any present
// page, including pages of read-only and execute-only regions, without
// checking region permissions.
func (m *MemoryManager) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyLocked(addr, src, true)
}

// CopyIn copies from the address space at addr into dst. It returns the
// number of bytes copied. Like CopyOut it ignores region permissions.
func (m *MemoryManager) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyLocked(addr, dst, false)
}

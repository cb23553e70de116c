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
	"strings"

	"gvisor.dev/kcore/pkg/errors/kernelerr"
	"gvisor.dev/kcore/pkg/hostarch"
)

// FaultCode is the error code the MMU pushes for a page fault.
type FaultCode uint32

// Error code bits.
const (
	// FaultPresent is set for a protection violation on a present page and
	// clear for a not-present page.
	FaultPresent FaultCode = 1 << 0

	// FaultWrite is set if the access was a write.
	FaultWrite FaultCode = 1 << 1

	// FaultUser is set if the access came from user mode.
	FaultUser FaultCode = 1 << 2

	// FaultReserved is set if a reserved bit was found set in an entry.
	FaultReserved FaultCode = 1 << 3

	// FaultFetch is set if the access was an instruction fetch.
	FaultFetch FaultCode = 1 << 4
)

// AccessType returns the kind of access that faulted.
func (c FaultCode) AccessType() hostarch.AccessType {
	switch {
	case c&FaultFetch != 0:
		return hostarch.Execute
	case c&FaultWrite != 0:
		return hostarch.Write
	default:
		return hostarch.Read
	}
}

// String implements fmt.Stringer.String.
func (c FaultCode) String() string {
	var parts []string
	if c&FaultPresent != 0 {
		parts = append(parts, "present")
	} else {
		parts = append(parts, "not-present")
	}
	if c&FaultWrite != 0 {
		parts = append(parts, "write")
	}
	if c&FaultFetch != 0 {
		parts = append(parts, "fetch")
	}
	if c&FaultUser != 0 {
		parts = append(parts, "user")
	}
	if c&FaultReserved != 0 {
		parts = append(parts, "rsvd")
	}
	return strings.Join(parts, "|")
}

// HandleFault resolves a page fault at addr.
//
// A fault on a not-present page inside a region whose permissions allow
// the access maps a fresh page there and returns nil, so the faulting
// instruction can be restarted. Any other fault returns an error of class
// AccessViolation. If no frame is available the error is of class
// ResourceExhaustion.
func (m *MemoryManager) HandleFault(addr hostarch.Addr, code FaultCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Faults++

	if m.released {
		return kernelerr.Errorf(kernelerr.ErrAccessViolation, "fault at %v on a released address space", addr)
	}
	if !addr.IsCanonical() || !addr.IsUser() {
		return kernelerr.Errorf(kernelerr.ErrAccessViolation, "%s fault at non-user address %v", code, addr)
	}
	if code&(FaultPresent|FaultReserved) != 0 {
		return kernelerr.Errorf(kernelerr.ErrAccessViolation, "%s fault at %v", code, addr)
	}
	r := m.regions.find(addr)
	if r == nil {
		return kernelerr.Errorf(kernelerr.ErrAccessViolation, "%s fault at unmapped address %v", code, addr)
	}
	if at := code.AccessType(); !r.perms.SupersetOf(at) {
		return kernelerr.Errorf(kernelerr.ErrAccessViolation, "%s fault at %v: %s access to %s %s region", code, addr, at, r.perms, r.kind)
	}

	page := addr.RoundDown()
	if _, ok := m.pt.Lookup(page); ok {
		// Another fault on the same page was resolved first.
		return nil
	}
	return m.populateLocked(r, page)
}

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

package pmm

import (
	"fmt"

	"golang.org/x/sys/unix"

	"gvisor.dev/kcore/pkg/hostarch"
)

// Frame is the physical base address of one page of RAM.
type Frame uint64

// Addr returns the physical address of the frame.
func (f Frame) Addr() uint64 {
	return uint64(f)
}

// IsAligned returns true if f is page-aligned.
func (f Frame) IsAligned() bool {
	return uint64(f)&(hostarch.PageSize-1) == 0
}

// String implements fmt.Stringer.String.
func (f Frame) String() string {
	return fmt.Sprintf("frame(%#x)", uint64(f))
}

// Memory is the simulated physical address space. It is backed by one host
// anonymous mapping spanning [base, base+len(data)); every access goes
// through Page, which performs the physical-to-accessible translation.
type Memory struct {
	base uint64
	data []byte
}

// newMemory maps length bytes of host memory to stand for physical
// addresses starting at base.
func newMemory(base, length uint64) (*Memory, error) {
	data, err := unix.Mmap(-1, 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mapping %d bytes of physical memory: %w", length, err)
	}
	return &Memory{base: base, data: data}, nil
}

// Base returns the lowest physical address backed by m.
func (m *Memory) Base() uint64 {
	return m.base
}

// Size returns the number of bytes backed by m.
func (m *Memory) Size() uint64 {
	return uint64(len(m.data))
}

// Contains returns true if the frame f lies entirely inside m.
func (m *Memory) Contains(f Frame) bool {
	return f.IsAligned() && uint64(f) >= m.base && uint64(f)-m.base < uint64(len(m.data))
}

// Page returns the bytes of frame f. It panics if f is unaligned or not
// backed by m.
func (m *Memory) Page(f Frame) []byte {
	if !m.Contains(f) {
		panic(fmt.Sprintf("%v outside physical memory [%#x, %#x)", f, m.base, m.base+uint64(len(m.data))))
	}
	off := uint64(f) - m.base
	return m.data[off : off+hostarch.PageSize : off+hostarch.PageSize]
}

// Zero clears frame f.
func (m *Memory) Zero(f Frame) {
	clear(m.Page(f))
}

// release unmaps the backing memory. Any later Page call panics.
func (m *Memory) release() error {
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	return unix.Munmap(data)
}

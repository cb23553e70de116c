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

// Package arch describes the CPU state saved for a suspended process.
package arch

import (
	"fmt"

	"gvisor.dev/kcore/pkg/hostarch"
)

// Segment selectors of user mode, RPL 3.
const (
	UserCS = 0x33
	UserDS = 0x2b
)

// Flag bits.
const (
	// eflagsReserved is bit 1, which always reads as one.
	eflagsReserved = 1 << 1

	// EflagsIF is the interrupt enable flag.
	EflagsIF = 1 << 9

	// stackAlign is the required alignment of the stack pointer at entry.
	stackAlign = 16
)

// Registers is the register set saved on suspension and restored on
// resumption. The scheduler never looks inside it.
type Registers struct {
	R15    uint64
	R14    uint64
	R13    uint64
	R12    uint64
	Rbp    uint64
	Rbx    uint64
	R11    uint64
	R10    uint64
	R9     uint64
	R8     uint64
	Rax    uint64
	Rcx    uint64
	Rdx    uint64
	Rsi    uint64
	Rdi    uint64
	Rip    uint64
	Cs     uint64
	Eflags uint64
	Rsp    uint64
	Ss     uint64
	Ds     uint64
	Es     uint64
	Fs     uint64
	Gs     uint64
}

// NewUserContext returns the registers a process starts with: execution at
// entry on an empty stack below stackTop, interrupts enabled, user
// selectors loaded.
func NewUserContext(entry, stackTop hostarch.Addr) Registers {
	return Registers{
		Rip:    uint64(entry),
		Rsp:    uint64(stackTop) &^ (stackAlign - 1),
		Eflags: EflagsIF | eflagsReserved,
		Cs:     UserCS,
		Ss:     UserDS,
		Ds:     UserDS,
		Es:     UserDS,
		Fs:     UserDS,
		Gs:     UserDS,
	}
}

// IP returns the current instruction pointer.
func (r *Registers) IP() hostarch.Addr {
	return hostarch.Addr(r.Rip)
}

// SetIP sets the current instruction pointer.
func (r *Registers) SetIP(value hostarch.Addr) {
	r.Rip = uint64(value)
}

// Stack returns the current stack pointer.
func (r *Registers) Stack() hostarch.Addr {
	return hostarch.Addr(r.Rsp)
}

// SetStack sets the current stack pointer.
func (r *Registers) SetStack(value hostarch.Addr) {
	r.Rsp = uint64(value)
}

// Return returns the current syscall return value.
func (r *Registers) Return() uint64 {
	return r.Rax
}

// SetReturn sets the syscall return value.
func (r *Registers) SetReturn(value uint64) {
	r.Rax = value
}

// IsUser returns true if the selectors describe user mode.
func (r *Registers) IsUser() bool {
	return r.Cs&3 == 3 && r.Ss&3 == 3
}

// String implements fmt.Stringer.String.
func (r *Registers) String() string {
	return fmt.Sprintf("rip=%#x rsp=%#x rax=%#x eflags=%#x", r.Rip, r.Rsp, r.Rax, r.Eflags)
}

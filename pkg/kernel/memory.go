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

package kernel

import (
	"gvisor.dev/kcore/pkg/errors/kernelerr"
	"gvisor.dev/kcore/pkg/hostarch"
	"gvisor.dev/kcore/pkg/kernel/arch"
	"gvisor.dev/kcore/pkg/kernel/sched"
)

// Brk moves the program break of pid. A zero end queries it.
func (k *Kernel) Brk(pid sched.PID, end hostarch.Addr) (hostarch.Addr, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, err := k.liveLocked(pid)
	if err != nil {
		return 0, err
	}
	return p.mm.Brk(end)
}

// CopyOut copies src into the address space of pid at addr.
func (k *Kernel) CopyOut(pid sched.PID, addr hostarch.Addr, src []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, err := k.liveLocked(pid)
	if err != nil {
		return 0, err
	}
	return p.mm.CopyOut(addr, src)
}

// CopyIn copies from the address space of pid at addr into dst.
func (k *Kernel) CopyIn(pid sched.PID, addr hostarch.Addr, dst []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, err := k.liveLocked(pid)
	if err != nil {
		return 0, err
	}
	return p.mm.CopyIn(addr, dst)
}

// SaveContext stores the registers of pid as it leaves a core.
func (k *Kernel) SaveContext(pid sched.PID, regs arch.Registers) error {
	if !regs.IsUser() {
		return kernelerr.Errorf(kernelerr.ErrInvalidArgument, "pid %d: registers not in user mode: %v", pid, &regs)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	p, err := k.liveLocked(pid)
	if err != nil {
		return err
	}
	p.regs = regs
	return nil
}

// Context returns the saved registers of pid.
func (k *Kernel) Context(pid sched.PID) (arch.Registers, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, err := k.liveLocked(pid)
	if err != nil {
		return arch.Registers{}, err
	}
	return p.regs, nil
}

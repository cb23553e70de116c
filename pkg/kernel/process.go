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
	"fmt"

	"gvisor.dev/kcore/pkg/cleanup"
	"gvisor.dev/kcore/pkg/errors/kernelerr"
	"gvisor.dev/kcore/pkg/kernel/arch"
	"gvisor.dev/kcore/pkg/kernel/loader"
	"gvisor.dev/kcore/pkg/kernel/mm"
	"gvisor.dev/kcore/pkg/kernel/sched"
	"gvisor.dev/kcore/pkg/log"
)

// ExitReason is why a process became a zombie.
type ExitReason int

// Exit reasons.
const (
	// ExitNormal is a voluntary exit.
	ExitNormal ExitReason = iota

	// ExitKilled is an external kill.
	ExitKilled

	// ExitAccessViolation is a fatal page fault.
	ExitAccessViolation

	// ExitResourceExhaustion is a fault that could not get a frame.
	ExitResourceExhaustion
)

// Exit codes reported for involuntary exits: 128 plus the number of the
// signal a Unix kernel would have sent.
const (
	ExitCodeResourceExhaustion = 128 + 7  // SIGBUS
	ExitCodeKilled             = 128 + 9  // SIGKILL
	ExitCodeAccessViolation    = 128 + 11 // SIGSEGV
)

// String implements fmt.Stringer.String.
func (r ExitReason) String() string {
	switch r {
	case ExitNormal:
		return "exit"
	case ExitKilled:
		return "killed"
	case ExitAccessViolation:
		return "access_violation"
	case ExitResourceExhaustion:
		return "resource_exhaustion"
	default:
		return fmt.Sprintf("ExitReason(%d)", int(r))
	}
}

// ExitStatus is what a parent learns when it reaps a child.
type ExitStatus struct {
	PID    sched.PID
	Code   int
	Reason ExitReason
}

// PCB is a process control block.
type PCB struct {
	// Entity is the scheduling state. While the process is Ready or
	// Running it is only modified by the scheduler.
	sched.Entity

	pid    sched.PID
	parent sched.PID
	name   string

	// layout is the address space description built by the loader.
	layout *loader.Image

	// mm is the address space. It is released on exit.
	mm *mm.MemoryManager

	// regs is the register snapshot of a suspended process.
	regs arch.Registers

	blockReason string
	exit        ExitStatus
}

func newKernelPCB() *PCB {
	return &PCB{
		Entity: sched.Entity{State: sched.Running, Priority: sched.RealTime, CPU: -1},
		pid:    KernelPID,
		parent: KernelPID,
		name:   "kernel",
	}
}

// live returns true if p has not exited.
func (p *PCB) live() bool {
	return p.State != sched.Zombie && p.State != sched.Terminated
}

// pcbTable exposes the process table to the scheduler.
type pcbTable struct {
	k *Kernel
}

// Entity implements sched.Table.Entity.
//
// Preconditions: k.mu is locked. Every scheduler call is made by a kernel
// operation holding it.
func (t pcbTable) Entity(pid sched.PID) (*sched.Entity, bool) {
	// The kernel is never scheduled.
	if pid <= KernelPID || int(pid) >= len(t.k.procs) {
		return nil, false
	}
	p := t.k.procs[pid]
	if p == nil {
		return nil, false
	}
	return &p.Entity, true
}

// lookupLocked returns the PCB of pid.
//
// Preconditions: k.mu is locked.
func (k *Kernel) lookupLocked(pid sched.PID) (*PCB, error) {
	if pid < 0 || int(pid) >= len(k.procs) || k.procs[pid] == nil {
		return nil, kernelerr.Errorf(kernelerr.ErrProcessNotFound, "pid %d", pid)
	}
	return k.procs[pid], nil
}

// liveLocked returns the PCB of pid, which must be a user process that has
// not exited.
//
// Preconditions: k.mu is locked.
func (k *Kernel) liveLocked(pid sched.PID) (*PCB, error) {
	if pid == KernelPID {
		return nil, kernelerr.Errorf(kernelerr.ErrInvalidArgument, "pid %d is the kernel", pid)
	}
	p, err := k.lookupLocked(pid)
	if err != nil {
		return nil, err
	}
	if !p.live() {
		return nil, kernelerr.Errorf(kernelerr.ErrProcessNotFound, "pid %d has exited", pid)
	}
	return p, nil
}

// allocPIDLocked returns the lowest free pid.
//
// Preconditions: k.mu is locked.
func (k *Kernel) allocPIDLocked() sched.PID {
	for pid := 1; pid < len(k.procs); pid++ {
		if k.procs[pid] == nil {
			return sched.PID(pid)
		}
	}
	k.procs = append(k.procs, nil)
	return sched.PID(len(k.procs) - 1)
}

// CreateOptions configures CreateProcessWithOptions.
type CreateOptions struct {
	// Parent is the pid that will reap the process.
	Parent sched.PID

	// Priority is the initial scheduling level.
	Priority sched.Priority

	// Name labels the process in diagnostics.
	Name string
}

// CreateProcess loads image as a child of parent at the default priority
// and makes it ready.
func (k *Kernel) CreateProcess(image []byte, parent sched.PID) (sched.PID, error) {
	return k.CreateProcessWithOptions(image, CreateOptions{Parent: parent, Priority: k.prio})
}

// CreateProcessWithOptions loads image, builds its address space and hands
// the new process to the scheduler. Creation is atomic: on error no PCB,
// frame or mapping is left behind.
func (k *Kernel) CreateProcessWithOptions(image []byte, opts CreateOptions) (sched.PID, error) {
	if !opts.Priority.Valid() {
		return sched.NoPID, kernelerr.Errorf(kernelerr.ErrInvalidArgument, "priority %v", opts.Priority)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if opts.Parent != KernelPID {
		if _, err := k.liveLocked(opts.Parent); err != nil {
			return sched.NoPID, fmt.Errorf("parent: %w", err)
		}
	}

	// The loader allocates nothing, so a bad image costs nothing.
	img, err := loader.Load(image, k.loaderOpts)
	if err != nil {
		k.metrics.createFailed.Increment()
		return sched.NoPID, err
	}

	as, err := mm.New(k.alloc)
	if err != nil {
		k.metrics.createFailed.Increment()
		return sched.NoPID, err
	}
	cu := cleanup.Make(as.Release)
	defer cu.Clean()
	if err := as.LoadImage(img); err != nil {
		k.metrics.createFailed.Increment()
		return sched.NoPID, err
	}

	pid := k.allocPIDLocked()
	p := &PCB{
		Entity: sched.NewEntity(opts.Priority),
		pid:    pid,
		parent: opts.Parent,
		name:   opts.Name,
		layout: img,
		mm:     as,
		regs:   arch.NewUserContext(img.Entry, img.StackTop),
	}
	if p.name == "" {
		p.name = fmt.Sprintf("proc%d", pid)
	}
	k.procs[pid] = p
	cu.Add(func() { k.procs[pid] = nil })

	cpu, err := k.sched.AddReadyProcess(pid, opts.Priority)
	if err := k.checkLocked(err); err != nil {
		k.metrics.createFailed.Increment()
		return sched.NoPID, err
	}
	cu.Release()

	k.live.Add(1)
	k.metrics.created.Increment()
	log.Debugf("Created pid %d (%s) parent %d on CPU %d at %v, entry %v", pid, p.name, opts.Parent, cpu, p.Priority, img.Entry)
	return pid, nil
}

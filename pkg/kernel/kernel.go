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

// Package kernel ties the process execution core together: it owns the
// process table and drives the loader, the address spaces and the scheduler
// on behalf of the syscall and interrupt layers.
//
// A Kernel is an explicitly constructed context; there is no global state.
//
// Lock order (outermost locks must be taken first):
//
// Kernel.mu
//
//	sched core mutexes
//	  sched membership mutex
//	mm.MemoryManager.mu
//	  pmm.Allocator.mu
package kernel

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gvisor.dev/kcore/pkg/errors/kernelerr"
	"gvisor.dev/kcore/pkg/kernel/loader"
	"gvisor.dev/kcore/pkg/kernel/pmm"
	"gvisor.dev/kcore/pkg/kernel/sched"
	"gvisor.dev/kcore/pkg/log"
	"gvisor.dev/kcore/pkg/metric"
)

// KernelPID is the pid of the kernel itself. It adopts orphans.
const KernelPID sched.PID = 0

// Options configures a Kernel.
type Options struct {
	// Memory is the firmware map of usable physical memory.
	Memory []pmm.Range

	// Sched configures the scheduler.
	Sched sched.Options

	// Loader bounds accepted images and sizes stacks and heaps.
	Loader loader.Options

	// DefaultPriority is the level of processes created by CreateProcess.
	DefaultPriority sched.Priority

	// Diagnostics receives the process table on a kernel panic. If nil,
	// the table is logged.
	Diagnostics Diagnostics

	// Metrics is the registry kernel metrics are added to. If nil, the
	// kernel creates its own.
	Metrics *metric.Registry

	// FaultLogInterval is the minimum interval between warnings about
	// processes killed by faults.
	FaultLogInterval time.Duration
}

// DefaultOptions returns options for a machine with numCPUs cores and
// memMiB MiB of memory starting at 1 MiB.
func DefaultOptions(numCPUs int, memMiB uint64) Options {
	const base = 1 << 20
	return Options{
		Memory:           []pmm.Range{{Start: base, End: base + memMiB<<20}},
		Sched:            sched.DefaultOptions(numCPUs),
		Loader:           loader.DefaultOptions(),
		DefaultPriority:  sched.Normal,
		FaultLogInterval: time.Second,
	}
}

// Kernel is the process execution core of one machine.
type Kernel struct {
	alloc      *pmm.Allocator
	sched      *sched.Scheduler
	loaderOpts loader.Options
	prio       sched.Priority
	diag       Diagnostics
	metrics    *kernelMetrics
	faultLog   log.Logger

	// live is the number of processes that have not been reaped, the
	// kernel excluded.
	live atomic.Int64

	mu sync.Mutex

	// procs is indexed by pid. A nil slot is free. procs[KernelPID] is
	// the kernel itself and is never freed.
	//
	// +checklocks:mu
	procs []*PCB

	// +checklocks:mu
	released bool
}

// New boots a kernel: it takes over physical memory and starts an empty
// scheduler.
func New(opts Options) (*Kernel, error) {
	if err := opts.Loader.Validate(); err != nil {
		return nil, kernelerr.Errorf(kernelerr.ErrInvalidArgument, "loader options: %w", err)
	}
	if !opts.DefaultPriority.Valid() {
		return nil, kernelerr.Errorf(kernelerr.ErrInvalidArgument, "default priority %v", opts.DefaultPriority)
	}
	alloc, err := pmm.New(opts.Memory)
	if err != nil {
		return nil, err
	}
	k := &Kernel{
		alloc:      alloc,
		loaderOpts: opts.Loader,
		prio:       opts.DefaultPriority,
		diag:       opts.Diagnostics,
		faultLog:   log.BasicRateLimitedLogger(opts.FaultLogInterval),
		procs:      []*PCB{newKernelPCB()},
	}
	if k.diag == nil {
		k.diag = logDiagnostics{}
	}
	k.sched, err = sched.New(pcbTable{k}, opts.Sched)
	if err != nil {
		alloc.Release()
		return nil, err
	}
	reg := opts.Metrics
	if reg == nil {
		reg = metric.NewRegistry()
	}
	k.metrics = newKernelMetrics(reg, k)
	log.Infof("Kernel booted: %d CPUs, %d frames, default priority %v", opts.Sched.NumCPUs, alloc.TotalFrames(), opts.DefaultPriority)
	return k, nil
}

// NumCPUs returns the number of cores.
func (k *Kernel) NumCPUs() int {
	return k.sched.NumCPUs()
}

// Allocator returns the frame allocator.
func (k *Kernel) Allocator() *pmm.Allocator {
	return k.alloc
}

// Scheduler returns the scheduler.
func (k *Kernel) Scheduler() *sched.Scheduler {
	return k.sched
}

// Metrics returns the registry holding the kernel's metrics.
func (k *Kernel) Metrics() *metric.Registry {
	return k.metrics.reg
}

// LiveProcesses returns the number of unreaped processes.
func (k *Kernel) LiveProcesses() int {
	return int(k.live.Load())
}

// Running returns the pid running on cpu.
func (k *Kernel) Running(cpu int) (sched.PID, bool) {
	return k.sched.Running(cpu)
}

// Release tears down every remaining address space and returns physical
// memory to the host. The kernel must not be used afterwards.
func (k *Kernel) Release() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return nil
	}
	for _, p := range k.procs[1:] {
		if p != nil && p.mm != nil {
			p.mm.Release()
		}
	}
	k.released = true
	return k.alloc.Release()
}

// checkLocked escalates an invariant violation reported by a subsystem to
// a kernel panic and returns any other error unchanged.
//
// Preconditions: k.mu is locked.
func (k *Kernel) checkLocked(err error) error {
	if err != nil && errors.Is(err, kernelerr.ErrInvariantViolation) {
		k.panicLocked(err)
	}
	return err
}

// panicLocked hands a snapshot of the process table to the diagnostics
// collaborator and panics.
//
// Preconditions: k.mu is locked.
func (k *Kernel) panicLocked(err error) {
	reason := fmt.Sprintf("kernel panic: %v", err)
	log.Warningf("%s", reason)
	k.diag.DumpProcessTable(reason, k.dumpLocked())
	panic(reason)
}

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
	"errors"
	"fmt"

	"gvisor.dev/kcore/pkg/errors/kernelerr"
	"gvisor.dev/kcore/pkg/hostarch"
	"gvisor.dev/kcore/pkg/kernel/mm"
	"gvisor.dev/kcore/pkg/kernel/sched"
)

// FaultOutcome is what a page fault did to the faulting process.
type FaultOutcome int

// Fault outcomes.
const (
	// FaultResolved means a page was mapped and the instruction may be
	// restarted.
	FaultResolved FaultOutcome = iota

	// FaultKilled means the access was illegal and the process was
	// terminated.
	FaultKilled

	// FaultOutOfMemory means no frame was available and the process was
	// terminated.
	FaultOutOfMemory
)

// String implements fmt.Stringer.String.
func (o FaultOutcome) String() string {
	switch o {
	case FaultResolved:
		return "resolved"
	case FaultKilled:
		return "killed"
	case FaultOutOfMemory:
		return "out_of_memory"
	default:
		return fmt.Sprintf("FaultOutcome(%d)", int(o))
	}
}

// FaultError reports a page fault that terminated the faulting process.
// The kernel itself keeps running; Next is what cpu runs now.
type FaultError struct {
	PID     sched.PID
	Addr    hostarch.Addr
	RIP     hostarch.Addr
	Code    mm.FaultCode
	Outcome FaultOutcome
	Next    sched.PID

	// Err is the address space's reason for refusing the fault.
	Err error
}

// Error implements error.Error.
func (e *FaultError) Error() string {
	return fmt.Sprintf("pid %d %s at %v (rip %v): %v", e.PID, e.Outcome, e.Addr, e.RIP, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FaultError) Unwrap() error {
	return e.Err
}

// PageFault delivers a page fault taken by the process running on cpu.
//
// A resolvable fault returns nil. Otherwise the process is terminated with
// exit code 139 for an access violation or 135 when memory is exhausted,
// the core is redispatched and a *FaultError is returned.
func (k *Kernel) PageFault(cpu int, addr hostarch.Addr, code mm.FaultCode, rip hostarch.Addr) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	pid, ok := k.sched.Running(cpu)
	if !ok {
		if cpu < 0 || cpu >= k.sched.NumCPUs() {
			return kernelerr.Errorf(kernelerr.ErrInvalidArgument, "CPU %d", cpu)
		}
		// Nothing in user mode took this fault.
		k.panicLocked(kernelerr.Errorf(kernelerr.ErrInvariantViolation, "page fault at %v (rip %v) on idle CPU %d", addr, rip, cpu))
	}
	p, err := k.liveLocked(pid)
	if err != nil {
		k.panicLocked(kernelerr.Errorf(kernelerr.ErrInvariantViolation, "CPU %d runs %w", cpu, err))
	}

	ferr := p.mm.HandleFault(addr, code)
	if ferr == nil {
		k.metrics.faults.Increment(FaultResolved.String())
		return nil
	}

	fe := &FaultError{PID: pid, Addr: addr, RIP: rip, Code: code, Err: ferr}
	status := ExitStatus{PID: pid}
	if errors.Is(ferr, kernelerr.ErrResourceExhaustion) {
		fe.Outcome = FaultOutOfMemory
		status.Code, status.Reason = ExitCodeResourceExhaustion, ExitResourceExhaustion
	} else {
		fe.Outcome = FaultKilled
		status.Code, status.Reason = ExitCodeAccessViolation, ExitAccessViolation
	}
	k.metrics.faults.Increment(fe.Outcome.String())
	k.faultLog.Warningf("%v", fe)

	if fe.Next, err = k.exitLocked(p, status); err != nil {
		return err
	}
	return fe
}

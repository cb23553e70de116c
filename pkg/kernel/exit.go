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
	"gvisor.dev/kcore/pkg/kernel/sched"
	"gvisor.dev/kcore/pkg/log"
)

// Exit terminates pid voluntarily with the given code.
func (k *Kernel) Exit(pid sched.PID, code int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, err := k.liveLocked(pid)
	if err != nil {
		return err
	}
	_, err = k.exitLocked(p, ExitStatus{PID: pid, Code: code, Reason: ExitNormal})
	return err
}

// Kill terminates pid from outside, whatever its state.
func (k *Kernel) Kill(pid sched.PID) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, err := k.liveLocked(pid)
	if err != nil {
		return err
	}
	_, err = k.exitLocked(p, ExitStatus{PID: pid, Code: ExitCodeKilled, Reason: ExitKilled})
	return err
}

// exitLocked turns p into a zombie: it leaves the scheduler, its address
// space is released and its children are handed to the kernel. If p was
// running, its core is redispatched and the next pid is returned.
//
// Preconditions: k.mu is locked. p is live.
func (k *Kernel) exitLocked(p *PCB, status ExitStatus) (sched.PID, error) {
	cpu, wasRunning, err := k.sched.Remove(p.pid)
	if err := k.checkLocked(err); err != nil {
		return sched.NoPID, err
	}
	p.State = sched.Zombie
	p.Quantum = 0
	p.exit = status
	p.blockReason = ""
	if p.mm != nil {
		p.mm.Release()
	}
	for _, c := range k.procs[1:] {
		if c != nil && c != p && c.parent == p.pid {
			c.parent = KernelPID
		}
	}
	k.metrics.exited.Increment(status.Reason.String())
	log.Debugf("pid %d exited: %v code %d", p.pid, status.Reason, status.Code)

	if !wasRunning {
		return sched.NoPID, nil
	}
	next, _, err := k.sched.Dispatch(cpu)
	if err := k.checkLocked(err); err != nil {
		return sched.NoPID, err
	}
	if next != sched.NoPID {
		k.metrics.switches.Increment()
	}
	return next, nil
}

// Reap collects the exit status of the zombie child pid of parent and
// frees its slot.
func (k *Kernel) Reap(parent, pid sched.PID) (ExitStatus, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, err := k.lookupLocked(pid)
	if err != nil || pid == KernelPID {
		return ExitStatus{}, kernelerr.Errorf(kernelerr.ErrProcessNotFound, "pid %d", pid)
	}
	if p.parent != parent {
		return ExitStatus{}, kernelerr.Errorf(kernelerr.ErrInvalidArgument, "pid %d is not a child of %d", pid, parent)
	}
	if p.State != sched.Zombie {
		return ExitStatus{}, kernelerr.Errorf(kernelerr.ErrInvalidArgument, "pid %d is %v, not a zombie", pid, p.State)
	}
	return k.reapLocked(p), nil
}

// ReapAny reaps the lowest-numbered zombie child of parent. It returns
// false if parent has no zombie child.
func (k *Kernel) ReapAny(parent sched.PID) (ExitStatus, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, p := range k.procs[1:] {
		if p != nil && p.parent == parent && p.State == sched.Zombie {
			return k.reapLocked(p), true
		}
	}
	return ExitStatus{}, false
}

// reapLocked frees the slot of the zombie p.
//
// Preconditions: k.mu is locked. p is a zombie.
func (k *Kernel) reapLocked(p *PCB) ExitStatus {
	p.State = sched.Terminated
	k.procs[p.pid] = nil
	k.live.Add(-1)
	return p.exit
}

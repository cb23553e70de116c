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

// Yield gives up the rest of the running quantum on cpu. It returns the pid
// running afterwards, which may be the same process.
func (k *Kernel) Yield(cpu int) (sched.PID, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	prev, _ := k.sched.Running(cpu)
	next, ok, err := k.sched.Yield(cpu)
	if err := k.checkLocked(err); err != nil {
		return sched.NoPID, false, err
	}
	if ok && next != prev {
		k.metrics.switches.Increment()
	}
	return next, ok, nil
}

// Block suspends the running process pid until Unblock. Its core is
// redispatched and the next pid returned.
func (k *Kernel) Block(pid sched.PID, reason string) (sched.PID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, err := k.liveLocked(pid)
	if err != nil {
		return sched.NoPID, err
	}
	if p.State != sched.Running {
		return sched.NoPID, kernelerr.Errorf(kernelerr.ErrInvalidArgument, "pid %d is %v, only a running process can block", pid, p.State)
	}
	cpu, err := k.sched.Block(pid)
	if err := k.checkLocked(err); err != nil {
		return sched.NoPID, err
	}
	p.blockReason = reason
	log.Debugf("pid %d blocked on CPU %d: %s", pid, cpu, reason)
	next, _, err := k.sched.Dispatch(cpu)
	if err := k.checkLocked(err); err != nil {
		return sched.NoPID, err
	}
	if next != sched.NoPID {
		k.metrics.switches.Increment()
	}
	return next, nil
}

// Unblock makes the blocked process pid ready again on the core it last
// ran on, at its current level.
func (k *Kernel) Unblock(pid sched.PID) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, err := k.liveLocked(pid)
	if err != nil {
		return err
	}
	if p.State != sched.Blocked {
		return kernelerr.Errorf(kernelerr.ErrInvalidArgument, "pid %d is %v, not blocked", pid, p.State)
	}
	if _, err := k.sched.AddReadyProcess(pid, p.Priority); k.checkLocked(err) != nil {
		return err
	}
	p.blockReason = ""
	return nil
}

// TimerTick delivers a timer interrupt to cpu. It charges the running
// process, preempts it when its quantum is spent and dispatches onto an idle
// core. It returns the pid to resume on cpu and whether that pid was newly
// dispatched by this tick.
func (k *Kernel) TimerTick(cpu int) (sched.PID, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.metrics.ticks.Increment()
	res, err := k.sched.Tick(cpu)
	if err := k.checkLocked(err); err != nil {
		return sched.NoPID, false, err
	}
	if res.Boosted {
		k.metrics.boosts.Increment()
	}
	if res.Preempted != sched.NoPID {
		k.metrics.preemptions.Increment()
	}
	if res.Running == sched.NoPID {
		next, ok, err := k.sched.Dispatch(cpu)
		if err := k.checkLocked(err); err != nil {
			return sched.NoPID, false, err
		}
		res.Running, res.Dispatched = next, ok
	}
	if res.Dispatched && res.Running != res.Preempted {
		k.metrics.switches.Increment()
	}
	return res.Running, res.Dispatched, nil
}

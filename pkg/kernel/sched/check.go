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

package sched

import "gvisor.dev/kcore/pkg/errors/kernelerr"

// Check verifies that queue membership and entity states agree: every
// queued pid is Ready at its queue's level and core and appears once, the
// membership index matches the queues, and every running pid is Running on
// its core.
func (s *Scheduler) Check() error {
	for _, c := range s.cores {
		c.mu.Lock()
		defer c.mu.Unlock()
	}
	s.memberMu.Lock()
	defer s.memberMu.Unlock()

	seen := make(map[PID]int)
	for _, c := range s.cores {
		for prio := range c.queues {
			for _, pid := range c.queues[prio].pids {
				if cpu, ok := seen[pid]; ok {
					return kernelerr.Errorf(kernelerr.ErrInvariantViolation, "pid %d queued on CPU %d and CPU %d", pid, cpu, c.id)
				}
				seen[pid] = c.id
				e, ok := s.table.Entity(pid)
				if !ok {
					return kernelerr.Errorf(kernelerr.ErrInvariantViolation, "queued pid %d has no process", pid)
				}
				if e.State != Ready || e.Priority != Priority(prio) || e.CPU != c.id {
					return kernelerr.Errorf(kernelerr.ErrInvariantViolation, "pid %d in CPU %d %v queue is %v at %v on CPU %d", pid, c.id, Priority(prio), e.State, e.Priority, e.CPU)
				}
				if cpu, ok := s.member[pid]; !ok || cpu != c.id {
					return kernelerr.Errorf(kernelerr.ErrInvariantViolation, "membership of pid %d is %d, %v; queued on CPU %d", pid, cpu, ok, c.id)
				}
			}
		}
		if c.running != NoPID {
			if _, ok := seen[c.running]; ok {
				return kernelerr.Errorf(kernelerr.ErrInvariantViolation, "running pid %d is also queued", c.running)
			}
			e, ok := s.table.Entity(c.running)
			if !ok || e.State != Running || e.CPU != c.id {
				return kernelerr.Errorf(kernelerr.ErrInvariantViolation, "pid %d occupies CPU %d but is not Running there", c.running, c.id)
			}
		}
	}
	if len(seen) != len(s.member) {
		return kernelerr.Errorf(kernelerr.ErrInvariantViolation, "%d queued pids, %d in the membership index", len(seen), len(s.member))
	}
	return nil
}

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

import (
	"fmt"
	"strings"
)

// PID identifies a process. It is an index into the process table.
type PID int32

// NoPID is returned where no process applies, e.g. for an idle core.
const NoPID PID = -1

// State is the lifecycle state of a process.
type State int

// Process states.
//
// Created -> Ready -> Running -> {Blocked <-> Ready} -> Zombie -> Terminated.
const (
	// Created is a process whose memory is being set up.
	Created State = iota

	// Ready is a process waiting in exactly one ready queue.
	Ready

	// Running is a process occupying a core. It is in no ready queue.
	Running

	// Blocked is a process waiting for an event. It is in no ready queue.
	Blocked

	// Zombie is a process that has exited and holds only its exit status.
	Zombie

	// Terminated is a reaped process. Its slot may be reused.
	Terminated
)

var stateNames = [...]string{
	Created:    "created",
	Ready:      "ready",
	Running:    "running",
	Blocked:    "blocked",
	Zombie:     "zombie",
	Terminated: "terminated",
}

// String implements fmt.Stringer.String.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Priority is a scheduling level. Higher values are dispatched first.
type Priority int

// Priority levels.
const (
	Idle Priority = iota
	Low
	Normal
	High
	RealTime

	// NumPriorities is the number of levels.
	NumPriorities = int(RealTime) + 1
)

var priorityNames = [...]string{
	Idle:     "idle",
	Low:      "low",
	Normal:   "normal",
	High:     "high",
	RealTime: "realtime",
}

// String implements fmt.Stringer.String.
func (p Priority) String() string {
	if p.Valid() {
		return priorityNames[p]
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// Valid returns true if p is one of the defined levels.
func (p Priority) Valid() bool {
	return p >= Idle && p <= RealTime
}

// ParsePriority parses a priority name as returned by Priority.String.
func ParsePriority(s string) (Priority, error) {
	for p, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return Priority(p), nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// demote returns the level below p. RealTime is never demoted and Idle has
// nowhere to go.
func (p Priority) demote() Priority {
	if p == RealTime || p == Idle {
		return p
	}
	return p - 1
}

// boost returns the level a waiting process moves to on a priority boost.
// Idle is never boosted and RealTime is the ceiling.
func (p Priority) boost() Priority {
	if p >= Low && p < RealTime {
		return p + 1
	}
	return p
}

// Entity is the scheduling state of one process. It is embedded in the
// process control block; the scheduler reaches it through a Table.
type Entity struct {
	// State is the lifecycle state.
	State State

	// Priority is the current level.
	Priority Priority

	// Quantum is the number of ticks left before preemption. It is only
	// meaningful while Running.
	Quantum uint32

	// CPU is the core the process is assigned to, or -1.
	CPU int

	// RunTicks is the total number of ticks spent running.
	RunTicks uint64

	// Dispatches is the number of times the process was dispatched.
	Dispatches uint64

	// WaitTicks is the total number of core ticks spent in ready queues,
	// counted when the process is dispatched.
	WaitTicks uint64

	// enqueuedAt is the core tick at which the process last entered a
	// ready queue.
	enqueuedAt uint64
}

// NewEntity returns the entity of a freshly created process.
func NewEntity(prio Priority) Entity {
	return Entity{State: Created, Priority: prio, CPU: -1}
}

// Table resolves pids to entities.
type Table interface {
	// Entity returns the entity of pid, or false if pid has no live
	// process.
	Entity(pid PID) (*Entity, bool)
}

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

// Package sched implements a multi-core multilevel feedback queue
// scheduler.
//
// Each core owns one FIFO ready queue per priority level and at most one
// running process. Dispatch takes the head of the highest non-empty level,
// so RealTime work always runs first. A process that exhausts its quantum
// is demoted one level (RealTime never is) and requeued at the tail. Every
// BoostInterval ticks of a core, its waiting Low, Normal and High processes
// move up one level, which bounds how long any of them can starve.
//
// The scheduler works on pids only. Per-process state lives in an Entity
// owned by the caller's process table and is reached through a Table.
//
// Locking: each core has a mutex guarding its queues, its running slot and
// the entities assigned to it. A separate mutex guards the membership index
// that enforces "a pid is in at most one queue". Core locks are taken
// before the membership lock and never more than one at a time, except by
// Check, which takes them in core order.
//
// AddReadyProcess, Block, Remove and Priority read an entity's State and CPU
// to find its core before locking that core. Callers must serialize these
// calls for any one pid; the kernel does so under its own mutex. Tick,
// Dispatch and Yield work only under the core lock and may run concurrently
// on different cores.
package sched

import (
	"fmt"
	"sync"
	"sync/atomic"

	kerrors "gvisor.dev/kcore/pkg/errors"
	"gvisor.dev/kcore/pkg/errors/kernelerr"
	"gvisor.dev/kcore/pkg/log"
)

// ErrInvalidCPU is returned for a core index outside [0, NumCPUs).
var ErrInvalidCPU = kerrors.New(kerrors.ClassInvalidArgument, "invalid CPU")

// Placement selects the core of a new process.
type Placement int

// Placement policies.
const (
	// ShortestQueue picks the core with the fewest ready processes, the
	// lowest index on ties.
	ShortestQueue Placement = iota

	// RoundRobin cycles through the cores.
	RoundRobin
)

// String implements fmt.Stringer.String.
func (p Placement) String() string {
	switch p {
	case ShortestQueue:
		return "shortest-queue"
	case RoundRobin:
		return "round-robin"
	default:
		return fmt.Sprintf("Placement(%d)", int(p))
	}
}

// ParsePlacement parses a placement name as returned by Placement.String.
func ParsePlacement(s string) (Placement, error) {
	for _, p := range []Placement{ShortestQueue, RoundRobin} {
		if s == p.String() {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown placement %q", s)
}

// Metadata is what a HintFunc may base its advice on.
type Metadata struct {
	Priority   Priority
	RunTicks   uint64
	Dispatches uint64
	WaitTicks  uint64
}

// HintFunc returns a priority adjustment for pid as it enters a ready queue
// through AddReadyProcess. It must not have side effects on the scheduler.
// The adjusted level is clamped to [Idle, High], or to [Idle, RealTime] for
// a process that is already RealTime, so a hint never promotes a process
// into RealTime.
type HintFunc func(pid PID, md Metadata) int

// Options configures a Scheduler.
type Options struct {
	// NumCPUs is the number of cores.
	NumCPUs int

	// Quanta holds the quantum of each level, in ticks.
	Quanta [NumPriorities]uint32

	// BoostInterval is the number of core ticks between priority boosts.
	// Zero disables boosting.
	BoostInterval uint64

	// Placement selects the core of new processes.
	Placement Placement

	// Hint is optional.
	Hint HintFunc
}

// DefaultOptions returns the default options for numCPUs cores.
func DefaultOptions(numCPUs int) Options {
	return Options{
		NumCPUs: numCPUs,
		Quanta: [NumPriorities]uint32{
			Idle:     32,
			Low:      16,
			Normal:   8,
			High:     4,
			RealTime: 2,
		},
		BoostInterval: 50,
		Placement:     ShortestQueue,
	}
}

// Validate checks o.
func (o *Options) Validate() error {
	if o.NumCPUs <= 0 {
		return fmt.Errorf("number of CPUs must be positive, got %d", o.NumCPUs)
	}
	for p, q := range o.Quanta {
		if q == 0 {
			return fmt.Errorf("quantum of %v must be positive", Priority(p))
		}
	}
	if o.Placement != ShortestQueue && o.Placement != RoundRobin {
		return fmt.Errorf("unknown placement %v", o.Placement)
	}
	return nil
}

// core is the per-CPU scheduling state.
type core struct {
	id int

	mu sync.Mutex

	// +checklocks:mu
	queues [NumPriorities]readyQueue

	// running is the pid occupying the core, or NoPID.
	//
	// +checklocks:mu
	running PID

	// ticks counts timer ticks on this core.
	//
	// +checklocks:mu
	ticks uint64
}

// readyLocked returns the number of queued pids.
//
// Preconditions: c.mu is locked.
func (c *core) readyLocked() int {
	n := 0
	for i := range c.queues {
		n += c.queues[i].len()
	}
	return n
}

// Stats counts scheduling events.
type Stats struct {
	Dispatches  uint64
	Preemptions uint64
	Yields      uint64
	Boosts      uint64
	Promotions  uint64
}

// Scheduler is a multi-core MLFQ scheduler.
type Scheduler struct {
	table Table
	opts  Options
	cores []*core

	memberMu sync.Mutex

	// member maps each queued pid to its core.
	//
	// +checklocks:memberMu
	member map[PID]int

	// nextCPU is the next core for RoundRobin placement.
	nextCPU atomic.Uint32

	dispatches  atomic.Uint64
	preemptions atomic.Uint64
	yields      atomic.Uint64
	boosts      atomic.Uint64
	promotions  atomic.Uint64
}

// New returns a scheduler over the processes in table.
func New(table Table, opts Options) (*Scheduler, error) {
	if err := opts.Validate(); err != nil {
		return nil, kernelerr.Errorf(kernelerr.ErrInvalidArgument, "scheduler options: %w", err)
	}
	s := &Scheduler{
		table:  table,
		opts:   opts,
		cores:  make([]*core, opts.NumCPUs),
		member: make(map[PID]int),
	}
	for i := range s.cores {
		s.cores[i] = &core{id: i, running: NoPID}
	}
	return s, nil
}

// NumCPUs returns the number of cores.
func (s *Scheduler) NumCPUs() int {
	return len(s.cores)
}

// Options returns the options the scheduler was built with.
func (s *Scheduler) Options() Options {
	return s.opts
}

func (s *Scheduler) core(cpu int) (*core, error) {
	if cpu < 0 || cpu >= len(s.cores) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCPU, cpu)
	}
	return s.cores[cpu], nil
}

func (s *Scheduler) entity(pid PID) (*Entity, error) {
	e, ok := s.table.Entity(pid)
	if !ok {
		return nil, kernelerr.Errorf(kernelerr.ErrProcessNotFound, "pid %d", pid)
	}
	return e, nil
}

// mustEntity returns the entity of a pid the scheduler holds. A missing
// entity means the table and the queues disagree.
func (s *Scheduler) mustEntity(pid PID) (*Entity, error) {
	e, ok := s.table.Entity(pid)
	if !ok {
		return nil, kernelerr.Errorf(kernelerr.ErrInvariantViolation, "queued pid %d has no process", pid)
	}
	return e, nil
}

// enqueueLocked appends pid to the tail of level prio on c.
//
// Preconditions: c.mu is locked.
func (s *Scheduler) enqueueLocked(c *core, pid PID, e *Entity, prio Priority) error {
	s.memberMu.Lock()
	if cpu, ok := s.member[pid]; ok {
		s.memberMu.Unlock()
		return kernelerr.Errorf(kernelerr.ErrInvariantViolation, "pid %d already queued on CPU %d", pid, cpu)
	}
	s.member[pid] = c.id
	s.memberMu.Unlock()

	e.State = Ready
	e.Priority = prio
	e.CPU = c.id
	e.enqueuedAt = c.ticks
	c.queues[prio].pushBack(pid)
	return nil
}

func (s *Scheduler) forget(pid PID) {
	s.memberMu.Lock()
	delete(s.member, pid)
	s.memberMu.Unlock()
}

// place returns the core for a new process.
func (s *Scheduler) place() *core {
	if s.opts.Placement == RoundRobin {
		return s.cores[int(s.nextCPU.Add(1)-1)%len(s.cores)]
	}
	best, bestLoad := s.cores[0], -1
	for _, c := range s.cores {
		c.mu.Lock()
		load := c.readyLocked()
		c.mu.Unlock()
		if bestLoad < 0 || load < bestLoad {
			best, bestLoad = c, load
		}
	}
	return best
}

// hinted applies the hint to prio.
func (s *Scheduler) hinted(pid PID, e *Entity, prio Priority) Priority {
	if s.opts.Hint == nil {
		return prio
	}
	delta := s.opts.Hint(pid, Metadata{Priority: prio, RunTicks: e.RunTicks, Dispatches: e.Dispatches, WaitTicks: e.WaitTicks})
	ceiling := High
	if prio == RealTime {
		ceiling = RealTime
	}
	p := int(prio) + delta
	switch {
	case p < int(Idle):
		p = int(Idle)
	case p > int(ceiling):
		p = int(ceiling)
	}
	return Priority(p)
}

// AddReadyProcess makes pid ready at level prio. A Created process is
// placed on a core by the placement policy; a Blocked one returns to the
// core it last ran on. It returns the chosen core.
func (s *Scheduler) AddReadyProcess(pid PID, prio Priority) (int, error) {
	if !prio.Valid() {
		return -1, kernelerr.Errorf(kernelerr.ErrInvalidArgument, "priority %v", prio)
	}
	e, err := s.entity(pid)
	if err != nil {
		return -1, err
	}

	var c *core
	switch e.State {
	case Created:
		c = s.place()
	case Blocked:
		if c, err = s.core(e.CPU); err != nil {
			return -1, kernelerr.Errorf(kernelerr.ErrInvariantViolation, "blocked pid %d on %w", pid, err)
		}
	default:
		return -1, kernelerr.Errorf(kernelerr.ErrInvariantViolation, "pid %d cannot become ready from state %v", pid, e.State)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := s.enqueueLocked(c, pid, e, s.hinted(pid, e, prio)); err != nil {
		return -1, err
	}
	return c.id, nil
}

// dispatchLocked runs the head of the highest non-empty level on c.
//
// Preconditions: c.mu is locked. c is idle.
func (s *Scheduler) dispatchLocked(c *core) (PID, bool, error) {
	for prio := RealTime; prio >= Idle; prio-- {
		pid, ok := c.queues[prio].popFront()
		if !ok {
			continue
		}
		s.forget(pid)
		e, err := s.mustEntity(pid)
		if err != nil {
			return NoPID, false, err
		}
		if e.State != Ready || e.Priority != prio || e.CPU != c.id {
			return NoPID, false, kernelerr.Errorf(kernelerr.ErrInvariantViolation, "pid %d queued at %v on CPU %d has state %v, priority %v, CPU %d", pid, prio, c.id, e.State, e.Priority, e.CPU)
		}
		e.State = Running
		e.Quantum = s.opts.Quanta[prio]
		e.Dispatches++
		e.WaitTicks += c.ticks - e.enqueuedAt
		c.running = pid
		s.dispatches.Add(1)
		return pid, true, nil
	}
	return NoPID, false, nil
}

// Dispatch picks a process to run on an idle core. It returns the pid now
// running on cpu and whether it was dispatched by this call; a busy core is
// left alone.
func (s *Scheduler) Dispatch(cpu int) (PID, bool, error) {
	c, err := s.core(cpu)
	if err != nil {
		return NoPID, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running != NoPID {
		return c.running, false, nil
	}
	return s.dispatchLocked(c)
}

// TickResult describes what one timer tick did to a core.
type TickResult struct {
	// Running is the pid running after the tick, or NoPID.
	Running PID

	// Dispatched is true if Running was dispatched by this tick.
	Dispatched bool

	// Preempted is the pid whose quantum ran out, or NoPID.
	Preempted PID

	// Promoted is the number of processes moved up by a boost.
	Promoted int

	// Boosted is true if this tick was a boost tick.
	Boosted bool
}

// Tick advances cpu by one timer tick: boost on every BoostInterval-th
// tick, charge the running process, and preempt it if its quantum is spent.
// An idle core stays idle; dispatching onto it is the caller's decision.
func (s *Scheduler) Tick(cpu int) (TickResult, error) {
	c, err := s.core(cpu)
	if err != nil {
		return TickResult{Running: NoPID, Preempted: NoPID}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	res := TickResult{Running: c.running, Preempted: NoPID}
	c.ticks++
	if s.opts.BoostInterval != 0 && c.ticks%s.opts.BoostInterval == 0 {
		n, err := s.boostLocked(c)
		if err != nil {
			return res, err
		}
		res.Boosted = true
		res.Promoted = n
	}

	if c.running == NoPID {
		return res, nil
	}
	pid := c.running
	e, err := s.mustEntity(pid)
	if err != nil {
		return res, err
	}
	e.RunTicks++
	if e.Quantum > 0 {
		e.Quantum--
	}
	if e.Quantum > 0 {
		return res, nil
	}

	// Quantum exhausted: requeue demoted, then pick again.
	c.running = NoPID
	if err := s.enqueueLocked(c, pid, e, e.Priority.demote()); err != nil {
		return res, err
	}
	s.preemptions.Add(1)
	res.Preempted = pid
	next, ok, err := s.dispatchLocked(c)
	if err != nil {
		return res, err
	}
	res.Running = next
	res.Dispatched = ok
	return res, nil
}

// boostLocked promotes every waiter from Low through High one level. Promoted
// processes join the tail of their new level in their old order.
//
// Preconditions: c.mu is locked.
func (s *Scheduler) boostLocked(c *core) (int, error) {
	promoted := 0
	// Walk downwards so each level is drained before lower levels are
	// appended to it.
	for prio := High; prio >= Low; prio-- {
		to := prio.boost()
		for _, pid := range c.queues[prio].drain() {
			e, err := s.mustEntity(pid)
			if err != nil {
				return promoted, err
			}
			e.Priority = to
			c.queues[to].pushBack(pid)
			promoted++
		}
	}
	s.boosts.Add(1)
	s.promotions.Add(uint64(promoted))
	if promoted > 0 {
		log.Debugf("CPU %d: boost at tick %d promoted %d processes", c.id, c.ticks, promoted)
	}
	return promoted, nil
}

// Yield moves the running process of cpu to the tail of its level and
// dispatches again, possibly the same process.
func (s *Scheduler) Yield(cpu int) (PID, bool, error) {
	c, err := s.core(cpu)
	if err != nil {
		return NoPID, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running == NoPID {
		return NoPID, false, nil
	}
	pid := c.running
	e, err := s.mustEntity(pid)
	if err != nil {
		return NoPID, false, err
	}
	c.running = NoPID
	if err := s.enqueueLocked(c, pid, e, e.Priority); err != nil {
		return NoPID, false, err
	}
	s.yields.Add(1)
	return s.dispatchLocked(c)
}

// Block takes the running process pid off its core and marks it Blocked.
// It returns the core, which is left idle.
func (s *Scheduler) Block(pid PID) (int, error) {
	e, err := s.entity(pid)
	if err != nil {
		return -1, err
	}
	if e.State != Running {
		return -1, kernelerr.Errorf(kernelerr.ErrInvariantViolation, "pid %d cannot block from state %v", pid, e.State)
	}
	c, err := s.core(e.CPU)
	if err != nil {
		return -1, kernelerr.Errorf(kernelerr.ErrInvariantViolation, "running pid %d on %w", pid, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running != pid {
		return -1, kernelerr.Errorf(kernelerr.ErrInvariantViolation, "pid %d is Running but CPU %d runs %d", pid, c.id, c.running)
	}
	c.running = NoPID
	e.State = Blocked
	return c.id, nil
}

// Remove drops pid from its queue or core, for exit and kill. It returns
// the core pid was on and whether it was running there. The entity's state
// is left for the caller to set.
func (s *Scheduler) Remove(pid PID) (cpu int, wasRunning bool, err error) {
	e, err := s.entity(pid)
	if err != nil {
		return -1, false, err
	}
	switch e.State {
	case Created, Blocked, Zombie, Terminated:
		return e.CPU, false, nil
	}
	c, err := s.core(e.CPU)
	if err != nil {
		return -1, false, kernelerr.Errorf(kernelerr.ErrInvariantViolation, "pid %d on %w", pid, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch e.State {
	case Running:
		if c.running != pid {
			return c.id, false, kernelerr.Errorf(kernelerr.ErrInvariantViolation, "pid %d is Running but CPU %d runs %d", pid, c.id, c.running)
		}
		c.running = NoPID
		return c.id, true, nil
	default:
		if !c.queues[e.Priority].remove(pid) {
			return c.id, false, kernelerr.Errorf(kernelerr.ErrInvariantViolation, "ready pid %d missing from CPU %d %v queue", pid, c.id, e.Priority)
		}
		s.forget(pid)
		return c.id, false, nil
	}
}

// Running returns the pid running on cpu.
func (s *Scheduler) Running(cpu int) (PID, bool) {
	c, err := s.core(cpu)
	if err != nil {
		return NoPID, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running, c.running != NoPID
}

// ReadyCount returns the number of ready processes on all cores.
func (s *Scheduler) ReadyCount() int {
	n := 0
	for _, c := range s.cores {
		c.mu.Lock()
		n += c.readyLocked()
		c.mu.Unlock()
	}
	return n
}

// QueueLen returns the length of the prio queue of cpu.
func (s *Scheduler) QueueLen(cpu int, prio Priority) (int, error) {
	c, err := s.core(cpu)
	if err != nil {
		return 0, err
	}
	if !prio.Valid() {
		return 0, kernelerr.Errorf(kernelerr.ErrInvalidArgument, "priority %v", prio)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queues[prio].len(), nil
}

// CoreLoad returns the number of ready processes on cpu.
func (s *Scheduler) CoreLoad(cpu int) (int, error) {
	c, err := s.core(cpu)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyLocked(), nil
}

// Ticks returns the number of ticks cpu has seen.
func (s *Scheduler) Ticks(cpu int) (uint64, error) {
	c, err := s.core(cpu)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks, nil
}

// Priority returns the current level of pid. It reads the entity's CPU
// unlocked; see the package comment.
func (s *Scheduler) Priority(pid PID) (Priority, error) {
	e, err := s.entity(pid)
	if err != nil {
		return 0, err
	}
	if e.CPU < 0 {
		return e.Priority, nil
	}
	c := s.cores[e.CPU]
	c.mu.Lock()
	defer c.mu.Unlock()
	return e.Priority, nil
}

// Stats returns the event counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Dispatches:  s.dispatches.Load(),
		Preemptions: s.preemptions.Load(),
		Yields:      s.yields.Load(),
		Boosts:      s.boosts.Load(),
		Promotions:  s.promotions.Load(),
	}
}

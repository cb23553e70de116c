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
	"github.com/mohae/deepcopy"

	"gvisor.dev/kcore/pkg/errors/kernelerr"
	"gvisor.dev/kcore/pkg/hostarch"
	"gvisor.dev/kcore/pkg/kernel/arch"
	"gvisor.dev/kcore/pkg/kernel/mm"
	"gvisor.dev/kcore/pkg/kernel/sched"
	"gvisor.dev/kcore/pkg/log"
)

// ProcessInfo is a snapshot of one process table entry.
type ProcessInfo struct {
	PID         sched.PID      `json:"pid"`
	Parent      sched.PID      `json:"parent"`
	Name        string         `json:"name"`
	State       sched.State    `json:"state"`
	Priority    sched.Priority `json:"priority"`
	CPU         int            `json:"cpu"`
	RunTicks    uint64         `json:"run_ticks"`
	Dispatches  uint64         `json:"dispatches"`
	WaitTicks   uint64         `json:"wait_ticks"`
	BlockReason string         `json:"block_reason,omitempty"`
	Entry       hostarch.Addr  `json:"entry"`

	// Exit is set once the process is a zombie.
	Exit *ExitStatus `json:"exit,omitempty"`

	Regions []mm.RegionInfo `json:"regions,omitempty"`
	Memory  mm.Stats        `json:"memory"`
	Regs    arch.Registers  `json:"regs"`
}

// Diagnostics receives the process table when the kernel panics.
type Diagnostics interface {
	// DumpProcessTable is called with the kernel lock held. It must not
	// call back into the kernel.
	DumpProcessTable(reason string, table []ProcessInfo)
}

// logDiagnostics writes the table to the log.
type logDiagnostics struct{}

// DumpProcessTable implements Diagnostics.DumpProcessTable.
func (logDiagnostics) DumpProcessTable(reason string, table []ProcessInfo) {
	log.Warningf("Process table at %s:", reason)
	for _, pi := range table {
		log.Warningf("  pid %d parent %d %-8s %v %v CPU %d ticks %d mapped %d", pi.PID, pi.Parent, pi.Name, pi.State, pi.Priority, pi.CPU, pi.RunTicks, pi.Memory.Mapped)
	}
}

// info returns the snapshot of p.
func (p *PCB) info() ProcessInfo {
	pi := ProcessInfo{
		PID:         p.pid,
		Parent:      p.parent,
		Name:        p.name,
		State:       p.State,
		Priority:    p.Priority,
		CPU:         p.CPU,
		RunTicks:    p.RunTicks,
		Dispatches:  p.Dispatches,
		WaitTicks:   p.WaitTicks,
		BlockReason: p.blockReason,
		Regs:        p.regs,
	}
	if p.layout != nil {
		pi.Entry = p.layout.Entry
	}
	if !p.live() {
		exit := p.exit
		pi.Exit = &exit
	}
	if p.mm != nil {
		pi.Regions = p.mm.Regions()
		pi.Memory = p.mm.Stats()
	}
	return pi
}

// dumpLocked returns a snapshot of every process, the kernel first.
//
// Preconditions: k.mu is locked.
func (k *Kernel) dumpLocked() []ProcessInfo {
	table := make([]ProcessInfo, 0, len(k.procs))
	for _, p := range k.procs {
		if p != nil {
			table = append(table, p.info())
		}
	}
	// Collaborators may keep the table; nothing in it may alias kernel
	// state.
	return deepcopy.Copy(table).([]ProcessInfo)
}

// DumpProcessTable returns a snapshot of the process table.
func (k *Kernel) DumpProcessTable() []ProcessInfo {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dumpLocked()
}

// Process returns a snapshot of pid.
func (k *Kernel) Process(pid sched.PID) (ProcessInfo, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, err := k.lookupLocked(pid)
	if err != nil {
		return ProcessInfo{}, err
	}
	return p.info(), nil
}

// CheckInvariants verifies the process table against the scheduler and
// every address space against the frame allocator.
func (k *Kernel) CheckInvariants() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.sched.Check(); err != nil {
		return err
	}

	var frames uint64
	for _, p := range k.procs[1:] {
		if p == nil {
			continue
		}
		switch p.State {
		case sched.Running:
			if running, ok := k.sched.Running(p.CPU); !ok || running != p.pid {
				return kernelerr.Errorf(kernelerr.ErrInvariantViolation, "pid %d is Running on CPU %d, which runs %d", p.pid, p.CPU, running)
			}
		case sched.Created, sched.Terminated:
			return kernelerr.Errorf(kernelerr.ErrInvariantViolation, "pid %d is in the table as %v", p.pid, p.State)
		}
		if err := p.mm.Check(); err != nil {
			return kernelerr.Errorf(kernelerr.ErrInvariantViolation, "pid %d: %w", p.pid, err)
		}
		s := p.mm.Stats()
		if !p.live() && (s.Mapped != 0 || s.TableFrames != 0) {
			return kernelerr.Errorf(kernelerr.ErrInvariantViolation, "zombie pid %d holds %d pages and %d tables", p.pid, s.Mapped, s.TableFrames)
		}
		frames += s.Mapped + s.TableFrames
	}
	if used := k.alloc.UsedFrames(); used != frames {
		return kernelerr.Errorf(kernelerr.ErrInvariantViolation, "%d frames in use, %d accounted to processes", used, frames)
	}
	return nil
}

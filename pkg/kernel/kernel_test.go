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
	"bytes"
	"debug/elf"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/sync/errgroup"

	"gvisor.dev/kcore/pkg/errors/kernelerr"
	"gvisor.dev/kcore/pkg/hostarch"
	"gvisor.dev/kcore/pkg/kernel/arch"
	"gvisor.dev/kcore/pkg/kernel/loader/elftest"
	"gvisor.dev/kcore/pkg/kernel/mm"
	"gvisor.dev/kcore/pkg/kernel/pmm"
	"gvisor.dev/kcore/pkg/kernel/sched"
)

// A minimal process holds its text page and the four tables that map it.
const minimalFrames = 5

// Touching the stack adds one page and three tables.
const stackFrames = 4

// stackAddr is in the top stack page.
const stackAddr = hostarch.UserStackTop - 8

// recorder is a Diagnostics that keeps the last dump.
type recorder struct {
	reason string
	table  []ProcessInfo
}

func (r *recorder) DumpProcessTable(reason string, table []ProcessInfo) {
	r.reason = reason
	r.table = table
}

func newTestKernel(t *testing.T, cpus int, frames uint64) (*Kernel, *recorder) {
	t.Helper()
	opts := DefaultOptions(cpus, 1)
	opts.Memory = []pmm.Range{{Start: 0x100000, End: 0x100000 + frames*hostarch.PageSize}}
	rec := &recorder{}
	opts.Diagnostics = rec
	opts.FaultLogInterval = 0
	k, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		if err := k.Release(); err != nil {
			t.Errorf("Release failed: %v", err)
		}
	})
	return k, rec
}

func mustCreate(t *testing.T, k *Kernel, parent sched.PID) sched.PID {
	t.Helper()
	pid, err := k.CreateProcess(elftest.Minimal().Bytes(), parent)
	if err != nil {
		t.Fatalf("CreateProcess failed: %v", err)
	}
	return pid
}

func mustTick(t *testing.T, k *Kernel, cpu int) sched.PID {
	t.Helper()
	pid, _, err := k.TimerTick(cpu)
	if err != nil {
		t.Fatalf("TimerTick(%d) failed: %v", cpu, err)
	}
	return pid
}

func checkInvariants(t *testing.T, k *Kernel) {
	t.Helper()
	if err := k.CheckInvariants(); err != nil {
		t.Fatalf("CheckInvariants failed: %v", err)
	}
}

func stateOf(t *testing.T, k *Kernel, pid sched.PID) sched.State {
	t.Helper()
	pi, err := k.Process(pid)
	if err != nil {
		t.Fatalf("Process(%d) failed: %v", pid, err)
	}
	return pi.State
}

func TestLifecycle(t *testing.T) {
	k, _ := newTestKernel(t, 1, 64)

	pid := mustCreate(t, k, KernelPID)
	if pid != 1 {
		t.Errorf("first pid = %d, want: 1", pid)
	}
	if got := stateOf(t, k, pid); got != sched.Ready {
		t.Errorf("state after create = %v, want: Ready", got)
	}
	if got := k.Allocator().UsedFrames(); got != minimalFrames {
		t.Errorf("UsedFrames = %d, want: %d", got, minimalFrames)
	}
	regs, err := k.Context(pid)
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if regs.IP() != 0x400000 || !regs.IsUser() {
		t.Errorf("initial context = %v, want user mode at 0x400000", &regs)
	}
	checkInvariants(t, k)

	if got, dispatched, err := k.TimerTick(0); err != nil || got != pid || !dispatched {
		t.Fatalf("TimerTick = %d, %v, %v, want: %d, true, nil", got, dispatched, err, pid)
	}
	if got := stateOf(t, k, pid); got != sched.Running {
		t.Errorf("state after tick = %v, want: Running", got)
	}
	checkInvariants(t, k)

	if err := k.Exit(pid, 3); err != nil {
		t.Fatalf("Exit failed: %v", err)
	}
	if got := stateOf(t, k, pid); got != sched.Zombie {
		t.Errorf("state after exit = %v, want: Zombie", got)
	}
	if got := k.Allocator().UsedFrames(); got != 0 {
		t.Errorf("UsedFrames after exit = %d, want: 0", got)
	}
	if _, ok := k.Running(0); ok {
		t.Errorf("CPU 0 still runs a process")
	}
	if err := k.Exit(pid, 4); !errors.Is(err, kernelerr.ErrProcessNotFound) {
		t.Errorf("second Exit = %v, want: ErrProcessNotFound", err)
	}
	checkInvariants(t, k)

	status, err := k.Reap(KernelPID, pid)
	if err != nil {
		t.Fatalf("Reap failed: %v", err)
	}
	if want := (ExitStatus{PID: pid, Code: 3, Reason: ExitNormal}); status != want {
		t.Errorf("Reap = %+v, want: %+v", status, want)
	}
	if _, err := k.Process(pid); !errors.Is(err, kernelerr.ErrProcessNotFound) {
		t.Errorf("Process after reap = %v, want: ErrProcessNotFound", err)
	}
	if got := k.LiveProcesses(); got != 0 {
		t.Errorf("LiveProcesses = %d, want: 0", got)
	}

	// The slot is reused.
	if got := mustCreate(t, k, KernelPID); got != pid {
		t.Errorf("pid after reap = %d, want: %d", got, pid)
	}
}

func TestCreateRollback(t *testing.T) {
	badMachine := elftest.Minimal()
	badMachine.Machine = elf.EM_AARCH64

	for _, tc := range []struct {
		name   string
		image  []byte
		frames uint64
		want   error
	}{
		{
			name:   "bad image",
			image:  badMachine.Bytes(),
			frames: 64,
			want:   kernelerr.ErrBinaryFormat,
		},
		{
			name:   "truncated",
			image:  elftest.Minimal().Bytes()[:10],
			frames: 64,
			want:   kernelerr.ErrBinaryFormat,
		},
		{
			name:   "out of memory",
			image:  elftest.Minimal().Bytes(),
			frames: minimalFrames - 1,
			want:   kernelerr.ErrResourceExhaustion,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k, _ := newTestKernel(t, 1, tc.frames)
			if _, err := k.CreateProcess(tc.image, KernelPID); !errors.Is(err, tc.want) {
				t.Fatalf("CreateProcess = %v, want: %v", err, tc.want)
			}
			if got := k.Allocator().UsedFrames(); got != 0 {
				t.Errorf("UsedFrames = %d, want: 0", got)
			}
			if got := len(k.DumpProcessTable()); got != 1 {
				t.Errorf("process table has %d entries, want: only the kernel", got)
			}
			if got := k.Scheduler().ReadyCount(); got != 0 {
				t.Errorf("ReadyCount = %d, want: 0", got)
			}
			checkInvariants(t, k)
		})
	}
}

func TestCreateBadParent(t *testing.T) {
	k, _ := newTestKernel(t, 1, 64)
	if _, err := k.CreateProcess(elftest.Minimal().Bytes(), 7); !errors.Is(err, kernelerr.ErrProcessNotFound) {
		t.Errorf("CreateProcess with missing parent = %v, want: ErrProcessNotFound", err)
	}
	if _, err := k.CreateProcessWithOptions(elftest.Minimal().Bytes(), CreateOptions{Priority: sched.Priority(9)}); !errors.Is(err, kernelerr.ErrInvalidArgument) {
		t.Errorf("CreateProcessWithOptions with bad priority = %v, want: ErrInvalidArgument", err)
	}
}

func TestPageFaultResolved(t *testing.T) {
	k, _ := newTestKernel(t, 1, 64)
	pid := mustCreate(t, k, KernelPID)
	mustTick(t, k, 0)

	if err := k.PageFault(0, stackAddr, mm.FaultUser|mm.FaultWrite, 0x400000); err != nil {
		t.Fatalf("PageFault on the stack failed: %v", err)
	}
	if got := k.Allocator().UsedFrames(); got != minimalFrames+stackFrames {
		t.Errorf("UsedFrames = %d, want: %d", got, minimalFrames+stackFrames)
	}

	msg := []byte("hello")
	if n, err := k.CopyOut(pid, stackAddr-16, msg); err != nil || n != len(msg) {
		t.Fatalf("CopyOut = %d, %v", n, err)
	}
	got := make([]byte, len(msg))
	if _, err := k.CopyIn(pid, stackAddr-16, got); err != nil {
		t.Fatalf("CopyIn failed: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("CopyIn = %q, want: %q", got, msg)
	}
	if running, _ := k.Running(0); running != pid {
		t.Errorf("Running = %d, want: %d", running, pid)
	}
	checkInvariants(t, k)
}

func TestPageFaultKills(t *testing.T) {
	k, _ := newTestKernel(t, 1, 64)
	victim := mustCreate(t, k, KernelPID)
	next := mustCreate(t, k, KernelPID)
	if got := mustTick(t, k, 0); got != victim {
		t.Fatalf("dispatched %d, want: %d", got, victim)
	}

	err := k.PageFault(0, 0x10, mm.FaultUser, 0x400123)
	var fe *FaultError
	if !errors.As(err, &fe) {
		t.Fatalf("PageFault = %v, want: *FaultError", err)
	}
	want := FaultError{PID: victim, Addr: 0x10, RIP: 0x400123, Code: mm.FaultUser, Outcome: FaultKilled, Next: next}
	if diff := cmp.Diff(want, *fe, cmpopts.IgnoreFields(FaultError{}, "Err")); diff != "" {
		t.Errorf("FaultError mismatch (-want +got):\n%s", diff)
	}
	if !errors.Is(err, kernelerr.ErrAccessViolation) {
		t.Errorf("PageFault = %v, want: ErrAccessViolation", err)
	}

	// The kernel carries on with the next process.
	if running, _ := k.Running(0); running != next {
		t.Errorf("Running = %d, want: %d", running, next)
	}
	if got := stateOf(t, k, next); got != sched.Running {
		t.Errorf("state of %d = %v, want: Running", next, got)
	}
	checkInvariants(t, k)

	status, err := k.Reap(KernelPID, victim)
	if err != nil {
		t.Fatalf("Reap failed: %v", err)
	}
	if status.Code != ExitCodeAccessViolation || status.Reason != ExitAccessViolation {
		t.Errorf("exit status = %+v, want code %d", status, ExitCodeAccessViolation)
	}
	if got := k.Allocator().UsedFrames(); got != minimalFrames {
		t.Errorf("UsedFrames = %d, want: %d", got, minimalFrames)
	}
}

func TestPageFaultViolations(t *testing.T) {
	for _, tc := range []struct {
		name string
		addr hostarch.Addr
		code mm.FaultCode
	}{
		{"write to text", 0x400000, mm.FaultUser | mm.FaultWrite | mm.FaultPresent},
		{"kernel address", 0xffff800000000000, mm.FaultUser},
		{"non-canonical", 0x0000900000000000, mm.FaultUser},
		{"execute stack", stackAddr, mm.FaultUser | mm.FaultFetch},
		{"guard page", hostarch.UserStackTop, mm.FaultUser},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k, _ := newTestKernel(t, 1, 64)
			pid := mustCreate(t, k, KernelPID)
			mustTick(t, k, 0)
			err := k.PageFault(0, tc.addr, tc.code, 0x400000)
			var fe *FaultError
			if !errors.As(err, &fe) || fe.Outcome != FaultKilled {
				t.Fatalf("PageFault = %v, want: killed", err)
			}
			if fe.Next != sched.NoPID {
				t.Errorf("Next = %d, want: none", fe.Next)
			}
			if got := stateOf(t, k, pid); got != sched.Zombie {
				t.Errorf("state = %v, want: Zombie", got)
			}
			checkInvariants(t, k)
		})
	}
}

func TestPageFaultOutOfMemory(t *testing.T) {
	k, _ := newTestKernel(t, 1, minimalFrames+stackFrames-1)
	pid := mustCreate(t, k, KernelPID)
	mustTick(t, k, 0)

	err := k.PageFault(0, stackAddr, mm.FaultUser|mm.FaultWrite, 0x400000)
	var fe *FaultError
	if !errors.As(err, &fe) || fe.Outcome != FaultOutOfMemory {
		t.Fatalf("PageFault = %v, want: out of memory", err)
	}
	if !errors.Is(err, kernelerr.ErrResourceExhaustion) {
		t.Errorf("PageFault = %v, want: ErrResourceExhaustion", err)
	}
	status, err := k.Reap(KernelPID, pid)
	if err != nil {
		t.Fatalf("Reap failed: %v", err)
	}
	if status.Code != ExitCodeResourceExhaustion {
		t.Errorf("exit code = %d, want: %d", status.Code, ExitCodeResourceExhaustion)
	}
	if got := k.Allocator().UsedFrames(); got != 0 {
		t.Errorf("UsedFrames = %d, want: 0", got)
	}
}

func TestPageFaultIdleCPU(t *testing.T) {
	k, rec := newTestKernel(t, 2, 64)
	if err := k.PageFault(5, 0x400000, mm.FaultUser, 0); !errors.Is(err, kernelerr.ErrInvalidArgument) {
		t.Errorf("PageFault on CPU 5 = %v, want: ErrInvalidArgument", err)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("PageFault on an idle CPU did not panic")
		}
		if !strings.Contains(rec.reason, "idle CPU 1") {
			t.Errorf("dump reason = %q, want it to name idle CPU 1", rec.reason)
		}
	}()
	k.PageFault(1, 0x400000, mm.FaultUser, 0)
}

func TestKill(t *testing.T) {
	k, _ := newTestKernel(t, 1, 64)
	running := mustCreate(t, k, KernelPID)
	ready := mustCreate(t, k, KernelPID)
	blocked := mustCreate(t, k, KernelPID)
	mustTick(t, k, 0)

	if _, err := k.Block(running, "io"); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	if got, _ := k.Running(0); got != ready {
		t.Fatalf("Running = %d, want: %d", got, ready)
	}
	if _, _, err := k.Yield(0); err != nil {
		t.Fatalf("Yield failed: %v", err)
	}
	if got, _ := k.Running(0); got != blocked {
		t.Fatalf("Running after yield = %d, want: %d", got, blocked)
	}
	if _, err := k.Block(blocked, "io"); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	if err := k.Unblock(running); err != nil {
		t.Fatalf("Unblock failed: %v", err)
	}
	// Now ready is running, running is ready and blocked is blocked.
	for _, pid := range []sched.PID{ready, running, blocked} {
		if err := k.Kill(pid); err != nil {
			t.Fatalf("Kill(%d) failed: %v", pid, err)
		}
		checkInvariants(t, k)
	}
	for _, pid := range []sched.PID{running, ready, blocked} {
		status, err := k.Reap(KernelPID, pid)
		if err != nil {
			t.Fatalf("Reap(%d) failed: %v", pid, err)
		}
		if status.Code != ExitCodeKilled || status.Reason != ExitKilled {
			t.Errorf("Reap(%d) = %+v, want: killed with %d", pid, status, ExitCodeKilled)
		}
	}
	if _, ok := k.Running(0); ok {
		t.Errorf("CPU 0 still runs a process")
	}
	if got := k.Allocator().UsedFrames(); got != 0 {
		t.Errorf("UsedFrames = %d, want: 0", got)
	}
	if err := k.Kill(KernelPID); !errors.Is(err, kernelerr.ErrInvalidArgument) {
		t.Errorf("Kill(kernel) = %v, want: ErrInvalidArgument", err)
	}
}

func TestBlockUnblock(t *testing.T) {
	k, _ := newTestKernel(t, 1, 64)
	a := mustCreate(t, k, KernelPID)
	b := mustCreate(t, k, KernelPID)

	if _, err := k.Block(a, "io"); !errors.Is(err, kernelerr.ErrInvalidArgument) {
		t.Errorf("Block of a ready process = %v, want: ErrInvalidArgument", err)
	}
	if err := k.Unblock(a); !errors.Is(err, kernelerr.ErrInvalidArgument) {
		t.Errorf("Unblock of a ready process = %v, want: ErrInvalidArgument", err)
	}

	mustTick(t, k, 0)
	next, err := k.Block(a, "disk")
	if err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	if next != b {
		t.Errorf("Block dispatched %d, want: %d", next, b)
	}
	pi, err := k.Process(a)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if pi.State != sched.Blocked || pi.BlockReason != "disk" {
		t.Errorf("after Block: state %v reason %q, want: Blocked, disk", pi.State, pi.BlockReason)
	}
	checkInvariants(t, k)

	if err := k.Unblock(a); err != nil {
		t.Fatalf("Unblock failed: %v", err)
	}
	if got := stateOf(t, k, a); got != sched.Ready {
		t.Errorf("state after Unblock = %v, want: Ready", got)
	}
	checkInvariants(t, k)
}

func TestOrphansReparented(t *testing.T) {
	k, _ := newTestKernel(t, 1, 64)
	parent := mustCreate(t, k, KernelPID)
	child := mustCreate(t, k, parent)

	if _, err := k.Reap(KernelPID, child); !errors.Is(err, kernelerr.ErrInvalidArgument) {
		t.Errorf("Reap by a non-parent = %v, want: ErrInvalidArgument", err)
	}
	if err := k.Exit(parent, 0); err != nil {
		t.Fatalf("Exit failed: %v", err)
	}
	pi, err := k.Process(child)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if pi.Parent != KernelPID {
		t.Errorf("orphan parent = %d, want: %d", pi.Parent, KernelPID)
	}
	if err := k.Exit(child, 1); err != nil {
		t.Fatalf("Exit failed: %v", err)
	}

	var reaped []sched.PID
	for {
		status, ok := k.ReapAny(KernelPID)
		if !ok {
			break
		}
		reaped = append(reaped, status.PID)
	}
	if diff := cmp.Diff([]sched.PID{parent, child}, reaped); diff != "" {
		t.Errorf("ReapAny order mismatch (-want +got):\n%s", diff)
	}
	if got := k.LiveProcesses(); got != 0 {
		t.Errorf("LiveProcesses = %d, want: 0", got)
	}
}

func TestMemoryOperations(t *testing.T) {
	k, _ := newTestKernel(t, 1, 64)
	pid := mustCreate(t, k, KernelPID)

	brk, err := k.Brk(pid, 0)
	if err != nil {
		t.Fatalf("Brk query failed: %v", err)
	}
	if got, err := k.Brk(pid, brk+hostarch.PageSize); err != nil || got != brk+hostarch.PageSize {
		t.Errorf("Brk grow = %v, %v, want: %v", got, err, brk+hostarch.PageSize)
	}
	if _, err := k.Brk(pid, 0x1000); !errors.Is(err, kernelerr.ErrInvalidArgument) {
		t.Errorf("Brk below the heap = %v, want: ErrInvalidArgument", err)
	}
	if _, err := k.CopyIn(pid, 0x10, make([]byte, 4)); !errors.Is(err, kernelerr.ErrAccessViolation) {
		t.Errorf("CopyIn of an unmapped page = %v, want: ErrAccessViolation", err)
	}

	regs := arch.NewUserContext(0x400010, stackAddr)
	regs.SetReturn(42)
	if err := k.SaveContext(pid, regs); err != nil {
		t.Fatalf("SaveContext failed: %v", err)
	}
	got, err := k.Context(pid)
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if diff := cmp.Diff(regs, got); diff != "" {
		t.Errorf("Context mismatch (-want +got):\n%s", diff)
	}
	if err := k.SaveContext(pid, arch.Registers{}); !errors.Is(err, kernelerr.ErrInvalidArgument) {
		t.Errorf("SaveContext with kernel selectors = %v, want: ErrInvalidArgument", err)
	}
	if _, err := k.Context(99); !errors.Is(err, kernelerr.ErrProcessNotFound) {
		t.Errorf("Context(99) = %v, want: ErrProcessNotFound", err)
	}
}

func TestInvariantViolationPanics(t *testing.T) {
	k, rec := newTestKernel(t, 1, 64)
	pid := mustCreate(t, k, KernelPID)

	// Corrupt the table: the process is still queued.
	k.mu.Lock()
	k.procs[pid].State = sched.Blocked
	k.mu.Unlock()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("Unblock of a queued process did not panic")
			}
		}()
		k.Unblock(pid)
	}()
	if !strings.Contains(rec.reason, "already queued") {
		t.Errorf("dump reason = %q, want it to mention the queued pid", rec.reason)
	}
	if len(rec.table) != 2 || rec.table[1].PID != pid || rec.table[1].State != sched.Blocked {
		t.Errorf("dumped table = %+v, want the kernel and pid %d", rec.table, pid)
	}

	// The lock was released by the panic.
	k.mu.Lock()
	k.procs[pid].State = sched.Ready
	k.mu.Unlock()
	checkInvariants(t, k)
}

func TestDumpIsACopy(t *testing.T) {
	k, _ := newTestKernel(t, 1, 64)
	pid := mustCreate(t, k, KernelPID)
	table := k.DumpProcessTable()
	table[1].Regions[0].Range.Start = 0
	pi, err := k.Process(pid)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if pi.Regions[0].Range.Start != 0x400000 {
		t.Errorf("changing the dump changed the kernel: first region %v", pi.Regions[0].Range)
	}
	if table[0].PID != KernelPID || table[0].Name != "kernel" {
		t.Errorf("first entry = %+v, want the kernel", table[0])
	}
}

func TestConcurrentTicks(t *testing.T) {
	const (
		cpus  = 4
		procs = 8
		ticks = 200
	)
	k, _ := newTestKernel(t, cpus, 256)
	var pids []sched.PID
	for i := 0; i < procs; i++ {
		pids = append(pids, mustCreate(t, k, KernelPID))
	}

	var g errgroup.Group
	for cpu := 0; cpu < cpus; cpu++ {
		g.Go(func() error {
			for i := 0; i < ticks; i++ {
				pid, _, err := k.TimerTick(cpu)
				if err != nil {
					return err
				}
				if pid == sched.NoPID {
					continue
				}
				if i%50 == 49 {
					if err := k.PageFault(cpu, stackAddr, mm.FaultUser|mm.FaultWrite, 0x400000); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("tick driver failed: %v", err)
	}
	checkInvariants(t, k)

	var total uint64
	for _, pid := range pids {
		pi, err := k.Process(pid)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if pi.Dispatches == 0 {
			t.Errorf("pid %d was never dispatched", pid)
		}
		total += pi.RunTicks
	}
	// Every tick after the first on each core charges a process.
	if want := uint64(cpus * (ticks - 1)); total != want {
		t.Errorf("total run ticks = %d, want: %d", total, want)
	}
}

func TestMetrics(t *testing.T) {
	k, _ := newTestKernel(t, 1, 64)
	a := mustCreate(t, k, KernelPID)
	mustCreate(t, k, KernelPID)
	mustTick(t, k, 0)
	if err := k.PageFault(0, stackAddr, mm.FaultUser|mm.FaultWrite, 0x400000); err != nil {
		t.Fatalf("PageFault failed: %v", err)
	}
	if err := k.PageFault(0, 0x10, mm.FaultUser, 0x400000); err == nil {
		t.Fatalf("PageFault at 0x10 succeeded")
	}
	if _, err := k.Reap(KernelPID, a); err != nil {
		t.Fatalf("Reap failed: %v", err)
	}

	got, err := k.Metrics().Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	for name, want := range map[string]float64{
		"kcore_processes_created_total":                           2,
		`kcore_processes_exited_total{reason="access_violation"}`: 1,
		`kcore_page_faults_total{outcome="resolved"}`:             1,
		`kcore_page_faults_total{outcome="killed"}`:               1,
		"kcore_context_switches_total":                            2,
		"kcore_timer_ticks_total":                                 1,
		"kcore_processes":                                         1,
		"kcore_frames_used":                                       minimalFrames,
	} {
		if got[name] != want {
			t.Errorf("metric %s = %v, want: %v", name, got[name], want)
		}
	}
}

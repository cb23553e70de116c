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

package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"text/tabwriter"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"gvisor.dev/kcore/pkg/hostarch"
	"gvisor.dev/kcore/pkg/kernel"
	"gvisor.dev/kcore/pkg/kernel/mm"
	"gvisor.dev/kcore/pkg/kernel/sched"
	"gvisor.dev/kcore/pkg/log"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	ticks      uint64
	lifetime   uint64
	faultEvery uint64
	metrics    bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot a simulated machine and run executables on it."
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <elf>... - boot a machine, create one process per executable and drive every core with timer ticks until all processes exit.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&r.ticks, "ticks", 1000, "maximum number of timer ticks delivered to each core.")
	f.Uint64Var(&r.lifetime, "lifetime", 40, "run ticks after which a process exits.")
	f.Uint64Var(&r.faultEvery, "fault-every", 5, "run ticks between stack page touches, 0 disables them.")
	f.BoolVar(&r.metrics, "metrics", false, "print kernel metrics after the run.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := configFrom(args)
	opts, err := conf.KernelOptions()
	if err != nil {
		Fatalf("%v", err)
	}
	k, err := kernel.New(opts)
	if err != nil {
		Fatalf("booting kernel: %v", err)
	}
	defer k.Release()

	created := 0
	for _, path := range f.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			Fatalf("reading %q: %v", path, err)
		}
		pid, err := k.CreateProcessWithOptions(data, kernel.CreateOptions{
			Parent:   kernel.KernelPID,
			Priority: opts.DefaultPriority,
			Name:     filepath.Base(path),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			continue
		}
		log.Infof("Created pid %d from %q", pid, path)
		created++
	}
	if created == 0 {
		return subcommands.ExitFailure
	}

	w := &workload{
		ticks:      r.ticks,
		lifetime:   r.lifetime,
		faultEvery: r.faultEvery,
		stackPages: opts.Loader.StackSize / hostarch.PageSize,
	}
	if err := w.run(ctx, k); err != nil {
		Fatalf("run: %v", err)
	}

	if err := writeReport(os.Stdout, k); err != nil {
		Fatalf("%v", err)
	}
	if r.metrics {
		if err := k.Metrics().WriteText(os.Stdout); err != nil {
			Fatalf("%v", err)
		}
	}
	return subcommands.ExitSuccess
}

// workload stands in for user code and the syscall layer: every core is
// driven by timer ticks, a running process touches a new stack page every
// faultEvery run ticks and exits after lifetime run ticks.
type workload struct {
	ticks      uint64
	lifetime   uint64
	faultEvery uint64
	stackPages uint64

	// remaining is the number of processes that have not exited.
	remaining atomic.Int64
}

// run drives every core of k concurrently until all processes exit or each
// core has seen w.ticks ticks.
func (w *workload) run(ctx context.Context, k *kernel.Kernel) error {
	w.remaining.Store(int64(k.LiveProcesses()))
	g, ctx := errgroup.WithContext(ctx)
	for cpu := 0; cpu < k.NumCPUs(); cpu++ {
		g.Go(func() error {
			return w.drive(ctx, k, cpu)
		})
	}
	return g.Wait()
}

func (w *workload) drive(ctx context.Context, k *kernel.Kernel, cpu int) error {
	for i := uint64(0); i < w.ticks && w.remaining.Load() > 0; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		pid, dispatched, err := k.TimerTick(cpu)
		if err != nil {
			return fmt.Errorf("CPU %d tick %d: %w", cpu, i, err)
		}
		if pid == sched.NoPID {
			continue
		}
		if dispatched {
			log.Debugf("CPU %d tick %d: running pid %d", cpu, i, pid)
		}
		// Only this core runs pid, so it cannot exit under us.
		pi, err := k.Process(pid)
		if err != nil {
			return err
		}
		if w.faultEvery != 0 && pi.RunTicks > 0 && pi.RunTicks%w.faultEvery == 0 {
			killed, err := w.touchStack(k, cpu, pi)
			if err != nil {
				return err
			}
			if killed {
				continue
			}
		}
		if pi.RunTicks >= w.lifetime {
			if err := k.Exit(pid, 0); err != nil {
				return err
			}
			w.remaining.Add(-1)
		}
	}
	return nil
}

// touchStack faults in the next stack page of the process running on cpu.
// It returns true if the fault killed the process.
func (w *workload) touchStack(k *kernel.Kernel, cpu int, pi kernel.ProcessInfo) (bool, error) {
	page := (pi.RunTicks / w.faultEvery) % w.stackPages
	addr := hostarch.UserStackTop - 8 - hostarch.Addr(page*hostarch.PageSize)
	err := k.PageFault(cpu, addr, mm.FaultUser|mm.FaultWrite, pi.Entry)
	var fe *kernel.FaultError
	switch {
	case err == nil:
		return false, nil
	case errors.As(err, &fe):
		log.Infof("CPU %d: %v, now running %d", cpu, fe, fe.Next)
		w.remaining.Add(-1)
		return true, nil
	default:
		return false, err
	}
}

// writeReport reaps every exited process and prints the exit statuses
// followed by the processes that are still alive.
func writeReport(out io.Writer, k *kernel.Kernel) error {
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "PID\tEXIT\tREASON\n")
	for {
		status, ok := k.ReapAny(kernel.KernelPID)
		if !ok {
			break
		}
		fmt.Fprintf(tw, "%d\t%d\t%v\n", status.PID, status.Code, status.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	table := k.DumpProcessTable()
	if len(table) <= 1 {
		return nil
	}
	fmt.Fprintln(out)
	fmt.Fprintf(tw, "PID\tNAME\tSTATE\tPRIORITY\tCPU\tRUN TICKS\tPAGES\n")
	for _, pi := range table[1:] {
		fmt.Fprintf(tw, "%d\t%s\t%v\t%v\t%d\t%d\t%d\n", pi.PID, pi.Name, pi.State, pi.Priority, pi.CPU, pi.RunTicks, pi.Memory.Mapped)
	}
	return tw.Flush()
}

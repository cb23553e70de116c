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
	"gvisor.dev/kcore/pkg/metric"
)

// kernelMetrics are the counters a Kernel maintains. Frame and process
// gauges are sampled from the allocator and process count on collection.
type kernelMetrics struct {
	reg *metric.Registry

	created      *metric.Uint64Metric
	createFailed *metric.Uint64Metric
	exited       *metric.Uint64Metric
	faults       *metric.Uint64Metric
	switches     *metric.Uint64Metric
	preemptions  *metric.Uint64Metric
	boosts       *metric.Uint64Metric
	ticks        *metric.Uint64Metric
}

func newKernelMetrics(reg *metric.Registry, k *Kernel) *kernelMetrics {
	reasons := []string{ExitNormal.String(), ExitKilled.String(), ExitAccessViolation.String(), ExitResourceExhaustion.String()}
	outcomes := []string{FaultResolved.String(), FaultKilled.String(), FaultOutOfMemory.String()}
	m := &kernelMetrics{
		reg:          reg,
		created:      reg.MustCreateNewUint64Metric("processes_created", "Number of processes created."),
		createFailed: reg.MustCreateNewUint64Metric("process_create_failures", "Number of process creations rolled back."),
		exited:       reg.MustCreateNewUint64Metric("processes_exited", "Number of processes that exited, by reason.", metric.NewField("reason", reasons)),
		faults:       reg.MustCreateNewUint64Metric("page_faults", "Number of user page faults, by outcome.", metric.NewField("outcome", outcomes)),
		switches:     reg.MustCreateNewUint64Metric("context_switches", "Number of times a core switched to a different process."),
		preemptions:  reg.MustCreateNewUint64Metric("preemptions", "Number of quantum expirations."),
		boosts:       reg.MustCreateNewUint64Metric("priority_boosts", "Number of priority boost ticks."),
		ticks:        reg.MustCreateNewUint64Metric("timer_ticks", "Number of timer interrupts delivered."),
	}
	reg.MustRegisterGauge("frames_free", "Free physical frames.", k.alloc.FreeFrames)
	reg.MustRegisterGauge("frames_used", "Allocated physical frames.", k.alloc.UsedFrames)
	reg.MustRegisterGauge("frames_allocated", "Cumulative frame allocations.", k.alloc.Allocations)
	reg.MustRegisterGauge("frames_freed", "Cumulative frame deallocations.", k.alloc.Deallocations)
	reg.MustRegisterGauge("processes", "Unreaped processes.", func() uint64 { return uint64(k.live.Load()) })
	return m
}

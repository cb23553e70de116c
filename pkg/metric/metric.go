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

// Package metric provides primitives for collecting metrics.
//
// Metrics live in a Registry. Each Kernel owns its own registry, so that
// several kernels (in tests, say) never share counters; Default is the
// registry for process-wide metrics.
package metric

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// namespace prefixes every metric name.
const namespace = "kcore"

// Registry holds a set of metrics.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{reg: prometheus.NewRegistry()}
}

// Default is the process-wide registry.
var Default = NewRegistry()

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues []string) Field {
	return Field{name: name, allowedValues: allowedValues}
}

func fieldNames(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	return names
}

func checkFields(name string, fields []Field, values []string) {
	if len(values) != len(fields) {
		panic(fmt.Sprintf("metric %s: got %d field values, want %d", name, len(values), len(fields)))
	}
	for i, v := range values {
		if !slices.Contains(fields[i].allowedValues, v) {
			panic(fmt.Sprintf("metric %s: value %q not allowed for field %s", name, v, fields[i].name))
		}
	}
}

// Uint64Metric encapsulates a uint64 that represents some kind of metric to
// be monitored. Uint64Metrics are cumulative.
type Uint64Metric struct {
	name   string
	fields []Field
	vec    *prometheus.CounterVec
}

// NewUint64Metric creates and registers a new cumulative metric with the
// given name. The exported name carries the "_total" suffix.
func (r *Registry) NewUint64Metric(name, description string, fields ...Field) (*Uint64Metric, error) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name + "_total",
		Help:      description,
	}, fieldNames(fields))
	if err := r.reg.Register(vec); err != nil {
		return nil, fmt.Errorf("registering metric %q: %w", name, err)
	}
	return &Uint64Metric{name: name, fields: fields, vec: vec}, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func (r *Registry) MustCreateNewUint64Metric(name, description string, fields ...Field) *Uint64Metric {
	m, err := r.NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// Value returns the current value of the metric for the given set of fields.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	checkFields(m.name, m.fields, fieldValues)
	var pb dto.Metric
	if err := m.vec.WithLabelValues(fieldValues...).Write(&pb); err != nil {
		panic(fmt.Sprintf("metric %s: %v", m.name, err))
	}
	return uint64(pb.GetCounter().GetValue())
}

// Increment increments the metric field by 1.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.IncrementBy(1, fieldValues...)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	checkFields(m.name, m.fields, fieldValues)
	m.vec.WithLabelValues(fieldValues...).Add(float64(v))
}

// MustRegisterGauge registers a gauge whose value is sampled from value on
// every collection. value must be safe to call concurrently.
func (r *Registry) MustRegisterGauge(name, description string, value func() uint64) {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      description,
	}, func() float64 { return float64(value()) })
	if err := r.reg.Register(g); err != nil {
		panic(fmt.Sprintf("Unable to create gauge %q: %s", name, err))
	}
}

// WriteText writes every metric in r to w in the Prometheus text exposition
// format.
func (r *Registry) WriteText(w io.Writer) error {
	families, err := r.reg.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metric %q: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Snapshot returns the current value of every sample in r keyed by its
// fully-qualified name and labels, e.g. `kcore_page_faults_total{outcome="mapped"}`.
func (r *Registry) Snapshot() (map[string]float64, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			if labels := m.GetLabel(); len(labels) > 0 {
				parts := make([]string, len(labels))
				for i, l := range labels {
					parts[i] = fmt.Sprintf("%s=%q", l.GetName(), l.GetValue())
				}
				key += "{" + strings.Join(parts, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}

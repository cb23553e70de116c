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

// Package config holds the configuration of a simulated machine. Values
// come from defaults, then an optional TOML file, then command line flags.
package config

import (
	"flag"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"gvisor.dev/kcore/pkg/hostarch"
	"gvisor.dev/kcore/pkg/kernel"
	"gvisor.dev/kcore/pkg/kernel/loader"
	"gvisor.dev/kcore/pkg/kernel/pmm"
	"gvisor.dev/kcore/pkg/kernel/sched"
	"gvisor.dev/kcore/pkg/log"
)

// Config holds the machine configuration. Fields with a "flag" tag can be
// set from the command line; fields with a "toml" tag from a file.
type Config struct {
	// NumCPUs is the number of simulated cores.
	NumCPUs int `flag:"cpus" toml:"cpus"`

	// MemoryMiB is the size of physical memory in MiB.
	MemoryMiB uint64 `flag:"memory-mib" toml:"memory_mib"`

	// MemoryBase is the physical address memory starts at.
	MemoryBase uint64 `flag:"memory-base" toml:"memory_base"`

	// Quanta are the scheduling quanta of each level, lowest level first.
	Quanta Quanta `flag:"quanta" toml:"quanta"`

	// BoostInterval is the number of ticks between priority boosts.
	BoostInterval uint64 `flag:"boost-interval" toml:"boost_interval"`

	// Placement selects the core of new processes.
	Placement string `flag:"placement" toml:"placement"`

	// MaxSegmentSize is the largest accepted segment, in bytes.
	MaxSegmentSize uint64 `flag:"max-segment-size" toml:"max_segment_size"`

	// StackSize is the stack size of every process, in bytes.
	StackSize uint64 `flag:"stack-size" toml:"stack_size"`

	// HeapSize is the initial heap size of every process, in bytes.
	HeapSize uint64 `flag:"heap-size" toml:"heap_size"`

	// DefaultPriority is the level new processes start at.
	DefaultPriority string `flag:"priority" toml:"default_priority"`

	// Debug enables debug logging.
	Debug bool `flag:"debug" toml:"debug"`

	// LogFormat is "text" or "json".
	LogFormat string `flag:"log-format" toml:"log_format"`

	// LogFilename is the file logs go to. Empty means stderr.
	LogFilename string `flag:"log" toml:"log"`
}

// Quanta holds one quantum per priority level.
type Quanta [sched.NumPriorities]uint32

// String implements flag.Value.String.
func (q *Quanta) String() string {
	parts := make([]string, len(q))
	for i, v := range q {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, ",")
}

// Set implements flag.Value.Set. It accepts a comma-separated list with one
// value per level, lowest level first.
func (q *Quanta) Set(v string) error {
	parts := strings.Split(v, ",")
	if len(parts) != len(q) {
		return fmt.Errorf("want %d quanta, got %d in %q", len(q), len(parts), v)
	}
	var n Quanta
	for i, p := range parts {
		x, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return fmt.Errorf("quantum of %v: %w", sched.Priority(i), err)
		}
		n[i] = uint32(x)
	}
	*q = n
	return nil
}

// Get implements flag.Getter.Get.
func (q *Quanta) Get() any {
	return *q
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Quanta) UnmarshalText(text []byte) error {
	return q.Set(string(text))
}

// MarshalText implements encoding.TextMarshaler.
func (q Quanta) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// Default returns the default configuration: two cores and 64 MiB.
func Default() *Config {
	so := sched.DefaultOptions(2)
	lo := loader.DefaultOptions()
	return &Config{
		NumCPUs:         so.NumCPUs,
		MemoryMiB:       64,
		MemoryBase:      1 << 20,
		Quanta:          Quanta(so.Quanta),
		BoostInterval:   so.BoostInterval,
		Placement:       so.Placement.String(),
		MaxSegmentSize:  lo.MaxSegmentSize,
		StackSize:       lo.StackSize,
		HeapSize:        lo.HeapSize,
		DefaultPriority: sched.Normal.String(),
		LogFormat:       "text",
	}
}

// LoadFile returns the default configuration overridden by the TOML file
// at path. Keys the file does not name keep their defaults.
func LoadFile(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("loading config %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("loading config %q: unknown keys %v", path, undecoded)
	}
	return c, nil
}

// RegisterFlags registers a flag for every tagged field, with the default
// configuration's value as its default.
func RegisterFlags(flagSet *flag.FlagSet) {
	d := Default()
	flagSet.Int("cpus", d.NumCPUs, "number of simulated CPU cores.")
	flagSet.Uint64("memory-mib", d.MemoryMiB, "size of physical memory in MiB.")
	flagSet.Uint64("memory-base", d.MemoryBase, "physical address of the first byte of memory.")
	flagSet.Var(&d.Quanta, "quanta", "comma-separated scheduling quanta in ticks, idle first.")
	flagSet.Uint64("boost-interval", d.BoostInterval, "ticks between priority boosts, 0 disables boosting.")
	flagSet.String("placement", d.Placement, "core placement of new processes: shortest-queue or round-robin.")
	flagSet.Uint64("max-segment-size", d.MaxSegmentSize, "largest accepted segment in bytes.")
	flagSet.Uint64("stack-size", d.StackSize, "stack size of every process in bytes.")
	flagSet.Uint64("heap-size", d.HeapSize, "initial heap size of every process in bytes.")
	flagSet.String("priority", d.DefaultPriority, "priority of new processes: idle, low, normal, high or realtime.")
	flagSet.Bool("debug", d.Debug, "enable debug logging.")
	flagSet.String("log-format", d.LogFormat, "log format: text (default) or json.")
	flagSet.String("log", d.LogFilename, "file path where logs are written, default is stderr.")
}

// ApplyFlags overrides c with every flag that was set explicitly on
// flagSet. Flags left at their defaults do not override values loaded from
// a file.
func (c *Config) ApplyFlags(flagSet *flag.FlagSet) error {
	set := make(map[string]*flag.Flag)
	flagSet.Visit(func(fl *flag.Flag) { set[fl.Name] = fl })

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		if flagSet.Lookup(name) == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		fl, ok := set[name]
		if !ok {
			continue
		}
		getter, ok := fl.Value.(flag.Getter)
		if !ok {
			return fmt.Errorf("flag %q has no value getter", name)
		}
		x := reflect.ValueOf(getter.Get())
		if x.Type() != obj.Field(i).Type() {
			return fmt.Errorf("flag %q has type %v, field has %v", name, x.Type(), obj.Field(i).Type())
		}
		obj.Field(i).Set(x)
	}
	return nil
}

// Validate checks that c describes a machine that can boot.
func (c *Config) Validate() error {
	_, err := c.KernelOptions()
	return err
}

// KernelOptions converts c into kernel options.
func (c *Config) KernelOptions() (kernel.Options, error) {
	if c.MemoryMiB == 0 {
		return kernel.Options{}, fmt.Errorf("memory-mib must be positive")
	}
	if c.MemoryBase%hostarch.PageSize != 0 {
		return kernel.Options{}, fmt.Errorf("memory-base %#x is not page aligned", c.MemoryBase)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return kernel.Options{}, fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	placement, err := sched.ParsePlacement(c.Placement)
	if err != nil {
		return kernel.Options{}, err
	}
	prio, err := sched.ParsePriority(c.DefaultPriority)
	if err != nil {
		return kernel.Options{}, err
	}

	opts := kernel.DefaultOptions(c.NumCPUs, c.MemoryMiB)
	opts.Memory = []pmm.Range{{Start: c.MemoryBase, End: c.MemoryBase + c.MemoryMiB<<20}}
	opts.Sched.Quanta = c.Quanta
	opts.Sched.BoostInterval = c.BoostInterval
	opts.Sched.Placement = placement
	opts.Loader = loader.Options{
		MaxSegmentSize: c.MaxSegmentSize,
		StackSize:      c.StackSize,
		HeapSize:       c.HeapSize,
	}
	opts.DefaultPriority = prio
	if err := opts.Sched.Validate(); err != nil {
		return kernel.Options{}, err
	}
	if err := opts.Loader.Validate(); err != nil {
		return kernel.Options{}, err
	}
	return opts, nil
}

// Log writes the configuration to the log.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		log.Infof("\t%s: %v", st.Field(i).Name, obj.Field(i).Interface())
	}
}

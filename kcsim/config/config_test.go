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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gvisor.dev/kcore/pkg/kernel/sched"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	opts, err := c.KernelOptions()
	if err != nil {
		t.Fatalf("KernelOptions on defaults failed: %v", err)
	}
	if got, want := opts.Sched, sched.DefaultOptions(2); !cmp.Equal(got.Quanta, want.Quanta) || got.BoostInterval != want.BoostInterval {
		t.Errorf("default scheduler options = %+v, want: %+v", got, want)
	}
	if got := opts.Memory[0]; got.Start != 1<<20 || got.End != 65<<20 {
		t.Errorf("default memory = %+v, want: [1 MiB, 65 MiB)", got)
	}
}

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kcsim.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
cpus = 4
memory_mib = 16
quanta = "40,20,10,5,1"
placement = "round-robin"
default_priority = "high"
`)
	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	want := Default()
	want.NumCPUs = 4
	want.MemoryMiB = 16
	want.Quanta = Quanta{40, 20, 10, 5, 1}
	want.Placement = "round-robin"
	want.DefaultPriority = "high"
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("LoadFile mismatch (-want +got):\n%s", diff)
	}

	opts, err := c.KernelOptions()
	if err != nil {
		t.Fatalf("KernelOptions failed: %v", err)
	}
	if opts.Sched.Placement != sched.RoundRobin || opts.DefaultPriority != sched.High {
		t.Errorf("KernelOptions = placement %v priority %v, want: round-robin high", opts.Sched.Placement, opts.DefaultPriority)
	}
}

func TestLoadFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
		want     string
	}{
		{"unknown key", "frobnicate = 1\n", "unknown keys"},
		{"bad quanta", "quanta = \"1,2\"\n", "want 5 quanta"},
		{"syntax", "cpus = \n", "loading config"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, tc.contents))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("LoadFile = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	c, err := LoadFile(writeFile(t, "cpus = 4\nmemory_mib = 16\n"))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse([]string{"--cpus=8", "--quanta=9,8,7,6,5", "--debug"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := c.ApplyFlags(fs); err != nil {
		t.Fatalf("ApplyFlags failed: %v", err)
	}
	if c.NumCPUs != 8 {
		t.Errorf("NumCPUs = %d, want: 8", c.NumCPUs)
	}
	// Not set on the command line, so the file wins.
	if c.MemoryMiB != 16 {
		t.Errorf("MemoryMiB = %d, want: 16", c.MemoryMiB)
	}
	if want := (Quanta{9, 8, 7, 6, 5}); c.Quanta != want {
		t.Errorf("Quanta = %v, want: %v", c.Quanta, want)
	}
	if !c.Debug {
		t.Errorf("Debug = false, want: true")
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*Config)
	}{
		{"no cpus", func(c *Config) { c.NumCPUs = 0 }},
		{"no memory", func(c *Config) { c.MemoryMiB = 0 }},
		{"unaligned base", func(c *Config) { c.MemoryBase = 0x1001 }},
		{"zero quantum", func(c *Config) { c.Quanta[2] = 0 }},
		{"bad placement", func(c *Config) { c.Placement = "random" }},
		{"bad priority", func(c *Config) { c.DefaultPriority = "urgent" }},
		{"unaligned stack", func(c *Config) { c.StackSize = 100 }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.modify(c)
			if err := c.Validate(); err == nil {
				t.Errorf("Validate succeeded, want error")
			}
		})
	}
}

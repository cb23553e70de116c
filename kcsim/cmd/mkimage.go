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
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"gvisor.dev/kcore/pkg/kernel/loader/elftest"
	"gvisor.dev/kcore/pkg/log"
)

// Mkimage implements subcommands.Command for the "mkimage" command.
type Mkimage struct {
	textPages int
	bssPages  int
}

// Name implements subcommands.Command.Name.
func (*Mkimage) Name() string {
	return "mkimage"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Mkimage) Synopsis() string {
	return "write a demo executable."
}

// Usage implements subcommands.Command.Usage.
func (*Mkimage) Usage() string {
	return `mkimage [flags] <out> - write an x86-64 executable with a text, data and bss segment.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Mkimage) SetFlags(f *flag.FlagSet) {
	f.IntVar(&m.textPages, "text-pages", 1, "number of text pages.")
	f.IntVar(&m.bssPages, "bss-pages", 2, "number of zero-filled pages after the data page.")
}

// Execute implements subcommands.Command.Execute.
func (m *Mkimage) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if m.textPages < 1 || m.bssPages < 0 {
		Fatalf("text-pages must be positive and bss-pages non-negative")
	}
	out := f.Arg(0)
	data := elftest.Program(m.textPages, m.bssPages).Bytes()
	if err := os.WriteFile(out, data, 0755); err != nil {
		Fatalf("writing %q: %v", out, err)
	}
	log.Infof("Wrote %d bytes to %q", len(data), out)
	fmt.Println(out)
	return subcommands.ExitSuccess
}

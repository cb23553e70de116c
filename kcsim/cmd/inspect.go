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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"gvisor.dev/kcore/pkg/kernel/loader"
)

// Inspect implements subcommands.Command for the "inspect" command.
type Inspect struct {
	output string
}

// Name implements subcommands.Command.Name.
func (*Inspect) Name() string {
	return "inspect"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Inspect) Synopsis() string {
	return "validate executables and print their memory layout."
}

// Usage implements subcommands.Command.Usage.
func (*Inspect) Usage() string {
	return `inspect [flags] <elf>... - validate executables and print the layout the loader builds.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Inspect) SetFlags(f *flag.FlagSet) {
	f.StringVar(&i.output, "o", "json", "output format: json or table.")
}

// Execute implements subcommands.Command.Execute.
func (i *Inspect) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := configFrom(args)
	opts, err := conf.KernelOptions()
	if err != nil {
		Fatalf("%v", err)
	}

	status := subcommands.ExitSuccess
	for _, path := range f.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			Fatalf("reading %q: %v", path, err)
		}
		img, err := loader.Load(data, opts.Loader)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			status = subcommands.ExitFailure
			continue
		}
		if err := writeDescription(os.Stdout, i.output, path, img.Describe()); err != nil {
			Fatalf("%v", err)
		}
	}
	return status
}

func writeDescription(w io.Writer, format, path string, d loader.Description) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Path string `json:"path"`
			loader.Description
		}{path, d})
	case "table":
		fmt.Fprintf(w, "%s: entry %s heap %s stack %s\n", path, d.Entry, d.Heap, d.Stack)
		tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
		fmt.Fprintf(tw, "START\tEND\tFILESZ\tMEMSZ\tPERMS\n")
		for _, s := range d.Segments {
			fmt.Fprintf(tw, "%s\t%s\t%#x\t%#x\t%s\n", s.Start, s.End, s.FileSize, s.MemSize, s.Perms)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

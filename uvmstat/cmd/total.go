// Copyright 2025 The gVisor Authors.
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
	"io"
	"os"

	"github.com/google/subcommands"
)

// Total implements subcommands.Command for the "total" command.
type Total struct {
	warmup
	json bool
	out  io.Writer
}

// Name implements subcommands.Command.Name.
func (*Total) Name() string {
	return "total"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Total) Synopsis() string {
	return "print process and memory totals"
}

// Usage implements subcommands.Command.Usage.
func (*Total) Usage() string {
	return `total [-json] [-warmup=<iterations>] - prints the vmtotal record of a freshly booted machine.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (t *Total) SetFlags(f *flag.FlagSet) {
	t.warmup.setFlags(f)
	f.BoolVar(&t.json, "json", false, "print JSON instead of text.")
}

// Execute implements subcommands.Command.Execute.
func (t *Total) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	m, err := t.boot(ctx, args)
	if err != nil {
		return Errorf("%v", err)
	}
	defer m.Close()

	tot := m.Meter.Total()
	out := t.out
	if out == nil {
		out = os.Stdout
	}
	if t.json {
		if err := writeJSON(out, tot); err != nil {
			return Errorf("writing totals: %v", err)
		}
		return subcommands.ExitSuccess
	}
	fmt.Fprintf(out, " procs      memory\n")
	fmt.Fprintf(out, " r b  s      avm      fre\n")
	fmt.Fprintf(out, "%2d %d %2d %8d %8d\n", tot.RQ, tot.DW, tot.SL, tot.AVM, tot.Free)
	fmt.Fprintf(out, "virtual %d pages, real %d pages (%d active)\n", tot.VM, tot.RM, tot.ARM)
	return subcommands.ExitSuccess
}

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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/uvm/pkg/cpucount"
	"gvisor.dev/uvm/pkg/meter"
)

// VMStat implements subcommands.Command for the "vmstat" command.
type VMStat struct {
	warmup
	json bool
	out  io.Writer
}

// Name implements subcommands.Command.Name.
func (*VMStat) Name() string {
	return "vmstat"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*VMStat) Synopsis() string {
	return "print page manager statistics"
}

// Usage implements subcommands.Command.Usage.
func (*VMStat) Usage() string {
	return `vmstat [-json] [-warmup=<iterations>] - prints the uvmexp statistics of a freshly booted machine.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (v *VMStat) SetFlags(f *flag.FlagSet) {
	v.warmup.setFlags(f)
	f.BoolVar(&v.json, "json", false, "print JSON instead of text.")
}

// Execute implements subcommands.Command.Execute.
func (v *VMStat) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	m, err := v.boot(ctx, args)
	if err != nil {
		return Errorf("%v", err)
	}
	defer m.Close()

	e := m.Meter.UpdateUvmexp()
	out := v.out
	if out == nil {
		out = os.Stdout
	}
	if v.json {
		if err := writeJSON(out, uvmexpJSON(&e)); err != nil {
			return Errorf("writing statistics: %v", err)
		}
		return subcommands.ExitSuccess
	}
	writeSummary(out, &e)
	return subcommands.ExitSuccess
}

// uvmexpJSON flattens e, naming each event counter.
func uvmexpJSON(e *meter.Uvmexp) map[string]any {
	counters := make(map[string]int64, cpucount.NumKinds)
	for k := cpucount.Kind(0); k < cpucount.NumKinds; k++ {
		counters[k.String()] = e.Counter(k)
	}
	return map[string]any{
		"uvmexp":   e,
		"counters": counters,
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeSummary prints e one statistic per line, in the style of "vmstat -s".
func writeSummary(w io.Writer, e *meter.Uvmexp) {
	for _, l := range []struct {
		v    int64
		desc string
	}{
		{e.PageSize, "bytes per page"},
		{e.NColors, "page colors"},
		{e.NPages, "pages managed"},
		{e.Free, "pages free"},
		{e.Active, "pages active"},
		{e.Inactive, "pages inactive"},
		{e.Wired, "pages wired"},
		{e.ZeroPages, "zero pages"},
		{e.ReservePagedaemon, "reserve pagedaemon pages"},
		{e.ReserveKernel, "reserve kernel pages"},
		{e.AnonPages, "anonymous pages"},
		{e.FilePages, "cached file pages"},
		{e.ExecPages, "cached executable pages"},
		{e.FreeMin, "minimum free pages"},
		{e.FreeTarg, "target free pages"},
		{e.WiredMax, "maximum wired pages"},
		{e.SwpgInUse, "swap pages in use"},
		{e.NCPU, "cpus"},
	} {
		fmt.Fprintf(w, "%9d %s\n", l.v, l.desc)
	}
	for k := cpucount.Kind(0); k < cpucount.NumKinds; k++ {
		fmt.Fprintf(w, "%9d %s\n", e.Counter(k), k)
	}
}

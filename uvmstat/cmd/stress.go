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
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/uvm/pkg/cpucount"
	"gvisor.dev/uvm/pkg/log"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	workers    int
	iterations int
	resident   int
	shared     int
	timeout    time.Duration
	out        io.Writer
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "run a concurrent page fault simulation"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] - faults pages from concurrent workers, then verifies the page manager and prints statistics.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.workers, "workers", 0, "number of faulting workers. Zero uses GOMAXPROCS.")
	f.IntVar(&s.iterations, "iterations", 10000, "faults per worker.")
	f.IntVar(&s.resident, "resident", 64, "maximum resident pages per worker.")
	f.IntVar(&s.shared, "shared", 8, "pages of the object shared by all workers.")
	f.DurationVar(&s.timeout, "timeout", time.Minute, "abort the run after this long.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	var w warmup
	m, err := w.boot(ctx, args)
	if err != nil {
		return Errorf("%v", err)
	}
	defer m.Close()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	wl := workload{
		workers:    s.workers,
		iterations: s.iterations,
		resident:   s.resident,
		shared:     s.shared,
	}
	start := time.Now()
	if err := wl.run(ctx, m); err != nil {
		return Errorf("stress: %v", err)
	}
	log.Infof("Stress run of %d workers took %v", wl.workers, time.Since(start))
	if err := m.UVM.Verify(); err != nil {
		return Errorf("page manager inconsistent after stress run: %v", err)
	}

	out := s.out
	if out == nil {
		out = os.Stdout
	}
	e := m.Meter.UpdateUvmexp()
	tot := m.Meter.Total()
	avg := m.Meter.LoadAvg().Float()
	fmt.Fprintf(out, "faults %d, page waits %d, no memory %d, zero hits %d/%d\n",
		e.Counter(cpucount.NFault), e.Counter(cpucount.FltPgWait), e.Counter(cpucount.FltNoRAM),
		e.Counter(cpucount.PgaZeroHit), e.Counter(cpucount.PgaZeroHit)+e.Counter(cpucount.PgaZeroMiss))
	fmt.Fprintf(out, "pages: %d free, %d active, %d inactive, %d zero\n", e.Free, e.Active, e.Inactive, e.ZeroPages)
	fmt.Fprintf(out, "lwps: %d runnable, %d disk wait, %d sleeping\n", tot.RQ, tot.DW, tot.SL)
	fmt.Fprintf(out, "load average: %.2f, %.2f, %.2f\n", avg[0], avg[1], avg[2])
	return subcommands.ExitSuccess
}

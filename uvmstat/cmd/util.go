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
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/uvm/pkg/log"
	"gvisor.dev/uvm/uvmstat/boot"
	"gvisor.dev/uvm/uvmstat/config"
)

// Errorf logs error to the log and stderr, and returns subcommands.ExitFailure.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintf(os.Stderr, "%s\n", msg)
	return subcommands.ExitFailure
}

// warmup is embedded by commands that report on a machine and lets the
// caller run the fault workload before reporting.
type warmup struct {
	iterations int
	workers    int
}

func (w *warmup) setFlags(f *flag.FlagSet) {
	f.IntVar(&w.iterations, "warmup", 0, "fault iterations per worker to run before reporting.")
	f.IntVar(&w.workers, "warmup-workers", 0, "number of warmup workers. Zero uses GOMAXPROCS.")
}

// boot boots a machine from the configuration passed to Execute and runs
// the warmup workload on it.
func (w *warmup) boot(ctx context.Context, args []any) (*boot.Machine, error) {
	conf := args[0].(*config.Config)
	m, err := boot.New(conf)
	if err != nil {
		return nil, err
	}
	if w.iterations > 0 {
		wl := workload{workers: w.workers, iterations: w.iterations}
		if err := wl.run(ctx, m); err != nil {
			m.Close()
			return nil, fmt.Errorf("warmup: %w", err)
		}
	}
	return m, nil
}

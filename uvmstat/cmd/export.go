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
	"gvisor.dev/uvm/pkg/log"
	"gvisor.dev/uvm/pkg/prometheus"
)

// Export implements subcommands.Command for the "export" command.
type Export struct {
	warmup
	exporterPrefix string
	format         string
	out            io.Writer
}

// Name implements subcommands.Command.Name.
func (*Export) Name() string {
	return "export"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Export) Synopsis() string {
	return "export metering data"
}

// Usage implements subcommands.Command.Usage.
func (*Export) Usage() string {
	return `export [-format=prometheus|json] [-exporter-prefix=<uvm_>] - prints metering data of a freshly booted machine.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (e *Export) SetFlags(f *flag.FlagSet) {
	e.warmup.setFlags(f)
	f.StringVar(&e.exporterPrefix, "exporter-prefix", "uvm_", "Prefix for all metric names, following Prometheus exporter convention")
	f.StringVar(&e.format, "format", "prometheus", "output format: prometheus or json.")
}

// Execute implements subcommands.Command.Execute.
func (e *Export) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if e.format != "prometheus" && e.format != "json" {
		return Errorf("invalid format %q, must be 'prometheus' or 'json'", e.format)
	}
	m, err := e.boot(ctx, args)
	if err != nil {
		return Errorf("%v", err)
	}
	defer m.Close()

	m.Meter.UpdateUvmexp()
	snapshot := m.Meter.Snapshot()
	out := e.out
	if out == nil {
		out = os.Stdout
	}
	if e.format == "json" {
		if err := writeJSON(out, snapshot); err != nil {
			return Errorf("writing snapshot: %v", err)
		}
		return subcommands.ExitSuccess
	}
	written, err := prometheus.Write(out, prometheus.ExportOptions{
		CommentHeader:  fmt.Sprintf("Command-line export for a machine of %d pages", m.UVM.NPages()),
		ExporterPrefix: e.exporterPrefix,
	}, snapshot)
	if err != nil {
		return Errorf("Cannot write metrics: %v", err)
	}
	log.Infof("Wrote %d bytes of Prometheus metric data", written)
	return subcommands.ExitSuccess
}

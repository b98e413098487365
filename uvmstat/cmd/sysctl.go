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
	"strings"

	"github.com/google/subcommands"
	"gvisor.dev/uvm/pkg/sysctl"
)

// Sysctl implements subcommands.Command for the "sysctl" command.
type Sysctl struct {
	warmup
	all    bool
	binary bool
	out    io.Writer
}

// Name implements subcommands.Command.Name.
func (*Sysctl) Name() string {
	return "sysctl"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Sysctl) Synopsis() string {
	return "get or set VM sysctl nodes"
}

// Usage implements subcommands.Command.Usage.
func (*Sysctl) Usage() string {
	return `sysctl [-a] [-b] name[=value] ... - reads nodes, or writes the integer nodes given a value.

Writes are applied in order and later reads see them. Record nodes are
printed as JSON, or in their binary layout with -b.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Sysctl) SetFlags(f *flag.FlagSet) {
	s.warmup.setFlags(f)
	f.BoolVar(&s.all, "a", false, "list every node.")
	f.BoolVar(&s.binary, "b", false, "print records in their binary layout.")
}

// Execute implements subcommands.Command.Execute.
func (s *Sysctl) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 && !s.all {
		f.Usage()
		return subcommands.ExitUsageError
	}
	m, err := s.boot(ctx, args)
	if err != nil {
		return Errorf("%v", err)
	}
	defer m.Close()

	out := s.out
	if out == nil {
		out = os.Stdout
	}
	names := f.Args()
	if s.all {
		names = nil
		m.Sysctl.Walk("", func(name string, n *sysctl.Node) error {
			if n.Kind != sysctl.KindNode {
				names = append(names, name)
			}
			return nil
		})
	}
	for _, arg := range names {
		name, value, set := strings.Cut(arg, "=")
		if set {
			old, err := m.Sysctl.GetInt(name)
			if err != nil {
				return Errorf("%v", err)
			}
			if err := m.Sysctl.SetString(name, value); err != nil {
				return Errorf("%v", err)
			}
			fmt.Fprintf(out, "%s: %d -> %s\n", name, old, value)
			continue
		}
		v, err := m.Sysctl.Get(name)
		if err != nil {
			return Errorf("%v", err)
		}
		b, err := sysctl.Format(v, s.binary)
		if err != nil {
			return Errorf("formatting %s: %v", name, err)
		}
		if s.binary {
			out.Write(b)
			continue
		}
		fmt.Fprintf(out, "%s = %s\n", name, b)
	}
	return subcommands.ExitSuccess
}

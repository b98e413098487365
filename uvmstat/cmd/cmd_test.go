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
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"strings"
	"testing"

	"github.com/google/subcommands"
	"github.com/prometheus/common/expfmt"
	"gvisor.dev/uvm/pkg/meter"
	"gvisor.dev/uvm/uvmstat/boot"
	"gvisor.dev/uvm/uvmstat/config"
)

func testConfig(t *testing.T, args ...string) *config.Config {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(append([]string{"-pages=128", "-ncpu=2"}, args...)); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	conf, err := config.NewFromFlags(fs)
	if err != nil {
		t.Fatalf("NewFromFlags: %v", err)
	}
	return conf
}

// execute runs c with the given command line arguments.
func execute(t *testing.T, c subcommands.Command, conf *config.Config, args ...string) subcommands.ExitStatus {
	t.Helper()
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	c.SetFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v): %v", args, err)
	}
	return c.Execute(context.Background(), fs, conf)
}

func TestVMStat(t *testing.T) {
	var out bytes.Buffer
	if st := execute(t, &VMStat{out: &out}, testConfig(t)); st != subcommands.ExitSuccess {
		t.Fatalf("vmstat: %v", st)
	}
	for _, want := range []string{"      128 pages managed\n", "      128 pages free\n", "        0 nfault\n"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output lacks %q:\n%s", want, out.String())
		}
	}
}

func TestVMStatJSONWarmup(t *testing.T) {
	var out bytes.Buffer
	st := execute(t, &VMStat{out: &out}, testConfig(t), "-json", "-warmup=50", "-warmup-workers=2")
	if st != subcommands.ExitSuccess {
		t.Fatalf("vmstat: %v", st)
	}
	var rec struct {
		Uvmexp   meter.Uvmexp     `json:"uvmexp"`
		Counters map[string]int64 `json:"counters"`
	}
	if err := json.Unmarshal(out.Bytes(), &rec); err != nil {
		t.Fatalf("Unmarshal: %v\n%s", err, out.String())
	}
	if got := rec.Counters["nfault"]; got != 100 {
		t.Errorf("nfault = %d, want 100", got)
	}
	if rec.Uvmexp.Free >= 128 {
		t.Errorf("free = %d after warmup", rec.Uvmexp.Free)
	}
}

func TestTotal(t *testing.T) {
	var out bytes.Buffer
	if st := execute(t, &Total{out: &out}, testConfig(t), "-json"); st != subcommands.ExitSuccess {
		t.Fatalf("total: %v", st)
	}
	var tot meter.VMTotal
	if err := json.Unmarshal(out.Bytes(), &tot); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	// init sleeps interruptibly; system LWPs are not counted.
	if tot.SL != 1 || tot.Free != 128 {
		t.Errorf("totals: %+v", tot)
	}
}

func TestSysctl(t *testing.T) {
	var out bytes.Buffer
	st := execute(t, &Sysctl{out: &out}, testConfig(t), "vm.anonmin", "vm.anonmin=30", "vm.anonmin", "vm.maxslp")
	if st != subcommands.ExitSuccess {
		t.Fatalf("sysctl: %v", st)
	}
	want := "vm.anonmin = 10\nvm.anonmin: 10 -> 30\nvm.anonmin = 30\nvm.maxslp = 20\n"
	if out.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", out.String(), want)
	}

	for _, args := range [][]string{
		{"vm.maxslp=5"},
		{"vm.nosuch"},
		{"vm.anonmin=200"},
	} {
		if st := execute(t, &Sysctl{out: &out}, testConfig(t), args...); st != subcommands.ExitFailure {
			t.Errorf("sysctl %v: got %v, want failure", args, st)
		}
	}
	if st := execute(t, &Sysctl{out: &out}, testConfig(t)); st != subcommands.ExitUsageError {
		t.Errorf("sysctl without names: got %v", st)
	}
}

func TestSysctlAll(t *testing.T) {
	var out bytes.Buffer
	if st := execute(t, &Sysctl{out: &out}, testConfig(t), "-a"); st != subcommands.ExitSuccess {
		t.Fatalf("sysctl -a: %v", st)
	}
	if got := strings.Count(out.String(), "\n"); got != 12 {
		t.Errorf("got %d nodes:\n%s", got, out.String())
	}
}

func TestExport(t *testing.T) {
	var out bytes.Buffer
	if st := execute(t, &Export{out: &out}, testConfig(t)); st != subcommands.ExitSuccess {
		t.Fatalf("export: %v", st)
	}
	var p expfmt.TextParser
	families, err := p.TextToMetricFamilies(strings.NewReader(out.String()))
	if err != nil {
		t.Fatalf("parse: %v\n%s", err, out.String())
	}
	for _, name := range []string{"uvm_pages", "uvm_events_total", "uvm_lwps", "uvm_load_average"} {
		if _, ok := families[name]; !ok {
			t.Errorf("no %s family", name)
		}
	}
	if st := execute(t, &Export{out: &out}, testConfig(t), "-format=xml"); st != subcommands.ExitFailure {
		t.Errorf("export -format=xml: got %v", st)
	}
}

func TestStress(t *testing.T) {
	var out bytes.Buffer
	st := execute(t, &Stress{out: &out}, testConfig(t), "-workers=4", "-iterations=200", "-resident=16", "-shared=4")
	if st != subcommands.ExitSuccess {
		t.Fatalf("stress: %v", st)
	}
	if !strings.HasPrefix(out.String(), "faults 800,") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestWorkloadPressure(t *testing.T) {
	// 4 workers of 40 resident pages overcommit a 128 page machine, so
	// workers evict their own pages to make progress.
	m, err := boot.New(testConfig(t))
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	defer m.Close()
	wl := workload{workers: 4, iterations: 400, resident: 40, shared: 2}
	if err := wl.run(context.Background(), m); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := m.UVM.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
	// Exited workers freed their private pages; only the shared object
	// remains resident.
	if e := m.Meter.Uvmexp(); e.Free < 126 {
		t.Errorf("free pages after run: got %d, want at least 126", e.Free)
	}
}

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


// Package meter aggregates page manager and scheduler state into the
// statistics records read by monitoring tools.
//
// A Meter never changes the state it reads. The only state it owns is the
// last Uvmexp snapshot, the load average and the tunables.
package meter

import (
	"fmt"

	"golang.org/x/sys/unix"
	"gvisor.dev/uvm/pkg/errors"
	"gvisor.dev/uvm/pkg/hostarch"
	"gvisor.dev/uvm/pkg/lwp"
	"gvisor.dev/uvm/pkg/sync"
	"gvisor.dev/uvm/pkg/uvm"
)

// USpace is the size in bytes of an LWP's kernel stack and PCB area.
const USpace = 4 * hostarch.PageSize

// DefaultMaxSlp is the default number of seconds after which a sleeping LWP
// is considered swapped out for metering purposes.
const DefaultMaxSlp = 20

// ErrInvalidTunable is returned when a tunable is out of range.
var ErrInvalidTunable = errors.New(unix.EINVAL, "invalid tunable")

// Tunables are the pagedaemon balance tunables exported alongside the
// statistics. Percentages are of the pageable memory.
type Tunables struct {
	MaxSlp  uint32 `json:"maxslp" toml:"maxslp" yaml:"maxslp"`
	AnonMin int    `json:"anonmin" toml:"anonmin" yaml:"anonmin"`
	FileMin int    `json:"filemin" toml:"filemin" yaml:"filemin"`
	ExecMin int    `json:"execmin" toml:"execmin" yaml:"execmin"`
	AnonMax int    `json:"anonmax" toml:"anonmax" yaml:"anonmax"`
	FileMax int    `json:"filemax" toml:"filemax" yaml:"filemax"`
	ExecMax int    `json:"execmax" toml:"execmax" yaml:"execmax"`
}

// DefaultTunables returns the boot-time tunables.
func DefaultTunables() Tunables {
	return Tunables{
		MaxSlp:  DefaultMaxSlp,
		AnonMin: 10,
		FileMin: 10,
		ExecMin: 5,
		AnonMax: 80,
		FileMax: 50,
		ExecMax: 30,
	}
}

// Validate checks that every percentage is in [0, 100] and that the minimums
// leave at least 5% of memory unreserved.
func (t *Tunables) Validate() error {
	for _, p := range []struct {
		name string
		v    int
	}{
		{"anonmin", t.AnonMin},
		{"filemin", t.FileMin},
		{"execmin", t.ExecMin},
		{"anonmax", t.AnonMax},
		{"filemax", t.FileMax},
		{"execmax", t.ExecMax},
	} {
		if p.v < 0 || p.v > 100 {
			return fmt.Errorf("%s %d not in [0, 100]: %w", p.name, p.v, ErrInvalidTunable)
		}
	}
	if sum := t.AnonMin + t.FileMin + t.ExecMin; sum > 95 {
		return fmt.Errorf("sum of minimums %d exceeds 95: %w", sum, ErrInvalidTunable)
	}
	return nil
}

// Meter computes statistics for one machine.
type Meter struct {
	m    *uvm.Manager
	lwps *lwp.Table

	// mu protects the fields below.
	mu  sync.Mutex
	tun Tunables
	exp Uvmexp
	avg LoadAvg
}

// New returns a Meter reading m and lwps. The Uvmexp snapshot is populated
// before New returns.
func New(m *uvm.Manager, lwps *lwp.Table, tun Tunables) (*Meter, error) {
	if err := tun.Validate(); err != nil {
		return nil, err
	}
	mt := &Meter{
		m:    m,
		lwps: lwps,
		tun:  tun,
		avg:  LoadAvg{FScale: FScale},
	}
	mt.UpdateUvmexp()
	return mt, nil
}

// Manager returns the metered page manager.
func (mt *Meter) Manager() *uvm.Manager {
	return mt.m
}

// LWPs returns the metered LWP table.
func (mt *Meter) LWPs() *lwp.Table {
	return mt.lwps
}

// Tunables returns the current tunables.
func (mt *Meter) Tunables() Tunables {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.tun
}

// SetTunables validates and installs t. MaxSlp is fixed at boot and is
// carried over from the current tunables.
func (mt *Meter) SetTunables(t Tunables) error {
	if err := t.Validate(); err != nil {
		return err
	}
	mt.mu.Lock()
	defer mt.mu.Unlock()
	t.MaxSlp = mt.tun.MaxSlp
	mt.tun = t
	return nil
}

// Total classifies every LWP and summarizes memory usage.
//
// LWPs of system processes and LWPs without a state are ignored. A sleeping
// or stopped LWP counts as a disk wait when its sleep is uninterruptible, or
// as a short-term sleeper when it is interruptible and has slept less than
// MaxSlp seconds. Idle, runnable and running LWPs count toward the run queue.
func (mt *Meter) Total() VMTotal {
	maxslp := mt.Tunables().MaxSlp
	var t VMTotal
	mt.lwps.ForEach(func(l *lwp.LWP) bool {
		if l.Proc().Flag&lwp.PKSystem != 0 {
			return true
		}
		switch l.Stat() {
		case 0:
		case lwp.LSSleep, lwp.LSStop:
			if l.Flag()&lwp.LWSintr == 0 {
				t.DW++
			} else if l.SlpTime() < maxslp {
				t.SL++
			}
		case lwp.LSRun, lwp.LSOnproc, lwp.LSIdl:
			t.RQ++
		}
		return true
	})

	// The process list lock is dropped before the page manager is queried.
	free := mt.m.AvailMem(true)
	active, _ := mt.m.Queues().EstimatePageable()
	npages := int64(mt.m.NPages())
	swpginuse := mt.m.SwapPagesInUse()
	t.Free = free
	t.VM = npages - free + swpginuse
	t.AVM = active + swpginuse
	t.RM = npages - free
	t.ARM = active
	return t
}

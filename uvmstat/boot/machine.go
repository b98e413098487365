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


// Package boot assembles a simulated machine: the page manager, the LWP
// table, the meter and the sysctl tree.
package boot

import (
	"fmt"

	"gvisor.dev/uvm/pkg/log"
	"gvisor.dev/uvm/pkg/lwp"
	"gvisor.dev/uvm/pkg/meter"
	"gvisor.dev/uvm/pkg/sysctl"
	"gvisor.dev/uvm/pkg/uvm"
	"gvisor.dev/uvm/uvmstat/config"
)

// Machine is a booted machine.
type Machine struct {
	UVM    *uvm.Manager
	LWPs   *lwp.Table
	Meter  *meter.Meter
	Sysctl *sysctl.Tree

	// Init is the first user process.
	Init *lwp.Proc
}

// New boots a machine from conf. The machine starts with the system LWPs of
// the swapper and the pagedaemon, both asleep, and an init process waiting
// interruptibly.
func New(conf *config.Config) (*Machine, error) {
	m, err := uvm.New(conf.UVMConfig())
	if err != nil {
		return nil, fmt.Errorf("booting page manager: %w", err)
	}
	lwps := lwp.NewTable()
	for _, name := range []string{"swapper", "pagedaemon"} {
		lwps.Sleep(lwps.NewLWP(lwps.NewProc(name, lwp.PKSystem)), false)
	}
	initProc := lwps.NewProc("init", lwp.PKExec)
	lwps.Sleep(lwps.NewLWP(initProc), true)

	mt, err := meter.New(m, lwps, conf.Machine.Tunables)
	if err != nil {
		m.Close()
		return nil, err
	}
	log.Infof("Machine booted: %d pages, %d LWPs", m.NPages(), lwps.Len())
	return &Machine{
		UVM:    m,
		LWPs:   lwps,
		Meter:  mt,
		Sysctl: sysctl.New(mt),
		Init:   initProc,
	}, nil
}

// Close releases the machine's memory.
func (m *Machine) Close() error {
	return m.UVM.Close()
}

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

// Package lwp provides the table of light-weight processes consulted by the
// VM metering code.
//
// The table is a process-wide registry created at boot and passed by
// reference to its consumers. All LWP state is protected by the table lock;
// metering walks the table with ForEach, which holds that lock for the
// duration of the walk.
package lwp

import (
	"fmt"

	"gvisor.dev/uvm/pkg/ilist"
	"gvisor.dev/uvm/pkg/sync"
)

// Stat is an LWP scheduling state. The zero value marks a slot that has not
// been initialized or is being torn down.
type Stat int

// LWP states. Values follow the historic numbering; 6 is unused.
const (
	LSIdl       Stat = 1
	LSRun       Stat = 2
	LSSleep     Stat = 3
	LSStop      Stat = 4
	LSZomb      Stat = 5
	LSOnproc    Stat = 7
	LSSuspended Stat = 8
)

// String implements fmt.Stringer.
func (s Stat) String() string {
	switch s {
	case 0:
		return "LSNONE"
	case LSIdl:
		return "LSIDL"
	case LSRun:
		return "LSRUN"
	case LSSleep:
		return "LSSLEEP"
	case LSStop:
		return "LSSTOP"
	case LSZomb:
		return "LSZOMB"
	case LSOnproc:
		return "LSONPROC"
	case LSSuspended:
		return "LSSUSPENDED"
	default:
		return fmt.Sprintf("Stat(%d)", int(s))
	}
}

// Flags are per-LWP flags.
type Flags uint32

const (
	// LWSintr is set while the LWP sleeps interruptibly.
	LWSintr Flags = 1 << iota
	// LWSystem marks a kernel LWP.
	LWSystem
)

// ProcFlags are per-process flags.
type ProcFlags uint32

const (
	// PKSystem marks a system process. Metering ignores its LWPs.
	PKSystem ProcFlags = 1 << iota
	// PKExec is set once the process has completed an exec.
	PKExec
)

// Proc is a process. Its fields are immutable after creation.
type Proc struct {
	PID  int32
	Flag ProcFlags
	Comm string
}

// LWP is a light-weight process.
type LWP struct {
	// entry links the LWP into Table.lwps.
	entry ilist.Entry[LWP]

	lid  int32
	proc *Proc

	// inTable is true while the LWP is linked into the table. Protected by
	// Table.mu.
	inTable bool

	// The following fields are protected by Table.mu.
	stat    Stat
	flag    Flags
	slptime uint32
}

type lwpMapper struct{}

func (lwpMapper) LinkerFor(l *LWP) *ilist.Entry[LWP] { return &l.entry }

// LID returns the LWP ID.
func (l *LWP) LID() int32 { return l.lid }

// Proc returns the owning process.
func (l *LWP) Proc() *Proc { return l.proc }

// Stat returns the scheduling state.
//
// Preconditions: the table lock is held, e.g. inside ForEach.
func (l *LWP) Stat() Stat { return l.stat }

// Flag returns the LWP flags.
//
// Preconditions: the table lock is held.
func (l *LWP) Flag() Flags { return l.flag }

// SlpTime returns the number of seconds the LWP has been sleeping or stopped.
//
// Preconditions: the table lock is held.
func (l *LWP) SlpTime() uint32 { return l.slptime }

// Table is the global list of LWPs.
type Table struct {
	mu      sync.Mutex
	lwps    ilist.List[LWP, lwpMapper]
	nlwps   int
	nextPID int32
	nextLID int32
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{nextPID: 1, nextLID: 1}
}

// NewProc creates a process with the given flags. It has no LWPs.
func (t *Table) NewProc(comm string, flag ProcFlags) *Proc {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &Proc{PID: t.nextPID, Flag: flag, Comm: comm}
	t.nextPID++
	return p
}

// NewLWP creates an LWP in LSIdl belonging to p and adds it to the table.
func (t *Table) NewLWP(p *Proc) *LWP {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := &LWP{lid: t.nextLID, proc: p, stat: LSIdl, inTable: true}
	t.nextLID++
	t.lwps.PushBack(l)
	t.nlwps++
	return l
}

// Exit removes l from the table.
func (t *Table) Exit(l *LWP) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !l.inTable {
		panic(fmt.Sprintf("LWP %d exited twice", l.lid))
	}
	l.stat = 0
	l.inTable = false
	t.lwps.Remove(l)
	t.nlwps--
}

// Len returns the number of LWPs in the table.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nlwps
}

// SetRunnable moves l onto the run queue.
func (t *Table) SetRunnable(l *LWP) {
	t.setStat(l, LSRun, 0)
}

// SetOnproc marks l as running on a CPU.
func (t *Table) SetOnproc(l *LWP) {
	t.setStat(l, LSOnproc, 0)
}

// Sleep puts l to sleep. An interruptible sleep sets LWSintr.
func (t *Table) Sleep(l *LWP, interruptible bool) {
	var f Flags
	if interruptible {
		f = LWSintr
	}
	t.setStat(l, LSSleep, f)
}

// Stop stops l. The stop is interruptible, as for job control.
func (t *Table) Stop(l *LWP) {
	t.setStat(l, LSStop, LWSintr)
}

// Zombie marks l as exited but not yet reaped.
func (t *Table) Zombie(l *LWP) {
	t.setStat(l, LSZomb, 0)
}

// SetState sets l's state, flags and sleep time directly. It exists for
// restoring recorded workloads and for tests.
func (t *Table) SetState(l *LWP, stat Stat, flag Flags, slptime uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.stat = stat
	l.flag = flag
	l.slptime = slptime
}

func (t *Table) setStat(l *LWP, stat Stat, sintr Flags) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.stat = stat
	l.flag = (l.flag &^ LWSintr) | sintr
	l.slptime = 0
}

// Tick ages every sleeping or stopped LWP by one second. It is called once
// per second by the scheduler clock.
func (t *Table) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for l := t.lwps.Front(); l != nil; l = t.lwps.Next(l) {
		if l.stat == LSSleep || l.stat == LSStop || l.stat == LSSuspended {
			l.slptime++
		}
	}
}

// ForEach calls fn for each LWP with the table lock held, stopping early if
// fn returns false. fn must not call back into the table.
func (t *Table) ForEach(fn func(l *LWP) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for l := t.lwps.Front(); l != nil; l = t.lwps.Next(l) {
		if !fn(l) {
			return
		}
	}
}

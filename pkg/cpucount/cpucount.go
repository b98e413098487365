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

// Package cpucount implements per-CPU event counters.
//
// Each CPU increments its own slot without contention; readers fold the
// slots together. A folded value is a sum of individually atomic reads, so it
// may lag concurrent updates but never tears a single counter.
package cpucount

import (
	"fmt"

	"gvisor.dev/uvm/pkg/atomicbitops"
)

// Kind identifies a counter.
type Kind int

// Counter kinds.
const (
	NSwtch Kind = iota
	NSyscall
	NTrap
	NIntr
	NSoft
	Forks
	ForksPPWait
	ForksShareVM
	ColorHit
	ColorMiss
	CPUHit
	CPUMiss
	FreePages
	PageIns
	PgSwapIn
	PgSwapOut
	NFault
	FltUp
	FltNoUp
	FltPgWait
	FltRelck
	FltRelckOK
	FltNoRAM
	FltAcow
	FltAnon
	FltObj
	FltPrcopy
	FltPrzero
	PgaZeroHit
	PgaZeroMiss

	// The page status counters are laid out as base+status, see
	// uvm.PageStatus.
	AnonUnknown
	AnonClean
	AnonDirty
	FileUnknown
	FileClean
	FileDirty

	ExecPages

	// NumKinds is the number of counter kinds.
	NumKinds
)

var kindNames = [NumKinds]string{
	NSwtch:       "nswtch",
	NSyscall:     "nsyscall",
	NTrap:        "ntrap",
	NIntr:        "nintr",
	NSoft:        "nsoft",
	Forks:        "forks",
	ForksPPWait:  "forks_ppwait",
	ForksShareVM: "forks_sharevm",
	ColorHit:     "colorhit",
	ColorMiss:    "colormiss",
	CPUHit:       "cpuhit",
	CPUMiss:      "cpumiss",
	FreePages:    "freepages",
	PageIns:      "pageins",
	PgSwapIn:     "pgswapin",
	PgSwapOut:    "pgswapout",
	NFault:       "nfault",
	FltUp:        "fltup",
	FltNoUp:      "fltnoup",
	FltPgWait:    "fltpgwait",
	FltRelck:     "fltrelck",
	FltRelckOK:   "fltrelckok",
	FltNoRAM:     "fltnoram",
	FltAcow:      "flt_acow",
	FltAnon:      "flt_anon",
	FltObj:       "flt_obj",
	FltPrcopy:    "flt_prcopy",
	FltPrzero:    "flt_przero",
	PgaZeroHit:   "pga_zerohit",
	PgaZeroMiss:  "pga_zeromiss",
	AnonUnknown:  "anonunknown",
	AnonClean:    "anonclean",
	AnonDirty:    "anondirty",
	FileUnknown:  "fileunknown",
	FileClean:    "fileclean",
	FileDirty:    "filedirty",
	ExecPages:    "execpages",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || k >= NumKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// cacheLineSize pads per-CPU slots apart.
const cacheLineSize = 64

type cpuSlot struct {
	v [NumKinds]atomicbitops.Int64
	_ [cacheLineSize]byte
}

// Counters is a set of per-CPU counters. It must be created by New.
type Counters struct {
	// cpus is immutable after New; each slot is updated atomically.
	cpus []cpuSlot

	// cached holds the totals folded by the most recent Sync.
	cached [NumKinds]atomicbitops.Int64
}

// New returns counters for ncpu CPUs.
func New(ncpu int) *Counters {
	if ncpu <= 0 {
		panic(fmt.Sprintf("invalid CPU count %d", ncpu))
	}
	return &Counters{cpus: make([]cpuSlot, ncpu)}
}

// NCPU returns the number of CPUs.
func (c *Counters) NCPU() int {
	return len(c.cpus)
}

// Add adds delta to counter k on the given CPU. CPU numbers wrap, so callers
// that shard work by an arbitrary integer may pass it directly.
func (c *Counters) Add(cpu int, k Kind, delta int64) {
	if cpu < 0 {
		cpu = -cpu
	}
	c.cpus[cpu%len(c.cpus)].v[k].Add(delta)
}

// Inc adds one to counter k on the given CPU.
func (c *Counters) Inc(cpu int, k Kind) {
	c.Add(cpu, k, 1)
}

// Read folds counter k across CPUs without updating the cache.
func (c *Counters) Read(k Kind) int64 {
	var sum int64
	for i := range c.cpus {
		sum += c.cpus[i].v[k].Load()
	}
	return sum
}

// Sync folds every counter into the cache.
func (c *Counters) Sync() {
	for k := Kind(0); k < NumKinds; k++ {
		c.cached[k].Store(c.Read(k))
	}
}

// Get returns the value of counter k as of the last Sync.
func (c *Counters) Get(k Kind) int64 {
	return c.cached[k].Load()
}

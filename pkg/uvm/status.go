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

package uvm

import (
	"fmt"

	"gvisor.dev/uvm/pkg/cpucount"
)

// PageStatus is what is known about a page's content relative to its
// backing store.
type PageStatus int

// Page statuses, in the order of the status counters.
const (
	StatusUnknown PageStatus = iota
	StatusClean
	StatusDirty
)

// String implements fmt.Stringer.
func (s PageStatus) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusClean:
		return "clean"
	case StatusDirty:
		return "dirty"
	default:
		return fmt.Sprintf("PageStatus(%d)", int(s))
	}
}

func statusOf(f Flags) PageStatus {
	switch {
	case f.Has(PGClean) && f.Has(PGDirty):
		panic(fmt.Sprintf("flags %v are both clean and dirty", f))
	case f.Has(PGClean):
		return StatusClean
	case f.Has(PGDirty):
		return StatusDirty
	default:
		return StatusUnknown
	}
}

func (s PageStatus) flags() Flags {
	switch s {
	case StatusClean:
		return PGClean
	case StatusDirty:
		return PGDirty
	default:
		return 0
	}
}

// statusCounter returns the counter tracking owned pages with flags f.
func statusCounter(f Flags) cpucount.Kind {
	base := cpucount.FileUnknown
	if f.SwapBacked() {
		base = cpucount.AnonUnknown
	}
	return base + cpucount.Kind(statusOf(f))
}

// countStatus charges delta to the status counter of a page with flags f.
func (m *Manager) countStatus(cpu int, f Flags, delta int64) {
	m.counters.Add(cpu, statusCounter(f), delta)
}

// Status returns the page status.
func (pg *Page) Status(g *OwnerGuard) PageStatus {
	return statusOf(pg.Flags(g))
}

// SetStatus changes the page status and moves the page between status
// counters. g must hold the owner lock exclusively.
func (m *Manager) SetStatus(g *OwnerGuard, pg *Page, st PageStatus) {
	g.assertCoversPage(pg, true)
	f := pg.loadFlags()
	if statusOf(f) == st {
		return
	}
	nf := f&^pgStatusMask | st.flags()
	m.countStatus(0, f, -1)
	m.countStatus(0, nf, 1)
	pg.clearFlags(pgStatusMask)
	pg.setFlags(st.flags())
}

// MarkDirty marks pg dirty.
func (m *Manager) MarkDirty(g *OwnerGuard, pg *Page) {
	m.SetStatus(g, pg, StatusDirty)
}

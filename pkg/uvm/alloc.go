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

	"golang.org/x/sys/unix"

	"gvisor.dev/uvm/pkg/cpucount"
	"gvisor.dev/uvm/pkg/errors"
	"gvisor.dev/uvm/pkg/hostarch"
)

// ErrNoPage is returned when no free page satisfies an allocation. The
// allocator never waits; callers decide whether to wait, reclaim or fail.
var ErrNoPage = errors.New(unix.ENOMEM, "no free page")

// Strategy selects which freelists an allocation may use.
type Strategy int

// Allocation strategies.
const (
	// StratNormal tries every freelist in index order.
	StratNormal Strategy = iota
	// StratOnly uses AllocOpts.Freelist only.
	StratOnly
	// StratFallback tries AllocOpts.Freelist first, then the others.
	StratFallback
)

// String implements fmt.Stringer.
func (s Strategy) String() string {
	switch s {
	case StratNormal:
		return "normal"
	case StratOnly:
		return "only"
	case StratFallback:
		return "fallback"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// AllocOpts are allocation options.
type AllocOpts struct {
	// Zero requests a page filled with zeroes.
	Zero bool

	// UseReserve permits dipping into the kernel reserve.
	UseReserve bool

	// PageDaemon marks the caller as the pagedaemon. Combined with
	// UseReserve it permits dipping into the pagedaemon reserve.
	PageDaemon bool

	// Strategy and Freelist restrict the freelists searched.
	Strategy Strategy
	Freelist int

	// CPU is the allocating CPU. It selects the preferred bucket and the
	// counters charged.
	CPU int
}

// freelistOrder returns the freelists to search, in order.
func (m *Manager) freelistOrder(opts *AllocOpts) []int {
	n := m.cfg.NFreelists
	if opts.Strategy != StratNormal && (opts.Freelist < 0 || opts.Freelist >= n) {
		panic(fmt.Sprintf("allocation from freelist %d of %d", opts.Freelist, n))
	}
	switch opts.Strategy {
	case StratNormal:
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	case StratOnly:
		return []int{opts.Freelist}
	case StratFallback:
		order := []int{opts.Freelist}
		for i := 0; i < n; i++ {
			if i != opts.Freelist {
				order = append(order, i)
			}
		}
		return order
	default:
		panic(fmt.Sprintf("unknown allocation strategy %v", opts.Strategy))
	}
}

// allocFree removes a free page from the queue, honoring reserves, strategy,
// bucket and color preferences.
//
// Preconditions: fq.mu is locked.
func (m *Manager) allocFree(opts *AllocOpts, color int, kernel bool) *Page {
	free := m.fq.nfree.Load()
	useReserve := opts.UseReserve || kernel
	if free <= int64(m.cfg.ReserveKernel) && !useReserve {
		return nil
	}
	if free <= int64(m.cfg.ReservePagedaemon) && !(useReserve && opts.PageDaemon) {
		return nil
	}

	cpu := opts.CPU
	nb := m.cfg.Buckets
	home := cpu % nb
	if home < 0 {
		home = -home
	}
	for _, fl := range m.freelistOrder(opts) {
		for i := 0; i < nb; i++ {
			b := (home + i) % nb
			if m.fq.lists[fl][b].nfree == 0 {
				continue
			}
			for j := 0; j < m.cfg.Colors; j++ {
				c := (color + j) & m.colorMask
				pg := m.freeTake(fl, b, c, opts.Zero)
				if pg == nil {
					continue
				}
				if i == 0 {
					m.counters.Inc(cpu, cpucount.CPUHit)
				} else {
					m.counters.Inc(cpu, cpucount.CPUMiss)
				}
				if j == 0 {
					m.counters.Inc(cpu, cpucount.ColorHit)
				} else {
					m.counters.Inc(cpu, cpucount.ColorMiss)
				}
				return pg
			}
		}
	}
	return nil
}

// Alloc allocates a free page to obj at offset off, or to anon an. Exactly
// one of obj and an must be set, and g must hold its lock exclusively.
//
// The page is returned busy, with PGFake and PGClean set. If opts.Zero is
// set the page content is zero and the page is dirty; otherwise PGZero tells
// whether the content is known to be zero.
//
// Alloc never blocks. It returns ErrNoPage if no page is available to the
// caller.
func (m *Manager) Alloc(g *OwnerGuard, obj *Object, off uint64, an *Anon, opts AllocOpts) (*Page, error) {
	switch {
	case obj != nil && an != nil:
		panic("allocation to both an object and an anon")
	case obj != nil:
		g.assertCovers(obj, true)
		if !hostarch.IsPageAligned(off) {
			panic(fmt.Sprintf("allocation at unaligned offset %#x", off))
		}
	case an != nil:
		g.assertCovers(an, true)
		if an.page != nil {
			panic(fmt.Sprintf("%v already has %v", an, an.page))
		}
	default:
		panic("allocation without an owner")
	}

	color := int(hostarch.Atop(off)) & m.colorMask
	fg := m.LockFreeQueue()
	pg := m.allocFree(&opts, color, obj != nil && obj.kind == ObjKernel)
	fg.Unlock()
	if pg == nil {
		m.allocFailures.Warningf("Page allocation failed for %v: %d pages free, strategy %v", ownerName(obj, an), m.FreeCount(), opts.Strategy)
		return nil, ErrNoPage
	}
	m.counters.Add(opts.CPU, cpucount.FreePages, -1)

	if pg.wireCount != 0 || pg.loanCount != 0 || pg.uobject != nil || pg.uanon != nil {
		panic(fmt.Sprintf("%v on free list is in use: wire %d loan %d owner %v/%v", pg, pg.wireCount, pg.loanCount, pg.uobject, pg.uanon))
	}

	wasZero := pg.loadFlags().Has(PGZero)
	flags := PGBusy | PGClean | PGFake
	if opts.Zero {
		if wasZero {
			m.counters.Inc(opts.CPU, cpucount.PgaZeroHit)
		} else {
			m.counters.Inc(opts.CPU, cpucount.PgaZeroMiss)
			if a := pg.arena(); a != nil {
				a.Zero(pg.PhysAddr())
			}
		}
		// Zeroed content differs from backing store.
		flags = flags&^PGClean | PGDirty
	} else if wasZero {
		flags |= PGZero
	}

	pg.offset = off
	if obj != nil {
		pg.uobject = obj
		flags |= obj.kind.pageFlag() | PGTabled
		obj.insert(pg, off)
		if obj.kind == ObjExec {
			m.counters.Inc(opts.CPU, cpucount.ExecPages)
		}
	} else {
		pg.uanon = an
		an.page = pg
		pg.offset = 0
		flags |= PGAnon
	}
	pg.flags.Store(uint32(flags))
	m.countStatus(opts.CPU, flags, 1)
	return pg, nil
}

func ownerName(obj *Object, an *Anon) string {
	if obj != nil {
		return obj.String()
	}
	return an.String()
}

// Free returns pg to the free lists. g must hold the owner lock exclusively.
// A wired page is unwired. Freeing a busy page is a bug; busy holders use
// Release or Unbusy with PGReleased.
func (m *Manager) Free(g *OwnerGuard, pg *Page) {
	g.assertCoversPage(pg, true)
	if pg.loadFlags().Has(PGBusy) {
		panic(fmt.Sprintf("%v: free while busy, use Release", pg))
	}
	m.free(g, pg)
}

// free frees pg, which may be busy if the caller is its busy holder.
func (m *Manager) free(g *OwnerGuard, pg *Page) {
	if pg.loanCount != 0 {
		panic(fmt.Sprintf("%v: free with %d loans outstanding", pg, pg.loanCount))
	}
	f := pg.loadFlags()
	if f.Has(PGFree) {
		panic(fmt.Sprintf("%v: double free", pg))
	}

	// Wake anyone waiting for the page; they will find it gone.
	ig := pg.LockInterlock(g)
	if pg.wireCount != 0 {
		pg.wireCount = 0
		m.wired.remove(pg)
	}
	m.queues.setIntent(ig, IntentDequeue)
	if pg.loadFlags().Has(PGWanted) {
		pg.clearFlags(PGWanted)
		pg.wakeup.Broadcast()
	}
	ig.Unlock()
	m.queues.realize(pg)

	m.countStatus(0, f, -1)
	if obj := pg.uobject; obj != nil {
		obj.remove(pg)
		if obj.kind == ObjExec {
			m.counters.Add(0, cpucount.ExecPages, -1)
		}
		pg.uobject = nil
	}
	if an := pg.uanon; an != nil {
		an.page = nil
		pg.uanon = nil
	}
	pg.offset = 0

	fg := m.LockFreeQueue()
	// Content is unknown once the owner lets go.
	pg.flags.Store(0)
	m.freeInsert(pg)
	fg.Unlock()
	m.counters.Add(0, cpucount.FreePages, 1)
}

// Release frees pg, or, if it is busy, marks it PGReleased so that the busy
// holder frees it on Unbusy.
func (m *Manager) Release(g *OwnerGuard, pg *Page) {
	g.assertCoversPage(pg, true)
	if pg.loadFlags().Has(PGBusy) {
		pg.setFlags(PGReleased)
		return
	}
	m.free(g, pg)
}

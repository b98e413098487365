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

	"gvisor.dev/uvm/pkg/atomicbitops"
	"gvisor.dev/uvm/pkg/hostarch"
	"gvisor.dev/uvm/pkg/ilist"
	"gvisor.dev/uvm/pkg/physmem"
	"gvisor.dev/uvm/pkg/sync"
)

// Page is the bookkeeping record of one physical page frame. Pages are
// created by New and live as long as their Manager.
//
// A page is in exactly one of four ownership states: free (PGFree set, on a
// free list), owned by an Object, owned by an Anon, or owned by a PglistAlloc
// caller. An object-owned page may additionally be loaned to an anon, in
// which case the object lock remains authoritative.
//
// Field groups and the locks that protect them:
//
//   - owner fields (uobject, uanon, offset, flags): the owner lock.
//   - owner+interlock fields (wireCount, loanCount, pq): read with either
//     the owner lock or the interlock; written with both.
//   - free fields (pageq while free, the bucket in phys): the free queue
//     lock.
//   - wired fields (pageq while wired): the wired queue lock, or nothing for
//     pages owned by a PglistAlloc caller.
type Page struct {
	// pageq links the page into a free list, the wired queue or a Pglist.
	pageq ilist.Entry[Page]

	// pdq links the page into a pagedaemon queue. Protected by
	// PageQueues.mu.
	pdq ilist.Entry[Page]

	// interlock is the page's own lock.
	interlock sync.Mutex

	// wakeup is broadcast when a page with PGWanted set is unbusied or
	// freed. Its locker is interlock.
	wakeup sync.Cond

	// phys holds the frame address and the packed freelist and bucket.
	phys atomicbitops.Uint64

	m *Manager

	uobject *Object
	uanon   *Anon
	offset  uint64
	flags   atomicbitops.Uint32

	wireCount uint32
	loanCount uint32
	pq        PQState

	// pglist is set while the page belongs to a PglistAlloc caller.
	// Protected by the free queue lock.
	pglist bool
}

func (pg *Page) init(m *Manager, pa PhysAddr) {
	pg.m = m
	pg.phys.Store(uint64(pa))
	pg.wakeup.L = &pg.interlock
}

// String implements fmt.Stringer.
func (pg *Page) String() string {
	return fmt.Sprintf("page %#x", pg.PhysAddr())
}

// PhysAddr returns the physical address of the frame.
func (pg *Page) PhysAddr() uint64 {
	return pg.packed().Frame()
}

// PFN returns the page frame number.
func (pg *Page) PFN() uint64 {
	return hostarch.Atop(pg.PhysAddr())
}

func (pg *Page) packed() PhysAddr {
	return PhysAddr(pg.phys.Load())
}

// Freelist returns the freelist index packed in the page's physical address.
// It panics if the packed value disagrees with the physical segment table.
func (pg *Page) Freelist() int {
	fl := pg.packed().Freelist()
	if want := pg.m.lookupFreelist(pg); fl != want {
		panic(fmt.Sprintf("%v: packed freelist %d, segment freelist %d", pg, fl, want))
	}
	return fl
}

// Bucket returns the bucket packed in the page's physical address.
func (pg *Page) Bucket() int {
	return pg.packed().Bucket()
}

// lockOwner returns the object or anon whose lock guards the page, or nil.
// The object wins for loaned pages.
func (pg *Page) lockOwner() owner {
	if pg.uobject != nil {
		return pg.uobject
	}
	if pg.uanon != nil {
		return pg.uanon
	}
	return nil
}

func (pg *Page) loadFlags() Flags {
	return Flags(pg.flags.Load())
}

func (pg *Page) setFlags(f Flags) {
	pg.flags.Or(uint32(f))
}

func (pg *Page) clearFlags(f Flags) {
	pg.flags.And(^uint32(f))
}

// Flags returns the page flags.
func (pg *Page) Flags(g *OwnerGuard) Flags {
	g.assertCoversPage(pg, false)
	return pg.loadFlags()
}

// callerFlags are the flags callers may set and clear directly. The rest
// are maintained by the page manager.
const callerFlags = PGFake | PGRdonly | PGPageout

// SetFlags sets caller-managed flags.
func (pg *Page) SetFlags(g *OwnerGuard, f Flags) {
	g.assertCoversPage(pg, true)
	if f&^callerFlags != 0 {
		panic(fmt.Sprintf("%v: flags %v are not caller-managed", pg, f&^callerFlags))
	}
	pg.setFlags(f)
}

// ClearFlags clears caller-managed flags.
func (pg *Page) ClearFlags(g *OwnerGuard, f Flags) {
	g.assertCoversPage(pg, true)
	if f&^callerFlags != 0 {
		panic(fmt.Sprintf("%v: flags %v are not caller-managed", pg, f&^callerFlags))
	}
	pg.clearFlags(f)
}

// Object returns the owning object and the page's offset in it. obj is nil
// for pages that are not object-owned.
func (pg *Page) Object(g *OwnerGuard) (obj *Object, off uint64) {
	g.assertCoversPage(pg, false)
	return pg.uobject, pg.offset
}

// Anon returns the anon owning the page, or the anon it is loaned to.
func (pg *Page) Anon(g *OwnerGuard) *Anon {
	g.assertCoversPage(pg, false)
	return pg.uanon
}

// WireCount returns the number of wirings.
func (pg *Page) WireCount(g *OwnerGuard) uint32 {
	g.assertCoversPage(pg, false)
	return pg.wireCount
}

// LoanCount returns the number of loans.
func (pg *Page) LoanCount(g *OwnerGuard) uint32 {
	g.assertCoversPage(pg, false)
	return pg.loanCount
}

// PQ returns the pagedaemon state.
func (ig *InterlockGuard) PQ() PQState {
	ig.assertHeld()
	return ig.pg.pq
}

// arena returns the physical memory backing the page, or nil if the
// manager runs without backing memory.
func (pg *Page) arena() *physmem.Arena {
	if pg.m.mem == nil {
		return nil
	}
	return pg.m.mem.Lookup(pg.PhysAddr())
}

func (pg *Page) assertBusy(g *OwnerGuard) {
	g.assertCoversPage(pg, false)
	if !pg.loadFlags().Has(PGBusy) {
		panic(fmt.Sprintf("%v: content access without busy", pg))
	}
}

// Write copies data into the page at byte offset off and returns the number
// of bytes copied. The caller must hold the page busy. Pages of a manager
// without backing memory accept no data.
func (pg *Page) Write(g *OwnerGuard, off int, data []byte) int {
	pg.assertBusy(g)
	a := pg.arena()
	if a == nil {
		return 0
	}
	pg.clearFlags(PGZero)
	return a.Write(pg.PhysAddr(), off, data)
}

// Read copies page content from byte offset off into dst and returns the
// number of bytes copied. The caller must hold the page busy.
func (pg *Page) Read(g *OwnerGuard, off int, dst []byte) int {
	pg.assertBusy(g)
	a := pg.arena()
	if a == nil {
		return 0
	}
	return a.Read(pg.PhysAddr(), off, dst)
}

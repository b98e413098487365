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
	"gvisor.dev/uvm/pkg/ilist"
	"gvisor.dev/uvm/pkg/sync"
)

type pageqMapper struct{}

func (pageqMapper) LinkerFor(pg *Page) *ilist.Entry[Page] { return &pg.pageq }

// pageList is a list of pages linked through Page.pageq.
type pageList = ilist.List[Page, pageqMapper]

// freeBucket holds the free pages of one bucket of one freelist, one list
// per page color. Within a color list, known-zero pages are kept at the back
// and other pages at the front.
type freeBucket struct {
	colors []pageList
	nfree  int
}

// freeQueue is the global set of free lists.
type freeQueue struct {
	mu sync.Mutex

	// lists is indexed by freelist, then bucket. Protected by mu.
	lists [][]freeBucket

	// nfree and nzero count free and known-zero free pages. Written with mu
	// held; may be read without it.
	nfree atomicbitops.Int64
	nzero atomicbitops.Int64
}

func (fq *freeQueue) init(nfreelists, nbuckets, ncolors int) {
	fq.lists = make([][]freeBucket, nfreelists)
	for fl := range fq.lists {
		fq.lists[fl] = make([]freeBucket, nbuckets)
		for b := range fq.lists[fl] {
			fq.lists[fl][b].colors = make([]pageList, ncolors)
		}
	}
}

// FreeQueueGuard is proof that its holder holds the free queue lock.
type FreeQueueGuard struct {
	m    *Manager
	held bool
}

// LockFreeQueue locks the free queue. The lock order is owner lock, then
// free queue lock.
func (m *Manager) LockFreeQueue() *FreeQueueGuard {
	m.fq.mu.Lock()
	return &FreeQueueGuard{m: m, held: true}
}

// Unlock releases the free queue lock and invalidates g.
func (g *FreeQueueGuard) Unlock() {
	g.assertHeld(g.m)
	g.held = false
	g.m.fq.mu.Unlock()
}

func (g *FreeQueueGuard) assertHeld(m *Manager) {
	if g == nil || !g.held {
		panic("use of released free queue guard")
	}
	if g.m != m {
		panic("free queue guard of another manager")
	}
}

func (m *Manager) color(pg *Page) int {
	return int(pg.PFN()) & m.colorMask
}

func (fq *freeQueue) bucketOf(pg *Page) *freeBucket {
	pa := pg.packed()
	return &fq.lists[pa.Freelist()][pa.Bucket()]
}

// insert puts pg on its free list and sets PGFree.
//
// Preconditions: fq.mu is locked; pg has no owner.
func (m *Manager) freeInsert(pg *Page) {
	f := pg.loadFlags()
	if f.Has(PGFree) || pg.pageq.Linked() {
		panic(fmt.Sprintf("%v: inserting page that is already queued (flags %v)", pg, f))
	}
	b := m.fq.bucketOf(pg)
	l := &b.colors[m.color(pg)]
	if f.Has(PGZero) {
		l.PushBack(pg)
		m.fq.nzero.Add(1)
	} else {
		l.PushFront(pg)
	}
	b.nfree++
	m.fq.nfree.Add(1)
	pg.flags.Store(uint32(PGFree | f&PGZero))
}

// freeRemove takes pg off its free list and clears PGFree. PGZero is kept.
//
// Preconditions: fq.mu is locked; pg is free.
func (m *Manager) freeRemove(pg *Page) {
	f := pg.loadFlags()
	if !f.Has(PGFree) {
		panic(fmt.Sprintf("%v: removing page that is not free (flags %v)", pg, f))
	}
	b := m.fq.bucketOf(pg)
	b.colors[m.color(pg)].Remove(pg)
	b.nfree--
	m.fq.nfree.Add(-1)
	if f.Has(PGZero) {
		m.fq.nzero.Add(-1)
	}
	pg.flags.Store(uint32(f & PGZero))
}

// freeTake removes and returns a page of the given color from bucket b of
// freelist fl, or nil. If zero is set, known-zero pages are preferred;
// otherwise other pages are.
//
// Preconditions: fq.mu is locked.
func (m *Manager) freeTake(fl, b, color int, zero bool) *Page {
	l := &m.fq.lists[fl][b].colors[color]
	var pg *Page
	if zero {
		pg = l.Back()
	} else {
		pg = l.Front()
	}
	if pg != nil {
		m.freeRemove(pg)
	}
	return pg
}

// SetFreelist changes the freelist index packed in pg. A free page moves to
// the matching list, so the packed value keeps describing its membership.
func (pg *Page) SetFreelist(g *FreeQueueGuard, fl int) {
	g.assertHeld(pg.m)
	pg.m.repack(pg, pg.packed().WithFreelist(fl))
}

// SetBucket changes the bucket packed in pg. A free page moves to the
// matching list.
func (pg *Page) SetBucket(g *FreeQueueGuard, b int) {
	g.assertHeld(pg.m)
	pg.m.repack(pg, pg.packed().WithBucket(b))
}

// Preconditions: fq.mu is locked.
func (m *Manager) repack(pg *Page, pa PhysAddr) {
	if pa.Freelist() >= len(m.fq.lists) || pa.Bucket() >= len(m.fq.lists[0]) {
		panic(fmt.Sprintf("%v: %v outside the %d freelists of %d buckets", pg, pa, len(m.fq.lists), len(m.fq.lists[0])))
	}
	free := pg.loadFlags().Has(PGFree)
	if free {
		m.freeRemove(pg)
	}
	pg.phys.Store(uint64(pa))
	if free {
		m.freeInsert(pg)
	}
}

// Rebucket redistributes all pages over the configured buckets by physical
// address striping. Free pages move between lists accordingly.
func (m *Manager) Rebucket() {
	g := m.LockFreeQueue()
	defer g.Unlock()
	m.forEachPage(func(pg *Page) {
		if b := m.stripeBucket(pg); b != pg.Bucket() {
			pg.SetBucket(g, b)
		}
	})
}

// stripeBucket returns the bucket of pg under address striping. Runs of
// ncolors consecutive frames share a bucket, so every bucket sees every
// color.
func (m *Manager) stripeBucket(pg *Page) int {
	return int(pg.PFN()/uint64(m.cfg.Colors)) % m.cfg.Buckets
}

// BucketFree returns the number of free pages in bucket b of freelist fl.
func (m *Manager) BucketFree(fl, b int) int {
	g := m.LockFreeQueue()
	defer g.Unlock()
	return m.fq.lists[fl][b].nfree
}

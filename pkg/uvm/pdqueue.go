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

// Values of PQState.Private used by PageQueues.
const (
	pqOffQueue uint16 = iota
	pqActive
	pqInactive
)

type pdqMapper struct{}

func (pdqMapper) LinkerFor(pg *Page) *ilist.Entry[Page] { return &pg.pdq }

type pdqList = ilist.List[Page, pdqMapper]

// intentBatch collects pages whose intents await realization.
type intentBatch struct {
	mu    sync.Mutex
	pages []*Page
}

// PageQueues are the pagedaemon's active and inactive queues.
//
// Queue operations on a page only record an intent on it (PQState.Set) and
// hand it to a batch (PQState.Queued). Flush realizes batched intents under
// the queue lock, so callers never wait for that lock while holding an owner
// lock and an interlock.
type PageQueues struct {
	m *Manager

	// mu protects the lists and, together with each page's interlock,
	// the pages' queue linkage.
	mu       sync.Mutex
	active   pdqList
	inactive pdqList

	// Written with mu held.
	nactive   atomicbitops.Int64
	ninactive atomicbitops.Int64

	// batches are selected by page frame number.
	batches   []intentBatch
	batchSize int

	realized atomicbitops.Uint64
}

func (q *PageQueues) init(m *Manager, nbatches, size int) {
	q.m = m
	q.batches = make([]intentBatch, nbatches)
	q.batchSize = size
}

// setIntent records in on the page and queues it for realization.
//
// Preconditions: the page interlock is held.
func (q *PageQueues) setIntent(ig *InterlockGuard, in Intent) {
	ig.assertHeld()
	pg := ig.pg
	pg.pq.Intent = in
	pg.pq.Set = true
	if pg.pq.Queued {
		return
	}
	pg.pq.Queued = true
	b := q.batchOf(pg)
	b.mu.Lock()
	b.pages = append(b.pages, pg)
	b.mu.Unlock()
}

func (q *PageQueues) batchOf(pg *Page) *intentBatch {
	return &q.batches[pg.PFN()%uint64(len(q.batches))]
}

func (q *PageQueues) queueOp(ig *InterlockGuard, in Intent) {
	ig.assertOwned()
	if ig.pg.wireCount > 0 && in != IntentDequeue {
		return
	}
	q.setIntent(ig, in)
}

// Activate records the intent to put the page at the tail of the active
// queue. Wired pages are left alone.
func (q *PageQueues) Activate(ig *InterlockGuard) { q.queueOp(ig, IntentActivate) }

// Deactivate records the intent to move the page to the inactive queue,
// where it becomes a reclaim candidate. Wired pages are left alone.
func (q *PageQueues) Deactivate(ig *InterlockGuard) { q.queueOp(ig, IntentDeactivate) }

// Enqueue records the intent to put the page on the active queue if it is
// not on any queue. Wired pages are left alone.
func (q *PageQueues) Enqueue(ig *InterlockGuard) { q.queueOp(ig, IntentEnqueue) }

// Dequeue records the intent to take the page off the queues.
func (q *PageQueues) Dequeue(ig *InterlockGuard) { q.queueOp(ig, IntentDequeue) }

// flushIfFull flushes the batch of pg if it has reached the batch size.
func (q *PageQueues) flushIfFull(pg *Page) {
	b := q.batchOf(pg)
	b.mu.Lock()
	full := len(b.pages) >= q.batchSize
	b.mu.Unlock()
	if full {
		q.flushBatch(b)
	}
}

// Flush realizes every pending intent.
func (q *PageQueues) Flush() {
	for i := range q.batches {
		q.flushBatch(&q.batches[i])
	}
}

func (q *PageQueues) flushBatch(b *intentBatch) {
	b.mu.Lock()
	pages := b.pages
	b.pages = nil
	b.mu.Unlock()
	if len(pages) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, pg := range pages {
		ig := pg.lockInterlockQueued()
		q.realizeLocked(pg)
		ig.Unlock()
	}
}

// realize applies pg's pending intent immediately.
//
// Preconditions: pg's interlock is not held.
func (q *PageQueues) realize(pg *Page) {
	q.mu.Lock()
	ig := pg.lockInterlockQueued()
	q.realizeLocked(pg)
	ig.Unlock()
	q.mu.Unlock()
}

// Preconditions: q.mu and pg's interlock are held.
func (q *PageQueues) realizeLocked(pg *Page) {
	if !pg.pq.Set {
		pg.pq.Queued = false
		return
	}
	in := pg.pq.Intent
	if in != IntentDequeue && (pg.wireCount > 0 || pg.loadFlags().Has(PGFree)) {
		in = IntentDequeue
	}
	switch in {
	case IntentActivate:
		q.moveTo(pg, pqActive)
	case IntentEnqueue:
		if pg.pq.Private == pqOffQueue {
			q.moveTo(pg, pqActive)
		}
	case IntentDeactivate:
		q.moveTo(pg, pqInactive)
	case IntentDequeue:
		q.moveTo(pg, pqOffQueue)
	default:
		panic(fmt.Sprintf("%v: bad intent %v", pg, in))
	}
	pg.pq.Set = false
	pg.pq.Queued = false
	q.realized.Add(1)
}

// moveTo moves pg to the tail of the given queue, or off the queues.
//
// Preconditions: q.mu and pg's interlock are held.
func (q *PageQueues) moveTo(pg *Page, where uint16) {
	switch pg.pq.Private {
	case pqActive:
		q.active.Remove(pg)
		q.nactive.Add(-1)
	case pqInactive:
		q.inactive.Remove(pg)
		q.ninactive.Add(-1)
	}
	switch where {
	case pqActive:
		q.active.PushBack(pg)
		q.nactive.Add(1)
	case pqInactive:
		q.inactive.PushBack(pg)
		q.ninactive.Add(1)
	}
	pg.pq.Private = where
}

// EstimatePageable returns the number of pages on the active and inactive
// queues. Unrealized intents are not reflected.
func (q *PageQueues) EstimatePageable() (active, inactive int64) {
	return q.nactive.Load(), q.ninactive.Load()
}

// Realized returns the number of intents realized so far.
func (q *PageQueues) Realized() uint64 {
	return q.realized.Load()
}

// ScanInactive calls fn for each page on the inactive queue, oldest first,
// until fn returns false. The queue lock is not held while fn runs; a marker
// page keeps the scan position, so fn may take owner locks.
func (q *PageQueues) ScanInactive(fn func(pg *Page) bool) {
	marker := &Page{}
	marker.flags.Store(uint32(PGMarker))
	q.mu.Lock()
	pg := q.inactive.Front()
	for pg != nil {
		if pg.loadFlags().Has(PGMarker) {
			pg = q.inactive.Next(pg)
			continue
		}
		q.inactive.InsertAfter(pg, marker)
		q.mu.Unlock()
		cont := fn(pg)
		q.mu.Lock()
		pg = q.inactive.Next(marker)
		q.inactive.Remove(marker)
		if !cont {
			break
		}
	}
	q.mu.Unlock()
}

// ReclaimCandidates returns up to n inactive pages that are not wired,
// loaned, busy or free. The result is a hint: a reclaimer must lock each
// page's owner and check again.
func (q *PageQueues) ReclaimCandidates(n int) []*Page {
	var out []*Page
	if n <= 0 {
		return out
	}
	q.ScanInactive(func(pg *Page) bool {
		pg.interlock.Lock()
		ok := pg.wireCount == 0 && pg.loanCount == 0 && !pg.loadFlags().HasAny(PGBusy|PGFree) &&
			!(pg.pq.Set && pg.pq.Intent != IntentDeactivate)
		pg.interlock.Unlock()
		if ok {
			out = append(out, pg)
		}
		return len(out) < n
	})
	return out
}

func (m *Manager) queueOp(g *OwnerGuard, pg *Page, op func(*InterlockGuard)) {
	ig := pg.LockInterlock(g)
	op(ig)
	ig.Unlock()
	m.queues.flushIfFull(pg)
}

// PageActivate is PageQueues.Activate taking the interlock internally.
func (m *Manager) PageActivate(g *OwnerGuard, pg *Page) { m.queueOp(g, pg, m.queues.Activate) }

// PageDeactivate is PageQueues.Deactivate taking the interlock internally.
func (m *Manager) PageDeactivate(g *OwnerGuard, pg *Page) { m.queueOp(g, pg, m.queues.Deactivate) }

// PageEnqueue is PageQueues.Enqueue taking the interlock internally.
func (m *Manager) PageEnqueue(g *OwnerGuard, pg *Page) { m.queueOp(g, pg, m.queues.Enqueue) }

// PageDequeue is PageQueues.Dequeue taking the interlock internally.
func (m *Manager) PageDequeue(g *OwnerGuard, pg *Page) { m.queueOp(g, pg, m.queues.Dequeue) }

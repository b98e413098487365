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
	"gvisor.dev/uvm/pkg/sync"
)

// wiredQueue holds the wired pages.
type wiredQueue struct {
	mu    sync.Mutex
	pages pageList

	// count is the number of wired pages. Written with mu held.
	count atomicbitops.Int64
}

// Preconditions: pg's interlock is held.
func (q *wiredQueue) add(pg *Page) {
	q.mu.Lock()
	q.pages.PushBack(pg)
	q.mu.Unlock()
	q.count.Add(1)
}

// Preconditions: pg's interlock is held.
func (q *wiredQueue) remove(pg *Page) {
	q.mu.Lock()
	q.pages.Remove(pg)
	q.mu.Unlock()
	q.count.Add(-1)
}

// Wire adds a wiring to pg. A wired page is taken off the pagedaemon queues
// and is never a reclaim candidate.
func (m *Manager) Wire(g *OwnerGuard, pg *Page) {
	ig := pg.LockInterlock(g)
	defer ig.Unlock()
	m.WireLocked(ig)
}

// WireLocked is Wire with the interlock already held.
func (m *Manager) WireLocked(ig *InterlockGuard) {
	ig.assertOwned()
	pg := ig.pg
	if pg.wireCount == 0 {
		m.queues.setIntent(ig, IntentDequeue)
		m.wired.add(pg)
	}
	pg.wireCount++
}

// Unwire drops a wiring from pg. Unwiring a page that is not wired panics.
// The last unwiring reactivates the page.
func (m *Manager) Unwire(g *OwnerGuard, pg *Page) {
	ig := pg.LockInterlock(g)
	defer ig.Unlock()
	m.UnwireLocked(ig)
}

// UnwireLocked is Unwire with the interlock already held.
func (m *Manager) UnwireLocked(ig *InterlockGuard) {
	ig.assertOwned()
	pg := ig.pg
	if pg.wireCount == 0 {
		panic(fmt.Sprintf("%v: unwire of unwired page", pg))
	}
	pg.wireCount--
	if pg.wireCount == 0 {
		m.wired.remove(pg)
		m.queues.setIntent(ig, IntentActivate)
	}
}

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
	"testing"

	"gvisor.dev/uvm/pkg/hostarch"
)

func allocIdle(t *testing.T, m *Manager, obj *Object, n int) []*Page {
	t.Helper()
	g := obj.Lock()
	defer g.Unlock()
	var pages []*Page
	for i := 0; i < n; i++ {
		pg, err := m.Alloc(g, obj, uint64(i)*hostarch.PageSize, nil, AllocOpts{})
		if err != nil {
			t.Fatalf("Alloc: %v", err)
		}
		m.Unbusy(g, pg)
		pages = append(pages, pg)
	}
	return pages
}

func pqOf(obj *Object, pg *Page) PQState {
	g := obj.RLock()
	defer g.Unlock()
	ig := pg.LockInterlock(g)
	defer ig.Unlock()
	return ig.PQ()
}

func TestIntentRealization(t *testing.T) {
	cfg := testConfig(16)
	cfg.IntentBatch = 100
	m := newTestManager(t, cfg)
	q := m.Queues()
	obj := NewObject(ObjVnode, "q")
	pg := allocIdle(t, m, obj, 1)[0]

	g := obj.Lock()
	m.PageActivate(g, pg)
	g.Unlock()
	if s := pqOf(obj, pg); !s.Set || !s.Queued || s.Intent != IntentActivate {
		t.Errorf("after Activate, state = %v, want A set and queued", s)
	}
	if a, _ := q.EstimatePageable(); a != 0 {
		t.Errorf("intent realized before Flush")
	}

	q.Flush()
	s := pqOf(obj, pg)
	if s.Set || s.Queued || s.Private != pqActive {
		t.Errorf("after Flush, state = %v, want realized on the active queue", s)
	}
	if a, i := q.EstimatePageable(); a != 1 || i != 0 {
		t.Errorf("pageable = %d/%d, want 1/0", a, i)
	}

	for _, tc := range []struct {
		op           func(*OwnerGuard, *Page)
		wantActive   int64
		wantInactive int64
	}{
		{m.PageDeactivate, 0, 1},
		// Enqueue leaves a queued page where it is.
		{m.PageEnqueue, 0, 1},
		{m.PageDequeue, 0, 0},
		// Enqueue puts an unqueued page on the active queue.
		{m.PageEnqueue, 1, 0},
	} {
		g := obj.Lock()
		tc.op(g, pg)
		g.Unlock()
		q.Flush()
		if a, i := q.EstimatePageable(); a != tc.wantActive || i != tc.wantInactive {
			t.Errorf("pageable = %d/%d, want %d/%d", a, i, tc.wantActive, tc.wantInactive)
		}
	}
}

func TestLastIntentWins(t *testing.T) {
	cfg := testConfig(16)
	cfg.IntentBatch = 100
	m := newTestManager(t, cfg)
	obj := NewObject(ObjVnode, "l")
	pg := allocIdle(t, m, obj, 1)[0]

	g := obj.Lock()
	m.PageActivate(g, pg)
	m.PageDeactivate(g, pg)
	g.Unlock()
	before := m.Queues().Realized()
	m.Queues().Flush()
	if got := m.Queues().Realized() - before; got != 1 {
		t.Errorf("realized %d intents, want 1", got)
	}
	if a, i := m.Queues().EstimatePageable(); a != 0 || i != 1 {
		t.Errorf("pageable = %d/%d, want 0/1", a, i)
	}
}

func TestFullBatchFlushes(t *testing.T) {
	cfg := testConfig(16)
	cfg.NCPU = 1
	cfg.IntentBatch = 4
	m := newTestManager(t, cfg)
	obj := NewObject(ObjVnode, "f")
	pages := allocIdle(t, m, obj, 4)
	g := obj.Lock()
	for _, pg := range pages {
		m.PageActivate(g, pg)
	}
	g.Unlock()
	if a, _ := m.Queues().EstimatePageable(); a != 4 {
		t.Errorf("active = %d after filling a batch, want 4", a)
	}
}

func TestReclaimCandidates(t *testing.T) {
	cfg := testConfig(16)
	cfg.NCPU = 1
	cfg.IntentBatch = 100
	m := newTestManager(t, cfg)
	obj := NewObject(ObjVnode, "c")
	pages := allocIdle(t, m, obj, 5)
	g := obj.Lock()
	for _, pg := range pages {
		m.PageDeactivate(g, pg)
	}
	g.Unlock()
	m.Queues().Flush()

	g = obj.Lock()
	TryBusy(g, pages[1])
	m.Wire(g, pages[2])
	an := NewAnon()
	ag := an.Lock()
	m.LoanToAnon(g, ag, pages[3], an)
	ag.Unlock()
	g.Unlock()

	got := m.Queues().ReclaimCandidates(10)
	if len(got) != 2 || got[0] != pages[0] || got[1] != pages[4] {
		t.Errorf("candidates = %v, want [%v %v]", got, pages[0], pages[4])
	}
	if got := m.Queues().ReclaimCandidates(1); len(got) != 1 {
		t.Errorf("limited scan returned %d pages, want 1", len(got))
	}
	if got := m.Queues().ReclaimCandidates(0); len(got) != 0 {
		t.Errorf("empty scan returned %d pages", len(got))
	}
}

func TestScanInactiveToleratesFree(t *testing.T) {
	m := newTestManager(t, testConfig(16))
	obj := NewObject(ObjVnode, "s")
	pages := allocIdle(t, m, obj, 6)
	g := obj.Lock()
	for _, pg := range pages {
		m.PageDeactivate(g, pg)
	}
	g.Unlock()
	m.Queues().Flush()

	visited := 0
	m.Queues().ScanInactive(func(pg *Page) bool {
		visited++
		// Reclaim the page: the queue lock is not held here.
		g := obj.Lock()
		m.Free(g, pg)
		g.Unlock()
		return true
	})
	if visited != 6 {
		t.Errorf("visited %d pages, want 6", visited)
	}
	if _, i := m.Queues().EstimatePageable(); i != 0 {
		t.Errorf("inactive = %d, want 0", i)
	}
	verify(t, m)
}

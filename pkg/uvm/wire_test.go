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

func TestWireCounts(t *testing.T) {
	m := newTestManager(t, testConfig(8))
	obj := NewObject(ObjAobj, "w")
	pg := allocBusy(t, m, obj, 0)
	g := obj.Lock()
	defer g.Unlock()
	m.Unbusy(g, pg)

	m.Wire(g, pg)
	m.Wire(g, pg)
	if got := pg.WireCount(g); got != 2 {
		t.Errorf("WireCount = %d, want 2", got)
	}
	if got := m.Wired(); got != 1 {
		t.Errorf("Wired = %d, want 1", got)
	}
	m.Unwire(g, pg)
	m.Unwire(g, pg)
	if got := m.Wired(); got != 0 {
		t.Errorf("Wired = %d, want 0", got)
	}

	// The last unwiring activates the page.
	m.Queues().Flush()
	if a, _ := m.Queues().EstimatePageable(); a != 1 {
		t.Errorf("active = %d, want 1", a)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("unwire of an unwired page did not panic")
		}
		verify(t, m)
	}()
	m.Unwire(g, pg)
}

func TestWiredNeverReclaimed(t *testing.T) {
	m := newTestManager(t, testConfig(16))
	obj := NewObject(ObjAobj, "r")
	g := obj.Lock()
	var pages []*Page
	for i := uint64(0); i < 4; i++ {
		pg, err := m.Alloc(g, obj, i*hostarch.PageSize, nil, AllocOpts{})
		if err != nil {
			t.Fatalf("Alloc: %v", err)
		}
		m.Unbusy(g, pg)
		m.PageDeactivate(g, pg)
		pages = append(pages, pg)
	}
	g.Unlock()
	m.Queues().Flush()

	// Wire one page without realizing the dequeue: the scan must still
	// skip it.
	g = obj.Lock()
	m.Wire(g, pages[0])
	g.Unlock()
	for _, pg := range m.Queues().ReclaimCandidates(10) {
		if pg == pages[0] {
			t.Errorf("wired page offered for reclaim before realization")
		}
	}

	m.Queues().Flush()
	cands := m.Queues().ReclaimCandidates(10)
	if len(cands) != 3 {
		t.Errorf("got %d candidates, want 3", len(cands))
	}
	for _, pg := range cands {
		if pg == pages[0] {
			t.Errorf("wired page offered for reclaim")
		}
	}
	if _, i := m.Queues().EstimatePageable(); i != 3 {
		t.Errorf("inactive = %d, want 3", i)
	}

	// Deactivating a wired page does nothing.
	g = obj.Lock()
	m.PageDeactivate(g, pages[0])
	g.Unlock()
	m.Queues().Flush()
	if _, i := m.Queues().EstimatePageable(); i != 3 {
		t.Errorf("inactive = %d after deactivating a wired page, want 3", i)
	}
}

func TestFreeWiredPage(t *testing.T) {
	m := newTestManager(t, testConfig(8))
	obj := NewObject(ObjAobj, "f")
	pg := allocBusy(t, m, obj, 0)
	g := obj.Lock()
	defer g.Unlock()
	m.Unbusy(g, pg)
	m.Wire(g, pg)
	m.Free(g, pg)
	if got := m.Wired(); got != 0 {
		t.Errorf("Wired = %d after freeing a wired page, want 0", got)
	}
	verify(t, m)
}

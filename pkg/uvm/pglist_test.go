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
	stderrors "errors"
	"testing"

	"golang.org/x/sys/unix"

	"gvisor.dev/uvm/pkg/hostarch"
)

func pglistAddrs(l *Pglist) []uint64 {
	var out []uint64
	for pg := l.Front(); pg != nil; pg = l.Next(pg) {
		out = append(out, pg.PhysAddr())
	}
	return out
}

func TestPglistContiguous(t *testing.T) {
	m := newTestManager(t, testConfig(32))

	first, err := m.PglistAlloc(4, PglistOpts{Contiguous: true, Alignment: 4 * hostarch.PageSize})
	if err != nil {
		t.Fatalf("PglistAlloc: %v", err)
	}
	addrs := pglistAddrs(first)
	if first.Len() != 4 || len(addrs) != 4 {
		t.Fatalf("got %d pages, want 4", len(addrs))
	}
	for i, pa := range addrs {
		if want := uint64(testBase) + uint64(i)*hostarch.PageSize; pa != want {
			t.Errorf("page %d at %#x, want %#x", i, pa, want)
		}
	}
	verify(t, m)

	// The next run starts after the pages already taken.
	second, err := m.PglistAlloc(4, PglistOpts{Contiguous: true, Low: testBase})
	if err != nil {
		t.Fatalf("PglistAlloc: %v", err)
	}
	if got := pglistAddrs(second)[0]; got != testBase+4*hostarch.PageSize {
		t.Errorf("second run starts at %#x", got)
	}

	// A run may not cross a boundary.
	third, err := m.PglistAlloc(4, PglistOpts{Contiguous: true, Low: testBase + 0xe000, Boundary: 0x8000})
	if err != nil {
		t.Fatalf("PglistAlloc: %v", err)
	}
	if got := pglistAddrs(third)[0]; got != testBase+0x10000 {
		t.Errorf("bounded run starts at %#x, want %#x", got, testBase+0x10000)
	}

	if _, err := m.PglistAlloc(4, PglistOpts{Contiguous: true, High: testBase + 0x2000}); !stderrors.Is(err, ErrNoPage) {
		t.Errorf("run in a too small range: got %v, want ErrNoPage", err)
	}

	before := m.FreeCount()
	for _, l := range []*Pglist{first, second, third} {
		m.PglistFree(l)
		if l.Len() != 0 || l.Front() != nil {
			t.Errorf("PglistFree left pages on the list")
		}
	}
	if got := m.FreeCount(); got != before+12 {
		t.Errorf("FreeCount = %d, want %d", got, before+12)
	}
	verify(t, m)
}

func TestPglistScattered(t *testing.T) {
	m := newTestManager(t, testConfig(16))
	hole, err := m.PglistAlloc(2, PglistOpts{Contiguous: true, Low: testBase + 0x3000, High: testBase + 0x5000})
	if err != nil {
		t.Fatalf("PglistAlloc: %v", err)
	}

	l, err := m.PglistAlloc(5, PglistOpts{Low: testBase + 0x2000})
	if err != nil {
		t.Fatalf("PglistAlloc: %v", err)
	}
	want := []uint64{0x2000, 0x5000, 0x6000, 0x7000, 0x8000}
	got := pglistAddrs(l)
	if len(got) != len(want) {
		t.Fatalf("got pages %#x, want offsets %#x", got, want)
	}
	for i := range want {
		if got[i] != testBase+want[i] {
			t.Errorf("page %d at %#x, want %#x", i, got[i], testBase+want[i])
		}
	}
	verify(t, m)

	obj := NewObject(ObjAobj, "o")
	g := obj.Lock()
	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("page list page treated as owned")
			}
		}()
		m.Free(g, l.Front())
	}()
	g.Unlock()

	m.PglistFree(l)
	m.PglistFree(hole)
	verify(t, m)
}

func TestPglistReserveAndValidation(t *testing.T) {
	m := newTestManager(t, testConfig(8))
	if _, err := m.PglistAlloc(7, PglistOpts{}); !stderrors.Is(err, ErrNoPage) {
		t.Errorf("allocation into the kernel reserve: got %v, want ErrNoPage", err)
	}
	for _, tc := range []struct {
		name   string
		npages int
		opts   PglistOpts
	}{
		{"no pages", 0, PglistOpts{}},
		{"bad alignment", 1, PglistOpts{Alignment: 3 * hostarch.PageSize}},
		{"small alignment", 1, PglistOpts{Alignment: 16}},
		{"small boundary", 4, PglistOpts{Boundary: hostarch.PageSize}},
		{"empty range", 1, PglistOpts{Low: 0x2000, High: 0x1000}},
	} {
		if _, err := m.PglistAlloc(tc.npages, tc.opts); !stderrors.Is(err, unix.EINVAL) {
			t.Errorf("%s: got %v, want EINVAL", tc.name, err)
		}
	}
}

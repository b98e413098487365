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
	"strings"
	"testing"

	"gvisor.dev/uvm/pkg/cpucount"
	"gvisor.dev/uvm/pkg/hostarch"
)

const testBase = 0x100000

// testConfig returns a single-segment machine of npages pages.
func testConfig(npages int) Config {
	return Config{
		Segments: []SegmentConfig{{
			Start: testBase,
			End:   testBase + uint64(npages)*hostarch.PageSize,
		}},
		NCPU:              2,
		ReserveKernel:     2,
		ReservePagedaemon: 1,
		IntentBatch:       4,
	}
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := m.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return m
}

func verify(t *testing.T, m *Manager) {
	t.Helper()
	if err := m.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestBoot(t *testing.T) {
	cfg := testConfig(0)
	cfg.Segments = []SegmentConfig{
		{Start: 0x200000, End: 0x210000, Freelist: 1},
		{Start: 0x100000, End: 0x108000, Freelist: 0},
	}
	cfg.NFreelists = 2
	cfg.Buckets = 2
	cfg.Colors = 4
	m := newTestManager(t, cfg)
	verify(t, m)

	if got, want := m.NPages(), 16+8; got != want {
		t.Errorf("NPages = %d, want %d", got, want)
	}
	if got := m.AvailMem(false); got != int64(m.NPages()) {
		t.Errorf("AvailMem = %d, want %d", got, m.NPages())
	}
	segs := m.Segments()
	if len(segs) != 2 || segs[0].Freelist != 0 || segs[1].Freelist != 1 {
		t.Fatalf("Segments = %v, want two segments in address order", segs)
	}
	for _, tc := range []struct {
		pa uint64
		fl int
	}{
		{0x100000, 0},
		{0x107000, 0},
		{0x200000, 1},
		{0x20f000, 1},
	} {
		pg := m.PageAt(tc.pa)
		if pg == nil {
			t.Fatalf("PageAt(%#x) = nil", tc.pa)
		}
		if pg.PhysAddr() != tc.pa {
			t.Errorf("PageAt(%#x).PhysAddr() = %#x", tc.pa, pg.PhysAddr())
		}
		if got := pg.Freelist(); got != tc.fl {
			t.Errorf("PageAt(%#x).Freelist() = %d, want %d", tc.pa, got, tc.fl)
		}
	}
	for _, pa := range []uint64{0, 0x108000, 0x1ff000, 0x210000} {
		if pg := m.PageAt(pa); pg != nil {
			t.Errorf("PageAt(%#x) = %v, want nil", pa, pg)
		}
	}

	// Striping puts runs of ncolors frames in alternating buckets.
	if b0, b1 := m.PageAt(0x100000).Bucket(), m.PageAt(0x104000).Bucket(); b0 == b1 {
		t.Errorf("frames 0x100 and 0x104 share bucket %d", b0)
	}
	total := 0
	for fl := 0; fl < 2; fl++ {
		for b := 0; b < 2; b++ {
			total += m.BucketFree(fl, b)
		}
	}
	if total != m.NPages() {
		t.Errorf("buckets hold %d pages, want %d", total, m.NPages())
	}
}

func TestConfigValidation(t *testing.T) {
	seg := []SegmentConfig{{Start: 0x1000, End: 0x3000}}
	for _, tc := range []struct {
		name string
		cfg  Config
		want string
	}{
		{"no segments", Config{}, "no physical segments"},
		{"unaligned", Config{Segments: []SegmentConfig{{Start: 0x1001, End: 0x3000}}}, "not page aligned"},
		{"empty", Config{Segments: []SegmentConfig{{Start: 0x3000, End: 0x3000}}}, "not page aligned"},
		{"bad freelist", Config{Segments: []SegmentConfig{{Start: 0x1000, End: 0x3000, Freelist: 1}}}, "freelist 1 of 1"},
		{"too many freelists", Config{Segments: seg, NFreelists: 33}, "freelists 33"},
		{"too many buckets", Config{Segments: seg, Buckets: 64}, "buckets 64"},
		{"colors", Config{Segments: seg, Colors: 3}, "power of two"},
		{"reserves", Config{Segments: seg, ReserveKernel: 1, ReservePagedaemon: 2}, "invalid reserves"},
		{"overlap", Config{Segments: []SegmentConfig{{Start: 0x1000, End: 0x3000}, {Start: 0x2000, End: 0x4000}}}, "overlaps"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, err := New(tc.cfg)
			if err == nil {
				m.Close()
				t.Fatalf("New succeeded, want error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("New: %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	c := Config{Segments: []SegmentConfig{{Start: 0, End: 0x1000}}}
	c.SetDefaults()
	if c.NFreelists != 1 || c.Buckets != 1 || c.Colors != 1 || c.NCPU < 1 {
		t.Errorf("SetDefaults left %+v", c)
	}
	if c.ReserveKernel != DefaultReserveKernel || c.ReservePagedaemon != DefaultReservePagedaemon {
		t.Errorf("reserves %d/%d, want defaults", c.ReserveKernel, c.ReservePagedaemon)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

// Setting freelist 17 and bucket 3 must survive unrelated writes to the page.
func TestCodecFieldIsolation(t *testing.T) {
	cfg := testConfig(0)
	cfg.Segments = []SegmentConfig{{Start: testBase, End: testBase + 8*hostarch.PageSize, Freelist: 17}}
	cfg.NFreelists = 18
	cfg.Buckets = 4
	m := newTestManager(t, cfg)
	pg := m.PageAt(testBase + 2*hostarch.PageSize)

	fg := m.LockFreeQueue()
	pg.SetFreelist(fg, 17)
	pg.SetBucket(fg, 3)
	fg.Unlock()
	if pg.Freelist() != 17 || pg.Bucket() != 3 {
		t.Fatalf("got (%d, %d), want (17, 3)", pg.Freelist(), pg.Bucket())
	}

	pg.setFlags(PGRdonly)
	pg.wireCount = 0xffff
	pg.offset = ^uint64(0)
	if pg.Freelist() != 17 || pg.Bucket() != 3 {
		t.Fatalf("after unrelated writes got (%d, %d), want (17, 3)", pg.Freelist(), pg.Bucket())
	}
	pg.clearFlags(PGRdonly)
	pg.wireCount = 0
	pg.offset = 0

	// The page moved to bucket 3 with its bits.
	if got := m.BucketFree(17, 3); got == 0 {
		t.Errorf("bucket 3 is empty")
	}
	verify(t, m)
}

func TestFreelistMismatchPanics(t *testing.T) {
	cfg := testConfig(4)
	cfg.NFreelists = 2
	m := newTestManager(t, cfg)
	pg := m.PageAt(testBase)

	fg := m.LockFreeQueue()
	pg.SetFreelist(fg, 1)
	fg.Unlock()

	defer func() {
		if recover() == nil {
			t.Errorf("Freelist did not detect the mismatch")
		}
	}()
	pg.Freelist()
}

func TestRebucket(t *testing.T) {
	cfg := testConfig(32)
	cfg.Buckets = 4
	m := newTestManager(t, cfg)
	fg := m.LockFreeQueue()
	m.forEachPage(func(pg *Page) {
		pg.SetBucket(fg, 0)
	})
	fg.Unlock()
	if got := m.BucketFree(0, 0); got != 32 {
		t.Fatalf("bucket 0 holds %d pages, want 32", got)
	}
	m.Rebucket()
	for b := 0; b < 4; b++ {
		if got := m.BucketFree(0, b); got != 8 {
			t.Errorf("bucket %d holds %d pages, want 8", b, got)
		}
	}
	verify(t, m)
}

func TestAvailMemCached(t *testing.T) {
	m := newTestManager(t, testConfig(16))
	obj := NewObject(ObjAobj, "t")
	g := obj.Lock()
	defer g.Unlock()
	if _, err := m.Alloc(g, obj, 0, nil, AllocOpts{}); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if got := m.AvailMem(true); got != 16 {
		t.Errorf("cached AvailMem = %d, want stale 16", got)
	}
	if got := m.AvailMem(false); got != 15 {
		t.Errorf("AvailMem = %d, want 15", got)
	}
	if got := m.Counters().Get(cpucount.FreePages); got != 15 {
		t.Errorf("FreePages = %d, want 15", got)
	}
}

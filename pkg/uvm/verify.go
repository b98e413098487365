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
	"errors"
	"fmt"
)

// Verify checks the page invariants of every page and free list and returns
// all violations found. It reads owner-protected fields without owner locks,
// so the manager must be quiescent.
func (m *Manager) Verify() error {
	fg := m.LockFreeQueue()
	defer fg.Unlock()

	var errs []error
	bad := func(pg *Page, format string, v ...any) {
		errs = append(errs, fmt.Errorf("%v: %s", pg, fmt.Sprintf(format, v...)))
	}

	var wired int64
	m.forEachPage(func(pg *Page) {
		f := pg.loadFlags()
		pa := pg.packed()
		if fl := m.lookupFreelist(pg); pa.Freelist() != fl {
			bad(pg, "packed freelist %d, segment freelist %d", pa.Freelist(), fl)
		}
		if pa.Bucket() >= m.cfg.Buckets {
			bad(pg, "bucket %d out of range", pa.Bucket())
		}
		if f.Has(PGClean | PGDirty) {
			bad(pg, "both clean and dirty")
		}
		if f.Has(PGReleased) && !f.Has(PGBusy) {
			bad(pg, "released but not busy")
		}
		if f.Has(PGWanted) && !f.Has(PGBusy) {
			bad(pg, "wanted but not busy")
		}
		if f.Has(PGFile) && f.SwapBacked() {
			bad(pg, "flags %v name two kinds of owner", f)
		}
		owned := pg.uobject != nil || pg.uanon != nil
		switch {
		case f.Has(PGFree):
			if owned || pg.pglist {
				bad(pg, "free page has owner %v/%v pglist %t", pg.uobject, pg.uanon, pg.pglist)
			}
			if f&^(PGFree|PGZero) != 0 {
				bad(pg, "free page has flags %v", f)
			}
			if pg.wireCount != 0 || pg.loanCount != 0 {
				bad(pg, "free page has wire count %d loan count %d", pg.wireCount, pg.loanCount)
			}
			if f.Has(PGZero) && pg.arena() != nil && !pg.arena().IsZero(pg.PhysAddr()) {
				bad(pg, "zero page has content")
			}
		case pg.pglist:
			if owned {
				bad(pg, "page list page has owner %v/%v", pg.uobject, pg.uanon)
			}
		case pg.uobject != nil:
			if pg.uanon != nil && pg.loanCount == 0 {
				bad(pg, "object page has anon %v without a loan", pg.uanon)
			}
			if e, ok := pg.uobject.pages.Get(pageIndexEntry{off: pg.offset}); !ok || e.pg != pg {
				bad(pg, "not indexed by %v at %#x", pg.uobject, pg.offset)
			}
			if !f.Has(PGTabled) || !f.HasAny(PGFile|PGAobj) {
				bad(pg, "object page has flags %v", f)
			}
		case pg.uanon != nil:
			if pg.uanon.page != pg {
				bad(pg, "%v does not point back", pg.uanon)
			}
			if !f.Has(PGAnon) || f.Has(PGTabled) {
				bad(pg, "anon page has flags %v", f)
			}
		default:
			bad(pg, "page is neither free nor owned (flags %v)", f)
		}
		if pg.wireCount > 0 {
			wired++
		}
	})
	if got := m.wired.count.Load(); got != wired {
		errs = append(errs, fmt.Errorf("wired count %d, %d pages wired", got, wired))
	}

	var nfree, nzero int64
	for fl := range m.fq.lists {
		for b := range m.fq.lists[fl] {
			bk := &m.fq.lists[fl][b]
			n := 0
			for c := range bk.colors {
				for pg := bk.colors[c].Front(); pg != nil; pg = bk.colors[c].Next(pg) {
					n++
					f := pg.loadFlags()
					if !f.Has(PGFree) {
						bad(pg, "on free list %d/%d without PG_FREE", fl, b)
					}
					if f.Has(PGZero) {
						nzero++
					}
					if pa := pg.packed(); pa.Freelist() != fl || pa.Bucket() != b || m.color(pg) != c {
						bad(pg, "on list %d/%d/%d but packed as %v", fl, b, c, pa)
					}
				}
			}
			if n != bk.nfree {
				errs = append(errs, fmt.Errorf("freelist %d bucket %d holds %d pages, counts %d", fl, b, n, bk.nfree))
			}
			nfree += int64(n)
		}
	}
	if got := m.fq.nfree.Load(); got != nfree {
		errs = append(errs, fmt.Errorf("free count %d, %d pages on free lists", got, nfree))
	}
	if got := m.fq.nzero.Load(); got != nzero {
		errs = append(errs, fmt.Errorf("zero count %d, %d zero pages on free lists", got, nzero))
	}
	return errors.Join(errs...)
}

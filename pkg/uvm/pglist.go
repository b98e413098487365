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

// Pglist is a set of pages taken off the free lists by PglistAlloc. Its pages
// have no owner; the caller owns them exclusively until PglistFree.
type Pglist struct {
	pages pageList
	n     int
}

// Len returns the number of pages.
func (l *Pglist) Len() int { return l.n }

// Front returns the first page, or nil.
func (l *Pglist) Front() *Page { return l.pages.Front() }

// Next returns the page after pg, or nil.
func (l *Pglist) Next(pg *Page) *Page { return l.pages.Next(pg) }

// PglistOpts constrain PglistAlloc.
type PglistOpts struct {
	// Low and High bound the physical addresses, [Low, High). A zero High
	// means no upper bound.
	Low  uint64
	High uint64

	// Contiguous requests physically contiguous pages. Alignment and
	// Boundary apply only to contiguous requests.
	Contiguous bool

	// Alignment is the alignment of the first page. Zero means page
	// alignment.
	Alignment uint64

	// Boundary, if nonzero, is an address multiple the run must not cross.
	Boundary uint64
}

func (o *PglistOpts) validate(npages int) error {
	einval := func(format string, v ...any) error {
		return errors.New(unix.EINVAL, fmt.Sprintf(format, v...))
	}
	if npages <= 0 {
		return einval("invalid page count %d", npages)
	}
	if o.High == 0 {
		o.High = ^uint64(0)
	}
	if o.Low >= o.High {
		return einval("empty range [%#x, %#x)", o.Low, o.High)
	}
	if o.Alignment == 0 {
		o.Alignment = hostarch.PageSize
	}
	if o.Alignment&(o.Alignment-1) != 0 || o.Alignment < hostarch.PageSize {
		return einval("invalid alignment %#x", o.Alignment)
	}
	if o.Boundary != 0 {
		if o.Boundary&(o.Boundary-1) != 0 || o.Boundary < uint64(npages)*hostarch.PageSize {
			return einval("invalid boundary %#x for %d pages", o.Boundary, npages)
		}
	}
	return nil
}

// PglistAlloc takes npages free pages within the constraints of opts off the
// free lists. It fails with ErrNoPage if the request cannot be met without
// dipping into the kernel reserve.
func (m *Manager) PglistAlloc(npages int, opts PglistOpts) (*Pglist, error) {
	if err := opts.validate(npages); err != nil {
		return nil, err
	}
	fg := m.LockFreeQueue()
	defer fg.Unlock()
	if m.fq.nfree.Load()-int64(npages) < int64(m.cfg.ReserveKernel) {
		return nil, ErrNoPage
	}

	var run []*Page
	if opts.Contiguous {
		run = m.findContig(npages, &opts)
	} else {
		run = m.findAny(npages, &opts)
	}
	if run == nil {
		return nil, ErrNoPage
	}
	l := &Pglist{}
	for _, pg := range run {
		m.freeRemove(pg)
		pg.pglist = true
		l.pages.PushBack(pg)
		l.n++
	}
	m.counters.Add(0, cpucount.FreePages, -int64(npages))
	return l, nil
}

// segRange returns the frame range of s within [opts.Low, opts.High).
func segRange(s *PhysSeg, opts *PglistOpts) (lo, hi uint64) {
	lo, hi = s.Start, s.End
	if l := hostarch.Atop(opts.Low + hostarch.PageMask); l > lo {
		lo = l
	}
	if h := hostarch.Atop(opts.High); h < hi {
		hi = h
	}
	return lo, hi
}

// Preconditions: fq.mu is locked.
func (m *Manager) findContig(npages int, opts *PglistOpts) []*Page {
	alignPages := hostarch.Atop(opts.Alignment)
	var run []*Page
	m.segs.forEach(func(s *PhysSeg) bool {
		lo, hi := segRange(s, opts)
		start := (lo + alignPages - 1) &^ (alignPages - 1)
	search:
		for start+uint64(npages) <= hi {
			if opts.Boundary != 0 {
				first := hostarch.Ptoa(start)
				last := hostarch.Ptoa(start+uint64(npages)) - 1
				if first/opts.Boundary != last/opts.Boundary {
					start = (hostarch.Atop(last/opts.Boundary*opts.Boundary) + alignPages - 1) &^ (alignPages - 1)
					continue
				}
			}
			for i := uint64(0); i < uint64(npages); i++ {
				if !s.page(start + i).loadFlags().Has(PGFree) {
					start = (start + i + 1 + alignPages - 1) &^ (alignPages - 1)
					continue search
				}
			}
			run = make([]*Page, npages)
			for i := range run {
				run[i] = s.page(start + uint64(i))
			}
			return false
		}
		return true
	})
	return run
}

// Preconditions: fq.mu is locked.
func (m *Manager) findAny(npages int, opts *PglistOpts) []*Page {
	run := make([]*Page, 0, npages)
	m.segs.forEach(func(s *PhysSeg) bool {
		lo, hi := segRange(s, opts)
		for pfn := lo; pfn < hi && len(run) < npages; pfn++ {
			if pg := s.page(pfn); pg.loadFlags().Has(PGFree) {
				run = append(run, pg)
			}
		}
		return len(run) < npages
	})
	if len(run) < npages {
		return nil
	}
	return run
}

// PglistFree returns the pages of l to the free lists and empties l.
func (m *Manager) PglistFree(l *Pglist) {
	fg := m.LockFreeQueue()
	n := 0
	for pg := l.pages.Front(); pg != nil; pg = l.pages.Front() {
		l.pages.Remove(pg)
		if !pg.pglist {
			panic(fmt.Sprintf("%v is not owned by a page list", pg))
		}
		pg.pglist = false
		pg.flags.Store(0)
		m.freeInsert(pg)
		n++
	}
	fg.Unlock()
	l.n = 0
	m.counters.Add(0, cpucount.FreePages, int64(n))
}

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
	"context"

	"gvisor.dev/uvm/pkg/log"
)

// findUnzeroed returns a free page not known to be zero, or nil.
//
// Preconditions: fq.mu is locked.
func (m *Manager) findUnzeroed() *Page {
	for fl := range m.fq.lists {
		for b := range m.fq.lists[fl] {
			bk := &m.fq.lists[fl][b]
			if bk.nfree == 0 {
				continue
			}
			for c := range bk.colors {
				// Unzeroed pages sit at the front.
				if pg := bk.colors[c].Front(); pg != nil && !pg.loadFlags().Has(PGZero) {
					return pg
				}
			}
		}
	}
	return nil
}

// ZeroFreePages zeroes up to limit free pages not yet known to be zero and
// marks them PGZero, so that later zeroed allocations can skip the work. It
// is meant to run when the machine is idle and stops early when ctx is
// cancelled. It returns the number of pages zeroed.
//
// A page being zeroed is off the free lists but still counted by AvailMem.
func (m *Manager) ZeroFreePages(ctx context.Context, limit int) (int, error) {
	n := 0
	for n < limit {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		fg := m.LockFreeQueue()
		pg := m.findUnzeroed()
		if pg == nil {
			fg.Unlock()
			break
		}
		m.freeRemove(pg)
		fg.Unlock()

		if a := pg.arena(); a != nil {
			a.Zero(pg.PhysAddr())
		}

		fg = m.LockFreeQueue()
		pg.setFlags(PGZero)
		m.freeInsert(pg)
		fg.Unlock()
		n++
	}
	if n > 0 {
		log.Debugf("Zeroed %d free pages, %d of %d free pages now zero", n, m.ZeroCount(), m.FreeCount())
	}
	return n, nil
}

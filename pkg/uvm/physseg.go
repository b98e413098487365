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

	"github.com/google/btree"

	"gvisor.dev/uvm/pkg/hostarch"
)

// PhysSeg is a contiguous range of physical page frames, all belonging to
// one freelist.
type PhysSeg struct {
	// Start and End are page frame numbers; End is exclusive.
	Start uint64
	End   uint64

	// Freelist is the freelist index of every page in the segment.
	Freelist int

	// pages holds the segment's page records, indexed by PFN-Start.
	pages []Page
}

// NPages returns the number of pages in the segment.
func (s *PhysSeg) NPages() int {
	return int(s.End - s.Start)
}

// String implements fmt.Stringer.
func (s *PhysSeg) String() string {
	return fmt.Sprintf("[%#x, %#x) freelist %d", hostarch.Ptoa(s.Start), hostarch.Ptoa(s.End), s.Freelist)
}

func (s *PhysSeg) page(pfn uint64) *Page {
	return &s.pages[pfn-s.Start]
}

func physSegLess(a, b *PhysSeg) bool {
	return a.Start < b.Start
}

// segTable maps page frame numbers to segments. It is built at boot and
// immutable afterwards, so it needs no lock.
type segTable struct {
	tree *btree.BTreeG[*PhysSeg]
}

func newSegTable() segTable {
	return segTable{tree: btree.NewG(btreeDegree, physSegLess)}
}

// add inserts s, which must not overlap any existing segment.
func (t *segTable) add(s *PhysSeg) error {
	if s.End <= s.Start {
		return fmt.Errorf("empty segment %v", s)
	}
	if prev := t.lookupAtOrBelow(s.End - 1); prev != nil && prev.End > s.Start {
		return fmt.Errorf("segment %v overlaps %v", s, prev)
	}
	t.tree.ReplaceOrInsert(s)
	return nil
}

func (t *segTable) lookupAtOrBelow(pfn uint64) *PhysSeg {
	var found *PhysSeg
	t.tree.DescendLessOrEqual(&PhysSeg{Start: pfn}, func(s *PhysSeg) bool {
		found = s
		return false
	})
	return found
}

// lookup returns the segment containing pfn, or nil.
func (t *segTable) lookup(pfn uint64) *PhysSeg {
	s := t.lookupAtOrBelow(pfn)
	if s == nil || pfn >= s.End {
		return nil
	}
	return s
}

// forEach calls fn for each segment in ascending address order.
func (t *segTable) forEach(fn func(s *PhysSeg) bool) {
	t.tree.Ascend(func(s *PhysSeg) bool {
		return fn(s)
	})
}

func (t *segTable) len() int {
	return t.tree.Len()
}

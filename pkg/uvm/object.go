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

	"gvisor.dev/uvm/pkg/sync"
)

// ObjectKind classifies the backing store of an Object.
type ObjectKind int

// Object kinds.
const (
	// ObjAobj is an anonymous object backed by swap.
	ObjAobj ObjectKind = iota
	// ObjVnode is a file-backed object.
	ObjVnode
	// ObjExec is a file-backed object mapped executable.
	ObjExec
	// ObjKernel is the kernel object. Its allocations may dip into the
	// kernel reserve.
	ObjKernel
)

// String implements fmt.Stringer.
func (k ObjectKind) String() string {
	switch k {
	case ObjAobj:
		return "aobj"
	case ObjVnode:
		return "vnode"
	case ObjExec:
		return "exec"
	case ObjKernel:
		return "kernel"
	default:
		return fmt.Sprintf("ObjectKind(%d)", int(k))
	}
}

// pageFlag returns the ownership flag of pages belonging to objects of kind
// k.
func (k ObjectKind) pageFlag() Flags {
	switch k {
	case ObjVnode, ObjExec:
		return PGFile
	default:
		return PGAobj
	}
}

// btreeDegree is the degree of object page indexes.
const btreeDegree = 8

type pageIndexEntry struct {
	off uint64
	pg  *Page
}

func pageIndexLess(a, b pageIndexEntry) bool {
	return a.off < b.off
}

// Object is a memory object: a set of pages indexed by offset, guarded by the
// object lock.
type Object struct {
	mu   sync.RWMutex
	kind ObjectKind
	name string

	// pages indexes the object's resident pages by offset. Protected by mu.
	pages *btree.BTreeG[pageIndexEntry]
}

// NewObject returns an empty object.
func NewObject(kind ObjectKind, name string) *Object {
	return &Object{
		kind:  kind,
		name:  name,
		pages: btree.NewG(btreeDegree, pageIndexLess),
	}
}

func (o *Object) ownerMutex() *sync.RWMutex { return &o.mu }

// String implements fmt.Stringer.
func (o *Object) String() string {
	return fmt.Sprintf("%v object %q", o.kind, o.name)
}

// Kind returns the object kind.
func (o *Object) Kind() ObjectKind { return o.kind }

// Lock locks the object for writing.
func (o *Object) Lock() *OwnerGuard { return lockOwner(o, true) }

// RLock locks the object for reading.
func (o *Object) RLock() *OwnerGuard { return lockOwner(o, false) }

// Lookup returns the page at offset off, or nil.
func (o *Object) Lookup(g *OwnerGuard, off uint64) *Page {
	g.assertCovers(o, false)
	e, ok := o.pages.Get(pageIndexEntry{off: off})
	if !ok {
		return nil
	}
	return e.pg
}

// Resident returns the number of pages in the object.
func (o *Object) Resident(g *OwnerGuard) int {
	g.assertCovers(o, false)
	return o.pages.Len()
}

// ForEachPage calls fn for every resident page in ascending offset order
// until fn returns false. fn must not add or remove pages.
func (o *Object) ForEachPage(g *OwnerGuard, fn func(pg *Page) bool) {
	g.assertCovers(o, false)
	o.pages.Ascend(func(e pageIndexEntry) bool {
		return fn(e.pg)
	})
}

// insert adds pg at offset off.
//
// Preconditions: o.mu is locked for writing.
func (o *Object) insert(pg *Page, off uint64) {
	if _, dup := o.pages.ReplaceOrInsert(pageIndexEntry{off: off, pg: pg}); dup {
		panic(fmt.Sprintf("%v already has a page at offset %#x", o, off))
	}
}

// remove removes pg from the page index.
//
// Preconditions: o.mu is locked for writing.
func (o *Object) remove(pg *Page) {
	e, ok := o.pages.Delete(pageIndexEntry{off: pg.offset})
	if !ok || e.pg != pg {
		panic(fmt.Sprintf("%v is not indexed by %v", pg, o))
	}
}

// BusyPage looks up the page at off and busies it, waiting for any current
// busy holder. It returns the page (nil if none is resident) together with a
// guard holding the object lock exclusively.
func (o *Object) BusyPage(off uint64) (*OwnerGuard, *Page) {
	for {
		g := o.Lock()
		pg := o.Lookup(g, off)
		if pg == nil || TryBusy(g, pg) {
			return g, pg
		}
		// Releases g.
		WaitUnbusy(g, pg)
	}
}

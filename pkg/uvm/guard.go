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

	"gvisor.dev/uvm/pkg/sync"
)

// owner is implemented by the things whose lock guards pages: *Object and
// *Anon. Anons that share an amap share its lock.
type owner interface {
	ownerMutex() *sync.RWMutex
	fmt.Stringer
}

// OwnerGuard is proof that its holder holds an owner lock. Guards are
// obtained only from Object.Lock, Object.RLock, Anon.Lock, Anon.RLock and
// Amap.Lock, and become invalid once Unlock is called. Using an invalid guard
// panics.
//
// A guard belongs to the goroutine that acquired it and must not be shared.
type OwnerGuard struct {
	mu        *sync.RWMutex
	name      string
	exclusive bool
	held      bool
}

func lockOwner(o owner, exclusive bool) *OwnerGuard {
	mu := o.ownerMutex()
	if exclusive {
		mu.Lock()
	} else {
		mu.RLock()
	}
	return &OwnerGuard{mu: mu, name: o.String(), exclusive: exclusive, held: true}
}

// Unlock releases the owner lock and invalidates g.
func (g *OwnerGuard) Unlock() {
	g.assertHeld()
	g.held = false
	if g.exclusive {
		g.mu.Unlock()
	} else {
		g.mu.RUnlock()
	}
}

// Held returns true until Unlock is called.
func (g *OwnerGuard) Held() bool {
	return g != nil && g.held
}

// Exclusive returns true if g holds the lock for writing.
func (g *OwnerGuard) Exclusive() bool {
	return g.exclusive
}

// String implements fmt.Stringer.
func (g *OwnerGuard) String() string {
	mode := "shared"
	if g.exclusive {
		mode = "exclusive"
	}
	return fmt.Sprintf("%s lock on %s", mode, g.name)
}

func (g *OwnerGuard) assertHeld() {
	if !g.Held() {
		panic("use of released owner guard")
	}
}

// covers returns true if g holds the lock of o.
func (g *OwnerGuard) covers(o owner) bool {
	return g.Held() && o != nil && o.ownerMutex() == g.mu
}

// assertCovers panics unless g holds o's lock, exclusively if required.
func (g *OwnerGuard) assertCovers(o owner, exclusive bool) {
	g.assertHeld()
	if !g.covers(o) {
		panic(fmt.Sprintf("%v does not cover %v", g, o))
	}
	if exclusive && !g.exclusive {
		panic(fmt.Sprintf("%v held shared, exclusive required", g))
	}
}

// assertCoversPage panics unless g holds the lock of pg's current owner.
func (g *OwnerGuard) assertCoversPage(pg *Page, exclusive bool) {
	o := pg.lockOwner()
	if o == nil {
		panic(fmt.Sprintf("page %v has no owner", pg))
	}
	g.assertCovers(o, exclusive)
}

// InterlockGuard is proof that its holder holds a page's interlock. Together
// with the OwnerGuard it was derived from, it permits writes to the page's
// wire count, loan count and pagedaemon state.
type InterlockGuard struct {
	pg *Page
	// og is the owner guard the interlock was taken under. It is nil when
	// the interlock is taken by the pagedaemon queue code, which holds the
	// queue lock instead.
	og   *OwnerGuard
	held bool
}

// LockInterlock locks pg's interlock. The lock order is owner lock, then
// interlock, so og must cover pg's owner.
func (pg *Page) LockInterlock(og *OwnerGuard) *InterlockGuard {
	og.assertCoversPage(pg, false)
	pg.interlock.Lock()
	return &InterlockGuard{pg: pg, og: og, held: true}
}

// lockInterlockQueued locks pg's interlock from the pagedaemon queue code.
//
// Preconditions: PageQueues.mu is locked.
func (pg *Page) lockInterlockQueued() *InterlockGuard {
	pg.interlock.Lock()
	return &InterlockGuard{pg: pg, held: true}
}

// Unlock releases the interlock and invalidates ig.
func (ig *InterlockGuard) Unlock() {
	ig.assertHeld()
	ig.held = false
	ig.pg.interlock.Unlock()
}

// Page returns the page whose interlock ig holds.
func (ig *InterlockGuard) Page() *Page {
	return ig.pg
}

func (ig *InterlockGuard) assertHeld() {
	if ig == nil || !ig.held {
		panic("use of released interlock guard")
	}
	if ig.og != nil {
		ig.og.assertHeld()
	}
}

// assertOwned panics unless ig was taken under an owner guard that is still
// held.
func (ig *InterlockGuard) assertOwned() {
	ig.assertHeld()
	if ig.og == nil {
		panic(fmt.Sprintf("interlock of %v held without owner lock", ig.pg))
	}
}

// OwnerLockedP returns true if g holds the lock of pg's current owner, and
// holds it exclusively if exclusive is set. It is meant for assertions only.
func OwnerLockedP(pg *Page, g *OwnerGuard, exclusive bool) bool {
	o := pg.lockOwner()
	if o == nil || !g.covers(o) {
		return false
	}
	return !exclusive || g.exclusive
}

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
)

// TryBusy sets PGBusy on pg and returns true, or returns false if pg is
// already busy. g must hold the owner lock exclusively.
func TryBusy(g *OwnerGuard, pg *Page) bool {
	g.assertCoversPage(pg, true)
	if pg.loadFlags().Has(PGBusy) {
		return false
	}
	pg.setFlags(PGBusy)
	return true
}

// WaitUnbusy waits for the busy holder of pg to unbusy or free it. It sets
// PGWanted, releases g and sleeps. On return g is invalid and the caller
// must look the page up again: it may have been freed or reused.
func WaitUnbusy(g *OwnerGuard, pg *Page) {
	ig := pg.LockInterlock(g)
	if !pg.loadFlags().Has(PGBusy) {
		panic(fmt.Sprintf("%v: waiting for a page that is not busy", pg))
	}
	pg.setFlags(PGWanted)
	// The interlock keeps the holder from clearing PGBusy and broadcasting
	// before we sleep.
	g.Unlock()
	pg.wakeup.Wait()
	ig.held = false
	pg.interlock.Unlock()
}

// Unbusy clears PGBusy on each page, waking waiters. Pages marked
// PGReleased are freed instead. g must hold the owner lock exclusively and
// the caller must be the busy holder.
func (m *Manager) Unbusy(g *OwnerGuard, pgs ...*Page) {
	for _, pg := range pgs {
		if pg == nil {
			continue
		}
		g.assertCoversPage(pg, true)
		f := pg.loadFlags()
		if !f.Has(PGBusy) {
			panic(fmt.Sprintf("%v: unbusy of page that is not busy", pg))
		}
		if f.Has(PGReleased) {
			// free wakes waiters and resets the flags.
			m.free(g, pg)
			continue
		}
		ig := pg.LockInterlock(g)
		pg.clearFlags(PGBusy | PGPageout)
		if pg.loadFlags().Has(PGWanted) {
			pg.clearFlags(PGWanted)
			pg.wakeup.Broadcast()
		}
		ig.Unlock()
	}
}

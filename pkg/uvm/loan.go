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

// LoanToAnon loans the object-owned page pg to the anon an. og must hold the
// object lock and ag the anon lock, both exclusively. While loaned the page
// stays owned by its object; an references it read-only and the page cannot
// be freed.
func (m *Manager) LoanToAnon(og, ag *OwnerGuard, pg *Page, an *Anon) {
	og.assertCoversPage(pg, true)
	ag.assertCovers(an, true)
	if pg.uobject == nil {
		panic(fmt.Sprintf("%v: loan of a page not owned by an object", pg))
	}
	if pg.uanon != nil {
		panic(fmt.Sprintf("%v: already loaned to %v", pg, pg.uanon))
	}
	if an.page != nil {
		panic(fmt.Sprintf("%v already has %v", an, an.page))
	}
	ig := pg.LockInterlock(og)
	pg.loanCount++
	pg.uanon = an
	ig.Unlock()
	an.page = pg
}

// Unloan ends the loan of pg to an.
func (m *Manager) Unloan(og, ag *OwnerGuard, pg *Page, an *Anon) {
	og.assertCoversPage(pg, true)
	ag.assertCovers(an, true)
	if pg.uanon != an || an.page != pg || pg.loanCount == 0 {
		panic(fmt.Sprintf("%v is not loaned to %v", pg, an))
	}
	ig := pg.LockInterlock(og)
	pg.loanCount--
	pg.uanon = nil
	ig.Unlock()
	an.page = nil
}

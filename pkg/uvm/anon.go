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

	"gvisor.dev/uvm/pkg/atomicbitops"
	"gvisor.dev/uvm/pkg/sync"
)

var anonIDs atomicbitops.Uint64

// Anon is an anonymous memory unit holding at most one page. Anons created
// from the same Amap share its lock.
type Anon struct {
	mu *sync.RWMutex
	id uint64

	// page is the resident page, if any. Protected by mu.
	page *Page
}

// NewAnon returns an anon with a lock of its own.
func NewAnon() *Anon {
	return &Anon{mu: new(sync.RWMutex), id: anonIDs.Add(1)}
}

func (an *Anon) ownerMutex() *sync.RWMutex { return an.mu }

// String implements fmt.Stringer.
func (an *Anon) String() string {
	return fmt.Sprintf("anon %d", an.id)
}

// Lock locks the anon for writing.
func (an *Anon) Lock() *OwnerGuard { return lockOwner(an, true) }

// RLock locks the anon for reading.
func (an *Anon) RLock() *OwnerGuard { return lockOwner(an, false) }

// Page returns the anon's page, or nil.
func (an *Anon) Page(g *OwnerGuard) *Page {
	g.assertCovers(an, false)
	return an.page
}

// Amap is a set of anons sharing one lock.
type Amap struct {
	mu sync.RWMutex
}

func (a *Amap) ownerMutex() *sync.RWMutex { return &a.mu }

// String implements fmt.Stringer.
func (a *Amap) String() string {
	return fmt.Sprintf("amap %p", a)
}

// NewAnon returns an anon guarded by the amap lock.
func (a *Amap) NewAnon() *Anon {
	return &Anon{mu: &a.mu, id: anonIDs.Add(1)}
}

// Lock locks the amap, and with it every anon it created, for writing.
func (a *Amap) Lock() *OwnerGuard { return lockOwner(a, true) }

// RLock locks the amap for reading.
func (a *Amap) RLock() *OwnerGuard { return lockOwner(a, false) }

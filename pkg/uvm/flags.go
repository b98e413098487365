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
	"strconv"
	"strings"

	"gvisor.dev/uvm/pkg/bits"
)

// Flags are the object-visible page flags.
//
// Flags are written with the owner lock held exclusively, except PGWanted,
// which may be set by a shared owner-lock holder that also holds the page
// interlock. The word is read and written atomically so that shared holders
// may inspect it.
type Flags uint32

// Page flags.
const (
	// PGClean means the page is known not to differ from backing store.
	PGClean Flags = 1 << iota
	// PGDirty means the page is known to differ from backing store.
	PGDirty
	// PGBusy is the long-term page lock. Its holder has exclusive access
	// to the page content.
	PGBusy
	// PGWanted means an LWP is waiting for PGBusy to clear.
	PGWanted
	// PGPageout means the page is being paged out.
	PGPageout
	// PGReleased obliges the busy holder to free the page on unbusy.
	PGReleased
	// PGFake means the page content is not yet valid.
	PGFake
	// PGRdonly means the page must only be mapped read-only.
	PGRdonly
	// PGZero means the page is known to contain zeroes.
	PGZero
	// PGTabled means the page is in its object's page index.
	PGTabled
	// PGAobj means the page belongs to an anonymous object.
	PGAobj
	// PGAnon means the page belongs to an anon.
	PGAnon
	// PGFile means the page belongs to a file-backed object.
	PGFile
	// PGFree means the page is on a free list.
	PGFree
	// PGMarker marks a dummy page used as a queue iteration marker.
	PGMarker
)

// pgStatusMask covers the bits that encode PageStatus.
const pgStatusMask = PGClean | PGDirty

var flagNames = []struct {
	f    Flags
	name string
}{
	{PGClean, "PG_CLEAN"},
	{PGDirty, "PG_DIRTY"},
	{PGBusy, "PG_BUSY"},
	{PGWanted, "PG_WANTED"},
	{PGPageout, "PG_PAGEOUT"},
	{PGReleased, "PG_RELEASED"},
	{PGFake, "PG_FAKE"},
	{PGRdonly, "PG_RDONLY"},
	{PGZero, "PG_ZERO"},
	{PGTabled, "PG_TABLED"},
	{PGAobj, "PG_AOBJ"},
	{PGAnon, "PG_ANON"},
	{PGFile, "PG_FILE"},
	{PGFree, "PG_FREE"},
	{PGMarker, "PG_MARKER"},
}

// Has returns true if all of mask is set in f.
func (f Flags) Has(mask Flags) bool {
	return bits.IsOn32(uint32(f), uint32(mask))
}

// HasAny returns true if any of mask is set in f.
func (f Flags) HasAny(mask Flags) bool {
	return bits.IsAnyOn32(uint32(f), uint32(mask))
}

// SwapBacked returns true if the flags describe a page whose backing store
// is swap.
func (f Flags) SwapBacked() bool {
	return f.HasAny(PGAnon | PGAobj)
}

// String implements fmt.Stringer.
func (f Flags) String() string {
	if f == 0 {
		return "0"
	}
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.f) {
			names = append(names, fn.name)
			f &^= fn.f
		}
	}
	if f != 0 {
		names = append(names, "0x"+strconv.FormatUint(uint64(f), 16))
	}
	return strings.Join(names, "|")
}

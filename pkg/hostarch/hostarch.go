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

// Package hostarch contains host arch address operations for the page
// manager.
package hostarch

import (
	"golang.org/x/sys/unix"
)

const (
	// PageShift is the binary log of the managed page size.
	PageShift = 12

	// PageSize is the managed page size.
	PageSize = 1 << PageShift

	// PageMask is the page offset mask.
	PageMask = PageSize - 1

	// MinPageShift is the binary log of the smallest page size any
	// supported machine uses. Physical addresses of page frames always have
	// their low MinPageShift bits clear.
	MinPageShift = 10

	// MinPageSize is the smallest supported page size (1KB).
	MinPageSize = 1 << MinPageShift
)

// HostPageSize is the page size of the host, which backs simulated physical
// memory.
var HostPageSize = unix.Getpagesize()

// PageRoundDown returns x rounded down to the nearest page boundary.
func PageRoundDown(x uint64) uint64 {
	return x &^ PageMask
}

// PageRoundUp returns x rounded up to the nearest page boundary. ok is true
// iff rounding up did not wrap around.
func PageRoundUp(x uint64) (addr uint64, ok bool) {
	addr = PageRoundDown(x + PageMask)
	ok = addr >= x
	return
}

// IsPageAligned returns true if x is a multiple of PageSize.
func IsPageAligned(x uint64) bool {
	return x&PageMask == 0
}

// Atop converts a byte address to a page frame number.
func Atop(x uint64) uint64 {
	return x >> PageShift
}

// Ptoa converts a page frame number to a byte address.
func Ptoa(pfn uint64) uint64 {
	return pfn << PageShift
}

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

	"gvisor.dev/uvm/pkg/bits"
	"gvisor.dev/uvm/pkg/hostarch"
)

// MaxFreelists and MaxBuckets bound the values that fit in a PhysAddr.
const (
	MaxFreelists = 32
	MaxBuckets   = 32
)

var (
	freelistField = bits.Field64(0, 4)
	bucketField   = bits.Field64(5, 9)
	frameField    = ^bits.Field64(0, 9)
)

func init() {
	// The packed fields live below the smallest supported page size.
	if 1<<hostarch.MinPageShift <= bucketField {
		panic("packed fields overlap the frame address")
	}
}

// PhysAddr is a page's physical frame address with the page's freelist index
// in bits [0,4] and its bucket in bits [5,9]. Frames are at least
// hostarch.MinPageSize aligned, so those bits carry no address information.
//
// PhysAddr provides no synchronization of its own.
type PhysAddr uint64

// MakePhysAddr returns a PhysAddr for the given frame address with freelist
// and bucket zero.
func MakePhysAddr(frame uint64) PhysAddr {
	if frame&^frameField != 0 {
		panic(fmt.Sprintf("frame address %#x is not %d-byte aligned", frame, hostarch.MinPageSize))
	}
	return PhysAddr(frame)
}

// Frame returns the frame address with the packed fields stripped.
func (pa PhysAddr) Frame() uint64 {
	return uint64(pa) & frameField
}

// Freelist returns the packed freelist index.
func (pa PhysAddr) Freelist() int {
	return int(bits.ShiftOut64(uint64(pa), freelistField))
}

// Bucket returns the packed bucket.
func (pa PhysAddr) Bucket() int {
	return int(bits.ShiftOut64(uint64(pa), bucketField))
}

// WithFreelist returns pa with its freelist index replaced by fl.
func (pa PhysAddr) WithFreelist(fl int) PhysAddr {
	if fl < 0 || fl >= MaxFreelists {
		panic(fmt.Sprintf("freelist %d out of range [0,%d)", fl, MaxFreelists))
	}
	return PhysAddr(uint64(pa)&^freelistField | bits.ShiftIn64(uint64(fl), freelistField))
}

// WithBucket returns pa with its bucket replaced by b.
func (pa PhysAddr) WithBucket(b int) PhysAddr {
	if b < 0 || b >= MaxBuckets {
		panic(fmt.Sprintf("bucket %d out of range [0,%d)", b, MaxBuckets))
	}
	return PhysAddr(uint64(pa)&^bucketField | bits.ShiftIn64(uint64(b), bucketField))
}

// String implements fmt.Stringer.
func (pa PhysAddr) String() string {
	return fmt.Sprintf("%#x[fl=%d,b=%d]", pa.Frame(), pa.Freelist(), pa.Bucket())
}

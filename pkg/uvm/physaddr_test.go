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
	"testing"
)

func TestPhysAddrRoundTrip(t *testing.T) {
	base := MakePhysAddr(0xdead_b000)
	for fl := 0; fl < MaxFreelists; fl++ {
		for b := 0; b < MaxBuckets; b++ {
			pa := base.WithFreelist(fl).WithBucket(b)
			if pa.Freelist() != fl || pa.Bucket() != b {
				t.Fatalf("set (%d, %d), got (%d, %d)", fl, b, pa.Freelist(), pa.Bucket())
			}
			if pa.Frame() != base.Frame() {
				t.Fatalf("frame changed from %#x to %#x", base.Frame(), pa.Frame())
			}
			// Setting one field must not disturb the other.
			if got := pa.WithFreelist((fl + 1) % MaxFreelists).Bucket(); got != b {
				t.Fatalf("WithFreelist changed bucket %d to %d", b, got)
			}
			if got := pa.WithBucket((b + 7) % MaxBuckets).Freelist(); got != fl {
				t.Fatalf("WithBucket changed freelist %d to %d", fl, got)
			}
		}
	}
}

func TestPhysAddrRange(t *testing.T) {
	for _, tc := range []struct {
		name string
		fn   func()
	}{
		{"freelist too large", func() { MakePhysAddr(0).WithFreelist(MaxFreelists) }},
		{"negative freelist", func() { MakePhysAddr(0).WithFreelist(-1) }},
		{"bucket too large", func() { MakePhysAddr(0).WithBucket(MaxBuckets) }},
		{"unaligned frame", func() { MakePhysAddr(0x1001) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("did not panic")
				}
			}()
			tc.fn()
		})
	}
}

func TestPhysAddrString(t *testing.T) {
	pa := MakePhysAddr(0x4000).WithFreelist(2).WithBucket(5)
	if got, want := pa.String(), "0x4000[fl=2,b=5]"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

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

package bits

import "testing"

func TestField64(t *testing.T) {
	for _, tc := range []struct {
		lo, hi int
		want   uint64
	}{
		{0, 4, 0x1f},
		{5, 9, 0x3e0},
		{0, 63, ^uint64(0)},
		{63, 63, 1 << 63},
	} {
		if got := Field64(tc.lo, tc.hi); got != tc.want {
			t.Errorf("Field64(%d, %d): got %#x, want %#x", tc.lo, tc.hi, got, tc.want)
		}
	}
}

func TestShiftInOut(t *testing.T) {
	mask := Field64(5, 9)
	for x := uint64(0); x < 32; x++ {
		v := ShiftIn64(x, mask) | 0x1f
		if got := ShiftOut64(v, mask); got != x {
			t.Errorf("ShiftOut64(ShiftIn64(%d)): got %d", x, got)
		}
	}
	if got := ShiftIn64(32, mask); got != 0 {
		t.Errorf("ShiftIn64(32) overflowed into %#x", got)
	}
}

func TestMask32(t *testing.T) {
	m := Mask32(0, 2, 31)
	if !IsOn32(m, MaskOf32(2)) || !IsOn32(m, MaskOf32(31)) {
		t.Errorf("Mask32(0, 2, 31) = %#x missing bits", m)
	}
	if IsOn32(m, Mask32(1, 2)) {
		t.Errorf("IsOn32(%#x, bits 1|2) = true", m)
	}
	if !IsAnyOn32(m, Mask32(1, 2)) {
		t.Errorf("IsAnyOn32(%#x, bits 1|2) = false", m)
	}
}

func TestMostSignificantOne64(t *testing.T) {
	for i := 0; i < 64; i++ {
		n := uint64(1) << uint(i)
		if got := MostSignificantOne64(n); got != i {
			t.Errorf("MostSignificantOne64(%#x): got %d, wanted %d", n, got, i)
		}
	}
	if got := MostSignificantOne64(0); got != 64 {
		t.Errorf("MostSignificantOne64(0): got %d, wanted 64", got)
	}
}

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

func TestFlagsString(t *testing.T) {
	for _, tc := range []struct {
		f    Flags
		want string
	}{
		{0, "0"},
		{PGBusy, "PG_BUSY"},
		{PGBusy | PGWanted | PGReleased, "PG_BUSY|PG_WANTED|PG_RELEASED"},
		{PGFree | PGZero, "PG_ZERO|PG_FREE"},
		{PGMarker << 1, "0x8000"},
	} {
		if got := tc.f.String(); got != tc.want {
			t.Errorf("Flags(%#x).String() = %q, want %q", uint32(tc.f), got, tc.want)
		}
	}
}

func TestSwapBacked(t *testing.T) {
	for _, tc := range []struct {
		f    Flags
		want bool
	}{
		{PGAnon, true},
		{PGAobj, true},
		{PGFile, false},
		{0, false},
	} {
		if got := tc.f.SwapBacked(); got != tc.want {
			t.Errorf("%v.SwapBacked() = %t, want %t", tc.f, got, tc.want)
		}
	}
}

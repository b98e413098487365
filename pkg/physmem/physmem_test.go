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

package physmem

import (
	"bytes"
	"testing"

	"gvisor.dev/uvm/pkg/hostarch"
)

func newTestArena(t *testing.T, base uint64, pages int) *Arena {
	t.Helper()
	a, err := NewArena(base, uint64(pages)*hostarch.PageSize)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestZeroAndWrite(t *testing.T) {
	a := newTestArena(t, 0x100000, 4)
	pa := uint64(0x101000)
	if !a.IsZero(pa) {
		t.Fatalf("fresh page is not zero")
	}
	a.Write(pa, 10, []byte("dirty"))
	if a.IsZero(pa) {
		t.Fatalf("page still zero after write")
	}
	got := make([]byte, 5)
	a.Read(pa, 10, got)
	if !bytes.Equal(got, []byte("dirty")) {
		t.Errorf("Read = %q, want %q", got, "dirty")
	}
	a.Zero(pa)
	if !a.IsZero(pa) {
		t.Errorf("page not zero after Zero")
	}
}

func TestCopy(t *testing.T) {
	a := newTestArena(t, 0, 2)
	a.Write(0, 0, []byte{1, 2, 3})
	a.Copy(hostarch.PageSize, 0)
	got := make([]byte, 3)
	a.Read(hostarch.PageSize, 0, got)
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("copied page = %v", got)
	}
}

func TestInvalidArena(t *testing.T) {
	if _, err := NewArena(1, hostarch.PageSize); err == nil {
		t.Errorf("NewArena with unaligned base succeeded")
	}
	if _, err := NewArena(0, 0); err == nil {
		t.Errorf("NewArena with zero size succeeded")
	}
}

func TestOutOfRangePanics(t *testing.T) {
	a := newTestArena(t, 0, 1)
	defer func() {
		if recover() == nil {
			t.Errorf("Zero outside arena did not panic")
		}
	}()
	a.Zero(hostarch.PageSize)
}

func TestMemoryLookup(t *testing.T) {
	var m Memory
	lo, err := NewArena(0, 2*hostarch.PageSize)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	hi, err := NewArena(16*hostarch.PageSize, 2*hostarch.PageSize)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	m.Add(lo)
	m.Add(hi)
	defer m.Close()
	if m.Lookup(hostarch.PageSize) != lo || m.Lookup(17*hostarch.PageSize) != hi {
		t.Errorf("Lookup returned the wrong arena")
	}
	if m.Lookup(4*hostarch.PageSize) != nil {
		t.Errorf("Lookup in a hole returned an arena")
	}
}

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

package lwp

import (
	"testing"
)

func TestLifecycle(t *testing.T) {
	tbl := NewTable()
	p := tbl.NewProc("init", 0)
	l := tbl.NewLWP(p)
	if got := tbl.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}

	tbl.ForEach(func(x *LWP) bool {
		if x != l || x.Stat() != LSIdl {
			t.Errorf("got LWP %d in %v, want LWP %d in LSIDL", x.LID(), x.Stat(), l.LID())
		}
		return true
	})

	tbl.Sleep(l, true)
	tbl.Tick()
	tbl.Tick()
	tbl.ForEach(func(x *LWP) bool {
		if x.Flag()&LWSintr == 0 {
			t.Errorf("interruptible sleep did not set LWSintr")
		}
		if x.SlpTime() != 2 {
			t.Errorf("SlpTime = %d, want 2", x.SlpTime())
		}
		return true
	})

	tbl.SetRunnable(l)
	tbl.Tick()
	tbl.ForEach(func(x *LWP) bool {
		if x.Flag()&LWSintr != 0 || x.SlpTime() != 0 {
			t.Errorf("runnable LWP has flag %#x slptime %d", x.Flag(), x.SlpTime())
		}
		return true
	})

	tbl.Exit(l)
	if got := tbl.Len(); got != 0 {
		t.Errorf("Len after Exit = %d, want 0", got)
	}
}

func TestDoubleExitPanics(t *testing.T) {
	tbl := NewTable()
	l := tbl.NewLWP(tbl.NewProc("a", 0))
	tbl.Exit(l)
	defer func() {
		if recover() == nil {
			t.Errorf("second Exit did not panic")
		}
	}()
	tbl.Exit(l)
}

func TestForEachStops(t *testing.T) {
	tbl := NewTable()
	p := tbl.NewProc("a", 0)
	for i := 0; i < 5; i++ {
		tbl.NewLWP(p)
	}
	n := 0
	tbl.ForEach(func(*LWP) bool {
		n++
		return n < 3
	})
	if n != 3 {
		t.Errorf("ForEach visited %d LWPs, want 3", n)
	}
}

func TestStatString(t *testing.T) {
	for _, tc := range []struct {
		s    Stat
		want string
	}{
		{0, "LSNONE"},
		{LSIdl, "LSIDL"},
		{LSOnproc, "LSONPROC"},
		{Stat(6), "Stat(6)"},
	} {
		if got := tc.s.String(); got != tc.want {
			t.Errorf("%d.String() = %q, want %q", int(tc.s), got, tc.want)
		}
	}
}

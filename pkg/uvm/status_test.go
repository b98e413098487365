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

	"gvisor.dev/uvm/pkg/cpucount"
)

func TestStatusCounters(t *testing.T) {
	m := newTestManager(t, testConfig(8))
	file := NewObject(ObjVnode, "file")
	aobj := NewObject(ObjAobj, "aobj")
	fp := allocIdle(t, m, file, 1)[0]
	ap := allocIdle(t, m, aobj, 1)[0]
	c := m.Counters()

	check := func(want map[cpucount.Kind]int64) {
		t.Helper()
		for k, v := range want {
			if got := c.Read(k); got != v {
				t.Errorf("%v = %d, want %d", k, got, v)
			}
		}
	}
	check(map[cpucount.Kind]int64{cpucount.FileClean: 1, cpucount.AnonClean: 1})

	g := file.Lock()
	m.MarkDirty(g, fp)
	if got := fp.Status(g); got != StatusDirty {
		t.Errorf("Status = %v, want dirty", got)
	}
	m.SetStatus(g, fp, StatusUnknown)
	g.Unlock()
	check(map[cpucount.Kind]int64{cpucount.FileClean: 0, cpucount.FileDirty: 0, cpucount.FileUnknown: 1})

	g = aobj.Lock()
	m.MarkDirty(g, ap)
	m.MarkDirty(g, ap)
	g.Unlock()
	check(map[cpucount.Kind]int64{cpucount.AnonClean: 0, cpucount.AnonDirty: 1})

	g = aobj.Lock()
	m.Free(g, ap)
	g.Unlock()
	g = file.Lock()
	m.Free(g, fp)
	g.Unlock()
	for k := cpucount.AnonUnknown; k <= cpucount.FileDirty; k++ {
		if got := c.Read(k); got != 0 {
			t.Errorf("%v = %d after freeing everything", k, got)
		}
	}
}

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

package cpucount

import (
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestSyncFoldsCPUs(t *testing.T) {
	c := New(4)
	for cpu := 0; cpu < 4; cpu++ {
		c.Add(cpu, NFault, int64(cpu+1))
	}
	if got := c.Get(NFault); got != 0 {
		t.Errorf("Get before Sync = %d, want 0", got)
	}
	c.Sync()
	if got := c.Get(NFault); got != 10 {
		t.Errorf("Get after Sync = %d, want 10", got)
	}
	if got := c.Read(NFault); got != 10 {
		t.Errorf("Read = %d, want 10", got)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	const (
		ncpu = 8
		n    = 500
	)
	c := New(ncpu)
	var g errgroup.Group
	for cpu := 0; cpu < ncpu; cpu++ {
		cpu := cpu
		g.Go(func() error {
			for i := 0; i < n; i++ {
				c.Inc(cpu, NSwtch)
				c.Add(cpu, FreePages, -1)
			}
			return nil
		})
	}
	g.Wait()
	c.Sync()
	if got := c.Get(NSwtch); got != ncpu*n {
		t.Errorf("NSwtch = %d, want %d", got, ncpu*n)
	}
	if got := c.Get(FreePages); got != -ncpu*n {
		t.Errorf("FreePages = %d, want %d", got, -ncpu*n)
	}
}

func TestCPUWraps(t *testing.T) {
	c := New(2)
	c.Inc(5, NTrap)
	c.Inc(-3, NTrap)
	if got := c.Read(NTrap); got != 2 {
		t.Errorf("NTrap = %d, want 2", got)
	}
}

func TestKindNames(t *testing.T) {
	seen := make(map[string]Kind)
	for k := Kind(0); k < NumKinds; k++ {
		name := k.String()
		if name == "" {
			t.Errorf("Kind %d has no name", int(k))
		}
		if prev, ok := seen[name]; ok {
			t.Errorf("kinds %d and %d share name %q", int(prev), int(k), name)
		}
		seen[name] = k
	}
}

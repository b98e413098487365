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

// Package physmem provides host memory that stands in for the physical
// memory of the managed machine. Frames are addressed by physical address;
// the arena maps [base, base+size) onto an anonymous host mapping.
package physmem

import (
	"fmt"

	"golang.org/x/sys/unix"
	"gvisor.dev/uvm/pkg/hostarch"
	"gvisor.dev/uvm/pkg/sync"
)

// Arena is a contiguous range of simulated physical memory.
type Arena struct {
	// base and size are immutable.
	base uint64
	size uint64

	// mu protects mapping against concurrent Close.
	mu      sync.RWMutex
	mapping []byte
}

// NewArena maps size bytes of host memory to back physical addresses
// [base, base+size). Both must be page aligned.
func NewArena(base, size uint64) (*Arena, error) {
	if !hostarch.IsPageAligned(base) || !hostarch.IsPageAligned(size) || size == 0 {
		return nil, fmt.Errorf("invalid arena [%#x, %#x)", base, base+size)
	}
	m, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("mapping %d bytes of physical memory: %w", size, err)
	}
	return &Arena{base: base, size: size, mapping: m}, nil
}

// Base returns the first physical address of the arena.
func (a *Arena) Base() uint64 { return a.base }

// Size returns the arena size in bytes.
func (a *Arena) Size() uint64 { return a.size }

// Contains returns true if the page at pa lies inside the arena.
func (a *Arena) Contains(pa uint64) bool {
	return pa >= a.base && pa-a.base+hostarch.PageSize <= a.size
}

// frame returns the host bytes backing the page at pa.
//
// Preconditions: a.mu is locked for reading.
func (a *Arena) frame(pa uint64) []byte {
	if a.mapping == nil {
		panic("physmem: arena used after Close")
	}
	if !a.Contains(pa) || !hostarch.IsPageAligned(pa) {
		panic(fmt.Sprintf("physmem: physical address %#x outside arena [%#x, %#x)", pa, a.base, a.base+a.size))
	}
	off := pa - a.base
	return a.mapping[off : off+hostarch.PageSize : off+hostarch.PageSize]
}

// Write copies data into the page at pa, starting at offset off.
func (a *Arena) Write(pa uint64, off int, data []byte) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copy(a.frame(pa)[off:], data)
}

// Read copies from the page at pa, starting at offset off, into dst.
func (a *Arena) Read(pa uint64, off int, dst []byte) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copy(dst, a.frame(pa)[off:])
}

// Zero fills the page at pa with zeroes.
func (a *Arena) Zero(pa uint64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	clear(a.frame(pa))
}

// Copy copies the page at src to the page at dst.
func (a *Arena) Copy(dst, src uint64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	copy(a.frame(dst), a.frame(src))
}

// IsZero returns true if every byte of the page at pa is zero.
func (a *Arena) IsZero(pa uint64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, b := range a.frame(pa) {
		if b != 0 {
			return false
		}
	}
	return true
}

// Close unmaps the arena. Further use panics.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mapping == nil {
		return nil
	}
	err := unix.Munmap(a.mapping)
	a.mapping = nil
	return err
}

// Memory is a set of arenas covering the machine's physical segments.
type Memory struct {
	arenas []*Arena
}

// Add takes ownership of a.
func (m *Memory) Add(a *Arena) {
	m.arenas = append(m.arenas, a)
}

// Lookup returns the arena containing pa, or nil.
func (m *Memory) Lookup(pa uint64) *Arena {
	for _, a := range m.arenas {
		if a.Contains(pa) {
			return a
		}
	}
	return nil
}

// Close unmaps all arenas.
func (m *Memory) Close() error {
	var firstErr error
	for _, a := range m.arenas {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.arenas = nil
	return firstErr
}

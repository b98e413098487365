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

// Package uvm implements the page frame manager of a page-based virtual
// memory system: one Page record per physical frame, the free lists those
// records live on while unowned, and the operations that move pages between
// free lists, memory objects, anons, the wired queue and the pagedaemon
// queues.
//
// Lock order:
//
//	owner lock (Object or Anon/Amap)
//	  free queue lock
//	  PageQueues.mu
//	    page interlock
//	      wired queue lock
//	      intent batch lock
//
// Page records are never destroyed. Ownership is checked with guard values
// (OwnerGuard, InterlockGuard, FreeQueueGuard) that can only be obtained by
// taking the corresponding lock; misuse panics.
package uvm

import (
	"fmt"
	"runtime"
	"time"

	"gvisor.dev/uvm/pkg/atomicbitops"
	"gvisor.dev/uvm/pkg/cpucount"
	"gvisor.dev/uvm/pkg/hostarch"
	"gvisor.dev/uvm/pkg/log"
	"gvisor.dev/uvm/pkg/physmem"
	"gvisor.dev/uvm/pkg/sync"
)

// SegmentConfig describes one physical segment by byte address.
type SegmentConfig struct {
	Start    uint64 `toml:"start" yaml:"start" json:"start"`
	End      uint64 `toml:"end" yaml:"end" json:"end"`
	Freelist int    `toml:"freelist" yaml:"freelist" json:"freelist"`
}

// Config configures a Manager.
type Config struct {
	// Segments lists the physical memory of the machine.
	Segments []SegmentConfig `toml:"segments" yaml:"segments" json:"segments"`

	// NFreelists is the number of freelists. Each segment names one.
	NFreelists int `toml:"freelists" yaml:"freelists" json:"freelists"`

	// Buckets is the number of buckets per freelist.
	Buckets int `toml:"buckets" yaml:"buckets" json:"buckets"`

	// Colors is the number of page colors. It must be a power of two.
	Colors int `toml:"colors" yaml:"colors" json:"colors"`

	// NCPU is the number of CPUs. Zero means GOMAXPROCS.
	NCPU int `toml:"ncpu" yaml:"ncpu" json:"ncpu"`

	// ReserveKernel is the number of free pages only kernel and reserve
	// allocations may take.
	ReserveKernel int `toml:"reserve_kernel" yaml:"reserve_kernel" json:"reserve_kernel"`

	// ReservePagedaemon is the number of free pages only the pagedaemon
	// may take.
	ReservePagedaemon int `toml:"reserve_pagedaemon" yaml:"reserve_pagedaemon" json:"reserve_pagedaemon"`

	// IntentBatch is the size of a pagedaemon intent batch.
	IntentBatch int `toml:"intent_batch" yaml:"intent_batch" json:"intent_batch"`

	// BackingMemory backs every frame with host memory, so page content
	// can be read, written and zeroed.
	BackingMemory bool `toml:"backing_memory" yaml:"backing_memory" json:"backing_memory"`
}

// Defaults for unset Config fields.
const (
	DefaultReserveKernel     = 5
	DefaultReservePagedaemon = 1
	DefaultIntentBatch       = 64
)

// SetDefaults fills in unset fields.
func (c *Config) SetDefaults() {
	if c.NFreelists == 0 {
		c.NFreelists = 1
	}
	if c.Buckets == 0 {
		c.Buckets = 1
	}
	if c.Colors == 0 {
		c.Colors = 1
	}
	if c.NCPU == 0 {
		c.NCPU = runtime.GOMAXPROCS(0)
	}
	if c.ReserveKernel == 0 {
		c.ReserveKernel = DefaultReserveKernel
	}
	if c.ReservePagedaemon == 0 {
		c.ReservePagedaemon = DefaultReservePagedaemon
	}
	if c.IntentBatch == 0 {
		c.IntentBatch = DefaultIntentBatch
	}
}

// Validate checks c, which must have defaults set.
func (c *Config) Validate() error {
	if len(c.Segments) == 0 {
		return fmt.Errorf("no physical segments")
	}
	if c.NFreelists < 1 || c.NFreelists > MaxFreelists {
		return fmt.Errorf("freelists %d out of range [1,%d]", c.NFreelists, MaxFreelists)
	}
	if c.Buckets < 1 || c.Buckets > MaxBuckets {
		return fmt.Errorf("buckets %d out of range [1,%d]", c.Buckets, MaxBuckets)
	}
	if c.Colors < 1 || c.Colors&(c.Colors-1) != 0 {
		return fmt.Errorf("colors %d is not a power of two", c.Colors)
	}
	if c.NCPU < 1 {
		return fmt.Errorf("invalid CPU count %d", c.NCPU)
	}
	if c.ReserveKernel < 0 || c.ReservePagedaemon < 0 || c.ReservePagedaemon > c.ReserveKernel {
		return fmt.Errorf("invalid reserves: kernel %d, pagedaemon %d", c.ReserveKernel, c.ReservePagedaemon)
	}
	if c.IntentBatch < 1 {
		return fmt.Errorf("invalid intent batch size %d", c.IntentBatch)
	}
	for _, s := range c.Segments {
		if !hostarch.IsPageAligned(s.Start) || !hostarch.IsPageAligned(s.End) || s.End <= s.Start {
			return fmt.Errorf("segment [%#x, %#x) is empty or not page aligned", s.Start, s.End)
		}
		if s.Freelist < 0 || s.Freelist >= c.NFreelists {
			return fmt.Errorf("segment [%#x, %#x) names freelist %d of %d", s.Start, s.End, s.Freelist, c.NFreelists)
		}
	}
	return nil
}

// Manager owns every page record of a machine and the queues they move
// between. It is created at boot by New and lives until Close.
type Manager struct {
	// cfg is immutable after New.
	cfg       Config
	colorMask int

	segs   segTable
	npages int

	fq     freeQueue
	wired  wiredQueue
	queues PageQueues

	counters *cpucount.Counters
	mem      *physmem.Memory
	kernel   *Object

	// swpgInUse is the number of swap pages in use.
	swpgInUse atomicbitops.Int64

	// allocFailures logs exhaustion without flooding the log.
	allocFailures log.Logger

	closeOnce sync.Once
}

// New boots a page manager: it builds the segment table, creates one page
// record per frame with its freelist and bucket packed in, and puts every
// page on the free lists.
func New(cfg Config) (*Manager, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid page manager config: %w", err)
	}
	m := &Manager{
		cfg:           cfg,
		colorMask:     cfg.Colors - 1,
		segs:          newSegTable(),
		counters:      cpucount.New(cfg.NCPU),
		kernel:        NewObject(ObjKernel, "kernel"),
		allocFailures: log.BasicRateLimitedLogger(10 * time.Second),
	}
	m.fq.init(cfg.NFreelists, cfg.Buckets, cfg.Colors)
	m.queues.init(m, cfg.NCPU, cfg.IntentBatch)

	for _, sc := range cfg.Segments {
		s := &PhysSeg{
			Start:    hostarch.Atop(sc.Start),
			End:      hostarch.Atop(sc.End),
			Freelist: sc.Freelist,
		}
		if err := m.segs.add(s); err != nil {
			return nil, err
		}
		s.pages = make([]Page, s.NPages())
		for i := range s.pages {
			pa := MakePhysAddr(hostarch.Ptoa(s.Start + uint64(i))).WithFreelist(s.Freelist)
			s.pages[i].init(m, pa)
		}
		m.npages += s.NPages()
	}

	if cfg.BackingMemory {
		m.mem = &physmem.Memory{}
		var err error
		m.segs.forEach(func(s *PhysSeg) bool {
			var a *physmem.Arena
			a, err = physmem.NewArena(hostarch.Ptoa(s.Start), hostarch.Ptoa(s.End-s.Start))
			if err != nil {
				return false
			}
			m.mem.Add(a)
			return true
		})
		if err != nil {
			m.mem.Close()
			return nil, err
		}
	}

	g := m.LockFreeQueue()
	m.forEachPage(func(pg *Page) {
		pg.phys.Store(uint64(pg.packed().WithBucket(m.stripeBucket(pg))))
		// Fresh anonymous host memory is zero.
		if m.mem != nil {
			pg.setFlags(PGZero)
		}
		m.freeInsert(pg)
	})
	g.Unlock()
	m.counters.Add(0, cpucount.FreePages, int64(m.npages))
	m.counters.Sync()

	log.Infof("Page manager: %d pages in %d segments, %d freelists, %d buckets, %d colors, %d CPUs",
		m.npages, m.segs.len(), cfg.NFreelists, cfg.Buckets, cfg.Colors, cfg.NCPU)
	m.segs.forEach(func(s *PhysSeg) bool {
		log.Debugf("Physical segment %v: %d pages", s, s.NPages())
		return true
	})
	return m, nil
}

// Close releases the backing memory, if any. The manager must not be used
// afterwards.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if m.mem != nil {
			err = m.mem.Close()
		}
	})
	return err
}

// Config returns the configuration with defaults applied.
func (m *Manager) Config() Config {
	c := m.cfg
	c.Segments = append([]SegmentConfig(nil), m.cfg.Segments...)
	return c
}

// Counters returns the per-CPU event counters the manager updates. Other
// subsystems add their own events to the same set.
func (m *Manager) Counters() *cpucount.Counters {
	return m.counters
}

// KernelObject returns the kernel object.
func (m *Manager) KernelObject() *Object {
	return m.kernel
}

// NPages returns the number of managed pages.
func (m *Manager) NPages() int {
	return m.npages
}

// NColors returns the number of page colors.
func (m *Manager) NColors() int {
	return m.cfg.Colors
}

// Queues returns the pagedaemon queues.
func (m *Manager) Queues() *PageQueues {
	return &m.queues
}

// Reserves returns the kernel and pagedaemon free page reserves.
func (m *Manager) Reserves() (kernel, pagedaemon int) {
	return m.cfg.ReserveKernel, m.cfg.ReservePagedaemon
}

// Segments returns the physical segments in address order.
func (m *Manager) Segments() []*PhysSeg {
	var segs []*PhysSeg
	m.segs.forEach(func(s *PhysSeg) bool {
		segs = append(segs, s)
		return true
	})
	return segs
}

// PageAt returns the page record of the frame at physical address pa, or
// nil if pa is not managed.
func (m *Manager) PageAt(pa uint64) *Page {
	pfn := hostarch.Atop(pa)
	s := m.segs.lookup(pfn)
	if s == nil {
		return nil
	}
	return s.page(pfn)
}

// lookupFreelist derives pg's freelist from the segment table, independently
// of the packed value.
func (m *Manager) lookupFreelist(pg *Page) int {
	s := m.segs.lookup(pg.PFN())
	if s == nil {
		panic(fmt.Sprintf("%v is not in any physical segment", pg))
	}
	return s.Freelist
}

func (m *Manager) forEachPage(fn func(pg *Page)) {
	m.segs.forEach(func(s *PhysSeg) bool {
		for i := range s.pages {
			fn(&s.pages[i])
		}
		return true
	})
}

// AvailMem returns the number of free pages. With cached set it returns the
// value folded by the last counter sync, which may be stale; otherwise it
// syncs the counters first.
func (m *Manager) AvailMem(cached bool) int64 {
	if !cached {
		m.counters.Sync()
	}
	fp := m.counters.Get(cpucount.FreePages)
	if fp < 0 {
		fp = 0
	}
	return fp
}

// FreeCount returns the exact number of pages on the free lists.
func (m *Manager) FreeCount() int64 {
	return m.fq.nfree.Load()
}

// ZeroCount returns the number of free pages known to be zero.
func (m *Manager) ZeroCount() int64 {
	return m.fq.nzero.Load()
}

// Wired returns the number of wired pages.
func (m *Manager) Wired() int64 {
	return m.wired.count.Load()
}

// SwapPagesInUse returns the number of swap pages in use.
func (m *Manager) SwapPagesInUse() int64 {
	return m.swpgInUse.Load()
}

// AddSwapPagesInUse adjusts the swap-in-use count, as reported by the swap
// layer.
func (m *Manager) AddSwapPagesInUse(delta int64) {
	if v := m.swpgInUse.Add(delta); v < 0 {
		panic(fmt.Sprintf("swap pages in use went negative: %d", v))
	}
}

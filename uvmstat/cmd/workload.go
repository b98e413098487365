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


package cmd

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/uvm/pkg/atomicbitops"
	"gvisor.dev/uvm/pkg/cpucount"
	"gvisor.dev/uvm/pkg/hostarch"
	"gvisor.dev/uvm/pkg/log"
	"gvisor.dev/uvm/pkg/lwp"
	"gvisor.dev/uvm/pkg/uvm"
	"gvisor.dev/uvm/uvmstat/boot"
)

// workload simulates page faults from concurrent LWPs. Each worker faults
// on a private anonymous object, keeping at most resident pages of it, and
// on a file object shared by all workers, where it busies the page for a
// simulated I/O. A worker frees its private pages when it exits.
type workload struct {
	workers    int
	iterations int
	resident   int
	shared     int
	tick       time.Duration

	// waiting counts workers backing off for memory. While it is non-zero
	// every worker gives up a private page per fault.
	waiting atomicbitops.Int64
}

// setDefaults fills in unset fields.
func (w *workload) setDefaults() {
	if w.workers <= 0 {
		w.workers = runtime.GOMAXPROCS(0)
	}
	if w.resident <= 0 {
		w.resident = 64
	}
	if w.shared <= 0 {
		w.shared = 8
	}
	if w.tick <= 0 {
		w.tick = time.Millisecond
	}
}

type worker struct {
	id     int
	m      *boot.Machine
	l      *lwp.LWP
	obj    *uvm.Object
	shared *uvm.Object
	w      *workload
}

// run runs the workload on m until every worker has finished its iterations
// or ctx is cancelled. The scheduler clock, idle zeroing and queue
// realization run in the background for the duration.
func (w *workload) run(ctx context.Context, m *boot.Machine) error {
	w.setDefaults()
	shared := uvm.NewObject(uvm.ObjVnode, "shared")

	bgCtx, stopBackground := context.WithCancel(ctx)
	var bg errgroup.Group
	bg.Go(func() error {
		m.Meter.Run(bgCtx, w.tick)
		return nil
	})
	bg.Go(func() error {
		// Idle zeroing, as the idle loop would do it.
		for bgCtx.Err() == nil {
			if n, _ := m.UVM.ZeroFreePages(bgCtx, 16); n == 0 {
				time.Sleep(w.tick)
			}
		}
		return nil
	})
	bg.Go(func() error {
		// The pagedaemon realizes queue intents in the background.
		for bgCtx.Err() == nil {
			m.UVM.Queues().Flush()
			time.Sleep(w.tick)
		}
		return nil
	})

	workers, wctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		p := m.LWPs.NewProc(fmt.Sprintf("worker%d", i), 0)
		wk := &worker{
			id:     i,
			m:      m,
			l:      m.LWPs.NewLWP(p),
			obj:    uvm.NewObject(uvm.ObjAobj, p.Comm),
			shared: shared,
			w:      w,
		}
		workers.Go(func() error { return wk.run(wctx) })
	}
	err := workers.Wait()
	stopBackground()
	bg.Wait()

	m.UVM.Queues().Flush()
	m.Meter.UpdateUvmexp()
	return err
}

func (wk *worker) run(ctx context.Context) error {
	tbl := wk.m.LWPs
	tbl.SetOnproc(wk.l)
	defer tbl.Zombie(wk.l)
	defer wk.exit()
	c := wk.m.UVM.Counters()
	for it := 0; it < wk.w.iterations; it++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.Inc(wk.id, cpucount.NTrap)
		c.Inc(wk.id, cpucount.NFault)
		var err error
		if it%4 == 3 {
			err = wk.faultShared(ctx, it)
		} else {
			err = wk.faultPrivate(ctx, it)
		}
		if err != nil {
			return err
		}
		if it%16 == 0 {
			c.Inc(wk.id, cpucount.NSwtch)
			runtime.Gosched()
		}
	}
	return nil
}

// faultPrivate faults on the worker's own object.
func (wk *worker) faultPrivate(ctx context.Context, it int) error {
	m := wk.m.UVM
	c := m.Counters()
	off := uint64(it%(2*wk.w.resident)) * hostarch.PageSize

	g := wk.obj.Lock()
	defer g.Unlock()
	if wk.w.waiting.Load() > 0 && wk.evict(g) {
		// The page goes to a waiting worker; this fault is retried later.
		return nil
	}
	if pg := wk.obj.Lookup(g, off); pg != nil {
		c.Inc(wk.id, cpucount.FltObj)
		if it%5 == 0 {
			m.MarkDirty(g, pg)
		}
		m.PageActivate(g, pg)
		return nil
	}
	if wk.obj.Resident(g) >= wk.w.resident {
		wk.evict(g)
	}
	pg, err := wk.allocPrivate(ctx, g, off, uvm.AllocOpts{CPU: wk.id, Zero: it%3 == 0})
	if err != nil {
		return err
	}
	c.Inc(wk.id, cpucount.FltAnon)
	if it%3 == 0 {
		c.Inc(wk.id, cpucount.FltPrzero)
	}
	m.Unbusy(g, pg)
	m.PageActivate(g, pg)
	return nil
}

// faultShared faults on the shared object, waiting for the page if another
// worker has it busy.
func (wk *worker) faultShared(ctx context.Context, it int) error {
	m := wk.m.UVM
	c := m.Counters()
	tbl := wk.m.LWPs
	off := uint64(it%wk.w.shared) * hostarch.PageSize
	for {
		g := wk.shared.Lock()
		pg := wk.shared.Lookup(g, off)
		if pg == nil {
			var err error
			pg, err = m.Alloc(g, wk.shared, off, nil, uvm.AllocOpts{CPU: wk.id})
			if errors.Is(err, uvm.ErrNoPage) {
				c.Inc(wk.id, cpucount.FltNoRAM)
				g.Unlock()
				if err := wk.waitMemory(ctx); err != nil {
					return fmt.Errorf("worker %d: waiting for memory: %w", wk.id, err)
				}
				continue
			}
			if err != nil {
				g.Unlock()
				return err
			}
			c.Inc(wk.id, cpucount.PageIns)
		} else if !uvm.TryBusy(g, pg) {
			c.Inc(wk.id, cpucount.FltPgWait)
			tbl.Sleep(wk.l, false)
			uvm.WaitUnbusy(g, pg)
			tbl.SetOnproc(wk.l)
			c.Inc(wk.id, cpucount.FltRelck)
			continue
		}
		g.Unlock()

		// Simulated I/O with the object unlocked.
		runtime.Gosched()

		g = wk.shared.Lock()
		c.Inc(wk.id, cpucount.FltRelckOK)
		m.Unbusy(g, pg)
		m.PageEnqueue(g, pg)
		g.Unlock()
		return nil
	}
}

// evict frees the first idle page of the worker's object and deactivates the
// next one, so the inactive queue sees traffic.
//
// Preconditions: g holds wk.obj exclusively.
func (wk *worker) evict(g *uvm.OwnerGuard) bool {
	m := wk.m.UVM
	var victim *uvm.Page
	wk.obj.ForEachPage(g, func(pg *uvm.Page) bool {
		if pg.Flags(g).Has(uvm.PGBusy) {
			return true
		}
		if victim == nil {
			victim = pg
			return true
		}
		m.PageDeactivate(g, pg)
		return false
	})
	if victim == nil {
		return false
	}
	m.Free(g, victim)
	return true
}

// exit frees the worker's private pages.
func (wk *worker) exit() {
	g := wk.obj.Lock()
	defer g.Unlock()
	var pages []*uvm.Page
	wk.obj.ForEachPage(g, func(pg *uvm.Page) bool {
		pages = append(pages, pg)
		return true
	})
	for _, pg := range pages {
		wk.m.UVM.Free(g, pg)
	}
}

// allocPrivate allocates a page of the worker's object, evicting the
// worker's own pages and backing off while memory is short. g holds wk.obj
// throughout, which blocks nobody else.
func (wk *worker) allocPrivate(ctx context.Context, g *uvm.OwnerGuard, off uint64, opts uvm.AllocOpts) (*uvm.Page, error) {
	m := wk.m.UVM
	var pg *uvm.Page
	err := wk.backoff(ctx, func() error {
		var err error
		if pg, err = m.Alloc(g, wk.obj, off, nil, opts); err == nil {
			return nil
		}
		if !errors.Is(err, uvm.ErrNoPage) {
			return backoff.Permanent(err)
		}
		m.Counters().Inc(wk.id, cpucount.FltNoRAM)
		wk.evict(g)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("worker %d: allocating %v offset %#x: %w", wk.id, wk.obj, off, err)
	}
	return pg, nil
}

// waitMemory waits until a page is free, evicting the worker's own pages.
// The caller must not hold any owner lock.
func (wk *worker) waitMemory(ctx context.Context) error {
	m := wk.m.UVM
	reserve, _ := m.Reserves()
	return wk.backoff(ctx, func() error {
		if m.FreeCount() > int64(reserve) {
			return nil
		}
		g := wk.obj.Lock()
		defer g.Unlock()
		wk.evict(g)
		return uvm.ErrNoPage
	})
}

// backoff retries op with exponential backoff. While it waits, the worker
// counts as waiting for memory and other workers give up pages.
func (wk *worker) backoff(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Microsecond
	b.MaxInterval = 10 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second

	waiting := false
	defer func() {
		if waiting {
			wk.w.waiting.Add(-1)
		}
	}()
	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := op()
		if err != nil && !waiting {
			log.Debugf("Worker %d waiting for memory: %v", wk.id, err)
			waiting = true
			wk.w.waiting.Add(1)
		}
		return err
	}, b)
}

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


package meter

import (
	"context"
	"time"

	"gvisor.dev/uvm/pkg/log"
	"gvisor.dev/uvm/pkg/lwp"
)

// FShift is the number of fraction bits in a fixed-point load average.
const FShift = 11

// FScale is 1.0 in fixed point.
const FScale = 1 << FShift

// LoadInterval is the sampling period of the load average.
const LoadInterval = 5 * time.Second

// cexp holds exp(-5s/1m), exp(-5s/5m) and exp(-5s/15m) in fixed point,
// truncated.
var cexp = [3]uint64{
	1884, // 0.9200444146293232
	2014, // 0.9834714538216174
	2036, // 0.9944598480048967
}

// LoadAvg is the 1, 5 and 15 minute load average in fixed point.
type LoadAvg struct {
	Ldavg  [3]uint32 `json:"ldavg"`
	FScale int64     `json:"fscale"`
}

// Float returns the averages as floating point numbers.
func (l LoadAvg) Float() [3]float64 {
	var f [3]float64
	for i, v := range l.Ldavg {
		f[i] = float64(v) / float64(FScale)
	}
	return f
}

// decay folds nrun runnable LWPs into avg.
func decay(avg *LoadAvg, nrun uint64) {
	for i := range avg.Ldavg {
		avg.Ldavg[i] = uint32((cexp[i]*uint64(avg.Ldavg[i]) + nrun*FScale*(FScale-cexp[i])) >> FShift)
	}
}

// nrun counts runnable and running LWPs of user processes.
func (mt *Meter) nrun() uint64 {
	var n uint64
	mt.lwps.ForEach(func(l *lwp.LWP) bool {
		if l.Proc().Flag&lwp.PKSystem == 0 && (l.Stat() == lwp.LSRun || l.Stat() == lwp.LSOnproc) {
			n++
		}
		return true
	})
	return n
}

// UpdateLoadAvg samples the run queue and updates the load average. It is
// meant to be called every LoadInterval.
func (mt *Meter) UpdateLoadAvg() LoadAvg {
	n := mt.nrun()
	mt.mu.Lock()
	defer mt.mu.Unlock()
	decay(&mt.avg, n)
	return mt.avg
}

// LoadAvg returns the current load average.
func (mt *Meter) LoadAvg() LoadAvg {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.avg
}

// Run drives the periodic work of the scheduler clock until ctx is done:
// every tick it ages sleeping LWPs and refreshes Uvmexp, and every
// LoadInterval worth of ticks it samples the load average. A tick normally
// stands for one second.
func (mt *Meter) Run(ctx context.Context, tick time.Duration) error {
	per := int(LoadInterval / time.Second)
	t := time.NewTicker(tick)
	defer t.Stop()
	log.Debugf("Meter running, tick %v", tick)
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		mt.lwps.Tick()
		mt.UpdateUvmexp()
		if n%per == 0 {
			mt.UpdateLoadAvg()
		}
	}
}

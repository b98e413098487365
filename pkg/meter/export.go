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
	"gvisor.dev/uvm/pkg/cpucount"
	"gvisor.dev/uvm/pkg/prometheus"
)

var (
	pagesMetric = &prometheus.Metric{
		Name: "pages",
		Type: prometheus.TypeGauge,
		Help: "Physical pages by state.",
	}
	reserveMetric = &prometheus.Metric{
		Name: "reserve_pages",
		Type: prometheus.TypeGauge,
		Help: "Free pages held back for privileged allocations.",
	}
	eventsMetric = &prometheus.Metric{
		Name: "events_total",
		Type: prometheus.TypeCounter,
		Help: "Event counters summed over all CPUs.",
	}
	lwpsMetric = &prometheus.Metric{
		Name: "lwps",
		Type: prometheus.TypeGauge,
		Help: "LWPs by metering class.",
	}
	memoryMetric = &prometheus.Metric{
		Name: "memory_pages",
		Type: prometheus.TypeGauge,
		Help: "Virtual and real memory summary.",
	}
	loadMetric = &prometheus.Metric{
		Name: "load_average",
		Type: prometheus.TypeGauge,
		Help: "Run queue length averaged over 1, 5 and 15 minutes.",
	}
)

// Snapshot returns the last Uvmexp snapshot, a fresh VMTotal and the load
// average as Prometheus data.
func (mt *Meter) Snapshot() *prometheus.Snapshot {
	e := mt.Uvmexp()
	t := mt.Total()
	avg := mt.LoadAvg().Float()

	s := prometheus.NewSnapshot()
	state := func(v string) map[string]string { return map[string]string{"state": v} }
	s.Add(
		prometheus.LabeledIntData(pagesMetric, state("total"), e.NPages),
		prometheus.LabeledIntData(pagesMetric, state("free"), e.Free),
		prometheus.LabeledIntData(pagesMetric, state("active"), e.Active),
		prometheus.LabeledIntData(pagesMetric, state("inactive"), e.Inactive),
		prometheus.LabeledIntData(pagesMetric, state("wired"), e.Wired),
		prometheus.LabeledIntData(pagesMetric, state("zero"), e.ZeroPages),
		prometheus.LabeledIntData(pagesMetric, state("anon"), e.AnonPages),
		prometheus.LabeledIntData(pagesMetric, state("file"), e.FilePages),
		prometheus.LabeledIntData(pagesMetric, state("exec"), e.ExecPages),
		prometheus.LabeledIntData(reserveMetric, map[string]string{"reserve": "kernel"}, e.ReserveKernel),
		prometheus.LabeledIntData(reserveMetric, map[string]string{"reserve": "pagedaemon"}, e.ReservePagedaemon),
	)
	for k := cpucount.Kind(0); k < cpucount.NumKinds; k++ {
		s.Add(prometheus.LabeledIntData(eventsMetric, map[string]string{"counter": k.String()}, e.Counter(k)))
	}
	class := func(v string) map[string]string { return map[string]string{"class": v} }
	s.Add(
		prometheus.LabeledIntData(lwpsMetric, class("runnable"), t.RQ),
		prometheus.LabeledIntData(lwpsMetric, class("diskwait"), t.DW),
		prometheus.LabeledIntData(lwpsMetric, class("pagewait"), t.PW),
		prometheus.LabeledIntData(lwpsMetric, class("sleeping"), t.SL),
		prometheus.LabeledIntData(memoryMetric, map[string]string{"kind": "vm"}, t.VM),
		prometheus.LabeledIntData(memoryMetric, map[string]string{"kind": "avm"}, t.AVM),
		prometheus.LabeledIntData(memoryMetric, map[string]string{"kind": "rm"}, t.RM),
		prometheus.LabeledIntData(memoryMetric, map[string]string{"kind": "arm"}, t.ARM),
		prometheus.LabeledIntData(memoryMetric, map[string]string{"kind": "free"}, t.Free),
	)
	for i, period := range []string{"1m", "5m", "15m"} {
		s.Add(prometheus.LabeledFloatData(loadMetric, map[string]string{"period": period}, avg[i]))
	}
	return s
}

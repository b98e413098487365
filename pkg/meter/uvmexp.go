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
	"bytes"
	"encoding/binary"

	"gvisor.dev/uvm/pkg/cpucount"
	"gvisor.dev/uvm/pkg/hostarch"
)

// Uvmexp is a snapshot of page manager state and event counters.
type Uvmexp struct {
	PageSize  int64 `json:"pagesize"`
	PageMask  int64 `json:"pagemask"`
	PageShift int64 `json:"pageshift"`
	NCPU      int64 `json:"ncpu"`
	NColors   int64 `json:"ncolors"`

	NPages    int64 `json:"npages"`
	Free      int64 `json:"free"`
	Active    int64 `json:"active"`
	Inactive  int64 `json:"inactive"`
	Wired     int64 `json:"wired"`
	ZeroPages int64 `json:"zeropages"`

	ReserveKernel     int64 `json:"reserve_kernel"`
	ReservePagedaemon int64 `json:"reserve_pagedaemon"`
	FreeMin           int64 `json:"freemin"`
	FreeTarg          int64 `json:"freetarg"`
	WiredMax          int64 `json:"wiredmax"`

	AnonPages int64 `json:"anonpages"`
	FilePages int64 `json:"filepages"`
	ExecPages int64 `json:"execpages"`

	SwpgInUse int64 `json:"swpginuse"`

	// Event counters, folded from the per-CPU counters.
	Counters [cpucount.NumKinds]int64 `json:"-"`
}

// Counter returns the folded value of counter k.
func (e *Uvmexp) Counter(k cpucount.Kind) int64 {
	return e.Counters[k]
}

// freeTargets derives the pagedaemon free page thresholds from the memory
// size: freemin is 1/20th of memory clamped to [16KB, 256KB] and kept above
// the kernel reserve, and freetarg is 4/3 of freemin.
func freeTargets(npages, reserveKernel int64) (freemin, freetarg int64) {
	freemin = npages / 20
	freemin = max(freemin, (16*1024)>>hostarch.PageShift)
	freemin = min(freemin, (256*1024)>>hostarch.PageShift)
	if freemin < reserveKernel+1 {
		freemin = reserveKernel + 1
	}
	freetarg = freemin * 4 / 3
	if freetarg <= freemin {
		freetarg = freemin + 1
	}
	return freemin, freetarg
}

// UpdateUvmexp folds the per-CPU counters and refreshes the snapshot. It has
// no other side effect, so calling it twice without intervening activity
// yields identical snapshots.
func (mt *Meter) UpdateUvmexp() Uvmexp {
	c := mt.m.Counters()
	c.Sync()

	var e Uvmexp
	e.PageSize = hostarch.PageSize
	e.PageMask = hostarch.PageMask
	e.PageShift = hostarch.PageShift
	e.NCPU = int64(c.NCPU())
	e.NColors = int64(mt.m.NColors())
	e.NPages = int64(mt.m.NPages())
	e.Free = mt.m.AvailMem(true)
	e.Active, e.Inactive = mt.m.Queues().EstimatePageable()
	e.Wired = mt.m.Wired()
	e.ZeroPages = mt.m.ZeroCount()
	rk, rp := mt.m.Reserves()
	e.ReserveKernel, e.ReservePagedaemon = int64(rk), int64(rp)
	e.FreeMin, e.FreeTarg = freeTargets(e.NPages, e.ReserveKernel)
	e.WiredMax = e.NPages / 3
	e.SwpgInUse = mt.m.SwapPagesInUse()
	for k := cpucount.Kind(0); k < cpucount.NumKinds; k++ {
		e.Counters[k] = c.Get(k)
	}
	e.ExecPages = e.Counters[cpucount.ExecPages]
	e.AnonPages = e.Counters[cpucount.AnonUnknown] + e.Counters[cpucount.AnonClean] + e.Counters[cpucount.AnonDirty]
	e.FilePages = e.Counters[cpucount.FileUnknown] + e.Counters[cpucount.FileClean] + e.Counters[cpucount.FileDirty] - e.ExecPages

	mt.mu.Lock()
	mt.exp = e
	mt.mu.Unlock()
	return e
}

// Uvmexp returns the snapshot taken by the last UpdateUvmexp.
func (mt *Meter) Uvmexp() Uvmexp {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.exp
}

// Uvmexp2Version is the layout version of Uvmexp2. Fields are only ever
// appended, and the version bumped when they are.
const Uvmexp2Version = 1

// Uvmexp2 is the flat, fixed-layout form of Uvmexp consumed by external
// tools. Every field is a little-endian int64 at a fixed offset.
type Uvmexp2 struct {
	PageSize          int64 `json:"pagesize"`
	PageMask          int64 `json:"pagemask"`
	PageShift         int64 `json:"pageshift"`
	NPages            int64 `json:"npages"`
	Free              int64 `json:"free"`
	Active            int64 `json:"active"`
	Inactive          int64 `json:"inactive"`
	Paging            int64 `json:"paging"`
	Wired             int64 `json:"wired"`
	ZeroPages         int64 `json:"zeropages"`
	ReservePagedaemon int64 `json:"reserve_pagedaemon"`
	ReserveKernel     int64 `json:"reserve_kernel"`
	FreeMin           int64 `json:"freemin"`
	FreeTarg          int64 `json:"freetarg"`
	InactTarg         int64 `json:"inacttarg"`
	WiredMax          int64 `json:"wiredmax"`
	NSwapDev          int64 `json:"nswapdev"`
	SwPages           int64 `json:"swpages"`
	SwpgInUse         int64 `json:"swpginuse"`
	SwpgOnly          int64 `json:"swpgonly"`
	NSwget            int64 `json:"nswget"`
	CPUHit            int64 `json:"cpuhit"`
	CPUMiss           int64 `json:"cpumiss"`
	Faults            int64 `json:"faults"`
	Traps             int64 `json:"traps"`
	Intrs             int64 `json:"intrs"`
	Swtch             int64 `json:"swtch"`
	Softs             int64 `json:"softs"`
	Syscalls          int64 `json:"syscalls"`
	PageIns           int64 `json:"pageins"`
	SwapIns           int64 `json:"swapins"`
	SwapOuts          int64 `json:"swapouts"`
	PgSwapIn          int64 `json:"pgswapin"`
	PgSwapOut         int64 `json:"pgswapout"`
	Forks             int64 `json:"forks"`
	ForksPPWait       int64 `json:"forks_ppwait"`
	ForksShareVM      int64 `json:"forks_sharevm"`
	PgaZeroHit        int64 `json:"pga_zerohit"`
	PgaZeroMiss       int64 `json:"pga_zeromiss"`
	ZeroAborts        int64 `json:"zeroaborts"`
	FltNoRAM          int64 `json:"fltnoram"`
	FltNoAnon         int64 `json:"fltnoanon"`
	FltPgWait         int64 `json:"fltpgwait"`
	FltPgRele         int64 `json:"fltpgrele"`
	FltRelck          int64 `json:"fltrelck"`
	FltRelckOK        int64 `json:"fltrelckok"`
	FltAnon           int64 `json:"flt_anon"`
	FltAcow           int64 `json:"flt_acow"`
	FltObj            int64 `json:"flt_obj"`
	FltPrcopy         int64 `json:"flt_prcopy"`
	FltPrzero         int64 `json:"flt_przero"`
	AnonPages         int64 `json:"anonpages"`
	FilePages         int64 `json:"filepages"`
	ExecPages         int64 `json:"execpages"`
	ColorHit          int64 `json:"colorhit"`
	ColorMiss         int64 `json:"colormiss"`
	NColors           int64 `json:"ncolors"`
	BootPages         int64 `json:"bootpages"`
	AnonUnknown       int64 `json:"anonunknown"`
	AnonClean         int64 `json:"anonclean"`
	AnonDirty         int64 `json:"anondirty"`
	FileUnknown       int64 `json:"fileunknown"`
	FileClean         int64 `json:"fileclean"`
	FileDirty         int64 `json:"filedirty"`
	FltUp             int64 `json:"fltup"`
	FltNoUp           int64 `json:"fltnoup"`
}

// Uvmexp2 returns the flat form of e.
func (e *Uvmexp) Uvmexp2() Uvmexp2 {
	c := &e.Counters
	return Uvmexp2{
		PageSize:          e.PageSize,
		PageMask:          e.PageMask,
		PageShift:         e.PageShift,
		NPages:            e.NPages,
		Free:              e.Free,
		Active:            e.Active,
		Inactive:          e.Inactive,
		Wired:             e.Wired,
		ZeroPages:         e.ZeroPages,
		ReservePagedaemon: e.ReservePagedaemon,
		ReserveKernel:     e.ReserveKernel,
		FreeMin:           e.FreeMin,
		FreeTarg:          e.FreeTarg,
		WiredMax:          e.WiredMax,
		SwpgInUse:         e.SwpgInUse,
		CPUHit:            c[cpucount.CPUHit],
		CPUMiss:           c[cpucount.CPUMiss],
		Faults:            c[cpucount.NFault],
		Traps:             c[cpucount.NTrap],
		Intrs:             c[cpucount.NIntr],
		Swtch:             c[cpucount.NSwtch],
		Softs:             c[cpucount.NSoft],
		Syscalls:          c[cpucount.NSyscall],
		PageIns:           c[cpucount.PageIns],
		PgSwapIn:          c[cpucount.PgSwapIn],
		PgSwapOut:         c[cpucount.PgSwapOut],
		Forks:             c[cpucount.Forks],
		ForksPPWait:       c[cpucount.ForksPPWait],
		ForksShareVM:      c[cpucount.ForksShareVM],
		PgaZeroHit:        c[cpucount.PgaZeroHit],
		PgaZeroMiss:       c[cpucount.PgaZeroMiss],
		FltNoRAM:          c[cpucount.FltNoRAM],
		FltPgWait:         c[cpucount.FltPgWait],
		FltRelck:          c[cpucount.FltRelck],
		FltRelckOK:        c[cpucount.FltRelckOK],
		FltAnon:           c[cpucount.FltAnon],
		FltAcow:           c[cpucount.FltAcow],
		FltObj:            c[cpucount.FltObj],
		FltPrcopy:         c[cpucount.FltPrcopy],
		FltPrzero:         c[cpucount.FltPrzero],
		AnonPages:         e.AnonPages,
		FilePages:         e.FilePages,
		ExecPages:         e.ExecPages,
		ColorHit:          c[cpucount.ColorHit],
		ColorMiss:         c[cpucount.ColorMiss],
		NColors:           e.NColors,
		BootPages:         e.NPages,
		AnonUnknown:       c[cpucount.AnonUnknown],
		AnonClean:         c[cpucount.AnonClean],
		AnonDirty:         c[cpucount.AnonDirty],
		FileUnknown:       c[cpucount.FileUnknown],
		FileClean:         c[cpucount.FileClean],
		FileDirty:         c[cpucount.FileDirty],
		FltUp:             c[cpucount.FltUp],
		FltNoUp:           c[cpucount.FltNoUp],
	}
}

// MarshalBinary encodes u in its fixed little-endian layout.
func (u *Uvmexp2) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(binary.Size(u))
	if err := binary.Write(&buf, binary.LittleEndian, u); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes u from data. Trailing fields missing from a shorter
// record written by an older version are left zero.
func (u *Uvmexp2) UnmarshalBinary(data []byte) error {
	full := make([]byte, binary.Size(u))
	copy(full, data)
	return binary.Read(bytes.NewReader(full), binary.LittleEndian, u)
}

// VMTotal summarizes LWP states and memory usage.
type VMTotal struct {
	RQ     int64 `json:"t_rq"`     // runnable LWPs
	DW     int64 `json:"t_dw"`     // LWPs in uninterruptible sleep
	PW     int64 `json:"t_pw"`     // LWPs waiting for a page; not tracked
	SL     int64 `json:"t_sl"`     // interruptible sleepers under maxslp
	SW     int64 `json:"t_sw"`     // swapped out runnable LWPs; not tracked
	VM     int64 `json:"t_vm"`     // total virtual memory, pages
	AVM    int64 `json:"t_avm"`    // active virtual memory
	RM     int64 `json:"t_rm"`     // total real memory in use
	ARM    int64 `json:"t_arm"`    // active real memory
	VMShr  int64 `json:"t_vmshr"`  // shared virtual memory; not tracked
	AVMShr int64 `json:"t_avmshr"` // active shared virtual memory; not tracked
	RMShr  int64 `json:"t_rmshr"`  // shared real memory; not tracked
	ARMShr int64 `json:"t_armshr"` // active shared real memory; not tracked
	Free   int64 `json:"t_free"`   // free memory pages
}

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
	"fmt"
)

// Intent is a deferred pagedaemon queue operation recorded on a page.
type Intent uint8

// Intents. The values match the historic PQ_INTENT_* encoding.
const (
	IntentActivate   Intent = 0
	IntentDeactivate Intent = 1
	IntentEnqueue    Intent = 2
	IntentDequeue    Intent = 3
)

// String implements fmt.Stringer.
func (i Intent) String() string {
	switch i {
	case IntentActivate:
		return "A"
	case IntentDeactivate:
		return "I"
	case IntentEnqueue:
		return "E"
	case IntentDequeue:
		return "D"
	default:
		return fmt.Sprintf("Intent(%d)", uint8(i))
	}
}

// Historic pqflags layout, used by Pack and UnpackPQ.
const (
	pqIntentMask   = 0x0003
	pqIntentSet    = 0x0004
	pqIntentQueued = 0x0008
	pqPrivate      = 0xfff0
	pqPrivateShift = 4

	// MaxPrivate is the largest value PQState.Private can hold.
	MaxPrivate = pqPrivate >> pqPrivateShift
)

// PQState is the pagedaemon-private state of a page.
//
// Set means Intent is recorded but not yet realized. Queued means the page
// has been handed to a realization batch. Once realized, both are cleared;
// Intent keeps its last value but is meaningless while Set is false.
//
// Private is owned by the page replacement policy. The page core never
// interprets it.
//
// PQState is written with the owner lock and the page interlock held, or by
// the realizing thread with the page queue lock and the interlock held.
type PQState struct {
	Intent  Intent
	Set     bool
	Queued  bool
	Private uint16
}

// Pending returns true if an intent is recorded and not yet realized.
func (s PQState) Pending() bool {
	return s.Set
}

// Valid returns true if the state is a legal combination: an intent cannot
// be queued for realization without being set.
func (s PQState) Valid() bool {
	return s.Intent <= IntentDequeue && (s.Set || !s.Queued) && s.Private <= MaxPrivate
}

// Pack returns the historic pqflags encoding of s.
func (s PQState) Pack() uint32 {
	if !s.Valid() {
		panic(fmt.Sprintf("packing invalid pagedaemon state %+v", s))
	}
	v := uint32(s.Intent) & pqIntentMask
	if s.Set {
		v |= pqIntentSet
	}
	if s.Queued {
		v |= pqIntentQueued
	}
	v |= uint32(s.Private) << pqPrivateShift
	return v
}

// UnpackPQ decodes the historic pqflags encoding. Bits outside the 16-bit
// layout are rejected.
func UnpackPQ(v uint32) (PQState, error) {
	if v&^0xffff != 0 {
		return PQState{}, fmt.Errorf("pqflags %#x has bits outside the layout", v)
	}
	s := PQState{
		Intent:  Intent(v & pqIntentMask),
		Set:     v&pqIntentSet != 0,
		Queued:  v&pqIntentQueued != 0,
		Private: uint16((v & pqPrivate) >> pqPrivateShift),
	}
	if !s.Valid() {
		return PQState{}, fmt.Errorf("pqflags %#x queues an unset intent", v)
	}
	return s, nil
}

// String implements fmt.Stringer.
func (s PQState) String() string {
	st := "idle"
	switch {
	case s.Queued:
		st = "queued"
	case s.Set:
		st = "set"
	}
	return fmt.Sprintf("%v/%s/priv=%#x", s.Intent, st, s.Private)
}

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

package ilist

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type testElement struct {
	value int
	a     Entry[testElement]
	b     Entry[testElement]
}

type aMapper struct{}

func (aMapper) LinkerFor(e *testElement) *Entry[testElement] { return &e.a }

type bMapper struct{}

func (bMapper) LinkerFor(e *testElement) *Entry[testElement] { return &e.b }

func values[M Mapper[testElement]](l *List[testElement, M]) []int {
	var vs []int
	for e := l.Front(); e != nil; e = l.Next(e) {
		vs = append(vs, e.value)
	}
	return vs
}

func TestPushAndRemove(t *testing.T) {
	var l List[testElement, aMapper]
	es := make([]testElement, 5)
	for i := range es {
		es[i].value = i
		l.PushBack(&es[i])
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4}, values(&l)); diff != "" {
		t.Fatalf("after PushBack (-want +got):\n%s", diff)
	}

	l.Remove(&es[0])
	l.Remove(&es[2])
	l.Remove(&es[4])
	if diff := cmp.Diff([]int{1, 3}, values(&l)); diff != "" {
		t.Fatalf("after Remove (-want +got):\n%s", diff)
	}
	if l.Front() != &es[1] || l.Back() != &es[3] {
		t.Errorf("head/tail not updated")
	}

	l.PushFront(&es[0])
	l.InsertAfter(&es[1], &es[2])
	if diff := cmp.Diff([]int{0, 1, 2, 3}, values(&l)); diff != "" {
		t.Fatalf("after PushFront/InsertAfter (-want +got):\n%s", diff)
	}
	if got := l.Len(); got != 4 {
		t.Errorf("Len() = %d, want 4", got)
	}
}

func TestMultipleLists(t *testing.T) {
	var (
		la List[testElement, aMapper]
		lb List[testElement, bMapper]
	)
	es := make([]testElement, 3)
	for i := range es {
		es[i].value = i
		la.PushBack(&es[i])
		lb.PushFront(&es[i])
	}
	la.Remove(&es[1])
	if diff := cmp.Diff([]int{0, 2}, values(&la)); diff != "" {
		t.Errorf("list a (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2, 1, 0}, values(&lb)); diff != "" {
		t.Errorf("list b (-want +got):\n%s", diff)
	}
	if !lb.Contains(&es[1]) || la.Contains(&es[1]) {
		t.Errorf("Contains disagrees with membership")
	}
}

func TestPushBackList(t *testing.T) {
	var l, m List[testElement, aMapper]
	es := make([]testElement, 4)
	for i := range es {
		es[i].value = i
	}
	l.PushBack(&es[0])
	l.PushBack(&es[1])
	m.PushBack(&es[2])
	m.PushBack(&es[3])
	l.PushBackList(&m)
	if !m.Empty() {
		t.Errorf("source list not emptied")
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3}, values(&l)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

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

// Package ilist provides the implementation of intrusive linked lists.
//
// Elements carry their own Entry, so an element may sit on several lists at
// once by embedding one Entry per list and supplying a Mapper that selects
// the right one.
package ilist

// Mapper maps an element to the Entry linking it into one particular list.
//
// Mappers are expected to be zero-sized types, so the call inlines.
type Mapper[T any] interface {
	LinkerFor(elem *T) *Entry[T]
}

// List is an intrusive list. Entries can be added to or removed from the list
// in O(1) time and with no additional memory allocations.
//
// The zero value for List is an empty list ready to use.
//
// To iterate over a list (where l is a List):
//
//	for e := l.Front(); e != nil; e = l.Next(e) {
//		// do something with e.
//	}
type List[T any, M Mapper[T]] struct {
	head *T
	tail *T
}

func (*List[T, M]) linkerFor(e *T) *Entry[T] {
	var m M
	return m.LinkerFor(e)
}

// Reset resets list l to the empty state.
func (l *List[T, M]) Reset() {
	l.head = nil
	l.tail = nil
}

// Empty returns true iff the list is empty.
func (l *List[T, M]) Empty() bool {
	return l.head == nil
}

// Front returns the first element of list l or nil.
func (l *List[T, M]) Front() *T {
	return l.head
}

// Back returns the last element of list l or nil.
func (l *List[T, M]) Back() *T {
	return l.tail
}

// Next returns the element following e, or nil.
func (l *List[T, M]) Next(e *T) *T {
	return l.linkerFor(e).next
}

// Prev returns the element preceding e, or nil.
func (l *List[T, M]) Prev(e *T) *T {
	return l.linkerFor(e).prev
}

// Len returns the number of elements in the list.
//
// NOTE: This is an O(n) operation.
func (l *List[T, M]) Len() (count int) {
	for e := l.Front(); e != nil; e = l.Next(e) {
		count++
	}
	return count
}

// Contains returns true iff e is linked into l.
//
// NOTE: This is an O(n) operation.
func (l *List[T, M]) Contains(e *T) bool {
	for it := l.Front(); it != nil; it = l.Next(it) {
		if it == e {
			return true
		}
	}
	return false
}

// PushFront inserts the element e at the front of list l.
func (l *List[T, M]) PushFront(e *T) {
	linker := l.linkerFor(e)
	linker.next = l.head
	linker.prev = nil
	if l.head != nil {
		l.linkerFor(l.head).prev = e
	} else {
		l.tail = e
	}

	l.head = e
}

// PushBack inserts the element e at the back of list l.
func (l *List[T, M]) PushBack(e *T) {
	linker := l.linkerFor(e)
	linker.next = nil
	linker.prev = l.tail
	if l.tail != nil {
		l.linkerFor(l.tail).next = e
	} else {
		l.head = e
	}

	l.tail = e
}

// PushBackList inserts list m at the end of list l, emptying m.
func (l *List[T, M]) PushBackList(m *List[T, M]) {
	if l.head == nil {
		l.head = m.head
		l.tail = m.tail
	} else if m.head != nil {
		l.linkerFor(l.tail).next = m.head
		l.linkerFor(m.head).prev = l.tail

		l.tail = m.tail
	}
	m.head = nil
	m.tail = nil
}

// InsertAfter inserts e after b.
func (l *List[T, M]) InsertAfter(b, e *T) {
	bLinker := l.linkerFor(b)
	eLinker := l.linkerFor(e)

	a := bLinker.next

	eLinker.next = a
	eLinker.prev = b
	bLinker.next = e

	if a != nil {
		l.linkerFor(a).prev = e
	} else {
		l.tail = e
	}
}

// Remove removes e from l.
func (l *List[T, M]) Remove(e *T) {
	linker := l.linkerFor(e)
	prev := linker.prev
	next := linker.next

	if prev != nil {
		l.linkerFor(prev).next = next
	} else if l.head == e {
		l.head = next
	}

	if next != nil {
		l.linkerFor(next).prev = prev
	} else if l.tail == e {
		l.tail = prev
	}

	linker.next = nil
	linker.prev = nil
}

// Entry links an element into a List. Users embed one Entry per list the
// element may be a member of.
type Entry[T any] struct {
	next *T
	prev *T
}

// Linked returns true if the entry has a neighbour. A sole member of a list
// has none, so membership of single-element lists must be checked against
// the list itself.
func (e *Entry[T]) Linked() bool {
	return e.next != nil || e.prev != nil
}

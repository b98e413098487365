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


// Package sysctl exposes VM metering through a named, hierarchical node tree
// in the style of the BSD sysctl(3) interface.
package sysctl

import (
	"encoding"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"gvisor.dev/uvm/pkg/errors"
	"gvisor.dev/uvm/pkg/meter"
)

// Errors returned by the tree.
var (
	ErrNotFound = errors.New(unix.ENOENT, "no such sysctl node")
	ErrInvalid  = errors.New(unix.EINVAL, "invalid sysctl value")
	ErrReadOnly = errors.New(unix.EPERM, "sysctl node is read-only")
	ErrNotLeaf  = errors.New(unix.EISDIR, "sysctl node has children")
)

// Kind is the type of a node's value.
type Kind int

// Node kinds.
const (
	KindNode Kind = iota
	KindInt
	KindStruct
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindInt:
		return "int"
	case KindStruct:
		return "struct"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Node is one entry in the tree.
type Node struct {
	Name string
	Desc string
	Kind Kind

	children map[string]*Node
	read     func() (any, error)
	write    func(v int64) error
}

// Writable reports whether the node accepts Set.
func (n *Node) Writable() bool {
	return n.write != nil
}

// Children returns the node's children in name order.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (n *Node) add(c *Node) *Node {
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	if _, ok := n.children[c.Name]; ok {
		panic(fmt.Sprintf("duplicate sysctl node %s.%s", n.Name, c.Name))
	}
	n.children[c.Name] = c
	return c
}

// Tree is a sysctl tree.
type Tree struct {
	root Node
}

// New returns the tree for mt.
func New(mt *meter.Meter) *Tree {
	t := &Tree{}
	vm := t.root.add(&Node{Name: "vm", Desc: "Virtual memory", Kind: KindNode})

	vm.add(&Node{
		Name: "vmmeter",
		Desc: "Simple system-wide virtual memory statistics",
		Kind: KindStruct,
		read: func() (any, error) { return mt.Total(), nil },
	})
	vm.add(&Node{
		Name: "uvmexp",
		Desc: "Detailed system-wide virtual memory statistics",
		Kind: KindStruct,
		read: func() (any, error) { return mt.UpdateUvmexp(), nil },
	})
	vm.add(&Node{
		Name: "uvmexp2",
		Desc: "Detailed system-wide virtual memory statistics (MI)",
		Kind: KindStruct,
		read: func() (any, error) {
			e := mt.UpdateUvmexp()
			return e.Uvmexp2(), nil
		},
	})
	vm.add(&Node{
		Name: "loadavg",
		Desc: "System load average history",
		Kind: KindStruct,
		read: func() (any, error) { return mt.LoadAvg(), nil },
	})
	vm.add(&Node{
		Name: "maxslp",
		Desc: "Maximum process sleep time before being swapped",
		Kind: KindInt,
		read: func() (any, error) { return int64(mt.Tunables().MaxSlp), nil },
	})
	vm.add(&Node{
		Name: "uspace",
		Desc: "Number of bytes allocated for a kernel stack",
		Kind: KindInt,
		read: func() (any, error) { return int64(meter.USpace), nil },
	})

	for _, p := range []struct {
		name, desc string
		field      func(*meter.Tunables) *int
	}{
		{"anonmin", "Percentage of physical memory reserved for anonymous application data", func(t *meter.Tunables) *int { return &t.AnonMin }},
		{"filemin", "Percentage of physical memory reserved for cached file data", func(t *meter.Tunables) *int { return &t.FileMin }},
		{"execmin", "Percentage of physical memory reserved for cached executable data", func(t *meter.Tunables) *int { return &t.ExecMin }},
		{"anonmax", "Percentage of physical memory which will be reclaimed from other usage for anonymous application data", func(t *meter.Tunables) *int { return &t.AnonMax }},
		{"filemax", "Percentage of physical memory which will be reclaimed from other usage for cached file data", func(t *meter.Tunables) *int { return &t.FileMax }},
		{"execmax", "Percentage of physical memory which will be reclaimed from other usage for cached executable data", func(t *meter.Tunables) *int { return &t.ExecMax }},
	} {
		field := p.field
		vm.add(&Node{
			Name: p.name,
			Desc: p.desc,
			Kind: KindInt,
			read: func() (any, error) {
				tun := mt.Tunables()
				return int64(*field(&tun)), nil
			},
			write: func(v int64) error {
				if v < 0 || v > 100 {
					return fmt.Errorf("%d not in [0, 100]: %w", v, ErrInvalid)
				}
				tun := mt.Tunables()
				*field(&tun) = int(v)
				if err := mt.SetTunables(tun); err != nil {
					return fmt.Errorf("%v: %w", err, ErrInvalid)
				}
				return nil
			},
		})
	}
	return t
}

// Lookup returns the node with the given dotted name.
func (t *Tree) Lookup(name string) (*Node, error) {
	n := &t.root
	for _, part := range strings.Split(name, ".") {
		c, ok := n.children[part]
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		n = c
	}
	return n, nil
}

// Get returns the value of a leaf node: an int64 for KindInt nodes and a
// record for KindStruct nodes.
func (t *Tree) Get(name string) (any, error) {
	n, err := t.Lookup(name)
	if err != nil {
		return nil, err
	}
	if n.read == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNotLeaf)
	}
	return n.read()
}

// GetInt returns the value of a KindInt node.
func (t *Tree) GetInt(name string) (int64, error) {
	v, err := t.Get(name)
	if err != nil {
		return 0, err
	}
	i, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("%s is not an integer: %w", name, ErrInvalid)
	}
	return i, nil
}

// Set sets the value of a writable KindInt node.
func (t *Tree) Set(name string, v int64) error {
	n, err := t.Lookup(name)
	if err != nil {
		return err
	}
	if n.read == nil {
		return fmt.Errorf("%s: %w", name, ErrNotLeaf)
	}
	if n.write == nil {
		return fmt.Errorf("%s: %w", name, ErrReadOnly)
	}
	if err := n.write(v); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// SetString parses s as a decimal integer and sets the node.
func (t *Tree) SetString(name, s string) error {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("%s=%q: %w", name, s, ErrInvalid)
	}
	return t.Set(name, v)
}

// Walk calls fn for every node below the named one, depth first in name
// order. An empty name walks the whole tree.
func (t *Tree) Walk(name string, fn func(name string, n *Node) error) error {
	start := &t.root
	if name != "" {
		var err error
		if start, err = t.Lookup(name); err != nil {
			return err
		}
	}
	return walk(name, start, fn)
}

func walk(name string, n *Node, fn func(string, *Node) error) error {
	if name != "" {
		if err := fn(name, n); err != nil {
			return err
		}
	}
	for _, c := range n.Children() {
		full := c.Name
		if name != "" {
			full = name + "." + c.Name
		}
		if err := walk(full, c, fn); err != nil {
			return err
		}
	}
	return nil
}

// Format renders a value returned by Get: integers in decimal, records as
// JSON, or in their binary layout when binary is set and the record has one.
func Format(v any, binary bool) ([]byte, error) {
	switch v := v.(type) {
	case int64:
		return []byte(strconv.FormatInt(v, 10)), nil
	}
	if binary {
		if bm, ok := addressable(v).(encoding.BinaryMarshaler); ok {
			return bm.MarshalBinary()
		}
	}
	return json.Marshal(v)
}

// addressable returns a pointer to v's records so pointer-receiver methods
// are found.
func addressable(v any) any {
	switch v := v.(type) {
	case meter.Uvmexp2:
		return &v
	}
	return v
}

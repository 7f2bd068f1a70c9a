// Copyright 2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hyperpool

import (
	"iter"
)

const (
	poolStoreCap = 20
	fillFactor   = 0.75
	expandFactor = 2
)

// Registry tracks a set of open pools in a growable slot table.
//
// A pool's slot is cleared when it closes; slots are never reused and the
// table never shrinks, so a slot index identifies one pool for the
// registry's whole lifetime. Most programs use the package-level registry
// behind [Init]; constructing a Registry directly is the explicit
// alternative.
type Registry struct {
	slots []*Pool
	open  int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make([]*Pool, 0, poolStoreCap)}
}

// Open creates a pool with a library-allocated backing buffer of size bytes
// and registers it.
func (r *Registry) Open(size int, policy Policy) (*Pool, error) {
	if r == nil {
		return nil, errAt("open", errCodeNotInitialized)
	}
	if size <= 0 {
		return nil, errAt("open", errCodeOutOfMemory)
	}
	return r.attach(newPool(make([]byte, size), true, policy)), nil
}

// OpenIn creates a pool that carves the caller-supplied buffer instead of
// allocating one. Closing the pool detaches from the buffer without
// releasing it.
func (r *Registry) OpenIn(buf []byte, policy Policy) (*Pool, error) {
	if r == nil {
		return nil, errAt("open", errCodeNotInitialized)
	}
	if len(buf) == 0 {
		return nil, errAt("open", errCodeOutOfMemory)
	}
	return r.attach(newPool(buf, false, policy)), nil
}

// attach appends p to the slot table.
func (r *Registry) attach(p *Pool) *Pool {
	if float64(len(r.slots)+1)/float64(cap(r.slots)) > fillFactor {
		grown := make([]*Pool, len(r.slots), cap(r.slots)*expandFactor)
		copy(grown, r.slots)
		r.slots = grown
	}

	p.reg, p.slot = r, len(r.slots)
	r.slots = append(r.slots, p)
	r.open++
	return p
}

// drop clears the slot of a closing pool.
func (r *Registry) drop(slot int) {
	r.slots[slot] = nil
	r.open--
}

// NumOpen returns the number of open pools.
func (r *Registry) NumOpen() int { return r.open }

// Pools ranges over the open pools in insertion order.
func (r *Registry) Pools() iter.Seq[*Pool] {
	return func(yield func(*Pool) bool) {
		for _, p := range r.slots {
			if p != nil && !yield(p) {
				return
			}
		}
	}
}

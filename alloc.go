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
	"fmt"

	"buf.build/go/hyperpool/internal/segment"
	"buf.build/go/hyperpool/internal/zc"
)

// Alloc is a handle to one live allocation of a [Pool].
//
// The handle borrows from the pool: it is valid from the [Pool.Alloc] that
// produced it until the matching [Pool.Free] (or the pool's close). Freeing
// it again fails with [ErrBadHandle], or with [ErrBadPool] once the pool is
// closed; the handle records where the allocation lived, so a handle whose
// segment slot has since been recycled is still rejected.
//
// The zero Alloc is invalid.
type Alloc struct {
	pool *Pool
	ref  segment.Ref
	r    zc.Range
}

// newAlloc builds the handle for a busy segment.
func newAlloc(p *Pool, ref segment.Ref, off, size int) Alloc {
	return Alloc{pool: p, ref: ref, r: zc.NewRaw(off, size)}
}

// Offset returns the allocation's byte offset within its pool.
func (a Alloc) Offset() int { return a.r.Start() }

// Size returns the allocation's size in bytes.
func (a Alloc) Size() int { return a.r.Len() }

// Bytes returns the allocation's bytes: a sub-slice of the pool's backing
// buffer, valid until the allocation is freed.
//
// Returns nil if the handle is no longer valid.
func (a Alloc) Bytes() []byte {
	if a.pool == nil || a.pool.closed {
		return nil
	}
	if _, ok := a.pool.resolve(a); !ok {
		return nil
	}
	return a.r.Bytes(a.pool.backing)
}

// Format implements [fmt.Formatter].
func (a Alloc) Format(s fmt.State, verb rune) {
	fmt.Fprintf(s, fmt.FormatString(s, verb), a.r)
}

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

// Package segment implements the segment records of a memory pool: an
// index-addressed, growable arena of records threaded into a doubly-linked
// list ordered by offset.
//
// Records are referred to by [Ref], an index into the arena, never by
// pointer. The arena's backing table is reallocated when it grows, so a
// pointer obtained from [Arena.Get] is only valid until the next call that
// may allocate a slot.
package segment

import (
	"fmt"

	"buf.build/go/hyperpool/internal/debug"
)

// State is the occupancy state of a live segment.
type State uint8

const (
	// Free marks a segment that is available for allocation (a gap).
	Free State = iota
	// Busy marks a segment that is currently allocated.
	Busy
)

// String implements [fmt.Stringer].
func (s State) String() string {
	if s == Busy {
		return "busy"
	}
	return "free"
}

// Ref is a reference to a segment record: a 1-based index into its arena.
//
// The zero Ref is Nil. Refs remain valid across arena growth, which is the
// reason they exist at all; see the package documentation.
type Ref int32

// Nil is the null segment reference.
const Nil Ref = 0

// Format implements [fmt.Formatter].
func (r Ref) Format(s fmt.State, verb rune) {
	if r == Nil {
		debug.Fprintf("s<nil>").Format(s, verb)
		return
	}
	debug.Fprintf("s%d", int32(r)).Format(s, verb)
}

// Record is one segment: a contiguous byte range of the pool's backing
// buffer, either free or busy.
//
// A record is live while it is part of the segment list. Dead records are
// threaded into the arena's free list through next.
type Record struct {
	off, size  int
	state      State
	live       bool
	prev, next Ref
}

// Off returns the byte offset of this segment in the backing buffer.
func (s *Record) Off() int { return s.off }

// Size returns the size of this segment in bytes.
func (s *Record) Size() int { return s.size }

// End returns the offset one past the last byte of this segment.
func (s *Record) End() int { return s.off + s.size }

// State returns whether this segment is free or busy.
func (s *Record) State() State { return s.state }

// MarkFree flips a busy segment back to free.
func (s *Record) MarkFree() {
	debug.Assert(s.live && s.state == Busy, "mark-free of a non-allocation")
	s.state = Free
}

// Live reports whether this record is part of the segment list.
func (s *Record) Live() bool { return s.live }

// Prev returns the segment immediately before this one, or Nil.
func (s *Record) Prev() Ref { return s.prev }

// Next returns the segment immediately after this one, or Nil.
func (s *Record) Next() Ref { return s.next }

// Arena is a growable table of segment records with an intrusive free list.
//
// Slot reuse keeps steady-state allocate/deallocate traffic away from the
// Go heap: a record slot is recycled in O(1) and the table only grows.
type Arena struct {
	// Slot 0 is reserved so that the zero Ref is Nil.
	slots []Record
	used  int
	free  Ref // Head of the free list, threaded through next.
}

const (
	fillFactor   = 0.75
	expandFactor = 2
)

// NewArena returns an arena with the given initial slot capacity.
func NewArena(capacity int) *Arena {
	debug.Assert(capacity > 0, "non-positive arena capacity %d", capacity)
	return &Arena{slots: make([]Record, 1, capacity+1)}
}

// Len returns the number of live records.
func (a *Arena) Len() int { return a.used }

// Cap returns the arena's current slot capacity.
func (a *Arena) Cap() int { return cap(a.slots) - 1 }

// Get returns the record for ref.
//
// The returned pointer is invalidated by the next call to [Arena.New].
func (a *Arena) Get(ref Ref) *Record {
	debug.Assert(ref != Nil && int(ref) < len(a.slots), "bad ref %v", ref)
	return &a.slots[ref]
}

// Lookup returns the record for ref, or false if ref does not name a slot
// of this arena. Unlike [Arena.Get], it never panics; it exists to validate
// caller-supplied references.
func (a *Arena) Lookup(ref Ref) (*Record, bool) {
	if ref <= Nil || int(ref) >= len(a.slots) {
		return nil, false
	}
	return &a.slots[ref], true
}

// Reserve grows the arena if its fill exceeds the fill factor, so that a
// subsequent [Arena.New] cannot exhaust it.
func (a *Arena) Reserve() {
	if float64(a.used+1)/float64(a.Cap()) <= fillFactor {
		return
	}

	grown := make([]Record, len(a.slots), (cap(a.slots)-1)*expandFactor+1)
	copy(grown, a.slots)
	a.slots = grown
	a.log("grow", "%d/%d", a.used, a.Cap())
}

// New allocates a record slot and initializes it as unlinked.
func (a *Arena) New(off, size int, state State) Ref {
	var ref Ref
	if a.free != Nil {
		ref = a.free
		a.free = a.slots[ref].next
	} else {
		a.slots = append(a.slots, Record{})
		ref = Ref(len(a.slots) - 1)
	}

	a.slots[ref] = Record{off: off, size: size, state: state, live: true}
	a.used++
	a.log("new", "%v, [%d:%d] %v", ref, off, off+size, state)
	return ref
}

// Release returns a record slot to the free list.
//
// The record must already be unlinked from the segment list.
func (a *Arena) Release(ref Ref) {
	s := a.Get(ref)
	debug.Assert(s.live, "double release of %v", ref)

	*s = Record{next: a.free}
	a.free = ref
	a.used--
	a.log("release", "%v", ref)
}

func (a *Arena) log(op, format string, args ...any) {
	debug.Log([]any{"%p", a}, op, format, args...)
}

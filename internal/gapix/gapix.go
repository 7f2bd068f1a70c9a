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

// Package gapix implements the gap index: a sorted array of references to a
// pool's free segments, keyed by (size ascending, offset ascending).
//
// The index is deliberately an array rather than a tree. The number of live
// gaps is tiny for realistic workloads, and at that scale a contiguous
// array with one bubble step per insert beats any pointer structure.
package gapix

import (
	"fmt"

	"buf.build/go/hyperpool/internal/debug"
	"buf.build/go/hyperpool/internal/segment"
)

// Entry is one gap: the size of a free segment and a reference to it.
//
// The offset is recorded alongside the ref so that ordering comparisons
// need no arena lookup; a free segment's offset cannot change while it is
// in the index.
type Entry struct {
	Size int
	Off  int
	Ref  segment.Ref
}

// less orders entries by size, breaking ties by offset so that best-fit is
// deterministic across runs.
func (e Entry) less(other Entry) bool {
	if e.Size != other.Size {
		return e.Size < other.Size
	}
	return e.Off < other.Off
}

// Format implements [fmt.Formatter].
func (e Entry) Format(s fmt.State, verb rune) {
	debug.Fprintf("%v(%d@%d)", e.Ref, e.Size, e.Off).Format(s, verb)
}

// Index is the sorted gap array. It must be constructed with [New].
type Index struct {
	entries []Entry
}

const (
	fillFactor   = 0.75
	expandFactor = 2
)

// New returns an index with the given initial capacity.
func New(capacity int) *Index {
	debug.Assert(capacity > 0, "non-positive gap index capacity %d", capacity)
	return &Index{entries: make([]Entry, 0, capacity)}
}

// Len returns the number of gaps in the index.
func (ix *Index) Len() int { return len(ix.entries) }

// Cap returns the index's current capacity.
func (ix *Index) Cap() int { return cap(ix.entries) }

// At returns the i-th smallest gap.
func (ix *Index) At(i int) Entry { return ix.entries[i] }

// Insert adds an entry, keeping the index sorted.
//
// The entry is appended and then bubbled toward the front while it compares
// less than its predecessor. Since the rest of the array is already sorted,
// one bubble pass restores the invariant.
func (ix *Index) Insert(e Entry) {
	if float64(len(ix.entries)+1)/float64(cap(ix.entries)) > fillFactor {
		grown := make([]Entry, len(ix.entries), cap(ix.entries)*expandFactor)
		copy(grown, ix.entries)
		ix.entries = grown
		ix.log("grow", "%d/%d", len(ix.entries), cap(ix.entries))
	}

	ix.entries = append(ix.entries, e)
	for i := len(ix.entries) - 1; i > 0; i-- {
		if !ix.entries[i].less(ix.entries[i-1]) {
			break
		}
		ix.entries[i], ix.entries[i-1] = ix.entries[i-1], ix.entries[i]
	}
	ix.log("insert", "%v, %d gaps", e, len(ix.entries))
}

// Remove deletes the entry for ref. Returns false if ref is not present.
//
// Later entries shift left by one, which preserves the relative order of
// the survivors; the vacated tail slot is cleared.
func (ix *Index) Remove(ref segment.Ref) bool {
	for i, e := range ix.entries {
		if e.Ref != ref {
			continue
		}

		copy(ix.entries[i:], ix.entries[i+1:])
		ix.entries[len(ix.entries)-1] = Entry{}
		ix.entries = ix.entries[:len(ix.entries)-1]
		ix.log("remove", "%v, %d gaps", e, len(ix.entries))
		return true
	}
	return false
}

// FindFit returns the smallest gap of at least the given size.
//
// Because the array is sorted ascending, the first sufficient entry is the
// best fit, with ties already broken by lowest offset.
func (ix *Index) FindFit(size int) (Entry, bool) {
	for _, e := range ix.entries {
		if e.Size >= size {
			return e, true
		}
	}
	return Entry{}, false
}

func (ix *Index) log(op, format string, args ...any) {
	debug.Log([]any{"%p", ix}, op, format, args...)
}

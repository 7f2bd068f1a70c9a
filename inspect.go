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
	"buf.build/go/hyperpool/internal/segment"
)

// Segment is one entry of an [Pool.Inspect] snapshot.
type Segment struct {
	// Size of the segment in bytes.
	Size int
	// Busy is true for an allocation, false for a gap.
	Busy bool
}

// Stats is a point-in-time summary of a pool, plus lifetime allocation size
// statistics.
type Stats struct {
	// Size is the pool's total backing size in bytes.
	Size int
	// NumAllocs and NumGaps count the pool's live segments by state.
	NumAllocs, NumGaps int
	// AllocatedBytes is the sum of all live allocations' sizes.
	AllocatedBytes int
	// LargestGap is the size of the largest free segment, or 0.
	LargestGap int
	// MeanAllocSize summarizes the sizes of every allocation ever made from
	// this pool, freed or not; MedianAllocSize covers only the most recent
	// 256 allocations.
	MeanAllocSize, MedianAllocSize float64
}

// Inspect returns a snapshot of the pool's segments in address order.
//
// The snapshot is computed without touching the pool: it is a pure read,
// valid until the next mutating call. Appends to dst and returns it, so
// steady-state callers can reuse one buffer.
func (p *Pool) Inspect(dst []Segment) ([]Segment, error) {
	if p == nil || p.closed {
		return dst, errAt("inspect", errCodeBadPool)
	}

	for ref := range p.list.All(&p.arena) {
		s := p.arena.Get(ref)
		dst = append(dst, Segment{Size: s.Size(), Busy: s.State() == segment.Busy})
	}
	return dst, nil
}

// Stats returns a summary of the pool's current occupancy.
func (p *Pool) Stats() (Stats, error) {
	if p == nil || p.closed {
		return Stats{}, errAt("stats", errCodeBadPool)
	}

	st := Stats{
		Size:            len(p.backing),
		NumAllocs:       p.numAllocs,
		NumGaps:         p.numGaps,
		AllocatedBytes:  p.allocSize,
		MeanAllocSize:   p.allocMean.Get(),
		MedianAllocSize: p.allocMedian.Get(),
	}
	if n := p.gaps.Len(); n > 0 {
		// The index is sorted by size; the largest gap is the last entry.
		st.LargestGap = p.gaps.At(n - 1).Size
	}
	return st, nil
}

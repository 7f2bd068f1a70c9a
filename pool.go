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

	"github.com/google/uuid"

	"buf.build/go/hyperpool/internal/debug"
	"buf.build/go/hyperpool/internal/gapix"
	"buf.build/go/hyperpool/internal/segment"
	"buf.build/go/hyperpool/internal/stats"
)

// Compiled-in sizing. These match the original engine's tuning; there are no
// runtime knobs.
const (
	arenaCap    = 40
	gapIndexCap = 40
)

// Pool is a single memory pool: one backing buffer carved into variable-size
// allocations by a placement policy.
//
// A Pool is not safe for concurrent use; callers that share one across
// goroutines must serialize access themselves. Distinct pools are fully
// independent.
type Pool struct {
	id      uuid.UUID
	backing []byte
	owned   bool // Release the backing at close, vs. detach from it.
	policy  Policy

	arena segment.Arena
	list  segment.List
	gaps  *gapix.Index

	numAllocs int
	numGaps   int
	allocSize int

	reg  *Registry
	slot int

	// Lifetime instrumentation; see [Pool.Stats].
	allocMean   stats.Mean
	allocMedian *stats.Median

	closed bool
}

// newPool initializes a pool over the given backing buffer.
//
// Sub-structures are staged locally and committed to the Pool all at once,
// so a failure part-way leaves nothing to roll back beyond garbage.
func newPool(backing []byte, owned bool, policy Policy) *Pool {
	p := &Pool{
		id:          uuid.New(),
		backing:     backing,
		owned:       owned,
		policy:      policy,
		gaps:        gapix.New(gapIndexCap),
		numGaps:     1,
		allocMedian: stats.NewMedian(256),
	}

	p.arena = *segment.NewArena(arenaCap)
	p.list.Init(&p.arena, len(backing))

	head := p.list.Head()
	p.gaps.Insert(gapix.Entry{Size: len(backing), Off: 0, Ref: head})

	p.log("open", "%d bytes, %v", len(backing), policy)
	return p
}

// Size returns the total size of the pool's backing buffer in bytes.
func (p *Pool) Size() int { return len(p.backing) }

// Policy returns the pool's placement policy.
func (p *Pool) Policy() Policy { return p.policy }

// NumAllocs returns the number of live allocations.
func (p *Pool) NumAllocs() int { return p.numAllocs }

// NumGaps returns the number of free segments.
func (p *Pool) NumGaps() int { return p.numGaps }

// AllocatedBytes returns the sum of the sizes of all live allocations.
func (p *Pool) AllocatedBytes() int { return p.allocSize }

// Closed reports whether the pool has been closed.
func (p *Pool) Closed() bool { return p.closed }

// Alloc carves an allocation of n bytes out of the pool.
//
// Fails with [ErrNoGap] when the pool has no free segments at all, and with
// [ErrNoFit] when none of its gaps is large enough. A failed allocation
// leaves the pool exactly as it was.
func (p *Pool) Alloc(n int) (Alloc, error) {
	if p == nil || p.closed {
		return Alloc{}, errAt("alloc", errCodeBadPool)
	}
	if n <= 0 {
		debug.Assert(false, "alloc of %d bytes", n)
		return Alloc{}, errAt("alloc", errCodeNoFit)
	}
	if p.numGaps == 0 {
		return Alloc{}, errAt("alloc", errCodeNoGap)
	}

	// Grow the arena ahead of the split so that nothing after the gap is
	// chosen can fail.
	p.arena.Reserve()

	ref := p.findFit(n)
	if ref == segment.Nil {
		return Alloc{}, errAt("alloc", errCodeNoFit)
	}

	p.gaps.Remove(ref)
	p.numGaps--

	rem := p.list.Split(&p.arena, ref, n)
	if rem != segment.Nil {
		r := p.arena.Get(rem)
		p.gaps.Insert(gapix.Entry{Size: r.Size(), Off: r.Off(), Ref: rem})
		p.numGaps++
	}

	s := p.arena.Get(ref)
	p.numAllocs++
	p.allocSize += n
	p.allocMean.Record(float64(n))
	p.allocMedian.Record(float64(n))

	p.log("alloc", "%v, [%d:%d], %v", ref, s.Off(), s.End(), p.list.Dump(&p.arena))
	p.check()
	return newAlloc(p, ref, s.Off(), n), nil
}

// findFit picks the gap to allocate from, or Nil if none is sufficient.
func (p *Pool) findFit(n int) segment.Ref {
	if p.policy == FirstFit {
		// Lowest address wins: walk the list, not the index.
		for ref := range p.list.All(&p.arena) {
			s := p.arena.Get(ref)
			if s.State() == segment.Free && s.Size() >= n {
				return ref
			}
		}
		return segment.Nil
	}

	e, ok := p.gaps.FindFit(n)
	if !ok {
		return segment.Nil
	}
	return e.Ref
}

// Free returns an allocation to the pool, eagerly coalescing it with any
// free neighbor.
//
// Fails with [ErrBadHandle] if a does not refer to a live allocation of
// this pool, including an allocation that was already freed.
func (p *Pool) Free(a Alloc) error {
	if p == nil || p.closed {
		return errAt("free", errCodeBadPool)
	}

	ref, ok := p.resolve(a)
	if !ok {
		return errAt("free", errCodeBadHandle)
	}

	s := p.arena.Get(ref)
	size := s.Size()
	s.MarkFree()
	p.numAllocs--
	p.allocSize -= size

	// Coalesce with the next neighbor first, then the previous one; this
	// order keeps the gap index consistent with the list at every step.
	if next := s.Next(); next != segment.Nil && p.arena.Get(next).State() == segment.Free {
		p.gaps.Remove(next)
		p.numGaps--
		p.list.MergeNext(&p.arena, ref)
	}
	if prev := p.arena.Get(ref).Prev(); prev != segment.Nil && p.arena.Get(prev).State() == segment.Free {
		p.gaps.Remove(prev)
		p.numGaps--
		ref = p.list.MergePrev(&p.arena, ref)
	}

	g := p.arena.Get(ref)
	p.gaps.Insert(gapix.Entry{Size: g.Size(), Off: g.Off(), Ref: ref})
	p.numGaps++

	p.log("free", "%v, %d bytes, %v", ref, size, p.list.Dump(&p.arena))
	p.check()
	return nil
}

// resolve maps a handle to its segment, verifying that it still names a live
// allocation of this pool. Stale handles whose slot has since been recycled
// fail the offset/size comparison.
func (p *Pool) resolve(a Alloc) (segment.Ref, bool) {
	if a.pool != p {
		return segment.Nil, false
	}
	s, ok := p.arena.Lookup(a.ref)
	if !ok || !s.Live() || s.State() != segment.Busy {
		return segment.Nil, false
	}
	if s.Off() != a.r.Start() || s.Size() != a.r.Len() {
		return segment.Nil, false
	}
	return a.ref, true
}

// Close releases the pool.
//
// A pool may only be closed once every allocation has been freed; otherwise
// Close fails with [ErrNotEmpty] and changes nothing. Closing releases the
// backing buffer (or detaches from it, if it was caller-supplied) and clears
// the pool's registry slot.
func (p *Pool) Close() error {
	if p == nil || p.closed {
		return errAt("close", errCodeBadPool)
	}
	if p.numAllocs != 0 || p.numGaps != 1 {
		return errAt("close", errCodeNotEmpty)
	}

	p.log("close", "%d bytes, owned=%v", len(p.backing), p.owned)
	if p.owned {
		// Scrub our own buffer on release; caller-supplied buffers are
		// handed back as-is.
		clear(p.backing)
	}
	p.backing = nil
	p.gaps = nil
	p.arena = segment.Arena{}
	p.closed = true

	if p.reg != nil {
		p.reg.drop(p.slot)
		p.reg = nil
	}
	return nil
}

// log emits a trace line tagged with the pool's identity.
func (p *Pool) log(op, format string, args ...any) {
	debug.Log([]any{"pool %s", p.id}, op, format, args...)
}

// check validates the engine's invariants. Debug builds only.
func (p *Pool) check() {
	if !debug.Enabled {
		return
	}

	// The live segments partition [0, size) and never leave two adjacent
	// gaps; the gap index mirrors the list's free set exactly.
	off, gaps, allocs, bytes := 0, 0, 0, 0
	prevFree := false
	for ref := range p.list.All(&p.arena) {
		s := p.arena.Get(ref)
		debug.Assert(s.Off() == off, "list not contiguous at %v: %d != %d", ref, s.Off(), off)
		off = s.End()

		free := s.State() == segment.Free
		debug.Assert(!free || !prevFree, "adjacent gaps at %v", ref)
		prevFree = free

		if free {
			gaps++
		} else {
			allocs++
			bytes += s.Size()
		}
	}

	debug.Assert(off == len(p.backing), "list covers %d of %d bytes", off, len(p.backing))
	debug.Assert(gaps == p.numGaps, "gap count skew: %d != %d", gaps, p.numGaps)
	debug.Assert(allocs == p.numAllocs, "alloc count skew: %d != %d", allocs, p.numAllocs)
	debug.Assert(bytes == p.allocSize, "alloc size skew: %d != %d", bytes, p.allocSize)
	debug.Assert(p.gaps.Len() == gaps, "index size skew: %d != %d", p.gaps.Len(), gaps)
	for i := range p.gaps.Len() {
		e := p.gaps.At(i)
		s := p.arena.Get(e.Ref)
		debug.Assert(s.Live() && s.State() == segment.Free, "index entry %v is not a gap", e)
		debug.Assert(s.Size() == e.Size && s.Off() == e.Off, "index entry %v is stale", e)
		if i > 0 {
			prev := p.gaps.At(i - 1)
			inOrder := prev.Size < e.Size || (prev.Size == e.Size && prev.Off < e.Off)
			debug.Assert(inOrder, "index out of order at %d: %v, %v", i, prev, e)
		}
	}
}

// String implements [fmt.Stringer], rendering the segment list in address
// order, e.g. [busy:30 free:70].
func (p *Pool) String() string {
	if p.closed {
		return "[closed]"
	}
	return fmt.Sprint(p.list.Dump(&p.arena))
}

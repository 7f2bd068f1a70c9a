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

package segment

import (
	"fmt"
	"iter"
	"strings"

	"buf.build/go/hyperpool/internal/debug"
)

// List is the address-ordered doubly-linked list of a pool's segments.
//
// Links are arena indices; the list itself stores only the endpoints.
// Invariants: segments are contiguous (each segment ends where its successor
// begins), and no two adjacent segments are both free.
type List struct {
	head, tail Ref
}

// Init resets the list to a single free segment spanning [0, size).
func (l *List) Init(a *Arena, size int) {
	ref := a.New(0, size, Free)
	l.head, l.tail = ref, ref
}

// Head returns the lowest-addressed segment, or Nil if the list is empty.
func (l *List) Head() Ref { return l.head }

// All ranges over the list in address order.
//
// The arena must not grow during iteration.
func (l *List) All(a *Arena) iter.Seq[Ref] {
	return func(yield func(Ref) bool) {
		for ref := l.head; ref != Nil; ref = a.Get(ref).next {
			if !yield(ref) {
				return
			}
		}
	}
}

// insertAfter splices r into the list immediately after at.
func (l *List) insertAfter(a *Arena, at, r Ref) {
	s, n := a.Get(at), a.Get(r)
	n.prev, n.next = at, s.next

	if s.next != Nil {
		a.Get(s.next).prev = r
	} else {
		l.tail = r
	}
	s.next = r
}

// remove unlinks r from the list. The record slot stays allocated.
func (l *List) remove(a *Arena, r Ref) {
	s := a.Get(r)
	if s.prev != Nil {
		a.Get(s.prev).next = s.next
	} else {
		l.head = s.next
	}
	if s.next != Nil {
		a.Get(s.next).prev = s.prev
	} else {
		l.tail = s.prev
	}
	s.prev, s.next = Nil, Nil
}

// Split carves an allocation of size n out of the free segment s.
//
// s becomes busy with size n. If s was larger than n, a fresh free segment
// covering the remainder is spliced in after it and returned; otherwise
// Split returns Nil. A split of the exact size never creates a zero-sized
// remainder.
//
// The caller is responsible for gap index bookkeeping on both s and the
// returned remainder.
func (l *List) Split(a *Arena, ref Ref, n int) (rem Ref) {
	s := a.Get(ref)
	debug.Assert(s.live && s.state == Free, "split of non-gap %v", ref)
	debug.Assert(s.size >= n, "split of %v beyond its size: %d > %d", ref, n, s.size)

	rest := s.size - n
	s.state = Busy
	s.size = n
	l.log(a, "split", "%v, %d+%d", ref, n, rest)

	if rest == 0 {
		return Nil
	}

	// The remainder is created free, but both of its neighbors are busy: s
	// itself on the left, and on the right either nothing or a busy segment
	// (had it been free, s would have been coalesced with it already).
	rem = a.New(s.End(), rest, Free)
	l.insertAfter(a, ref, rem)
	return rem
}

// MergeNext absorbs s's next neighbor into s and releases its slot.
//
// Both segments must be free.
func (l *List) MergeNext(a *Arena, ref Ref) {
	s := a.Get(ref)
	next := s.next
	debug.Assert(next != Nil, "merge of %v with no next", ref)

	n := a.Get(next)
	debug.Assert(s.state == Free && n.state == Free, "merge of non-gaps %v, %v", ref, next)
	debug.Assert(s.End() == n.off, "merge of non-adjacent %v, %v", ref, next)

	s.size += n.size
	l.remove(a, next)
	a.Release(next)
	l.log(a, "merge", "%v <- %v", ref, next)
}

// MergePrev absorbs s into its prev neighbor and releases s's slot. Returns
// the surviving segment.
//
// Both segments must be free.
func (l *List) MergePrev(a *Arena, ref Ref) Ref {
	prev := a.Get(ref).prev
	debug.Assert(prev != Nil, "merge of %v with no prev", ref)

	l.MergeNext(a, prev)
	return prev
}

// Dump renders the list as [busy:30 free:70]. Formatting is deferred until
// the returned value is printed.
func (l *List) Dump(a *Arena) fmt.Stringer {
	return debug.Formatter(func(st fmt.State) {
		var sb strings.Builder
		sb.WriteByte('[')
		for ref := l.head; ref != Nil; ref = a.Get(ref).next {
			if sb.Len() > 1 {
				sb.WriteByte(' ')
			}
			s := a.Get(ref)
			fmt.Fprintf(&sb, "%v:%d", s.state, s.size)
		}
		sb.WriteByte(']')
		fmt.Fprint(st, sb.String())
	})
}

func (l *List) log(a *Arena, op, format string, args ...any) {
	debug.Log([]any{"%p", a}, op, format, args...)
}

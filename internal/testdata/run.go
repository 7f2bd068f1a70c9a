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

package testdata

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"buf.build/go/hyperpool"
	"buf.build/go/hyperpool/internal/debug"
	"buf.build/go/hyperpool/internal/sync2"
)

// scratch is the mutable state of one case execution. Executions recycle
// scratches so that benchmark iterations do not allocate.
type scratch struct {
	bindings map[string]hyperpool.Alloc
	// Handles that have been freed already; kept so that scripts can
	// exercise stale-handle failures.
	stale map[string]hyperpool.Alloc
	order []string
	segs  []hyperpool.Segment
}

var scratches = sync2.Pool[scratch]{
	New: func() *scratch {
		return &scratch{
			bindings: make(map[string]hyperpool.Alloc),
			stale:    make(map[string]hyperpool.Alloc),
		}
	},
	Reset: func(s *scratch) {
		clear(s.bindings)
		clear(s.stale)
		s.order = s.order[:0]
		s.segs = s.segs[:0]
	},
}

// Execute runs a case against a fresh pool under the given policy, checking
// every scripted expectation, and finally drains and closes the pool.
func Execute(t testing.TB, c *Case, policy hyperpool.Policy) {
	t.Helper()
	defer debug.CaptureTestLogs(t)()

	reg := hyperpool.NewRegistry()
	p, err := reg.Open(c.Size, policy)
	require.NoError(t, err, "opening pool")

	s, drop := scratches.Get()
	defer drop()

	for i, op := range c.Ops {
		where := fmt.Sprintf("op %d", i+1)
		switch {
		case op.Alloc != nil:
			a, err := p.Alloc(op.Alloc.Size)
			require.NoError(t, err, "%s: alloc %d", where, op.Alloc.Size)
			require.Equal(t, op.Alloc.Size, a.Size(), "%s: alloc size", where)
			s.bind(op.Alloc.As, a)

		case op.Free != "":
			a, ok := s.bindings[op.Free]
			require.True(t, ok, "%s: unknown binding %q", where, op.Free)
			require.NoError(t, p.Free(a), "%s: free %q", where, op.Free)
			s.unbind(op.Free)

		case op.Expect != nil:
			s.expect(t, p, op.Expect, where)

		case op.Fail != nil:
			s.fail(t, p, op.Fail, where)

		default:
			t.Fatalf("%s: empty op", where)
		}
	}

	// Drain whatever the script left behind; a correct engine always comes
	// back to a single gap.
	for _, name := range s.order {
		require.NoError(t, p.Free(s.bindings[name]), "draining %q", name)
	}
	require.NoError(t, p.Close(), "closing pool")
	require.Equal(t, 0, reg.NumOpen())
}

func (s *scratch) bind(name string, a hyperpool.Alloc) {
	s.bindings[name] = a
	s.order = append(s.order, name)
}

func (s *scratch) unbind(name string) {
	s.stale[name] = s.bindings[name]
	delete(s.bindings, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *scratch) expect(t testing.TB, p *hyperpool.Pool, e *Expect, where string) {
	t.Helper()

	if e.Layout != nil {
		var err error
		s.segs, err = p.Inspect(s.segs[:0])
		require.NoError(t, err, "%s: inspect", where)

		got := make([]string, len(s.segs))
		for i, seg := range s.segs {
			state := "free"
			if seg.Busy {
				state = "busy"
			}
			got[i] = fmt.Sprintf("%s:%d", state, seg.Size)
		}
		require.Equal(t, e.Layout, got, "%s: layout", where)
	}
	if e.Allocs != nil {
		require.Equal(t, *e.Allocs, p.NumAllocs(), "%s: allocs", where)
	}
	if e.Gaps != nil {
		require.Equal(t, *e.Gaps, p.NumGaps(), "%s: gaps", where)
	}
	if e.Allocated != nil {
		require.Equal(t, *e.Allocated, p.AllocatedBytes(), "%s: allocated", where)
	}
}

func (s *scratch) fail(t testing.TB, p *hyperpool.Pool, f *Fail, where string) {
	t.Helper()

	want, ok := kinds[f.Kind]
	require.True(t, ok, "%s: unknown error kind %q", where, f.Kind)

	var err error
	switch {
	case f.Alloc != 0:
		_, err = p.Alloc(f.Alloc)
	case f.Free != "":
		a, ok := s.bindings[f.Free]
		if !ok {
			a, ok = s.stale[f.Free]
		}
		require.True(t, ok, "%s: unknown binding %q", where, f.Free)
		err = p.Free(a)
	case f.Close:
		err = p.Close()
	default:
		t.Fatalf("%s: empty fail op", where)
	}
	require.ErrorIs(t, err, want, "%s", where)
}

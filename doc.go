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

// Package hyperpool is a memory pool allocator: it carves a fixed backing
// buffer into variable-size allocations without touching the system
// allocator on the steady-state path.
//
// A [Pool] tracks its segments in an address-ordered list backed by an
// index-addressed arena, plus a sorted gap index for fast placement.
// Allocations are placed by [FirstFit] or [BestFit]; frees eagerly coalesce
// with adjacent gaps, which is the only reclamation mechanism. Segments
// never move.
//
// Pools live in a [Registry]. Most programs use the package-level registry:
//
//	hyperpool.Init()
//	defer hyperpool.Teardown()
//
//	p, _ := hyperpool.Open(1<<20, hyperpool.BestFit)
//	defer p.Close()
//
//	a, _ := p.Alloc(512)
//	copy(a.Bytes(), data)
//	p.Free(a)
//
// # Concurrency
//
// Nothing in this package synchronizes. A pool may only be used from one
// goroutine at a time; distinct pools are independent. [Init], [Teardown],
// [Open] and [Pool.Close] share the registry and must be serialized against
// each other as well.
package hyperpool

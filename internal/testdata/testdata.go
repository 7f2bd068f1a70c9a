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

// Package testdata embeds the workload corpus: YAML scripts of pool
// operations with expected outcomes, shared by tests and benchmarks.
package testdata

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"embed"

	"github.com/stretchr/testify/require"
	"github.com/tiendc/go-deepcopy"
	"gopkg.in/yaml.v3"

	"buf.build/go/hyperpool"
)

//go:embed cases
var testdata embed.FS

// Harness is a generalization of [testing.TB] that also includes the
// [testing.T.Run] method. It must be generic because the signature of this
// function varies across [testing.T] and [testing.B].
type Harness[T any] interface {
	testing.TB
	Run(string, func(T)) bool
}

// Case is one workload from the corpus: a pool size, the policies to run
// under, and a script of operations.
type Case struct {
	Name string `yaml:"-"`

	Size     int    `yaml:"size"`
	Policy   string `yaml:"policy"` // first-fit, best-fit, or both (default)
	LongOnly bool   `yaml:"long"`   // Skipped in -short mode.

	Ops []Op `yaml:"ops"`
}

// Op is one scripted step. Exactly one of the fields is set.
type Op struct {
	// Allocate and bind the handle to a name.
	Alloc *AllocOp `yaml:"alloc"`
	// Free the handle previously bound to this name.
	Free string `yaml:"free"`
	// Assert on the pool's observable state.
	Expect *Expect `yaml:"expect"`
	// Perform an operation that must fail with the given error kind.
	Fail *Fail `yaml:"fail"`
}

// AllocOp allocates Size bytes and binds the handle to As.
//
// It unmarshals either from a mapping or from a bare scalar size, in which
// case the binding name is assigned during normalization.
type AllocOp struct {
	Size int    `yaml:"size"`
	As   string `yaml:"as"`
}

// UnmarshalYAML implements [yaml.Unmarshaler].
func (a *AllocOp) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		size, err := strconv.Atoi(node.Value)
		if err != nil {
			return fmt.Errorf("bad alloc size %q: %w", node.Value, err)
		}
		a.Size = size
		return nil
	}

	// A defined type sheds UnmarshalYAML, avoiding recursion.
	type raw AllocOp
	return node.Decode((*raw)(a))
}

// Expect asserts on the pool's state. Nil fields are not checked.
type Expect struct {
	// Layout is the expected segment list, e.g. [busy:30, free:70].
	Layout []string `yaml:"layout"`
	Allocs *int     `yaml:"allocs"`
	Gaps   *int     `yaml:"gaps"`
	// Allocated is the expected sum of live allocation sizes.
	Allocated *int `yaml:"allocated"`
}

// Fail performs one operation expecting the named error kind.
type Fail struct {
	Alloc int    `yaml:"alloc"` // Alloc of this size, if non-zero.
	Free  string `yaml:"free"`  // Free of this binding, if set.
	Close bool   `yaml:"close"` // Close the pool.
	Kind  string `yaml:"kind"`
}

// kinds maps the corpus's error kind names to sentinels.
var kinds = map[string]error{
	"out-of-memory": hyperpool.ErrOutOfMemory,
	"bad-pool":      hyperpool.ErrBadPool,
	"bad-handle":    hyperpool.ErrBadHandle,
	"no-gap":        hyperpool.ErrNoGap,
	"no-fit":        hyperpool.ErrNoFit,
	"not-empty":     hyperpool.ErrNotEmpty,
}

// RunAll runs every corpus case against the given harness.
func RunAll[T Harness[T]](t T, f func(T, *Case)) {
	t.Helper()

	err := fs.WalkDir(testdata, ".", func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err, "loading case %q", path)

		if d.IsDir() || filepath.Ext(path) != ".yaml" {
			return nil
		}

		data, err := fs.ReadFile(testdata, path)
		require.NoError(t, err, "loading case %q", path)

		c := new(Case)
		require.NoError(t, yaml.Unmarshal(data, c), "parsing case %q", path)
		c.Name = strings.TrimSuffix(strings.TrimPrefix(path, "cases/"), ".yaml")
		c.normalize()

		t.Run(c.Name, func(t T) {
			if c.LongOnly && testing.Short() {
				t.SkipNow()
			}
			f(t, c)
		})
		return nil
	})
	require.NoError(t, err)
}

// normalize fills defaulted fields: unnamed allocations are bound to a1,
// a2, ... in script order.
func (c *Case) normalize() {
	n := 0
	for i := range c.Ops {
		if a := c.Ops[i].Alloc; a != nil {
			n++
			if a.As == "" {
				a.As = "a" + strconv.Itoa(n)
			}
		}
	}
}

// Policies returns the policies this case runs under.
func (c *Case) Policies() []hyperpool.Policy {
	switch c.Policy {
	case "first-fit":
		return []hyperpool.Policy{hyperpool.FirstFit}
	case "best-fit":
		return []hyperpool.Policy{hyperpool.BestFit}
	default:
		return []hyperpool.Policy{hyperpool.FirstFit, hyperpool.BestFit}
	}
}

// Clone deep-copies the case, so that concurrent per-policy runs cannot
// observe each other through shared op records.
func (c *Case) Clone() *Case {
	clone := new(Case)
	if err := deepcopy.Copy(clone, c); err != nil {
		panic(fmt.Sprintf("testdata: cloning case %q: %v", c.Name, err))
	}
	clone.Name = c.Name
	return clone
}

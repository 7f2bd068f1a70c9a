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

package hyperpool_test

import (
	"fmt"

	"buf.build/go/hyperpool"
)

func Example() {
	_ = hyperpool.Init()
	defer func() { _ = hyperpool.Teardown() }()

	p, err := hyperpool.Open(100, hyperpool.FirstFit)
	if err != nil {
		panic(err)
	}

	a, _ := p.Alloc(30)
	fmt.Println(p)

	_ = p.Free(a)
	fmt.Println(p)

	_ = p.Close()
	// Output:
	// [busy:30 free:70]
	// [free:100]
}

func ExamplePool_Alloc_bestFit() {
	reg := hyperpool.NewRegistry()
	p, _ := reg.Open(130, hyperpool.BestFit)

	a, _ := p.Alloc(20)
	b, _ := p.Alloc(50)
	c, _ := p.Alloc(40)
	_ = p.Free(b)

	// Gaps of 50 and 20 remain; best-fit places 15 bytes in the smaller.
	d, _ := p.Alloc(15)
	fmt.Println(p)

	for _, x := range []hyperpool.Alloc{a, c, d} {
		_ = p.Free(x)
	}
	_ = p.Close()
	// Output:
	// [busy:20 free:50 busy:40 busy:15 free:5]
}

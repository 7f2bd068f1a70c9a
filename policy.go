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

// Policy selects how a pool places new allocations.
type Policy uint8

const (
	// FirstFit places each allocation in the lowest-addressed gap that can
	// hold it, found by walking the segment list from the head.
	FirstFit Policy = iota
	// BestFit places each allocation in the smallest gap that can hold it,
	// found through the gap index; ties go to the lowest address.
	BestFit
)

// String implements [fmt.Stringer].
func (p Policy) String() string {
	switch p {
	case FirstFit:
		return "first-fit"
	case BestFit:
		return "best-fit"
	default:
		return "invalid"
	}
}

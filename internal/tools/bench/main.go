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

// bench builds the module's test binaries and runs their benchmarks, either
// locally or on a remote host over SSH, then renders the results as an
// aligned table (and optionally CSV).
//
// Usage:
//
//	go run ./internal/tools/bench [flags]
//
// Remote execution exists so that numbers can come from a quiet machine
// rather than a developer laptop:
//
//	go run ./internal/tools/bench -remote user@bench-box
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

var (
	pkgs        = flag.String("pkgs", "./...", "packages to benchmark")
	benchFilter = flag.String("bench", ".", "benchmark name pattern")
	tags        = flag.String("tags", "", "build tags")
	output      = flag.String("o", "bench-out", "output directory for test binaries")
	remote      = flag.String("remote", "", "run on this [user@]host over SSH")
	csvPath     = flag.String("csv", "", "also write results to this CSV file")
	profile     = flag.Bool("profile", false, "collect CPU profiles")
	count       = flag.Int("count", 1, "benchmark trial count")
)

func main() {
	flag.Parse()

	r := &runner{
		tool:    "go",
		pkgs:    *pkgs,
		output:  *output,
		tags:    *tags,
		profile: *profile,
		args: []string{
			"-test.run", "^$",
			"-test.bench", *benchFilter,
			"-test.benchmem",
			"-test.count", fmt.Sprint(*count),
		},
	}

	tests, err := r.build()
	if err != nil {
		fail(err)
	}

	var stdout string
	if *remote != "" {
		stdout, err = r.runOverSSH(*remote, tests)
	} else {
		stdout, err = r.runLocally(tests)
	}
	if err != nil {
		fail(err)
	}

	report := parseBenchmarkOutput(stdout)
	fmt.Println()
	if err := report.toTable(os.Stdout); err != nil {
		fail(err)
	}

	if *csvPath != "" {
		f, err := os.Create(*csvPath)
		if err != nil {
			fail(err)
		}
		defer f.Close()
		if err := report.toCSV(f); err != nil {
			fail(err)
		}
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "bench: %v\n", strings.TrimSpace(err.Error()))
	os.Exit(1)
}

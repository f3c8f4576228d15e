/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// oieb-check validates the control block of a zerobuffer segment.
//
// Usage:
//
//	oieb-check <name>
//	oieb-check --file /path/to/segment-copy
//
// Exit status is 0 when the block is valid, 2 when it has validation
// errors and 1 when it cannot be read.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/srediag/zerobuffer/pkg/shm"
)

const (
	exitValid   = 0
	exitIOError = 1
	exitInvalid = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var file string
	flagSet := pflag.NewFlagSet("oieb-check", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&file, "file", "f", "", "inspect a file instead of a shared memory object")
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "Usage: oieb-check [--file path] <name>\n\n")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitValid
		}
		return exitIOError
	}

	var (
		report *shm.Report
		err    error
	)
	switch {
	case file != "" && flagSet.NArg() == 0:
		report, err = shm.InspectFile(file)
	case file == "" && flagSet.NArg() == 1:
		report, err = shm.Inspect(flagSet.Arg(0))
	default:
		flagSet.Usage()
		return exitIOError
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitIOError
	}

	if _, err := report.WriteTo(stdout); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitIOError
	}
	if !report.Valid() {
		return exitInvalid
	}
	return exitValid
}

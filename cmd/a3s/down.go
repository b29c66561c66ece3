// Copyright 2026 The A3s Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/a3s-dev/a3s/config"
)

// cmdDown implements "down [names…]" of spec.md §6 by asking the
// running `up` process's control API to stop each named service (or
// every service known to it, if none named).
func cmdDown(args []string) int {
	fs := flag.NewFlagSet("down", flag.ContinueOnError)
	uiPort := fs.Int("ui-port", config.DefaultUIPort, "control API port")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	names := fs.Args()

	c := newClient(*uiPort)
	if len(names) == 0 {
		entries, err := c.status()
		if err != nil {
			fmt.Fprintf(os.Stderr, "down: %v\n", err)
			return 2
		}
		for _, e := range entries {
			names = append(names, e.Name)
		}
	}

	failed := false
	for _, name := range names {
		if err := c.stop(name); err != nil {
			fmt.Fprintf(os.Stderr, "down %s: %v\n", name, err)
			failed = true
		}
	}
	if failed {
		return 2
	}
	return 0
}

// cmdRestart implements "restart <name>" of spec.md §6.
func cmdRestart(args []string) int {
	fs := flag.NewFlagSet("restart", flag.ContinueOnError)
	uiPort := fs.Int("ui-port", config.DefaultUIPort, "control API port")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: a3s restart <name>")
		return 1
	}

	c := newClient(*uiPort)
	if err := c.restart(fs.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "restart: %v\n", err)
		return 2
	}
	return 0
}

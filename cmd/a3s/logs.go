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

// cmdLogs implements "logs [--service name]" of spec.md §6 by tailing
// the running `up` process's /api/logs SSE stream until interrupted.
func cmdLogs(args []string) int {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	service := fs.String("service", "", "only show lines from this service")
	uiPort := fs.Int("ui-port", config.DefaultUIPort, "control API port")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	c := newClient(*uiPort)
	err := c.streamLogs(*service, func(svc, line string) {
		fmt.Printf("%-16s %s\n", svc, line)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logs: %v\n", err)
		return 2
	}
	return 0
}

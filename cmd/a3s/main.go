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

// Command a3s is the CLI front-end of spec.md §6: "up [names…]
// [--detach] [--no-ui] [--ui-port N]", "down [names…]", "restart
// <name>", "status", "logs [--service name]", "validate". Its
// subcommand dispatch is grounded on the teacher's govisor/main.go
// (flag.Parse, then a switch on args[0]); down/restart/status/logs act
// as a thin REST client against a running `up`'s control API, the same
// client/daemon split the teacher uses between govisor and govisord,
// generalized from govisor/rest.Client's etag-polling model to
// spec.md §4.7's plain status/history/logs/restart/stop vocabulary.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/a3s-dev/a3s/config"
	"github.com/sirupsen/logrus"
)

const configFile = "A3sfile.hcl"

func usage() {
	fmt.Fprintf(os.Stderr, `usage: a3s <command> [arguments]

commands:
  up [names...] [--detach] [--no-ui] [--ui-port N]   bring services up
  down [names...]                                     stop services
  restart <name>                                      restart one service
  status [--watch] [--ui-port N]                      show service status
  logs [--service name] [--ui-port N]                 tail logs
  validate                                             check A3sfile.hcl
`)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 1
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "up":
		return cmdUp(rest)
	case "down":
		return cmdDown(rest)
	case "restart":
		return cmdRestart(rest)
	case "status":
		return cmdStatus(rest)
	case "logs":
		return cmdLogs(rest)
	case "validate":
		return cmdValidate(rest)
	default:
		usage()
		return 1
	}
}

func newLogger() *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l.WithField("component", "a3s")
}

// cmdValidate implements "validate" per spec.md §6: "purely structural
// validation" (see DESIGN.md's resolution of the Open Question).
// Exit codes per spec.md §6: 1 on validation failure.
func cmdValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := config.Load(configFile); err != nil {
		fmt.Fprintf(os.Stderr, "validate: %v\n", err)
		return 1
	}
	fmt.Println("ok")
	return 0
}

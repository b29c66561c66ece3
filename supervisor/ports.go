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

package supervisor

import (
	"context"
	"time"

	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// portDiscoveryPoll and portDiscoveryCap bound port discovery: the scan
// repeats at the fixed portDiscoveryPoll interval (no backoff) and gives
// up once portDiscoveryCap has elapsed.
const (
	portDiscoveryPoll = 100 * time.Millisecond
	portDiscoveryCap  = 5 * time.Second
)

// discoverPort scans the listening sockets owned by pid or any of its
// descendants until one is found, or portDiscoveryCap elapses, per
// spec.md §4.5 "Port discovery" and §9. It reports the result back to
// the supervisor loop as an event, never mutating shared state
// directly.
func (s *Supervisor) discoverPort(ctx context.Context, name string, gen int, pid int) {
	deadline := time.Now().Add(portDiscoveryCap)
	ticker := time.NewTicker(portDiscoveryPoll)
	defer ticker.Stop()

	for {
		if port, ok := listeningPort(pid); ok {
			select {
			case s.events <- portDiscoveredEvent{name: name, generation: gen, port: port}:
			case <-ctx.Done():
			}
			return
		}
		if time.Now().After(deadline) {
			select {
			case s.events <- portDiscoveryFailedEvent{name: name, generation: gen}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// listeningPort reports the first listening TCP port found among pid
// and its descendants, per spec.md §9 "enumerate sockets of PID tree".
func listeningPort(pid int) (int, bool) {
	for _, p := range pidTree(pid) {
		conns, err := psnet.ConnectionsPid("tcp", int32(p))
		if err != nil {
			continue
		}
		for _, c := range conns {
			if c.Status == "LISTEN" && c.Laddr.Port != 0 {
				return int(c.Laddr.Port), true
			}
		}
	}
	return 0, false
}

// pidTree returns pid and every descendant process, since a shell
// wrapper (sh -c ...) commonly execs or forks the real listener as a
// child of the shell rather than replacing it.
func pidTree(root int) []int {
	pids := []int{root}
	proc, err := process.NewProcess(int32(root))
	if err != nil {
		return pids
	}
	children, err := proc.Children()
	if err != nil {
		return pids
	}
	for _, c := range children {
		pids = append(pids, pidTree(int(c.Pid))...)
	}
	return pids
}

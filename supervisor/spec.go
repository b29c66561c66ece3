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

// Package supervisor is the single owner of the service table. It is
// grounded on the teacher's Manager/Service pair (manager.go,
// service.go): the dependency graph built from Depends()/Provides(),
// the startRecurse/stopRecurse traversal, and the serial-number change
// notification all reappear here, generalized from the teacher's
// boolean enabled/running flags into the closed Phase state machine and
// from lock-guarded mutation into a single-goroutine event loop reading
// one inbound channel, per spec.md §4.5/§5.
package supervisor

import (
	"time"

	"github.com/a3s-dev/a3s/health"
	"github.com/a3s-dev/a3s/watch"
)

// Phase is the closed set of service lifecycle states of spec.md §4.5.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseStarting   Phase = "starting"
	PhaseRunning    Phase = "running"
	PhaseRestarting Phase = "restarting"
	PhaseUnhealthy  Phase = "unhealthy"
	PhaseFailed     Phase = "failed"
	PhaseStopped    Phase = "stopped"
)

// Spec is the immutable service declaration of spec.md §3, produced by
// the config loader.
type Spec struct {
	Name      string
	Command   string
	Dir       string
	Port      int // 0 means ephemeral, discovered after spawn
	Subdomain string
	DependsOn []string
	Env       map[string]string
	Watch     *watch.Spec
	Health    *health.Spec
}

// ExitInfo records how the most recent generation of a service ended.
type ExitInfo struct {
	Code     int
	Signaled bool
	Signal   string
	Reason   string // error kind, e.g. "unexpected-exit", "dependency-failed"
}

// State is the mutable, supervisor-owned snapshot of one service, per
// spec.md §3 "Service state".
type State struct {
	Name       string
	Phase      Phase
	PID        int
	Port       int
	Subdomain  string
	StartTime  time.Time
	Generation int
	LastExit   *ExitInfo
	LastHealth error
}

// Uptime returns now-StartTime when Phase is running or unhealthy, and
// zero otherwise, per spec.md §3 "uptime_secs is ... undefined
// otherwise".
func (s State) Uptime(now time.Time) time.Duration {
	if s.Phase != PhaseRunning && s.Phase != PhaseUnhealthy {
		return 0
	}
	return now.Sub(s.StartTime)
}

// routable reports whether a service in this phase belongs in the
// proxy's subdomain->port map, per spec.md §3 "derived purely from the
// set of services currently in running or unhealthy".
func (s State) routable() bool {
	return s.Phase == PhaseRunning || s.Phase == PhaseUnhealthy
}

// Snapshot is the immutable, atomically-published view of the whole
// service table that proxy/API/CLI readers consume, per spec.md §5
// "readers obtain immutable snapshots".
type Snapshot struct {
	Services map[string]State
	Routes   map[string]int // subdomain -> port, routable services only
	Serial   int64
	Taken    time.Time
}

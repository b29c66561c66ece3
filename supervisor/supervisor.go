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
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/a3s-dev/a3s/errorkit"
	"github.com/a3s-dev/a3s/health"
	"github.com/a3s-dev/a3s/logbus"
	"github.com/a3s-dev/a3s/runner"
	"github.com/a3s-dev/a3s/watch"
	"github.com/sirupsen/logrus"
)

// stopReason records why a generation's runner is being torn down, so
// handleRunnerExit knows whether the exit was requested or unexpected.
type stopReason int

const (
	stopNone stopReason = iota
	stopForRestart
	stopForDown
	stopForGiveUp
)

// serviceRT is the supervisor's private runtime record for one
// service. Only the loop goroutine touches it; everything else learns
// about it through a published Snapshot.
type serviceRT struct {
	spec *Spec

	phase      Phase
	pid        int
	port       int
	startTime  time.Time
	generation int
	lastExit   *ExitInfo
	lastHealth error

	runner *runner.Runner
	ctx    context.Context
	cancel context.CancelFunc

	pendingStop stopReason
	rearm       bool
}

// Supervisor is the single owner of the service table, per spec.md
// §4.5 "Single owner of the service table."
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log *logrus.Entry
	bus *logbus.Bus

	events chan interface{}

	specs    map[string]*Spec
	services map[string]*serviceRT

	startQueue    []string
	stopQueue     []string
	stopDone      chan struct{} // closed when a full shutdown drain completes
	shutdownReply chan struct{}

	serial   int64
	snapshot atomic.Value // holds Snapshot

	proxyPort int
}

// New constructs a Supervisor over specs. proxyPort is carried into
// published snapshots for the control API's status payload (spec.md
// §4.7).
func New(specs []*Spec, bus *logbus.Bus, log *logrus.Entry, proxyPort int) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		ctx:       ctx,
		cancel:    cancel,
		log:       log,
		bus:       bus,
		events:    make(chan interface{}, 64),
		specs:     map[string]*Spec{},
		services:  map[string]*serviceRT{},
		stopDone:  make(chan struct{}),
		proxyPort: proxyPort,
	}
	for _, spec := range specs {
		s.specs[spec.Name] = spec
		s.services[spec.Name] = &serviceRT{spec: spec, phase: PhasePending}
	}
	s.publish()
	return s
}

// Run drives the event loop until Shutdown completes. It is intended
// to be called in its own goroutine by the CLI entrypoint.
func (s *Supervisor) Run() {
	for {
		select {
		case ev := <-s.events:
			if s.dispatch(ev) {
				return
			}
		}
	}
}

// --- public command surface -------------------------------------------------

// Up requests that names (or every declared service, if names is
// empty) be brought to running, per spec.md §6 "up [names...]".
func (s *Supervisor) Up(names []string) error {
	reply := make(chan error, 1)
	s.events <- cmdUp{names: names, reply: reply}
	return <-reply
}

// Down requests that names (or every service) be stopped, per spec.md
// §6 "down [names...]".
func (s *Supervisor) Down(names []string) error {
	reply := make(chan error, 1)
	s.events <- cmdDown{names: names, reply: reply}
	return <-reply
}

// Restart requests a single service be torn down and respawned, per
// spec.md §4.5 "Restart."
func (s *Supervisor) Restart(name string) error {
	reply := make(chan error, 1)
	s.events <- cmdRestart{name: name, reply: reply}
	return <-reply
}

// Shutdown performs the terminal drain of spec.md §4.5 "Shutdown" and
// blocks until it completes. It is safe to call more than once.
func (s *Supervisor) Shutdown() {
	reply := make(chan struct{}, 1)
	select {
	case s.events <- cmdShutdown{reply: reply}:
		select {
		case <-reply:
		case <-s.stopDone:
		}
	case <-s.stopDone:
	}
}

// Snapshot returns the most recently published immutable view of the
// service table, per spec.md §5 "readers obtain immutable snapshots".
func (s *Supervisor) Snapshot() Snapshot {
	if v := s.snapshot.Load(); v != nil {
		return v.(Snapshot)
	}
	return Snapshot{}
}

// Routes satisfies proxy.RouteSource: the current subdomain->port map,
// per spec.md §4.6 "Snapshot freshness".
func (s *Supervisor) Routes() map[string]int {
	return s.Snapshot().Routes
}

// --- command/event types ----------------------------------------------------

type cmdUp struct {
	names []string
	reply chan error
}

type cmdDown struct {
	names []string
	reply chan error
}

type cmdRestart struct {
	name  string
	reply chan error
}

type cmdShutdown struct {
	reply chan struct{}
}

type runnerExitEvent struct {
	name       string
	generation int
	result     runner.ExitResult
}

type proberEvent struct {
	name       string
	generation int
	event      health.Event
}

type watchChangedEvent struct {
	name       string
	generation int
}

type portDiscoveredEvent struct {
	name       string
	generation int
	port       int
}

type portDiscoveryFailedEvent struct {
	name       string
	generation int
}

// dispatch handles one event. It returns true when the loop should
// terminate (the shutdown drain has fully completed).
func (s *Supervisor) dispatch(ev interface{}) bool {
	switch e := ev.(type) {
	case cmdUp:
		e.reply <- s.handleUp(e.names)
	case cmdDown:
		e.reply <- s.handleDown(e.names)
	case cmdRestart:
		e.reply <- s.handleRestartCmd(e.name)
	case cmdShutdown:
		s.handleShutdown(e.reply)
	case runnerExitEvent:
		s.handleRunnerExit(e)
	case proberEvent:
		s.handleProbeEvent(e)
	case watchChangedEvent:
		s.handleWatchChanged(e)
	case portDiscoveredEvent:
		s.handlePortDiscovered(e)
	case portDiscoveryFailedEvent:
		s.handlePortDiscoveryFailed(e)
	}
	select {
	case <-s.stopDone:
		return true
	default:
		return false
	}
}

// --- up -----------------------------------------------------------------

func (s *Supervisor) handleUp(names []string) error {
	if len(names) == 0 {
		for n := range s.specs {
			names = append(names, n)
		}
	}
	order, err := toposort(s.specs, names)
	if err != nil {
		return errorkit.New(errorkit.KindConfigInvalid, "", err)
	}
	s.startQueue = append(s.startQueue, order...)
	s.advanceStartQueue()
	return nil
}

// advanceStartQueue pops services off the front of the queue, starting
// each as soon as its dependencies are running, and skipping (leaving
// pending) any whose dependency has failed, per spec.md §4.5 "A service
// whose dependency transitions to failed during its own pending phase
// remains pending". It stops as soon as one service is actually
// spawned, since that service's own settle event will call back in.
func (s *Supervisor) advanceStartQueue() {
	for len(s.startQueue) > 0 {
		name := s.startQueue[0]
		rt := s.services[name]

		if rt.phase != PhasePending {
			// Already past pending (e.g. started by a previous Up call,
			// or mid-restart); nothing left to do for it here.
			s.startQueue = s.startQueue[1:]
			continue
		}

		if failed, reason := s.dependencyFailed(rt.spec); failed {
			rt.lastExit = &ExitInfo{Reason: string(errorkit.KindDependencyFail)}
			s.log.WithField("service", name).WithField("dependency", reason).
				Warn("supervisor: dependency failed, leaving service pending")
			s.startQueue = s.startQueue[1:]
			s.publish()
			continue
		}

		if !s.dependenciesRunning(rt.spec) {
			// Blocked on a dependency still starting; wait for its
			// settle event to call advanceStartQueue again.
			return
		}

		s.startQueue = s.startQueue[1:]
		s.beginStart(rt)
		return
	}
}

func (s *Supervisor) dependenciesRunning(spec *Spec) bool {
	for _, dep := range spec.DependsOn {
		d := s.services[dep]
		if d == nil || (d.phase != PhaseRunning && d.phase != PhaseUnhealthy) {
			return false
		}
	}
	return true
}

func (s *Supervisor) dependencyFailed(spec *Spec) (bool, string) {
	for _, dep := range spec.DependsOn {
		d := s.services[dep]
		if d == nil {
			continue
		}
		if d.phase == PhaseFailed || d.phase == PhaseStopped {
			return true, dep
		}
	}
	return false, ""
}

// beginStart transitions pending -> starting and spawns the first
// generation, per spec.md §4.5 state table.
func (s *Supervisor) beginStart(rt *serviceRT) {
	rt.phase = PhaseStarting
	s.publish()
	s.spawnGeneration(rt)
}

// --- down -----------------------------------------------------------------

func (s *Supervisor) handleDown(names []string) error {
	if len(names) == 0 {
		for n := range s.specs {
			names = append(names, n)
		}
	}
	order, err := toposort(s.specs, names)
	if err != nil {
		return errorkit.New(errorkit.KindConfigInvalid, "", err)
	}
	s.stopQueue = append(s.stopQueue, reverseOf(order)...)
	s.advanceStopQueue()
	return nil
}

func (s *Supervisor) advanceStopQueue() {
	for len(s.stopQueue) > 0 {
		name := s.stopQueue[0]
		rt := s.services[name]

		switch rt.phase {
		case PhaseStopped, PhasePending, PhaseFailed:
			s.stopQueue = s.stopQueue[1:]
			continue
		}

		s.stopQueue = s.stopQueue[1:]
		s.stopRunner(rt, stopForDown)
		return
	}
}

// --- restart -----------------------------------------------------------------

func (s *Supervisor) handleRestartCmd(name string) error {
	rt := s.services[name]
	if rt == nil {
		return errorkit.New(errorkit.KindConfigInvalid, name, fmt.Errorf("unknown service %q", name))
	}
	s.triggerRestart(name)
	return nil
}

// triggerRestart implements spec.md §4.5's restart row and coalescing
// rule: "if a restart is already in flight for that service, set a
// rearm flag rather than queueing".
func (s *Supervisor) triggerRestart(name string) {
	rt := s.services[name]
	switch rt.phase {
	case PhaseRestarting:
		rt.rearm = true
	case PhaseStopped, PhaseFailed:
		rt.phase = PhasePending
		rt.lastExit = nil
		s.publish()
		s.beginStart(rt)
	case PhasePending:
		// Nothing running to restart; treat as a fresh start request.
		s.beginStart(rt)
	default: // starting, running, unhealthy
		rt.phase = PhaseRestarting
		s.publish()
		s.stopRunner(rt, stopForRestart)
	}
}

// --- shutdown -----------------------------------------------------------------

func (s *Supervisor) handleShutdown(reply chan struct{}) {
	select {
	case <-s.stopDone:
		reply <- struct{}{}
		return
	default:
	}

	var all []string
	for n := range s.specs {
		all = append(all, n)
	}
	order, _ := toposort(s.specs, all)
	s.stopQueue = reverseOf(order)
	s.shutdownReply = reply
	s.advanceStopQueue()
	s.maybeFinishShutdown()
}

func (s *Supervisor) maybeFinishShutdown() {
	if s.shutdownReply == nil {
		return
	}
	for _, rt := range s.services {
		if rt.phase != PhaseStopped && rt.phase != PhaseFailed && rt.phase != PhasePending {
			return
		}
	}
	s.bus.Close()
	s.cancel()
	close(s.stopDone)
	s.shutdownReply <- struct{}{}
	s.shutdownReply = nil
}

// --- generation lifecycle ----------------------------------------------------

func (s *Supervisor) spawnGeneration(rt *serviceRT) {
	rt.generation++
	gen := rt.generation
	genCtx, cancel := context.WithCancel(s.ctx)
	rt.ctx = genCtx
	rt.cancel = cancel

	env := mergeEnv(rt.spec.Env, rt.spec.Port)
	name := rt.spec.Name
	r := runner.New(name, rt.spec.Command, rt.spec.Dir, env, func(stream, line string) {
		s.bus.Publish(name, line)
	})

	if err := r.Start(genCtx); err != nil {
		cancel()
		rt.phase = PhaseFailed
		rt.lastExit = &ExitInfo{Reason: string(errorkit.KindSpawnFailed)}
		s.log.WithError(err).WithField("service", name).Error("supervisor: spawn failed")
		s.settle(rt)
		return
	}

	rt.runner = r
	rt.pid = r.Pid()
	s.publish()

	go s.awaitRunnerExit(name, gen, r)

	if rt.spec.Port == 0 {
		go s.discoverPort(genCtx, name, gen, r.Pid())
	} else {
		rt.port = rt.spec.Port
		s.publish()
		s.startProbeAndWatch(genCtx, rt, gen)
	}
}

func (s *Supervisor) awaitRunnerExit(name string, gen int, r *runner.Runner) {
	<-r.Done()
	s.events <- runnerExitEvent{name: name, generation: gen, result: r.Result()}
}

func (s *Supervisor) startProbeAndWatch(ctx context.Context, rt *serviceRT, gen int) {
	addr := fmt.Sprintf("127.0.0.1:%d", rt.port)
	var hspec health.Spec
	if rt.spec.Health != nil {
		hspec = *rt.spec.Health
	}
	go s.runProbe(ctx, rt.spec.Name, gen, addr, hspec)

	if rt.spec.Watch != nil {
		go s.runWatch(ctx, rt.spec.Name, gen, *rt.spec.Watch)
	}
}

func (s *Supervisor) runProbe(ctx context.Context, name string, gen int, addr string, spec health.Spec) {
	local := make(chan health.Event, 4)
	go health.Run(ctx, addr, spec, local)
	for {
		select {
		case e := <-local:
			select {
			case s.events <- proberEvent{name: name, generation: gen, event: e}:
			case <-ctx.Done():
				return
			}
			if e.Kind == health.EventGaveUp {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) runWatch(ctx context.Context, name string, gen int, spec watch.Spec) {
	w := watch.New(spec, s.log)
	go w.Run(ctx)
	for {
		select {
		case <-w.Changes():
			select {
			case s.events <- watchChangedEvent{name: name, generation: gen}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// stopRunner cancels the generation's probe/watch tasks and asks the
// runner to terminate the child, recording why so handleRunnerExit can
// route the resulting exit correctly.
func (s *Supervisor) stopRunner(rt *serviceRT, reason stopReason) {
	if rt.cancel != nil {
		rt.cancel()
	}
	if rt.runner == nil {
		// Never spawned (e.g. still pending); settle immediately.
		if reason == stopForDown {
			rt.phase = PhaseStopped
		}
		s.settle(rt)
		return
	}
	rt.pendingStop = reason
	r := rt.runner
	name := rt.spec.Name
	go func() {
		if r.Stop(runner.DefaultGrace) {
			err := errorkit.New(errorkit.KindShutdownTimeout, name, fmt.Errorf("grace %s exceeded", runner.DefaultGrace))
			s.log.WithField("service", name).Warn(err.Error())
		}
	}()
}

// --- event handlers ----------------------------------------------------

func (s *Supervisor) handleRunnerExit(e runnerExitEvent) {
	rt := s.services[e.name]
	if rt == nil || e.generation != rt.generation {
		return // stale event from a superseded generation
	}

	rt.pid = 0
	reason := rt.pendingStop
	rt.pendingStop = stopNone
	rt.lastExit = toExitInfo(e.result, reason)

	switch reason {
	case stopForRestart:
		rt.phase = PhaseStarting
		s.publish()
		s.spawnGeneration(rt)
	case stopForDown:
		// settle() below calls maybeFinishShutdown, covering both a
		// plain Down and a service reaped as part of a Shutdown drain.
		rt.phase = PhaseStopped
		s.settle(rt)
	case stopForGiveUp:
		rt.phase = PhaseFailed
		s.settle(rt)
	default:
		// Unexpected exit: the child died while we expected it alive.
		// Cancel the generation so its prober/watcher/port-discovery
		// tasks stop chasing a service that no longer exists.
		if rt.cancel != nil {
			rt.cancel()
		}
		rt.lastExit.Reason = string(errorkit.KindUnexpectedExit)
		rt.phase = PhaseFailed
		s.log.WithField("service", e.name).WithField("exit", e.result).
			Warn("supervisor: unexpected exit")
		s.settle(rt)
	}
}

func toExitInfo(r runner.ExitResult, reason stopReason) *ExitInfo {
	info := &ExitInfo{Code: r.Code, Signaled: r.Signaled, Signal: r.Signal}
	if reason == stopForGiveUp {
		info.Reason = "gave_up"
	}
	return info
}

func (s *Supervisor) handleProbeEvent(e proberEvent) {
	rt := s.services[e.name]
	if rt == nil || e.generation != rt.generation {
		return
	}
	switch e.event.Kind {
	case health.EventHealthy:
		switch rt.phase {
		case PhaseStarting, PhaseRestarting:
			rt.phase = PhaseRunning
			rt.startTime = time.Now()
			s.settle(rt)
		case PhaseUnhealthy:
			rt.phase = PhaseRunning
			rt.lastHealth = nil
			s.publish()
		}
	case health.EventUnhealthy:
		if rt.phase == PhaseRunning {
			rt.phase = PhaseUnhealthy
			rt.lastHealth = e.event.Reason
			s.publish()
		}
	case health.EventGaveUp:
		rt.lastHealth = e.event.Reason
		rt.phase = PhaseFailed
		s.stopRunner(rt, stopForGiveUp)
	}
}

func (s *Supervisor) handleWatchChanged(e watchChangedEvent) {
	rt := s.services[e.name]
	if rt == nil || e.generation != rt.generation {
		return
	}
	if rt.spec.Watch == nil || !rt.spec.Watch.Restart {
		// watch.restart=false services ignore changed signals entirely,
		// per spec.md §4.4 "Interaction".
		return
	}
	s.triggerRestart(e.name)
}

func (s *Supervisor) handlePortDiscovered(e portDiscoveredEvent) {
	rt := s.services[e.name]
	if rt == nil || e.generation != rt.generation {
		return
	}
	rt.port = e.port
	s.publish()
	s.startProbeAndWatch(rt.ctx, rt, e.generation)
}

func (s *Supervisor) handlePortDiscoveryFailed(e portDiscoveryFailedEvent) {
	rt := s.services[e.name]
	if rt == nil || e.generation != rt.generation {
		return
	}
	rt.lastExit = &ExitInfo{Reason: string(errorkit.KindSpawnFailed)}
	rt.phase = PhaseFailed
	s.log.WithField("service", e.name).Error("supervisor: no listening port discovered")
	s.stopRunner(rt, stopForGiveUp)
}

// settle is called whenever a service reaches a state where dependent
// startups/stops might be able to proceed, and republishes the
// snapshot, checks for a rearmed restart, and advances both queues.
func (s *Supervisor) settle(rt *serviceRT) {
	s.publish()

	if rt.phase == PhaseRunning || rt.phase == PhaseFailed || rt.phase == PhaseStopped {
		if rt.rearm && (rt.phase == PhaseRunning || rt.phase == PhaseFailed) {
			rt.rearm = false
			s.triggerRestart(rt.spec.Name)
		}
	}

	s.advanceStartQueue()
	s.advanceStopQueue()
	s.maybeFinishShutdown()
}

// publish rebuilds and atomically swaps the Snapshot, per spec.md §5
// "The subdomain->port map is a single atomically-swapped
// pointer/handle."
func (s *Supervisor) publish() {
	s.serial++
	services := make(map[string]State, len(s.services))
	routes := map[string]int{}
	now := time.Now()
	for name, rt := range s.services {
		st := State{
			Name:       name,
			Phase:      rt.phase,
			PID:        rt.pid,
			Port:       rt.port,
			Subdomain:  rt.spec.Subdomain,
			StartTime:  rt.startTime,
			Generation: rt.generation,
			LastExit:   rt.lastExit,
			LastHealth: rt.lastHealth,
		}
		services[name] = st
		if st.routable() && rt.spec.Subdomain != "" && rt.port != 0 {
			routes[rt.spec.Subdomain] = rt.port
		}
	}
	s.snapshot.Store(Snapshot{Services: services, Routes: routes, Serial: s.serial, Taken: now})
}

// mergeEnv computes parent environment ∪ overlay, overlay wins, and
// injects PORT=<port> when a non-zero port was declared, per spec.md
// §4.2 "Spawn" and §6 "Environment".
func mergeEnv(overlay map[string]string, port int) []string {
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range overlay {
		merged[k] = v
	}
	if port != 0 {
		merged["PORT"] = fmt.Sprintf("%d", port)
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

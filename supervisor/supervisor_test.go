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

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package supervisor

import (
	"testing"
	"time"

	"github.com/a3s-dev/a3s/logbus"
	"github.com/sirupsen/logrus"

	. "github.com/smartystreets/goconvey/convey"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l.WithField("test", true)
}

func waitForPhase(t *testing.T, s *Supervisor, name string, phase Phase, within time.Duration) State {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if st, ok := s.Snapshot().Services[name]; ok && st.Phase == phase {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("service %q never reached phase %q (last: %+v)", name, phase, s.Snapshot().Services[name])
	return State{}
}

func TestSupervisorStartsDependenciesInOrder(t *testing.T) {
	Convey("Given api depends_on db, both with no health spec", t, func() {
		bus := logbus.New(0)
		db := &Spec{Name: "db", Command: "sleep 2", Port: 19001}
		api := &Spec{Name: "api", Command: "sleep 2", DependsOn: []string{"db"}, Port: 19002}
		s := New([]*Spec{db, api}, bus, testLog(), 0)
		go s.Run()
		defer s.Shutdown()

		Convey("up brings db running before api", func() {
			if err := s.Up(nil); err != nil {
				t.Fatalf("up: %v", err)
			}
			dbState := waitForPhase(t, s, "db", PhaseRunning, 2*time.Second)
			apiState := waitForPhase(t, s, "api", PhaseRunning, 2*time.Second)

			So(dbState.StartTime.Before(apiState.StartTime) || dbState.StartTime.Equal(apiState.StartTime), ShouldBeTrue)
			So(dbState.PID, ShouldNotEqual, 0)
			So(apiState.PID, ShouldNotEqual, 0)
		})
	})
}

func TestSupervisorDependencyFailureBlocksDependent(t *testing.T) {
	Convey("Given db that exits immediately and api depending on it", t, func() {
		bus := logbus.New(0)
		db := &Spec{Name: "db", Command: "exit 1"}
		api := &Spec{Name: "api", Command: "sleep 2", DependsOn: []string{"db"}}
		s := New([]*Spec{db, api}, bus, testLog(), 0)
		go s.Run()
		defer s.Shutdown()

		Convey("db fails and api remains pending with dependency-failed", func() {
			if err := s.Up(nil); err != nil {
				t.Fatalf("up: %v", err)
			}
			waitForPhase(t, s, "db", PhaseFailed, 2*time.Second)

			time.Sleep(100 * time.Millisecond)
			apiState := s.Snapshot().Services["api"]
			So(apiState.Phase, ShouldEqual, PhasePending)
			So(apiState.LastExit, ShouldNotBeNil)
			So(apiState.LastExit.Reason, ShouldEqual, "dependency-failed")
		})
	})
}

func TestSupervisorDownStopsInReverseOrder(t *testing.T) {
	Convey("Given a running db/api pair", t, func() {
		bus := logbus.New(0)
		db := &Spec{Name: "db", Command: "sleep 5", Port: 19003}
		api := &Spec{Name: "api", Command: "sleep 5", DependsOn: []string{"db"}, Port: 19004}
		s := New([]*Spec{db, api}, bus, testLog(), 0)
		go s.Run()
		defer s.Shutdown()

		if err := s.Up(nil); err != nil {
			t.Fatalf("up: %v", err)
		}
		waitForPhase(t, s, "api", PhaseRunning, 2*time.Second)

		Convey("down reaps api before db", func() {
			if err := s.Down(nil); err != nil {
				t.Fatalf("down: %v", err)
			}
			// db must never be seen stopped while api is not yet stopped.
			deadline := time.Now().Add(3 * time.Second)
			for time.Now().Before(deadline) {
				snap := s.Snapshot().Services
				if snap["db"].Phase == PhaseStopped {
					So(snap["api"].Phase, ShouldEqual, PhaseStopped)
					break
				}
				time.Sleep(time.Millisecond)
			}
			waitForPhase(t, s, "api", PhaseStopped, 3*time.Second)
			waitForPhase(t, s, "db", PhaseStopped, 3*time.Second)
			So(true, ShouldBeTrue)
		})
	})
}

func TestSupervisorExplicitRestartChangesPID(t *testing.T) {
	Convey("Given a running service", t, func() {
		bus := logbus.New(0)
		web := &Spec{Name: "web", Command: "sleep 5", Port: 19005}
		s := New([]*Spec{web}, bus, testLog(), 0)
		go s.Run()
		defer s.Shutdown()

		if err := s.Up(nil); err != nil {
			t.Fatalf("up: %v", err)
		}
		before := waitForPhase(t, s, "web", PhaseRunning, 2*time.Second)

		Convey("restart reaps the old child and spawns a new one", func() {
			if err := s.Restart("web"); err != nil {
				t.Fatalf("restart: %v", err)
			}
			after := waitForPhase(t, s, "web", PhaseRunning, 3*time.Second)
			So(after.Generation, ShouldBeGreaterThan, before.Generation)
			So(after.PID, ShouldNotEqual, before.PID)
		})
	})
}

func TestSupervisorRestartCoalescing(t *testing.T) {
	Convey("Given a running service", t, func() {
		bus := logbus.New(0)
		web := &Spec{Name: "web", Command: "sleep 5", Port: 19005}
		s := New([]*Spec{web}, bus, testLog(), 0)
		go s.Run()
		defer s.Shutdown()

		if err := s.Up(nil); err != nil {
			t.Fatalf("up: %v", err)
		}
		waitForPhase(t, s, "web", PhaseRunning, 2*time.Second)

		Convey("K restarts fired while one is in flight coalesce to at most one rearm", func() {
			for i := 0; i < 5; i++ {
				_ = s.Restart("web")
			}
			first := waitForPhase(t, s, "web", PhaseRunning, 5*time.Second)
			gen1 := first.Generation

			time.Sleep(300 * time.Millisecond)
			final := s.Snapshot().Services["web"]
			// At most one rearm beyond the in-flight cycle: once a running
			// generation has been observed, at most one more cycle follows.
			So(final.Generation, ShouldBeLessThanOrEqualTo, gen1+1)
			So(final.Phase, ShouldEqual, PhaseRunning)
		})
	})
}

func TestSupervisorLogBusReceivesServiceOutput(t *testing.T) {
	Convey("Given a service that writes a line and exits", t, func() {
		bus := logbus.New(0)
		echoer := &Spec{Name: "echoer", Command: "echo hello-from-echoer", Port: 19999}
		s := New([]*Spec{echoer}, bus, testLog(), 0)
		go s.Run()
		defer s.Shutdown()

		Convey("the line lands in that service's ring", func() {
			if err := s.Up(nil); err != nil {
				t.Fatalf("up: %v", err)
			}
			waitForPhase(t, s, "echoer", PhaseFailed, 2*time.Second) // no health spec + exits -> unexpected-exit -> failed

			var lines []string
			deadline := time.Now().Add(time.Second)
			for time.Now().Before(deadline) {
				lines = nil
				for _, e := range bus.History("echoer") {
					lines = append(lines, e.Line)
				}
				if len(lines) > 0 {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			So(lines, ShouldContain, "hello-from-echoer")
		})
	})
}

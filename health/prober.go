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

// Package health implements the bounded probe loop of spec.md §4.3. The
// Checker interface and the HTTP/TCP implementations are grounded on
// matgreaves-rig's internal/server/ready package; the interval/retries/
// give-up state machine generalizes rig's single Poll-until-ready call
// into the supervisor's continuous healthy/unhealthy/gave-up lifecycle.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/a3s-dev/a3s/errorkit"
)

// Kind selects the probe mechanism, per spec.md §3 "health spec".
type Kind string

const (
	KindHTTP Kind = "http"
	KindTCP  Kind = "tcp"
)

// Spec is the declared health-check configuration for one service.
type Spec struct {
	Kind     Kind
	Path     string // used when Kind == KindHTTP
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

// Checker performs a single probe against host:port.
type Checker interface {
	Check(ctx context.Context, addr string) error
}

// HTTPChecker issues GET http://addr<Path> and passes on 2xx/3xx, per
// spec.md §4.3 "HTTP probe".
type HTTPChecker struct {
	Path string
}

func (h HTTPChecker) Check(ctx context.Context, addr string) error {
	path := h.Path
	if path == "" {
		path = "/"
	}
	url := fmt.Sprintf("http://%s%s", addr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errorkit.New(errorkit.KindProbeTimeout, "", err)
		}
		return errorkit.New(errorkit.KindProbeRefused, "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return errorkit.New(errorkit.KindProbeBadStatus, "", fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	return nil
}

// TCPChecker succeeds if a TCP connect to addr completes within the
// caller's deadline, per spec.md §4.3 "TCP probe".
type TCPChecker struct{}

func (TCPChecker) Check(ctx context.Context, addr string) error {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errorkit.New(errorkit.KindProbeTimeout, "", err)
		}
		return errorkit.New(errorkit.KindProbeRefused, "", err)
	}
	conn.Close()
	return nil
}

func checkerFor(spec Spec) Checker {
	if spec.Kind == KindHTTP {
		return HTTPChecker{Path: spec.Path}
	}
	return TCPChecker{}
}

// Event is what the prober emits to the supervisor, per spec.md §4.3
// "Contract".
type Event struct {
	Kind   EventKind
	Reason error
}

type EventKind string

const (
	EventHealthy   EventKind = "healthy"
	EventUnhealthy EventKind = "unhealthy"
	EventGaveUp    EventKind = "gave_up"
)

// Run drives the probe loop for one service generation until ctx is
// cancelled, emitting Events on events. If spec is the zero Spec (no
// health declared), it emits a single EventHealthy and returns
// immediately, per spec.md §4.3 "No health spec".
//
// Run owns no state across calls: the supervisor starts a fresh Run per
// (re)spawn, scoped to that generation's context, per spec.md §5
// "Resource lifetime".
func Run(ctx context.Context, addr string, spec Spec, events chan<- Event) {
	if spec.Kind == "" {
		select {
		case events <- Event{Kind: EventHealthy}:
		case <-ctx.Done():
		}
		return
	}

	interval := spec.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	retries := spec.Retries
	if retries <= 0 {
		retries = 3
	}

	checker := checkerFor(spec)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	everSucceeded := false
	degraded := false
	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		err := checker.Check(probeCtx, addr)
		cancel()

		if err == nil {
			consecutiveFailures = 0
			switch {
			case !everSucceeded:
				everSucceeded = true
				if !emit(ctx, events, Event{Kind: EventHealthy}) {
					return
				}
			case degraded:
				// Recovery after transient failures: unhealthy -> running.
				degraded = false
				if !emit(ctx, events, Event{Kind: EventHealthy}) {
					return
				}
			}
		} else {
			consecutiveFailures++
			if consecutiveFailures >= retries {
				emit(ctx, events, Event{Kind: EventGaveUp, Reason: err})
				return
			}
			if everSucceeded {
				degraded = true
				if !emit(ctx, events, Event{Kind: EventUnhealthy, Reason: err}) {
					return
				}
			}
		}

		timer.Reset(interval)
	}
}

func emit(ctx context.Context, events chan<- Event, e Event) bool {
	select {
	case events <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

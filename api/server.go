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

// Package api is the control API of spec.md §4.7. Its Handler/Error
// shape (a gorilla/mux router wrapping one manager object, JSON error
// bodies) is grounded on the teacher's rest package (rest/server.go,
// rest/common.go); the vocabulary is generalized from the teacher's
// enable/disable/clear/log surface to spec.md §4.7's
// status/history/logs/restart/stop surface. The /api/logs SSE
// handler is grounded on matgreaves-rig's internal/server/sse.go
// (flusher-based loop, id/data framing), minus its
// Last-Event-ID resume, per spec.md §4.7 "the server makes no attempt
// at event-id-based replay."
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/a3s-dev/a3s/errorkit"
	"github.com/a3s-dev/a3s/logbus"
	"github.com/a3s-dev/a3s/supervisor"
	"github.com/gorilla/mux"
)

const mimeJSON = "application/json; charset=UTF-8"

// Error is the structured JSON error body spec.md §7 requires for
// every /api/* failure.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Commander is the subset of *supervisor.Supervisor the control API
// drives. Narrowed to an interface so handlers are testable against a
// fake.
type Commander interface {
	Snapshot() supervisor.Snapshot
	Restart(name string) error
	Down(names []string) error
}

// StatusEntry is one row of GET /api/status, per spec.md §4.7.
type StatusEntry struct {
	Name       string  `json:"name"`
	State      string  `json:"state"`
	PID        int     `json:"pid,omitempty"`
	Port       int     `json:"port"`
	Subdomain  string  `json:"subdomain,omitempty"`
	UptimeSecs float64 `json:"uptime_secs,omitempty"`
	ProxyPort  int     `json:"proxy_port"`
}

// Handler implements http.Handler and exposes the surface of spec.md
// §4.7, plus serving the embedded static UI bundle at "/".
type Handler struct {
	sup       Commander
	bus       *logbus.Bus
	proxyPort int
	assets    http.FileSystem
	router    *mux.Router
}

// New builds a Handler. assets may be nil, in which case "/" serves a
// minimal placeholder instead of a missing UI bundle.
func New(sup Commander, bus *logbus.Bus, proxyPort int, assets http.FileSystem) *Handler {
	h := &Handler{sup: sup, bus: bus, proxyPort: proxyPort, assets: assets}
	r := mux.NewRouter()
	r.HandleFunc("/api/status", h.getStatus).Methods("GET")
	r.HandleFunc("/api/history", h.getHistory).Methods("GET")
	r.HandleFunc("/api/logs", h.getLogs).Methods("GET")
	r.HandleFunc("/api/restart/{service}", h.postRestart).Methods("POST")
	r.HandleFunc("/api/stop/{service}", h.postStop).Methods("POST")
	r.PathPrefix("/").Handler(h.staticHandler())
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", mimeJSON)
	w.Write(b)
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	b, _ := json.Marshal(&Error{Code: code, Message: msg})
	w.Header().Set("Content-Type", mimeJSON)
	w.WriteHeader(code)
	w.Write(b)
}

// getStatus implements "GET /api/status -> current status snapshot",
// per spec.md §4.7.
func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.sup.Snapshot()
	now := time.Now()
	out := make([]StatusEntry, 0, len(snap.Services))
	for _, st := range snap.Services {
		e := StatusEntry{
			Name:      st.Name,
			State:     string(st.Phase),
			PID:       st.PID,
			Port:      st.Port,
			Subdomain: st.Subdomain,
			ProxyPort: h.proxyPort,
		}
		if u := st.Uptime(now); u > 0 {
			e.UptimeSecs = u.Seconds()
		}
		out = append(out, e)
	}
	h.writeJSON(w, out)
}

// getHistory implements "GET /api/history?service=<name>? -> recent
// ring contents, oldest-first", per spec.md §4.7.
func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	h.writeJSON(w, h.bus.History(service))
}

// getLogs implements the "GET /api/logs?service=<name>? -> Server-
// Sent-Events stream" of spec.md §4.7, grounded on matgreaves-rig's
// sse.go framing.
func (h *Handler) getLogs(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	service := r.URL.Query().Get("service")
	ch := h.bus.Subscribe(r.Context(), logbus.ServiceFilter(service))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for entry := range ch {
		if err := writeSSEEvent(w, flusher, entry); err != nil {
			return
		}
	}
}

type logEvent struct {
	Service string `json:"service"`
	Line    string `json:"line"`
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, e logbus.Entry) error {
	data, err := json.Marshal(logEvent{Service: e.Service, Line: e.Line})
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("id: " + strconv.FormatInt(e.ID, 10) + "\ndata: " + string(data) + "\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// postRestart implements "POST /api/restart/<name> -> enqueues a
// restart; returns 202 once accepted", per spec.md §4.7. It is
// idempotent for a stopped service, which Supervisor.Restart already
// re-enters the start sequence for, per spec.md's "Mutating endpoints"
// note.
func (h *Handler) postRestart(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["service"]
	if err := h.sup.Restart(name); err != nil {
		h.writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// postStop implements "POST /api/stop/<name> -> enqueues a stop;
// returns 202", per spec.md §4.7.
func (h *Handler) postStop(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["service"]
	if err := h.sup.Down([]string{name}); err != nil {
		h.writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// writeCommandError maps a supervisor command error to the status
// codes spec.md §7 requires: "404 for unknown service, 409 when the
// requested transition is impossible."
func (h *Handler) writeCommandError(w http.ResponseWriter, err error) {
	if errorkit.Is(err, errorkit.KindConfigInvalid) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeError(w, http.StatusConflict, err.Error())
}

// staticHandler serves the embedded UI bundle at "/" and "/*", per
// spec.md §4.7. The config/package-manager/UI-asset collaborators are
// out of scope (spec.md §1), so a nil assets filesystem serves a short
// placeholder rather than a built UI.
func (h *Handler) staticHandler() http.Handler {
	if h.assets == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write([]byte("a3s control API: UI bundle not embedded in this build\n"))
		})
	}
	return http.FileServer(h.assets)
}

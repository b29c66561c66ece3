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

package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
)

type fakeRoutes map[string]int

func (f fakeRoutes) Routes() map[string]int { return f }

func backendPort(t *testing.T, body string) (int, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return port, srv.Close
}

func TestProxyForwardsBySubdomain(t *testing.T) {
	port, closeFn := backendPort(t, "hello from api")
	defer closeFn()

	p := New(fakeRoutes{"api": port}, nil)
	srv := httptest.NewServer(p)
	defer srv.Close()

	req, _ := http.NewRequest("GET", srv.URL+"/x", nil)
	req.Host = "api.localhost"
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestProxyReturns404ForUnknownSubdomain(t *testing.T) {
	p := New(fakeRoutes{}, nil)
	srv := httptest.NewServer(p)
	defer srv.Close()

	req, _ := http.NewRequest("GET", srv.URL+"/", nil)
	req.Host = "unknown.localhost"
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestLeftmostLabel(t *testing.T) {
	cases := map[string]string{
		"api.localhost":      "api",
		"api.localhost:7080":  "api",
		"db":                  "db",
	}
	for host, want := range cases {
		if got := leftmostLabel(host); got != want {
			t.Errorf("leftmostLabel(%q) = %q, want %q", host, got, want)
		}
	}
}

func TestIsWebSocketUpgrade(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if isWebSocketUpgrade(r) {
		t.Error("plain request should not be detected as a websocket upgrade")
	}
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")
	if !isWebSocketUpgrade(r) {
		t.Error("Connection: Upgrade + Upgrade: websocket should be detected")
	}
}

func TestWriteRouteMissListsKnownSubdomains(t *testing.T) {
	p := New(fakeRoutes{"api": 1, "db": 2}, nil)
	w := httptest.NewRecorder()
	p.writeRouteMiss(w, "unknown", fakeRoutes{"api": 1, "db": 2})

	body := w.Body.String()
	if !strings.Contains(body, "api") || !strings.Contains(body, "db") {
		t.Errorf("route-miss body %q does not list known subdomains", body)
	}
}

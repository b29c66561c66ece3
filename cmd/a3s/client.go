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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// client is a minimal REST client against a running `up`'s control
// API, grounded on the teacher's rest.Client (govisor's
// client/daemon split) but stripped of its etag long-poll caching,
// which spec.md §4.7 has no equivalent for.
//
// It keeps two http.Clients: http carries the 5s budget used by the
// one-shot status/restart/stop calls, while stream has no overall
// Timeout at all, since http.Client.Timeout bounds reading the
// response body and would forcibly cut off the long-lived
// /api/logs SSE tail.
type client struct {
	base   string
	http   *http.Client
	stream *http.Client
}

func newClient(uiPort int) *client {
	return &client{
		base:   fmt.Sprintf("http://127.0.0.1:%d", uiPort),
		http:   &http.Client{Timeout: 5 * time.Second},
		stream: &http.Client{},
	}
}

type statusEntry struct {
	Name       string  `json:"name"`
	State      string  `json:"state"`
	PID        int     `json:"pid,omitempty"`
	Port       int     `json:"port"`
	Subdomain  string  `json:"subdomain,omitempty"`
	UptimeSecs float64 `json:"uptime_secs,omitempty"`
	ProxyPort  int     `json:"proxy_port"`
}

func (c *client) status() ([]statusEntry, error) {
	resp, err := c.http.Get(c.base + "/api/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status: unexpected HTTP %d (is `a3s up` running?)", resp.StatusCode)
	}
	var entries []statusEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *client) restart(name string) error {
	return c.post("/api/restart/" + name)
}

func (c *client) stop(name string) error {
	return c.post("/api/stop/" + name)
}

func (c *client) post(path string) error {
	resp, err := c.http.Post(c.base+path, "text/plain", bytes.NewReader(nil))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// streamLogs opens /api/logs and invokes onLine for every {"service",
// "line"} payload, per spec.md §4.7's SSE framing.
func (c *client) streamLogs(service string, onLine func(service, line string)) error {
	url := c.base + "/api/logs"
	if service != "" {
		url += "?service=" + service
	}
	resp, err := c.stream.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logs: unexpected HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Service string `json:"service"`
		Line    string `json:"line"`
	}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			continue
		}
		onLine(payload.Service, payload.Line)
	}
	return scanner.Err()
}

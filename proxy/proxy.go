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

// Package proxy implements the leftmost-label subdomain reverse proxy
// of spec.md §4.6. It is grounded on elitan-lightform's
// packages/proxy/internal/router (Router.ServeHTTP's host lookup,
// per-target httputil.ReverseProxy cache, X-Forwarded-* header
// injection, hijack-and-tunnel WebSocket handling), generalized from
// lightform's full-hostname state lookup to a3s's leftmost-label
// subdomain map, and from a mutable host table to the supervisor's
// atomically-swapped Snapshot.
package proxy

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/a3s-dev/a3s/errorkit"
	"github.com/sirupsen/logrus"
)

// RouteSource is satisfied by *supervisor.Supervisor. It decouples the
// proxy from the supervisor package so proxy can be tested with a
// fake table.
type RouteSource interface {
	Routes() map[string]int
}

// Proxy forwards requests to services by subdomain, per spec.md §4.6.
// The zero value is not usable; construct with New.
type Proxy struct {
	routes RouteSource
	log    *logrus.Entry

	mu      sync.Mutex
	cached  map[string]*httputil.ReverseProxy // target "127.0.0.1:port" -> proxy
}

// New constructs a Proxy that consults routes for the current
// subdomain -> port map on every request, per spec.md §4.6 "Snapshot
// freshness".
func New(routes RouteSource, log *logrus.Entry) *Proxy {
	return &Proxy{routes: routes, log: log, cached: map[string]*httputil.ReverseProxy{}}
}

// ServeHTTP implements spec.md §4.6: extract the leftmost Host label,
// look it up in the current route map, and either 404 or forward.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	routes := p.routes.Routes()

	label := leftmostLabel(r.Host)
	port, ok := routes[label]
	if !ok {
		p.writeRouteMiss(w, label, routes)
		return
	}

	target := fmt.Sprintf("127.0.0.1:%d", port)

	if isWebSocketUpgrade(r) {
		p.tunnelWebSocket(w, r, target)
		return
	}

	rp := p.proxyFor(target)
	addForwardedFor(r, clientIP(r))
	r.Header.Set("X-Forwarded-Host", r.Host)
	r.Header.Set("X-Forwarded-Proto", proto(r))
	rp.ServeHTTP(w, r)
}

// writeRouteMiss implements spec.md §7 "route-miss: proxy request for
// unknown subdomain; returned as HTTP 404" with the short listing
// §4.6 describes.
func (p *Proxy) writeRouteMiss(w http.ResponseWriter, label string, routes map[string]int) {
	names := make([]string, 0, len(routes))
	for name := range routes {
		names = append(names, name)
	}
	if p.log != nil {
		err := errorkit.New(errorkit.KindRouteMiss, label, nil)
		p.log.WithField("known", names).Debug(err.Error())
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, "unknown subdomain; known subdomains: %s\n", strings.Join(names, ", "))
}

// proxyFor returns a cached *httputil.ReverseProxy for target,
// constructing one on first use, per lightform's getOrCreateProxy.
func (p *Proxy) proxyFor(target string) *httputil.ReverseProxy {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rp, ok := p.cached[target]; ok {
		return rp
	}
	rp := p.newReverseProxy(target)
	p.cached[target] = rp
	return rp
}

func (p *Proxy) newReverseProxy(target string) *httputil.ReverseProxy {
	targetURL := &url.URL{Scheme: "http", Host: target}
	rp := httputil.NewSingleHostReverseProxy(targetURL)
	rp.Transport = &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConnsPerHost: 10,
	}
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		if p.log != nil {
			p.log.WithError(err).WithField("target", target).Warn("proxy: upstream error")
		}
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}
	return rp
}

// isWebSocketUpgrade detects an upgrade request: Upgrade is "websocket"
// and Connection is exactly "upgrade" (case-insensitive). A Connection
// header listing several tokens is not matched.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Connection"), "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// tunnelWebSocket hijacks the client connection, forwards the upgrade
// request verbatim to target, and byte-tunnels both directions after
// the 101 handshake, per spec.md §4.6 "WebSocket upgrade requests ...
// handled by byte-tunneling both directions after the 101 handshake."
func (p *Proxy) tunnelWebSocket(w http.ResponseWriter, r *http.Request, target string) {
	backend, err := net.DialTimeout("tcp", target, 10*time.Second)
	if err != nil {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	defer backend.Close()

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "websocket upgrade not supported", http.StatusInternalServerError)
		return
	}
	client, _, err := hijacker.Hijack()
	if err != nil {
		return
	}
	defer client.Close()

	if err := r.Write(backend); err != nil {
		return
	}

	done := make(chan struct{}, 2)
	go func() { io.Copy(backend, client); done <- struct{}{} }()
	go func() { io.Copy(client, backend); done <- struct{}{} }()
	<-done
}

// leftmostLabel takes the Host header (which may carry a port) and
// returns its first dot-separated label, per spec.md §4.6 "takes the
// leftmost label (up to the first .)".
func leftmostLabel(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if i := strings.IndexByte(host, '.'); i >= 0 {
		return host[:i]
	}
	return host
}

func clientIP(r *http.Request) string {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// addForwardedFor appends ip to any inbound X-Forwarded-For rather
// than replacing it, per spec.md §4.6 "adding/merging X-Forwarded-For".
func addForwardedFor(r *http.Request, ip string) {
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		r.Header.Set("X-Forwarded-For", prior+", "+ip)
		return
	}
	r.Header.Set("X-Forwarded-For", ip)
}

func proto(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

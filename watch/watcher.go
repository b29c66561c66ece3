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

// Package watch observes a service's declared path roots and debounces
// bursts of filesystem events into a single "changed" signal, per
// spec.md §4.4. It is grounded on the fsnotify usage pattern in the
// retrieval pack's holla2040-arturo supervisor (other_examples),
// generalized from a single watched directory to N path roots plus an
// ignore list.
package watch

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is the burst-coalescing window of spec.md §4.4.
const DefaultDebounce = 300 * time.Millisecond

// Spec is the declared watch configuration for one service, per
// spec.md §3 "watch spec". Restart gates whether the supervisor acts
// on the Changes() signal at all, per spec.md §4.4 "Interaction": "If
// restart: false, the supervisor ignores signals for that service."
// The Watcher itself is unaware of Restart; it always emits.
type Spec struct {
	Paths    []string
	Ignore   []string
	Debounce time.Duration
	Restart  bool
}

// Watcher emits a "changed" signal on Changes() once per debounced
// burst of filesystem activity under Spec.Paths.
type Watcher struct {
	spec    Spec
	changes chan struct{}
	log     *logrus.Entry
}

// New constructs a Watcher for spec. Run must be started in its own
// goroutine for events to flow.
func New(spec Spec, log *logrus.Entry) *Watcher {
	if spec.Debounce <= 0 {
		spec.Debounce = DefaultDebounce
	}
	return &Watcher{spec: spec, changes: make(chan struct{}, 1), log: log}
}

// Changes returns the channel that receives one value per debounced
// burst. The channel is buffered to 1 so a supervisor that is slow to
// drain it still only sees a coalesced backlog, not a growing queue.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Run watches every path in Spec.Paths (recursively for directories)
// until ctx is cancelled, per spec.md §5 "Resource lifetime" — the
// watcher's live generation is scoped to the context passed in.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	for _, root := range w.spec.Paths {
		if err := addRecursive(fsw, root); err != nil {
			if w.log != nil {
				w.log.WithError(err).WithField("path", root).Warn("watch: failed to add path")
			}
			continue
		}
	}

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.ignored(ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if st, err := statIsDir(ev.Name); err == nil && st {
					_ = fsw.Add(ev.Name)
				}
			}
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(w.spec.Debounce)
				debounceCh = debounceTimer.C
			} else {
				debounceTimer.Reset(w.spec.Debounce)
			}

		case <-debounceCh:
			debounceTimer = nil
			debounceCh = nil
			select {
			case w.changes <- struct{}{}:
			default:
				// A signal is already pending; the burst coalesces into
				// it, per spec.md §8 "Debounce idempotence".
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			if w.log != nil {
				w.log.WithError(err).Warn("watch: fsnotify error")
			}
		}
	}
}

// ignored reports whether path matches any configured ignore prefix or
// glob, per spec.md §4.4 "Events whose path matches any ignore prefix
// or glob are discarded before debouncing."
func (w *Watcher) ignored(path string) bool {
	for _, pattern := range w.spec.Ignore {
		if strings.HasPrefix(path, pattern) {
			return true
		}
		if ok, err := filepath.Match(pattern, filepath.Base(path)); err == nil && ok {
			return true
		}
		if ok, err := filepath.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

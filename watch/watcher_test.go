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

package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestWatcherDebouncesBurstIntoOneSignal(t *testing.T) {
	Convey("Given a watcher on a fresh directory", t, func() {
		dir := t.TempDir()
		w := New(Spec{Paths: []string{dir}, Debounce: 50 * time.Millisecond}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		Convey("a burst of writes within the debounce window collapses into one signal", func() {
			for i := 0; i < 10; i++ {
				writeFile(t, filepath.Join(dir, "a.txt"), "x")
			}

			var signals int
			deadline := time.After(time.Second)
			draining := true
			for draining {
				select {
				case <-w.Changes():
					signals++
					// keep draining briefly to prove no second signal
					// trails the first within a debounce window.
					select {
					case <-time.After(200 * time.Millisecond):
						draining = false
					case <-w.Changes():
						signals++
						draining = false
					}
				case <-deadline:
					draining = false
				}
			}

			So(signals, ShouldEqual, 1)
		})
	})
}

func TestWatcherIgnoresConfiguredPatterns(t *testing.T) {
	Convey("Given a watcher that ignores *.log files", t, func() {
		dir := t.TempDir()
		w := New(Spec{Paths: []string{dir}, Ignore: []string{"*.log"}, Debounce: 30 * time.Millisecond}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		Convey("writes to an ignored file never produce a signal", func() {
			writeFile(t, filepath.Join(dir, "noisy.log"), "ignored")

			select {
			case <-w.Changes():
				t.Fatal("expected no signal for an ignored path")
			case <-time.After(300 * time.Millisecond):
			}

			So(true, ShouldBeTrue)
		})
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

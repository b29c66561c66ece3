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

package logbus

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestBusOrderingAndHistory(t *testing.T) {
	Convey("Given a bus with a small ring", t, func() {
		b := New(3)

		Convey("Publishing more lines than the ring size evicts the oldest", func() {
			for i := 0; i < 5; i++ {
				b.Publish("web", "line")
			}
			hist := b.History("web")
			So(len(hist), ShouldEqual, 3)
			So(hist[len(hist)-1].ID, ShouldEqual, 5)
		})

		Convey("A subscriber observes entries in publish order", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			ch := b.Subscribe(ctx, nil)

			b.Publish("a", "one")
			b.Publish("b", "two")
			b.Publish("a", "three")

			var ids []int64
			for i := 0; i < 3; i++ {
				select {
				case e := <-ch:
					ids = append(ids, e.ID)
				case <-time.After(time.Second):
					t.Fatal("timed out waiting for entry")
				}
			}
			So(ids, ShouldResemble, []int64{1, 2, 3})
		})

		Convey("A service filter only observes its own service", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			ch := b.Subscribe(ctx, ServiceFilter("a"))

			b.Publish("b", "ignored")
			b.Publish("a", "seen")

			select {
			case e := <-ch:
				So(e.Service, ShouldEqual, "a")
				So(e.Line, ShouldEqual, "seen")
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for entry")
			}
		})

		Convey("Cancelling the context eventually closes the channel", func() {
			ctx, cancel := context.WithCancel(context.Background())
			ch := b.Subscribe(ctx, nil)
			cancel()

			select {
			case _, ok := <-ch:
				So(ok, ShouldBeFalse)
			case <-time.After(time.Second):
				t.Fatal("subscriber channel never closed")
			}
		})
	})
}

func TestBusSlowSubscriberDropped(t *testing.T) {
	b := New(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, nil)

	for i := 0; i < DefaultSubscriberSlack+10; i++ {
		b.Publish("svc", "line")
	}

	// The channel should have been closed once the slack was exceeded.
	drained := false
	for !drained {
		select {
		case _, ok := <-ch:
			if !ok {
				drained = true
			}
		case <-time.After(time.Second):
			t.Fatal("expected slow subscriber to be dropped (channel closed)")
		}
	}
}

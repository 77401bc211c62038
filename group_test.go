// Copyright 2026 The Govisor Authors
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

package vizier

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestGroupNoEarlyAbort(t *testing.T) {
	Convey("Given a group with a fast success and a slow failure", t, func() {
		a := shStep("A", "/bin/true")
		b := shStep("B", "/bin/false")
		b.Retry = RetryPolicy{Retries: 2, Delay: 20 * time.Millisecond}
		g := Group{a, b}
		rt, _ := testRuntime(NewStepGraph(g))
		gs := NewGroupScheduler(rt)

		out := gs.Run(context.Background(), 0, g)

		Convey("The group resolves only after B's third attempt", func() {
			st, _ := rt.State.Step("B")
			So(st.Attempts, ShouldEqual, 3)
			So(st.Status, ShouldEqual, StatusFailed)
			So(len(out.Outcomes), ShouldEqual, 2)
			So(out.Outcomes[0].Succeeded(), ShouldBeTrue)
			So(out.Outcomes[1].Attempts, ShouldEqual, 3)
		})
		Convey("The aggregate error names the failed step", func() {
			So(out.Succeeded(), ShouldBeFalse)
			var ef *ExecutionFailure
			So(errors.As(out.Err(), &ef), ShouldBeTrue)
			So(ef.Step, ShouldEqual, "B")
		})
	})
}

func TestGroupIgnoreError(t *testing.T) {
	Convey("A suppressed failure leaves the group successful", t, func() {
		a := shStep("A", "exit 2")
		a.IgnoreError = true
		g := Group{a, shStep("B", "/bin/true")}
		rt, ts := testRuntime(NewStepGraph(g))
		out := NewGroupScheduler(rt).Run(context.Background(), 0, g)

		So(out.Succeeded(), ShouldBeTrue)
		So(out.Err(), ShouldBeNil)
		st, _ := rt.State.Step("A")
		So(st.Suppressed, ShouldBeTrue)
		So(st.History[0].Result.Code, ShouldEqual, 2)
		So(ts.Contains("A", "exited with code 2"), ShouldBeTrue)
	})
}

func TestGroupParallel(t *testing.T) {
	Convey("Given a group with a parallel service", t, func() {
		svc := shStep("svc", "sleep 3600")
		svc.Parallel = true
		g := Group{svc, shStep("init", "/bin/true")}
		rt, _ := testRuntime(NewStepGraph(g))
		gs := NewGroupScheduler(rt)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		t0 := time.Now()
		out := gs.Run(ctx, 0, g)

		Convey("The group does not wait for it", func() {
			So(time.Since(t0), ShouldBeLessThan, 5*time.Second)
			So(out.Succeeded(), ShouldBeTrue)
			So(len(out.Outcomes), ShouldEqual, 1)
			So(gs.Running(), ShouldEqual, 1)
			So(eventually(5*time.Second, func() bool {
				return rt.State.Live() == 1
			}), ShouldBeTrue)
		})

		Convey("It is stopped by cancellation", func() {
			cancel()
			wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer wcancel()
			So(gs.Wait(wctx), ShouldBeTrue)
			So(gs.Running(), ShouldEqual, 0)
			p := gs.Parallel()
			So(len(p), ShouldEqual, 1)
			So(p[0].Step, ShouldEqual, "svc")
			So(p[0].Cancelled, ShouldBeTrue)
		})
	})
}

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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func runStep(s *Step) (StepOutcome, *Runtime, *testSink) {
	rt, ts := testRuntime(NewStepGraph(Group{s}))
	return NewStepRunner(s, rt).Run(context.Background()), rt, ts
}

func TestStepSuccess(t *testing.T) {
	Convey("A step that succeeds runs once", t, func() {
		o, rt, ts := runStep(shStep("ok", "/bin/true"))
		So(o.Succeeded(), ShouldBeTrue)
		So(o.Attempts, ShouldEqual, 1)
		So(o.Suppressed, ShouldBeFalse)
		So(o.Failure, ShouldBeNil)
		So(o.Reason(), ShouldEqual, "Succeeded")

		st, ok := rt.State.Step("ok")
		So(ok, ShouldBeTrue)
		So(st.Status, ShouldEqual, StatusSucceeded)
		So(len(st.History), ShouldEqual, 1)

		So(ts.Contains("ok", "Starting attempt 1"), ShouldBeTrue)
		So(ts.Contains("ok", "$ /bin/true"), ShouldBeTrue)
		So(ts.Contains("ok", "Attempt 1 exited with code 0"), ShouldBeTrue)
		So(ts.Contains("ok", "Succeeded after 1 attempt(s)"), ShouldBeTrue)
	})
}

func TestStepRetries(t *testing.T) {
	Convey("A failing step with two retries is attempted three times", t, func() {
		s := shStep("fail", "/bin/false")
		s.Retry = RetryPolicy{Retries: 2}
		o, rt, ts := runStep(s)

		So(o.Succeeded(), ShouldBeFalse)
		So(o.Attempts, ShouldEqual, 3)
		var ef *ExecutionFailure
		So(errors.As(o.Err, &ef), ShouldBeTrue)
		So(ef.Attempts, ShouldEqual, 3)
		So(ef.Result.Code, ShouldEqual, 1)

		st, _ := rt.State.Step("fail")
		So(st.Status, ShouldEqual, StatusFailed)
		So(len(st.History), ShouldEqual, 3)
		So(ts.Contains("fail", "Restarting in"), ShouldBeTrue)

		recs := ts.Records("fail", StreamLifecycle)
		last := recs[len(recs)-1]
		So(last.Text, ShouldContainSubstring, "Failed after 3 attempt(s) with code 1")
		So(last.Level, ShouldEqual, LevelError)
	})

	Convey("The retry delay applies between attempts", t, func() {
		s := shStep("slow", "/bin/false")
		s.Retry = RetryPolicy{Retries: 1, Delay: 100 * time.Millisecond}
		o, rt, _ := runStep(s)
		So(o.Attempts, ShouldEqual, 2)
		st, _ := rt.State.Step("slow")
		gap := st.History[1].Start.Sub(st.History[0].End)
		So(gap, ShouldBeGreaterThanOrEqualTo, 100*time.Millisecond)
	})
}

func TestStepIgnoreError(t *testing.T) {
	Convey("Given a failing step with ignore_error", t, func() {
		s := shStep("ignored", "exit 4", "echo second")
		s.IgnoreError = true
		s.Retry = RetryPolicy{Retries: 1}
		o, rt, ts := runStep(s)

		Convey("It reports success upward", func() {
			So(o.Succeeded(), ShouldBeTrue)
			So(o.Err, ShouldBeNil)
			So(o.Suppressed, ShouldBeTrue)
			So(o.Attempts, ShouldEqual, 2)
		})
		Convey("The failure is kept for diagnostics", func() {
			var ef *ExecutionFailure
			So(errors.As(o.Failure, &ef), ShouldBeTrue)
			So(ef.Result.Code, ShouldEqual, 4)
			st, _ := rt.State.Step("ignored")
			So(st.Suppressed, ShouldBeTrue)
			So(st.Last.Code, ShouldEqual, 4)
			So(ts.Contains("ignored", "ignoring error"), ShouldBeTrue)
		})
		Convey("Later commands still run", func() {
			So(ts.Texts("ignored", StreamStdout), ShouldResemble,
				[]string{"second", "second"})
		})
	})

	Convey("Without ignore_error the attempt short-circuits", t, func() {
		o, _, ts := runStep(shStep("short", "exit 4", "echo second"))
		So(o.Succeeded(), ShouldBeFalse)
		So(ts.Texts("short", StreamStdout), ShouldBeEmpty)
	})
}

func TestStepDelay(t *testing.T) {
	Convey("The start delay is honored on the first launch", t, func() {
		s := shStep("delayed", "/bin/true")
		s.Delay = 100 * time.Millisecond
		t0 := time.Now()
		o, rt, _ := runStep(s)
		So(o.Succeeded(), ShouldBeTrue)
		st, _ := rt.State.Step("delayed")
		So(st.History[0].Start.Sub(t0), ShouldBeGreaterThanOrEqualTo, 100*time.Millisecond)
	})

	Convey("Cancellation wakes a step sleeping on its delay", t, func() {
		s := shStep("sleepy", "/bin/true")
		s.Delay = time.Hour
		rt, _ := testRuntime(NewStepGraph(Group{s}))
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		t0 := time.Now()
		o := NewStepRunner(s, rt).Run(ctx)
		So(time.Since(t0), ShouldBeLessThan, 5*time.Second)
		So(o.Cancelled, ShouldBeTrue)
		So(o.Attempts, ShouldEqual, 0)
		So(errors.Is(o.Err, ErrTerminationRequested), ShouldBeTrue)
		So(o.Reason(), ShouldEqual, "Terminated")
	})
}

func TestStepCancel(t *testing.T) {
	Convey("Cancelling a running step terminates its process", t, func() {
		s := shStep("long", "sleep 3600")
		rt, _ := testRuntime(NewStepGraph(Group{s}))
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			eventually(5*time.Second, func() bool { return rt.State.Live() == 1 })
			cancel()
		}()
		o := NewStepRunner(s, rt).Run(ctx)
		So(o.Cancelled, ShouldBeTrue)
		So(o.Attempts, ShouldEqual, 1)
		So(rt.State.Live(), ShouldEqual, 0)
		st, _ := rt.State.Step("long")
		So(st.Status, ShouldEqual, StatusFailed)
	})

	Convey("A step with always is relaunched until cancelled", t, func() {
		s := shStep("service", "/bin/true")
		s.Retry = RetryPolicy{Always: true, Delay: 5 * time.Millisecond}
		rt, _ := testRuntime(NewStepGraph(Group{s}))
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		o := NewStepRunner(s, rt).Run(ctx)
		So(o.Cancelled, ShouldBeTrue)
		So(o.Attempts, ShouldBeGreaterThan, 1)
		So(o.Last.Success(), ShouldBeTrue)
	})
}

func TestStepSpawnFailure(t *testing.T) {
	Convey("A spawn failure counts as a failed attempt", t, func() {
		s := shStep("nosh", "true")
		s.Shell = "/nonexistent/vizier-sh"
		s.Retry = RetryPolicy{Retries: 1}
		o, _, _ := runStep(s)
		So(o.Attempts, ShouldEqual, 2)
		So(o.Succeeded(), ShouldBeFalse)
		So(o.Last.Spawned(), ShouldBeFalse)
		var se *SpawnError
		So(errors.As(o.Err, &se), ShouldBeTrue)
		So(isSpawnFailure(o.Err), ShouldBeTrue)
	})
}

func TestStepScript(t *testing.T) {
	Convey("Given a script template", t, func() {
		dir := t.TempDir()
		tmpl := filepath.Join(dir, "run.tmpl")
		So(os.WriteFile(tmpl, []byte(
			"echo {{ .Name }} {{ index .Environment \"FOO\" }}\n"), 0644), ShouldBeNil)
		s := shStep("scripted")
		s.Script = tmpl
		s.Environment = map[string]string{"FOO": "bar"}

		Convey("It is rendered and run", func() {
			r, e := NewTemplateRenderer(filepath.Join(dir, "out"))
			So(e, ShouldBeNil)
			rt, ts := testRuntime(NewStepGraph(Group{s}))
			rt.Renderer = r
			o := NewStepRunner(s, rt).Run(context.Background())
			So(o.Succeeded(), ShouldBeTrue)
			So(ts.Texts("scripted", StreamStdout), ShouldResemble, []string{"scripted bar"})
		})

		Convey("Without a renderer it cannot start", func() {
			o, _, _ := runStep(s)
			So(o.Succeeded(), ShouldBeFalse)
			So(errors.Is(o.Err, ErrNoRenderer), ShouldBeTrue)
			So(o.Last.Spawned(), ShouldBeFalse)
		})
	})
}

// panicSink panics on the first lifecycle line it sees.
type panicSink struct {
	once sync.Once
}

func (ps *panicSink) Write(kind StreamKind, step string, level Level, b []byte) {
	if kind == StreamLifecycle {
		ps.once.Do(func() { panic("sink exploded") })
	}
}

func TestStepInternalFault(t *testing.T) {
	Convey("A panic in a runner becomes an internal error", t, func() {
		s := shStep("boom", "/bin/true")
		rt := &Runtime{State: NewRunState("test", NewStepGraph(Group{s})), Sink: &panicSink{}}
		o := NewStepRunner(s, rt).Run(context.Background())
		var ie *InternalError
		So(errors.As(o.Err, &ie), ShouldBeTrue)
		So(ie.Step, ShouldEqual, "boom")
		So(ExitStatus([]error{o.Err}, false), ShouldEqual, ExitInternal)
		st, _ := rt.State.Step("boom")
		So(st.Status, ShouldEqual, StatusFailed)
	})
}

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
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func WithSupervisor(t *testing.T, g *StepGraph, fn func(s *Supervisor, ts *testSink),
	opts ...Option) func() {
	return func() {
		ts := &testSink{}
		all := append([]Option{
			WithSignals(),
			WithSink(ts),
			WithMetrics(NewMetrics("vizier_test")),
			WithStopGrace(200 * time.Millisecond),
			WithDrainTimeout(5 * time.Second),
		}, opts...)
		s := NewSupervisor(t.Name(), g, all...)
		So(s, ShouldNotBeNil)
		fn(s, ts)
	}
}

// runAsync runs s in the background, returning a channel for the result.
func runAsync(s *Supervisor) <-chan *Result {
	ch := make(chan *Result, 1)
	go func() {
		ch <- s.Run(context.Background())
	}()
	return ch
}

func awaitResult(ch <-chan *Result, d time.Duration) *Result {
	select {
	case r := <-ch:
		return r
	case <-time.After(d):
		return nil
	}
}

func TestSupervisorSuccess(t *testing.T) {
	g := NewStepGraph(Group{shStep("true", "/bin/true")})
	Convey("A single successful step", t,
		WithSupervisor(t, g, func(s *Supervisor, ts *testSink) {
			r := s.Run(context.Background())
			So(r.Status, ShouldEqual, ExitOK)
			So(r.Err, ShouldBeNil)
			st, _ := s.State().Step("true")
			So(st.Attempts, ShouldEqual, 1)
			So(st.Status, ShouldEqual, StatusSucceeded)
			p, _ := s.State().Phase()
			So(p, ShouldEqual, PhaseTerminated)
			So(ts.Contains("", "Vizier starting"), ShouldBeTrue)

			recs, _ := s.Log().GetRecords("true", 0)
			So(len(recs), ShouldBeGreaterThan, 0)

			Convey("It cannot be run twice", func() {
				r := s.Run(context.Background())
				So(r.Status, ShouldEqual, ExitInternal)
				So(r.Err, ShouldEqual, ErrAlreadyRunning)
			})
		}))
}

func TestSupervisorFailure(t *testing.T) {
	f := shStep("false", "/bin/false")
	f.Retry = RetryPolicy{Retries: 2}
	g := NewStepGraph(Group{f}, Group{shStep("after", "/bin/true")})
	Convey("A failing step fails the run", t,
		WithSupervisor(t, g, func(s *Supervisor, ts *testSink) {
			r := s.Run(context.Background())
			So(r.Status, ShouldEqual, ExitStepFailure)
			var ef *ExecutionFailure
			So(errors.As(r.Err, &ef), ShouldBeTrue)

			st, _ := s.State().Step("false")
			So(st.Attempts, ShouldEqual, 3)
			So(st.Status, ShouldEqual, StatusFailed)

			Convey("Later groups are not started", func() {
				st, _ := s.State().Step("after")
				So(st.Status, ShouldEqual, StatusPending)
				So(st.Attempts, ShouldEqual, 0)
			})
			Convey("The failure is logged and counted", func() {
				So(ts.Contains("", "Step graph failed"), ShouldBeTrue)
				m := s.Metrics()
				So(testutil.ToFloat64(m.Attempts.WithLabelValues("false", "failure")),
					ShouldEqual, 3)
				So(testutil.ToFloat64(m.Restarts.WithLabelValues("false")), ShouldEqual, 2)
				So(testutil.ToFloat64(m.Phase), ShouldEqual, float64(PhaseTerminated))
			})
		}))
}

func TestSupervisorSpawnFailure(t *testing.T) {
	s1 := shStep("nosh", "true")
	s1.Shell = "/nonexistent/vizier-sh"
	g := NewStepGraph(Group{s1})
	Convey("Spawn failures have their own status", t,
		WithSupervisor(t, g, func(s *Supervisor, ts *testSink) {
			r := s.Run(context.Background())
			So(r.Status, ShouldEqual, ExitSpawnFailure)
		}))
}

func TestSupervisorConfiguration(t *testing.T) {
	g := NewStepGraph(Group{shStep("empty")})
	Convey("An invalid graph is rejected before anything runs", t,
		WithSupervisor(t, g, func(s *Supervisor, ts *testSink) {
			r := s.Run(context.Background())
			So(r.Status, ShouldEqual, ExitConfiguration)
			var ce *ConfigurationError
			So(errors.As(r.Err, &ce), ShouldBeTrue)
			So(errors.Is(r.Err, ErrNoCommands), ShouldBeTrue)
		}))
}

func TestSupervisorOrdering(t *testing.T) {
	g := NewStepGraph(
		Group{shStep("a1", "sleep 0.1"), shStep("a2", "sleep 0.05")},
		Group{shStep("b1", "/bin/true"), shStep("b2", "/bin/true")},
	)
	Convey("Groups run strictly in order", t,
		WithSupervisor(t, g, func(s *Supervisor, ts *testSink) {
			r := s.Run(context.Background())
			So(r.Status, ShouldEqual, ExitOK)

			var latest time.Time
			for _, n := range []string{"a1", "a2"} {
				st, _ := s.State().Step(n)
				if end := st.History[len(st.History)-1].End; end.After(latest) {
					latest = end
				}
			}
			for _, n := range []string{"b1", "b2"} {
				st, _ := s.State().Step(n)
				So(st.History[0].Start.Before(latest), ShouldBeFalse)
			}
		}))
}

func TestSupervisorTerminate(t *testing.T) {
	svc := shStep("svc", "sleep 3600")
	svc.Parallel = true
	g := NewStepGraph(
		Group{svc, shStep("blocker", "sleep 3600")},
		Group{shStep("never", "/bin/true")},
	)
	Convey("Terminate drains every process", t,
		WithSupervisor(t, g, func(s *Supervisor, ts *testSink) {
			ch := runAsync(s)
			So(eventually(5*time.Second, func() bool {
				return s.State().Live() == 2
			}), ShouldBeTrue)

			s.Terminate()
			r := awaitResult(ch, 10*time.Second)
			So(r, ShouldNotBeNil)
			So(r.Status, ShouldEqual, ExitTerminated)
			So(errors.Is(r.Err, ErrTerminationRequested), ShouldBeTrue)
			So(s.State().Live(), ShouldEqual, 0)
			So(s.State().Draining(), ShouldBeTrue)

			st, _ := s.State().Step("never")
			So(st.Attempts, ShouldEqual, 0)
		}))

	Convey("Terminate before Run drains at once", t,
		WithSupervisor(t, NewStepGraph(Group{shStep("x", "/bin/true")}),
			func(s *Supervisor, ts *testSink) {
				s.Terminate()
				r := s.Run(context.Background())
				So(r.Status, ShouldEqual, ExitTerminated)
				st, _ := s.State().Step("x")
				So(st.Attempts, ShouldEqual, 0)
			}))
}

func TestSupervisorStubborn(t *testing.T) {
	g := NewStepGraph(Group{
		shStep("stubborn", "(trap '' TERM; sleep 3600) & trap '' TERM; sleep 3600"),
	})
	Convey("The run ends even if processes ignore SIGTERM", t,
		WithSupervisor(t, g, func(s *Supervisor, ts *testSink) {
			ch := runAsync(s)
			So(eventually(5*time.Second, func() bool {
				return s.State().Live() == 1
			}), ShouldBeTrue)
			time.Sleep(50 * time.Millisecond)

			t0 := time.Now()
			s.Terminate()
			r := awaitResult(ch, 10*time.Second)
			So(r, ShouldNotBeNil)
			So(r.Status, ShouldEqual, ExitTerminated)
			So(time.Since(t0), ShouldBeLessThan, 8*time.Second)
			So(s.State().Live(), ShouldEqual, 0)
		}))
}

func TestSupervisorSignal(t *testing.T) {
	g := NewStepGraph(Group{shStep("sig", "sleep 3600")})
	Convey("A termination signal drains the run", t,
		WithSupervisor(t, g, func(s *Supervisor, ts *testSink) {
			ch := runAsync(s)
			So(eventually(5*time.Second, func() bool {
				return s.State().Live() == 1
			}), ShouldBeTrue)

			So(syscall.Kill(os.Getpid(), syscall.SIGUSR1), ShouldBeNil)
			r := awaitResult(ch, 10*time.Second)
			So(r, ShouldNotBeNil)
			So(r.Status, ShouldEqual, ExitTerminated)
			So(ts.Contains("", "Caught"), ShouldBeTrue)
		}, WithSignals(syscall.SIGUSR1)))
}

func TestSupervisorWaiting(t *testing.T) {
	svc := shStep("svc", "sleep 0.2")
	svc.Parallel = true
	g := NewStepGraph(Group{svc}, Group{shStep("quick", "/bin/true")})
	Convey("Parallel steps are waited for after the last group", t,
		WithSupervisor(t, g, func(s *Supervisor, ts *testSink) {
			r := s.Run(context.Background())
			So(r.Status, ShouldEqual, ExitOK)
			st, _ := s.State().Step("svc")
			So(st.Status, ShouldEqual, StatusSucceeded)
			So(ts.Contains("", "waiting on 1 parallel step(s)"), ShouldBeTrue)
			So(len(r.Outcomes), ShouldEqual, 2)
		}))

	fsvc := shStep("fsvc", "sleep 0.1; exit 5")
	fsvc.Parallel = true
	g2 := NewStepGraph(Group{fsvc, shStep("quick", "/bin/true")})
	Convey("A failed parallel step fails the run", t,
		WithSupervisor(t, g2, func(s *Supervisor, ts *testSink) {
			r := s.Run(context.Background())
			So(r.Status, ShouldEqual, ExitStepFailure)
		}))
}

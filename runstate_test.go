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

package vizier

import (
	"errors"
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRunState(t *testing.T) {
	svc := shStep("svc", "x")
	svc.Parallel = true
	g := NewStepGraph(Group{shStep("a", "x"), svc}, Group{shStep("b", "x")})

	Convey("Given a new run state", t, func() {
		rs := NewRunState("test", g)
		So(rs.ID(), ShouldNotBeEmpty)
		So(rs.Names(), ShouldResemble, []string{"a", "svc", "b"})

		info := rs.Info()
		So(info.Name, ShouldEqual, "test")
		So(info.Groups, ShouldEqual, 2)
		So(info.Phase, ShouldEqual, PhaseInitializing)

		Convey("Every step starts pending", func() {
			for _, st := range rs.Steps() {
				So(st.Status, ShouldEqual, StatusPending)
			}
			st, ok := rs.Step("b")
			So(ok, ShouldBeTrue)
			So(st.Group, ShouldEqual, 1)
			st, _ = rs.Step("svc")
			So(st.Parallel, ShouldBeTrue)
			_, ok = rs.Step("nosuch")
			So(ok, ShouldBeFalse)
		})

		Convey("Updates bump the serial", func() {
			old := rs.Serial()
			rs.setStatus("a", StatusRunning, "Started")
			So(rs.Serial(), ShouldBeGreaterThan, old)
			st, _ := rs.Step("a")
			So(st.Status, ShouldEqual, StatusRunning)
			So(st.Serial, ShouldEqual, rs.Serial())
		})

		Convey("WatchSerial wakes on a change", func() {
			old := rs.Serial()
			go func() {
				time.Sleep(10 * time.Millisecond)
				rs.setPhase(PhaseRunningGroup, 1)
			}()
			So(rs.WatchSerial(old, 5*time.Second), ShouldNotEqual, old)
			p, grp := rs.Phase()
			So(p, ShouldEqual, PhaseRunningGroup)
			So(grp, ShouldEqual, 1)
		})

		Convey("WatchSerial times out", func() {
			old := rs.Serial()
			So(rs.WatchSerial(old, 10*time.Millisecond), ShouldEqual, old)
			So(rs.WatchSerial(old, 0), ShouldEqual, old)
		})

		Convey("History is bounded", func() {
			for i := 1; i <= MaxHistory+10; i++ {
				rs.recordAttempt("a", AttemptRecord{Attempt: i})
			}
			st, _ := rs.Step("a")
			So(len(st.History), ShouldEqual, MaxHistory)
			So(st.History[0].Attempt, ShouldEqual, 11)
			So(st.Attempts, ShouldEqual, MaxHistory+10)
		})

		Convey("Finished outcomes set the verdict", func() {
			rs.finish(StepOutcome{Step: "a", Attempts: 2, Suppressed: true,
				Last: ExitResult{Code: 1}})
			st, _ := rs.Step("a")
			So(st.Status, ShouldEqual, StatusSucceeded)
			So(st.Suppressed, ShouldBeTrue)
			So(st.Reason, ShouldStartWith, "Failed (ignored)")
		})
	})
}

func TestRunStateDrain(t *testing.T) {
	Convey("Handles are refused once draining has begun", t, func() {
		rs := NewRunState("drain", nil)
		h1, h2 := &Handle{done: make(chan struct{})}, &Handle{done: make(chan struct{})}
		So(rs.Track(h1), ShouldBeTrue)
		So(rs.Live(), ShouldEqual, 1)

		hs := rs.beginDrain()
		So(hs, ShouldResemble, []*Handle{h1})
		So(rs.Draining(), ShouldBeTrue)
		So(rs.Track(h2), ShouldBeFalse)
		So(rs.Live(), ShouldEqual, 1)

		rs.Untrack(h1)
		rs.Untrack(h2)
		So(rs.Live(), ShouldEqual, 0)
		So(rs.Handles(), ShouldBeEmpty)
	})
}

func TestGraphValidate(t *testing.T) {
	Convey("Graph validation", t, func() {
		check := func(g *StepGraph, want error) {
			e := g.Validate()
			var ce *ConfigurationError
			So(errors.As(e, &ce), ShouldBeTrue)
			So(errors.Is(e, want), ShouldBeTrue)
		}

		Convey("A good graph passes", func() {
			g := NewStepGraph(Group{shStep("a", "true")}, Group{shStep("b", "true")})
			So(g.Validate(), ShouldBeNil)
			So(g.Find("b"), ShouldEqual, g.Groups[1][0])
			So(g.Find("c"), ShouldBeNil)
			So(g.Steps()[0].Blocking(), ShouldBeTrue)
		})
		Convey("Empty graphs fail", func() {
			check(NewStepGraph(), ErrEmptyGraph)
			check(NewStepGraph(Group{}), ErrEmptyGraph)
		})
		Convey("Names are required and unique", func() {
			check(NewStepGraph(Group{shStep("", "true")}), ErrNoName)
			check(NewStepGraph(Group{shStep("a", "true")}, Group{shStep("a", "true")}),
				ErrDuplicateStep)
		})
		Convey("Steps need something to run", func() {
			check(NewStepGraph(Group{shStep("a")}), ErrNoCommands)
		})
		Convey("Delays cannot be negative", func() {
			s := shStep("a", "true")
			s.Retry.Delay = -time.Second
			check(NewStepGraph(Group{s}), ErrNegativeDelay)
		})
		Convey("Retries are -1 or more", func() {
			s := shStep("a", "true")
			s.Retry.Retries = -2
			check(NewStepGraph(Group{s}), ErrBadRetries)
		})
	})
}

func TestExitStatus(t *testing.T) {
	Convey("Exit status mapping", t, func() {
		spawn := &ExecutionFailure{Step: "s", Result: ExitResult{Code: -1,
			Err: &SpawnError{Step: "s", Err: os.ErrNotExist}}}
		fail := &ExecutionFailure{Step: "f", Result: ExitResult{Code: 1}}
		internal := &InternalError{Step: "i", Value: "boom"}

		So(ExitStatus(nil, false), ShouldEqual, ExitOK)
		So(ExitStatus([]error{fail}, false), ShouldEqual, ExitStepFailure)
		So(ExitStatus([]error{spawn}, false), ShouldEqual, ExitSpawnFailure)
		So(ExitStatus([]error{spawn, fail}, false), ShouldEqual, ExitStepFailure)
		So(ExitStatus(nil, true), ShouldEqual, ExitTerminated)
		So(ExitStatus([]error{fail}, true), ShouldEqual, ExitTerminated)
		So(ExitStatus([]error{fail, internal}, true), ShouldEqual, ExitInternal)
		So(ExitStatus([]error{&ConfigurationError{Err: ErrEmptyGraph}}, false),
			ShouldEqual, ExitConfiguration)
	})
}

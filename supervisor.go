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
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultDrainTimeout bounds how long a drain waits for runners to report.
const DefaultDrainTimeout = 30 * time.Second

// Result is what a run reports when it is over.
type Result struct {
	Status   int
	Err      error
	Outcomes []StepOutcome
}

// Supervisor walks a StepGraph group by group.  There is one Supervisor
// per run; it owns the RunState and the in-memory Log.
type Supervisor struct {
	name         string
	graph        *StepGraph
	state        *RunState
	log          *Log
	sink         *MultiSink
	metrics      *Metrics
	renderer     ScriptRenderer
	signals      []os.Signal
	stopGrace    time.Duration
	drainTimeout time.Duration
	cancel       context.CancelCauseFunc
	pending      bool
	started      bool
	mx           sync.Mutex
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithSink adds a sink that receives every line of output.
func WithSink(sink Sink) Option {
	return func(s *Supervisor) {
		s.sink.AddSink(sink)
	}
}

// WithMetrics sets the metrics collectors to update.
func WithMetrics(m *Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// WithRenderer sets the renderer for steps using a script.
func WithRenderer(r ScriptRenderer) Option {
	return func(s *Supervisor) {
		s.renderer = r
	}
}

// WithSignals replaces the signals that request termination.  With no
// arguments, no signal handler is installed.
func WithSignals(sigs ...os.Signal) Option {
	return func(s *Supervisor) {
		s.signals = sigs
	}
}

// WithStopGrace sets the time between SIGTERM and SIGKILL.
func WithStopGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		s.stopGrace = d
	}
}

// WithDrainTimeout bounds how long a drain may take before the run
// returns regardless.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.drainTimeout = d
	}
}

// NewSupervisor creates a supervisor for the graph.  The graph must not
// be changed afterwards.
func NewSupervisor(name string, g *StepGraph, opts ...Option) *Supervisor {
	if name == "" {
		name = "vizier"
	}
	s := &Supervisor{
		name:         name,
		graph:        g,
		state:        NewRunState(name, g),
		log:          NewLog(MaxLogRecords),
		signals:      []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		stopGrace:    DefaultStopGrace,
		drainTimeout: DefaultDrainTimeout,
	}
	s.sink = NewMultiSink(s.log)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name returns the name the supervisor was created with.
func (s *Supervisor) Name() string {
	return s.name
}

// State returns the live state of the run.
func (s *Supervisor) State() *RunState {
	return s.state
}

// Log returns the in-memory log of the run.
func (s *Supervisor) Log() *Log {
	return s.log
}

// Metrics returns the collectors, which may be nil.
func (s *Supervisor) Metrics() *Metrics {
	return s.metrics
}

func (s *Supervisor) logf(level Level, format string, v ...interface{}) {
	logf(s.sink, "", level, format, v...)
}

func (s *Supervisor) setPhase(p Phase, group int) {
	s.state.setPhase(p, group)
	s.metrics.phase(p)
}

// Terminate requests that the run stop, as if a signal had been received.
// It may be called before Run, in which case the run drains at once.
func (s *Supervisor) Terminate() {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.cancel != nil {
		s.cancel(ErrTerminationRequested)
	} else {
		s.pending = true
	}
}

// Run executes the graph and returns once every step has reached a verdict
// or the drain has timed out.  A Supervisor can only be run once.
func (s *Supervisor) Run(ctx context.Context) *Result {
	s.mx.Lock()
	if s.started {
		s.mx.Unlock()
		return &Result{Status: ExitInternal, Err: ErrAlreadyRunning}
	}
	s.started = true
	s.mx.Unlock()

	s.setPhase(PhaseInitializing, 0)
	if s.graph == nil {
		s.graph = &StepGraph{}
	}
	if e := s.graph.Validate(); e != nil {
		s.logf(LevelError, "Invalid step graph: %v", e)
		s.setPhase(PhaseTerminated, 0)
		return &Result{Status: ExitConfiguration, Err: e}
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s.mx.Lock()
	s.cancel = cancel
	if s.pending {
		cancel(ErrTerminationRequested)
	}
	s.mx.Unlock()

	if len(s.signals) > 0 {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, s.signals...)
		defer signal.Stop(sigs)
		go func() {
			select {
			case sig := <-sigs:
				s.logf(LevelWarn, "Caught %v, terminating", sig)
				cancel(ErrTerminationRequested)
			case <-runCtx.Done():
			}
		}()
	}

	s.logf(LevelInfo, "*** Vizier starting: %s (%d groups, %d steps) ***",
		s.name, len(s.graph.Groups), len(s.graph.Steps()))

	gs := NewGroupScheduler(&Runtime{
		State:     s.state,
		Sink:      s.sink,
		Renderer:  s.renderer,
		Metrics:   s.metrics,
		StopGrace: s.stopGrace,
	})

	var walkOutcomes []StepOutcome
	walked := make(chan struct{})
	go func() {
		defer close(walked)
		walkOutcomes = s.walk(runCtx, cancel, gs)
	}()

	select {
	case <-walked:
	case <-runCtx.Done():
	}

	cause := context.Cause(runCtx)
	var gf *groupFailure
	failed := errors.As(cause, &gf)

	s.setPhase(PhaseDraining, len(s.graph.Groups))
	switch {
	case cause == nil:
		s.logf(LevelInfo, "Step graph completed, draining")
	case failed:
		s.logf(LevelError, "Step graph failed, draining: %v", gf.err)
	default:
		s.logf(LevelWarn, "Terminating: %v", cause)
	}
	cancel(ErrTerminationRequested)
	complete := s.drain(walked, gs)
	s.setPhase(PhaseTerminated, len(s.graph.Groups))

	var outcomes []StepOutcome
	if complete {
		outcomes = append(walkOutcomes, gs.Parallel()...)
	} else {
		s.logf(LevelError, "Drain timed out after %v, %d process(es) left",
			s.drainTimeout, s.state.Live())
		outcomes = s.snapshot()
	}

	var failures []error
	for _, o := range outcomes {
		if o.Err != nil && !errors.Is(o.Err, ErrTerminationRequested) {
			failures = append(failures, o.Err)
		}
	}
	terminated := cause != nil && !failed
	r := &Result{
		Status:   ExitStatus(failures, terminated),
		Err:      errors.Join(failures...),
		Outcomes: outcomes,
	}
	if r.Err == nil && terminated {
		r.Err = ErrTerminationRequested
	}
	s.logf(LevelInfo, "*** Vizier stopped: %s (status %d) ***", s.name, r.Status)
	return r
}

// snapshot rebuilds outcomes from the run state, for when runners are still
// busy after the drain timeout.
func (s *Supervisor) snapshot() []StepOutcome {
	var rv []StepOutcome
	for _, st := range s.state.Steps() {
		o := StepOutcome{Step: st.Name, Attempts: st.Attempts, Last: st.Last}
		switch {
		case st.Status == StatusFailed && !st.Suppressed && st.Last.Success():
			o.Cancelled = true
			o.Err = ErrTerminationRequested
		case st.Status == StatusFailed && !st.Suppressed:
			o.Err = &ExecutionFailure{Step: st.Name, Attempts: st.Attempts, Result: st.Last}
		case st.Status != StatusSucceeded:
			o.Cancelled = true
			o.Err = ErrTerminationRequested
		}
		rv = append(rv, o)
	}
	return rv
}

type groupFailure struct {
	index int
	err   error
}

func (g *groupFailure) Error() string {
	return fmt.Sprintf("group %d failed: %v", g.index, g.err)
}

func (g *groupFailure) Unwrap() error {
	return g.err
}

// walk runs the groups in order.  A failed group cancels the run with its
// error as the cause, and nothing further is started.
func (s *Supervisor) walk(ctx context.Context, cancel context.CancelCauseFunc,
	gs *GroupScheduler) []StepOutcome {

	var outcomes []StepOutcome
	for i, g := range s.graph.Groups {
		if ctx.Err() != nil {
			return outcomes
		}
		s.setPhase(PhaseRunningGroup, i)
		out := gs.Run(ctx, i, g)
		outcomes = append(outcomes, out.Outcomes...)
		if ctx.Err() != nil {
			return outcomes
		}
		if e := out.Err(); e != nil {
			cancel(&groupFailure{index: i, err: e})
			return outcomes
		}
	}
	if n := gs.Running(); n > 0 {
		s.setPhase(PhaseWaiting, len(s.graph.Groups)-1)
		s.logf(LevelInfo, "All groups done, waiting on %d parallel step(s)", n)
		gs.Wait(ctx)
	}
	return outcomes
}

// drain terminates every tracked process, escalating to SIGKILL after the
// stop grace, and waits for the runners to report.  It returns false if
// the drain timeout expired first.
func (s *Supervisor) drain(walked <-chan struct{}, gs *GroupScheduler) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	defer cancel()

	hs := s.state.beginDrain()
	for _, h := range hs {
		s.logf(LevelInfo, "Stopping %s (pid %d)", h.Step(), h.Pid())
		h.Terminate()
	}

	grace := time.NewTimer(s.stopGrace)
	defer grace.Stop()
wait:
	for _, h := range hs {
		select {
		case <-h.Done():
		case <-grace.C:
			break wait
		case <-ctx.Done():
			break wait
		}
	}
	for _, h := range hs {
		if !h.Exited() {
			s.logf(LevelWarn, "Killing %s (pid %d)", h.Step(), h.Pid())
		}
		// Sweeps anything left in the group after its leader exited.
		h.Kill()
	}

	select {
	case <-walked:
	case <-ctx.Done():
		return false
	}
	return gs.Wait(ctx)
}

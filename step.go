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
	"fmt"
	"time"
)

// DefaultStopGrace is how long a process gets between SIGTERM and SIGKILL.
const DefaultStopGrace = 10 * time.Second

// Runtime is what step runners share with the rest of a run.
type Runtime struct {
	State     *RunState
	Sink      Sink
	Renderer  ScriptRenderer
	Metrics   *Metrics
	StopGrace time.Duration
}

func (rt *Runtime) grace() time.Duration {
	if rt.StopGrace <= 0 {
		return DefaultStopGrace
	}
	return rt.StopGrace
}

// StepOutcome is the final verdict for a step.
type StepOutcome struct {
	Step       string
	Attempts   int
	Last       ExitResult
	Suppressed bool  // Failure was ignored due to IgnoreError
	Cancelled  bool  // the run was terminated first
	Failure    error // underlying failure, kept even when Suppressed
	Err        error // what propagates upwards; nil on success
}

// Succeeded is true if the outcome does not fail the group.
func (o StepOutcome) Succeeded() bool {
	return o.Err == nil
}

// Reason is a short human readable summary.
func (o StepOutcome) Reason() string {
	switch {
	case o.Cancelled:
		return "Terminated"
	case o.Suppressed:
		return "Failed (ignored): " + o.Last.String()
	case o.Err != nil:
		return "Failed: " + o.Err.Error()
	}
	return "Succeeded"
}

// StepRunner executes a single step, restarting it as its RetryPolicy
// demands, until it reaches a final verdict or the context is cancelled.
type StepRunner struct {
	step *Step
	rt   *Runtime
	ctrl *RetryController
}

// NewStepRunner creates a runner for step.
func NewStepRunner(step *Step, rt *Runtime) *StepRunner {
	if rt.Sink == nil {
		rt.Sink = DiscardSink{}
	}
	if rt.State == nil {
		rt.State = NewRunState("", NewStepGraph(Group{step}))
	}
	return &StepRunner{
		step: step,
		rt:   rt,
		ctrl: NewRetryController(step.Retry),
	}
}

func (r *StepRunner) logf(level Level, format string, v ...interface{}) {
	logf(r.rt.Sink, r.step.Name, level, format, v...)
}

// raise bumps the lifecycle level for problems, unless it is silenced.
func (r *StepRunner) raise(min Level) Level {
	l := r.step.LogLevels.Lifecycle
	if l < min {
		return min
	}
	return l
}

func (r *StepRunner) status(s StepStatus, reason string) {
	r.rt.State.setStatus(r.step.Name, s, reason)
	r.rt.Metrics.status(r.step.Name, s)
}

// Run executes the step.  It never panics; a fault inside the runner is
// reported as an *InternalError outcome.
func (r *StepRunner) Run(ctx context.Context) (out StepOutcome) {
	defer func() {
		if v := recover(); v != nil {
			out = StepOutcome{
				Step:     r.step.Name,
				Attempts: r.ctrl.Attempts(),
				Last:     r.ctrl.Last(),
				Err:      &InternalError{Step: r.step.Name, Value: v},
			}
			out.Failure = out.Err
			logf(r.rt.Sink, r.step.Name, LevelError, "Internal fault: %v", v)
			r.rt.State.finish(out)
			r.rt.Metrics.status(r.step.Name, StatusFailed)
		}
	}()

	s := r.step
	lvl := s.LogLevels.Lifecycle

	if s.Delay > 0 {
		r.logf(lvl, "Delaying start by %v", s.Delay)
		if !sleep(ctx, s.Delay) {
			return r.cancelled()
		}
	}

	for {
		if ctx.Err() != nil {
			return r.cancelled()
		}
		r.ctrl.Begin()
		n := r.ctrl.Attempts()
		r.status(StatusRunning, fmt.Sprintf("Started attempt %d", n))
		r.logf(lvl, "Starting attempt %d", n)

		start := time.Now()
		res := r.attempt(ctx)
		r.rt.State.recordAttempt(s.Name, AttemptRecord{
			Attempt: n,
			Start:   start,
			End:     time.Now(),
			Result:  res,
		})
		r.rt.Metrics.attempt(s.Name, res)

		if res.Success() {
			r.logf(lvl, "Attempt %d exited with %s", n, res)
		} else {
			r.logf(r.raise(LevelWarn), "Attempt %d exited with %s", n, res)
		}
		if ctx.Err() != nil {
			return r.cancelled()
		}

		d := r.ctrl.Observe(res)
		if !d.Retry {
			break
		}
		r.rt.Metrics.restart(s.Name)
		r.status(StatusRetrying, fmt.Sprintf("Restarting in %v", d.Delay))
		r.logf(lvl, "Restarting in %v (next attempt %d)", d.Delay, n+1)
		if !sleep(ctx, d.Delay) {
			return r.cancelled()
		}
	}
	return r.conclude()
}

func (r *StepRunner) conclude() StepOutcome {
	s := r.step
	out := StepOutcome{
		Step:     s.Name,
		Attempts: r.ctrl.Attempts(),
		Last:     r.ctrl.Last(),
	}
	if r.ctrl.State() == RetryFailed {
		f := &ExecutionFailure{Step: s.Name, Attempts: out.Attempts, Result: out.Last}
		out.Failure = f
		if s.IgnoreError {
			out.Suppressed = true
			r.logf(r.raise(LevelWarn),
				"Failed after %d attempt(s) with %s, ignoring error",
				out.Attempts, out.Last)
		} else {
			out.Err = f
			logf(r.rt.Sink, s.Name, LevelError,
				"Failed after %d attempt(s) with %s", out.Attempts, out.Last)
		}
	} else {
		r.logf(s.LogLevels.Lifecycle, "Succeeded after %d attempt(s)", out.Attempts)
	}
	r.rt.State.finish(out)
	r.rt.Metrics.status(s.Name, r.finalStatus(out))
	return out
}

func (r *StepRunner) cancelled() StepOutcome {
	r.ctrl.Cancel()
	out := StepOutcome{
		Step:      r.step.Name,
		Attempts:  r.ctrl.Attempts(),
		Last:      r.ctrl.Last(),
		Cancelled: true,
		Err:       ErrTerminationRequested,
	}
	r.logf(r.raise(LevelWarn), "Terminated after %d attempt(s)", out.Attempts)
	r.rt.State.finish(out)
	r.rt.Metrics.status(r.step.Name, StatusFailed)
	return out
}

func (r *StepRunner) finalStatus(o StepOutcome) StepStatus {
	if o.Succeeded() {
		return StatusSucceeded
	}
	return StatusFailed
}

// commands resolves what one attempt runs.
func (r *StepRunner) commands() ([]Command, error) {
	s := r.step
	shell := s.shell()
	cmds := make([]Command, 0, len(s.Commands)+1)
	for _, line := range s.Commands {
		c := ShellCommand(shell, line)
		c.Dir = s.Dir
		c.Env = s.Environment
		cmds = append(cmds, c)
	}
	if s.Script != "" {
		if r.rt.Renderer == nil {
			return nil, &SpawnError{Step: s.Name, Command: s.Script, Err: ErrNoRenderer}
		}
		path, e := r.rt.Renderer.Render(s)
		if e != nil {
			return nil, &SpawnError{Step: s.Name, Command: s.Script, Err: e}
		}
		cmds = append(cmds, Command{
			Path: shell,
			Args: []string{path},
			Dir:  s.Dir,
			Env:  s.Environment,
		})
	}
	return cmds, nil
}

// attempt runs the commands of the step in order.  The result is that of
// the first failing command, or success.
func (r *StepRunner) attempt(ctx context.Context) ExitResult {
	cmds, e := r.commands()
	if e != nil {
		r.logf(r.raise(LevelError), "%v", e)
		return ExitResult{Code: -1, Err: e}
	}
	var first ExitResult
	failed := false
	for _, c := range cmds {
		if ctx.Err() != nil {
			return ExitResult{Code: -1, Err: ErrTerminationRequested}
		}
		r.logf(r.step.LogLevels.Lifecycle, "$ %s", c)
		res := r.run(ctx, c)
		if res.Success() {
			continue
		}
		if !failed {
			first = res
			failed = true
		}
		if !r.step.IgnoreError {
			break
		}
	}
	return first
}

// run spawns and supervises a single process.
func (r *StepRunner) run(ctx context.Context, c Command) ExitResult {
	h, e := Spawn(r.step.Name, c, r.rt.Sink, r.step.LogLevels)
	if e != nil {
		r.logf(r.raise(LevelError), "%v", e)
		return ExitResult{Code: -1, Err: e}
	}
	tracked := r.rt.State.Track(h)
	r.rt.Metrics.live(r.rt.State.Live())

	if tracked {
		select {
		case <-h.Done():
		case <-ctx.Done():
			r.stop(h)
		}
	} else {
		// The drain sweep has already been taken.
		r.stop(h)
	}
	res := h.Wait()
	r.rt.State.Untrack(h)
	r.rt.Metrics.live(r.rt.State.Live())
	return res
}

// stop terminates h, escalating to SIGKILL after the grace period.
func (r *StepRunner) stop(h *Handle) {
	h.Terminate()
	t := time.NewTimer(r.rt.grace())
	defer t.Stop()
	select {
	case <-h.Done():
	case <-t.C:
		r.logf(r.raise(LevelWarn), "Process %d did not stop, killing", h.Pid())
		h.Kill()
	}
}

// sleep waits for d, returning false if ctx is cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

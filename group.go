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
	"sync"

	"golang.org/x/sync/errgroup"
)

// GroupOutcome is the aggregate result of the blocking steps of a group.
type GroupOutcome struct {
	Index    int
	Outcomes []StepOutcome
}

// Err joins the errors of every step that failed the group, or returns nil.
func (g GroupOutcome) Err() error {
	var errs []error
	for _, o := range g.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// Succeeded is true if no blocking step failed, counting suppressed
// failures as success.
func (g GroupOutcome) Succeeded() bool {
	for _, o := range g.Outcomes {
		if !o.Succeeded() {
			return false
		}
	}
	return true
}

// GroupScheduler runs groups.  Parallel steps outlive the group that
// started them; the scheduler keeps track of them until they finish.
type GroupScheduler struct {
	rt       *Runtime
	wg       sync.WaitGroup
	mx       sync.Mutex
	parallel []StepOutcome
	running  int
}

// NewGroupScheduler creates a scheduler sharing rt with its runners.
func NewGroupScheduler(rt *Runtime) *GroupScheduler {
	if rt.Sink == nil {
		rt.Sink = DiscardSink{}
	}
	return &GroupScheduler{rt: rt}
}

// Run starts every step of the group and returns once all blocking steps
// have reached a verdict.  A failing blocking step does not cut its
// siblings short.
func (gs *GroupScheduler) Run(ctx context.Context, index int, group Group) GroupOutcome {
	var blocking []*Step
	nparallel := 0
	for _, s := range group {
		if s == nil {
			continue
		}
		if s.Parallel {
			nparallel++
			gs.fire(ctx, s)
			continue
		}
		blocking = append(blocking, s)
	}
	logf(gs.rt.Sink, "", LevelInfo, "Group %d started: %d blocking, %d parallel",
		index, len(blocking), nparallel)

	out := GroupOutcome{Index: index, Outcomes: make([]StepOutcome, len(blocking))}

	// No WithContext here: one failure must not cancel the others.
	var eg errgroup.Group
	for i, s := range blocking {
		i, s := i, s
		eg.Go(func() error {
			out.Outcomes[i] = NewStepRunner(s, gs.rt).Run(ctx)
			return out.Outcomes[i].Err
		})
	}
	_ = eg.Wait()

	if e := out.Err(); e != nil {
		logf(gs.rt.Sink, "", LevelError, "Group %d failed: %v", index, e)
	} else {
		logf(gs.rt.Sink, "", LevelInfo, "Group %d completed", index)
	}
	return out
}

func (gs *GroupScheduler) fire(ctx context.Context, s *Step) {
	gs.mx.Lock()
	gs.running++
	gs.mx.Unlock()
	gs.wg.Add(1)
	go func() {
		defer gs.wg.Done()
		o := NewStepRunner(s, gs.rt).Run(ctx)
		gs.mx.Lock()
		gs.parallel = append(gs.parallel, o)
		gs.running--
		gs.mx.Unlock()
	}()
}

// Running returns the number of parallel steps not yet finished.
func (gs *GroupScheduler) Running() int {
	gs.mx.Lock()
	defer gs.mx.Unlock()
	return gs.running
}

// Parallel returns the outcomes of the parallel steps finished so far.
func (gs *GroupScheduler) Parallel() []StepOutcome {
	gs.mx.Lock()
	defer gs.mx.Unlock()
	return append([]StepOutcome(nil), gs.parallel...)
}

// Wait blocks until every parallel step has finished, or ctx is done.
// It returns true if all of them finished.
func (gs *GroupScheduler) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		gs.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

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
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxHistory is the number of attempt records kept per step.  Services
// that restart forever would otherwise grow without bound.
const MaxHistory = 100

// StepStatus is the last known outcome of a step.
type StepStatus int

const (
	StatusPending StepStatus = iota
	StatusRunning
	StatusRetrying
	StatusSucceeded
	StatusFailed
)

func (s StepStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusRetrying:
		return "retrying"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Phase is the state of the whole run.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseRunningGroup
	PhaseWaiting
	PhaseDraining
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseRunningGroup:
		return "running"
	case PhaseWaiting:
		return "waiting"
	case PhaseDraining:
		return "draining"
	case PhaseTerminated:
		return "terminated"
	}
	return "unknown"
}

// AttemptRecord is the history of a single attempt.
type AttemptRecord struct {
	Attempt int
	Start   time.Time
	End     time.Time
	Result  ExitResult
}

// StepState is a snapshot of what is known about a step.
type StepState struct {
	Name       string
	Group      int
	Parallel   bool
	Status     StepStatus
	Attempts   int
	Last       ExitResult
	Suppressed bool // failed, but IgnoreError let it pass
	Reason     string
	Stamp      time.Time
	Serial     int64
	History    []AttemptRecord
}

// RunInfo is top-level information about a run.
type RunInfo struct {
	ID         string
	Name       string
	Phase      Phase
	Group      int
	Groups     int
	Live       int
	Serial     int64
	CreateTime time.Time
	UpdateTime time.Time
}

// RunState is the shared, in-memory record of one run.  Step runners
// update it and the supervisor reads it while draining, so every access
// goes through the lock.  It also tracks the live process handles.
type RunState struct {
	id         string
	name       string
	phase      Phase
	group      int
	groups     int
	steps      map[string]*StepState
	order      []string
	handles    map[*Handle]bool
	draining   bool
	serial     int64
	createTime time.Time
	updateTime time.Time
	mx         sync.Mutex
	cvs        map[*sync.Cond]bool
}

// NewRunState creates the state for a run of the graph, with every step
// Pending.
func NewRunState(name string, g *StepGraph) *RunState {
	rs := &RunState{
		id:      uuid.NewString(),
		name:    name,
		steps:   make(map[string]*StepState),
		handles: make(map[*Handle]bool),
		cvs:     make(map[*sync.Cond]bool),
		// The serial starts at the current time so
		// that clients notice when the daemon was restarted.
		serial:     time.Now().UnixNano(),
		createTime: time.Now(),
	}
	rs.updateTime = rs.createTime
	if g != nil {
		rs.groups = len(g.Groups)
		for i, grp := range g.Groups {
			for _, s := range grp {
				if s == nil {
					continue
				}
				rs.order = append(rs.order, s.Name)
				rs.steps[s.Name] = &StepState{
					Name:     s.Name,
					Group:    i,
					Parallel: s.Parallel,
					Status:   StatusPending,
					Reason:   "Waiting to start",
					Stamp:    rs.createTime,
				}
			}
		}
	}
	return rs
}

func (rs *RunState) lock() {
	rs.mx.Lock()
}

func (rs *RunState) unlock() {
	rs.mx.Unlock()
}

// bumpSerial increments the serial and notifies watchers.
// Call with lock held.
func (rs *RunState) bumpSerial() int64 {
	rs.updateTime = time.Now()
	rs.serial++
	for cv := range rs.cvs {
		cv.Broadcast()
	}
	return rs.serial
}

// WatchSerial waits for the serial to move away from old, or for expire to
// elapse, and returns the current serial.  An expire of zero just polls.
func (rs *RunState) WatchSerial(old int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&rs.mx)
	var timer *time.Timer
	var rv int64

	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			rs.lock()
			expired = true
			cv.Broadcast()
			rs.unlock()
		})
	} else {
		expired = true
	}

	rs.lock()
	rs.cvs[cv] = true
	for {
		rv = rs.serial
		if rv != old || expired {
			break
		}
		cv.Wait()
	}
	delete(rs.cvs, cv)
	rs.unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// Serial returns the current serial number.  It changes on every update.
func (rs *RunState) Serial() int64 {
	rs.lock()
	defer rs.unlock()
	return rs.serial
}

// ID returns the unique id of this run.
func (rs *RunState) ID() string {
	return rs.id
}

func (rs *RunState) setPhase(p Phase, group int) {
	rs.lock()
	rs.phase = p
	rs.group = group
	rs.bumpSerial()
	rs.unlock()
}

// Phase returns the current phase and, while running, the group index.
func (rs *RunState) Phase() (Phase, int) {
	rs.lock()
	defer rs.unlock()
	return rs.phase, rs.group
}

func (rs *RunState) update(name string, fn func(*StepState)) {
	rs.lock()
	if st, ok := rs.steps[name]; ok {
		fn(st)
		st.Stamp = time.Now()
		st.Serial = rs.bumpSerial()
	}
	rs.unlock()
}

func (rs *RunState) setStatus(name string, status StepStatus, reason string) {
	rs.update(name, func(st *StepState) {
		st.Status = status
		st.Reason = reason
	})
}

func (rs *RunState) recordAttempt(name string, rec AttemptRecord) {
	rs.update(name, func(st *StepState) {
		st.Attempts = rec.Attempt
		st.Last = rec.Result
		st.History = append(st.History, rec)
		if n := len(st.History); n > MaxHistory {
			st.History = append([]AttemptRecord(nil), st.History[n-MaxHistory:]...)
		}
	})
}

func (rs *RunState) finish(o StepOutcome) {
	rs.update(o.Step, func(st *StepState) {
		st.Attempts = o.Attempts
		st.Suppressed = o.Suppressed
		if o.Succeeded() {
			st.Status = StatusSucceeded
		} else {
			st.Status = StatusFailed
		}
		st.Reason = o.Reason()
	})
}

// Step returns a snapshot of the named step.
func (rs *RunState) Step(name string) (StepState, bool) {
	rs.lock()
	defer rs.unlock()
	st, ok := rs.steps[name]
	if !ok {
		return StepState{}, false
	}
	cp := *st
	cp.History = append([]AttemptRecord(nil), st.History...)
	return cp, true
}

// Names returns the step names in graph order.
func (rs *RunState) Names() []string {
	return append([]string(nil), rs.order...)
}

// Steps returns snapshots of every step in graph order.
func (rs *RunState) Steps() []StepState {
	rv := make([]StepState, 0, len(rs.order))
	for _, n := range rs.order {
		if st, ok := rs.Step(n); ok {
			rv = append(rv, st)
		}
	}
	return rv
}

// Info returns a consistent snapshot of the run.
func (rs *RunState) Info() RunInfo {
	rs.lock()
	defer rs.unlock()
	return RunInfo{
		ID:         rs.id,
		Name:       rs.name,
		Phase:      rs.phase,
		Group:      rs.group,
		Groups:     rs.groups,
		Live:       len(rs.handles),
		Serial:     rs.serial,
		CreateTime: rs.createTime,
		UpdateTime: rs.updateTime,
	}
}

// Track adds a live handle.  Once draining has begun no new handles are
// accepted; the caller must then terminate the handle itself.
func (rs *RunState) Track(h *Handle) bool {
	rs.lock()
	defer rs.unlock()
	if rs.draining {
		return false
	}
	rs.handles[h] = true
	rs.bumpSerial()
	return true
}

// Untrack removes a handle.  Callers do this only after the handle is
// Done, so that its output has been flushed.
func (rs *RunState) Untrack(h *Handle) {
	rs.lock()
	if rs.handles[h] {
		delete(rs.handles, h)
		rs.bumpSerial()
	}
	rs.unlock()
}

// Handles returns the live handles.
func (rs *RunState) Handles() []*Handle {
	rs.lock()
	defer rs.unlock()
	return rs.handleList()
}

func (rs *RunState) handleList() []*Handle {
	rv := make([]*Handle, 0, len(rs.handles))
	for h := range rs.handles {
		rv = append(rv, h)
	}
	return rv
}

// Live returns the number of live handles.
func (rs *RunState) Live() int {
	rs.lock()
	defer rs.unlock()
	return len(rs.handles)
}

// beginDrain latches the draining flag and returns the handles that were
// live at that moment.
func (rs *RunState) beginDrain() []*Handle {
	rs.lock()
	defer rs.unlock()
	rs.draining = true
	return rs.handleList()
}

// Draining reports whether the drain sweep has started.
func (rs *RunState) Draining() bool {
	rs.lock()
	defer rs.unlock()
	return rs.draining
}

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

package rest

import (
	"time"

	"github.com/gdamore/vizier"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// A request carrying PollEtagHeader set to the current Etag, and
	// PollTimeHeader set to a number of seconds, is held until the
	// resource changes or the time passes.
	PollEtagHeader = "X-Vizier-Poll-Etag"
	PollTimeHeader = "X-Vizier-Poll-Time"

	// MaxPollTime caps how long the server holds a request.
	MaxPollTime = 300 * time.Second
)

type LogRecord = vizier.LogRecord

// AttemptInfo describes one attempt of a step.
type AttemptInfo struct {
	Attempt int       `json:"attempt"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Code    int       `json:"code"`
	Signal  string    `json:"signal,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// StepInfo is the status of a step.
type StepInfo struct {
	Name       string        `json:"name"`
	Group      int           `json:"group"`
	Parallel   bool          `json:"parallel"`
	Status     string        `json:"status"`
	Attempts   int           `json:"attempts"`
	Suppressed bool          `json:"suppressed"`
	Reason     string        `json:"reason"`
	TimeStamp  time.Time     `json:"tstamp"`
	History    []AttemptInfo `json:"history,omitempty"`
	etag       string
}

// RunInfo is top-level information about the run.
type RunInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Phase      string    `json:"phase"`
	Group      int       `json:"group"`
	Groups     int       `json:"groups"`
	Live       int       `json:"live"`
	CreateTime time.Time `json:"ctime"`
	UpdateTime time.Time `json:"utime"`
	etag       string
}

// Health is the body of /healthz.
type Health struct {
	Phase string `json:"phase"`
	Live  int    `json:"live"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func attemptInfo(a vizier.AttemptRecord) AttemptInfo {
	ai := AttemptInfo{
		Attempt: a.Attempt,
		Start:   a.Start,
		End:     a.End,
		Code:    a.Result.Code,
	}
	if a.Result.Signal != 0 {
		ai.Signal = a.Result.Signal.String()
	}
	if a.Result.Err != nil {
		ai.Error = a.Result.Err.Error()
	}
	return ai
}

func newStepInfo(st vizier.StepState) *StepInfo {
	info := &StepInfo{
		Name:       st.Name,
		Group:      st.Group,
		Parallel:   st.Parallel,
		Status:     st.Status.String(),
		Attempts:   st.Attempts,
		Suppressed: st.Suppressed,
		Reason:     st.Reason,
		TimeStamp:  st.Stamp,
	}
	for _, a := range st.History {
		info.History = append(info.History, attemptInfo(a))
	}
	return info
}

func newRunInfo(ri vizier.RunInfo) *RunInfo {
	return &RunInfo{
		ID:         ri.ID,
		Name:       ri.Name,
		Phase:      ri.Phase.String(),
		Group:      ri.Group,
		Groups:     ri.Groups,
		Live:       ri.Live,
		CreateTime: ri.CreateTime,
		UpdateTime: ri.UpdateTime,
	}
}

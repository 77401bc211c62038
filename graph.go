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
	"time"
)

// Unbounded is the Retries value meaning "restart forever".
const Unbounded = -1

// DefaultShell is used when a step does not name a shell.
const DefaultShell = "/bin/sh"

// RetryPolicy controls when a step is started again.
type RetryPolicy struct {
	// Retries is the number of additional attempts allowed after the
	// first failure.  Zero means run once.  Unbounded means no limit.
	Retries int

	// Always restarts the step after a successful exit too.
	Always bool

	// Delay is the wait between an exit and the next attempt.
	Delay time.Duration
}

// LogLevels classifies the verbosity of each stream of a step.  It is
// only interpreted by the Sink.
type LogLevels struct {
	Stdout    Level
	Stderr    Level
	Lifecycle Level
}

// DefaultLogLevels are used for steps that do not specify any.
var DefaultLogLevels = LogLevels{
	Stdout:    LevelInfo,
	Stderr:    LevelWarn,
	Lifecycle: LevelInfo,
}

// Step is the unit of supervision.
type Step struct {
	Name        string
	Dir         string
	Shell       string
	Commands    []string
	Script      string // template path, rendered by a ScriptRenderer
	Environment map[string]string
	Parallel    bool
	Delay       time.Duration
	Retry       RetryPolicy
	IgnoreError bool
	LogLevels   LogLevels
}

// Blocking returns true if the group must wait for this step.
func (s *Step) Blocking() bool {
	return !s.Parallel
}

func (s *Step) shell() string {
	if s.Shell == "" {
		return DefaultShell
	}
	return s.Shell
}

// Group is a set of steps that are candidates for concurrent execution.
type Group []*Step

// StepGraph is the ordered list of groups describing a whole run.  It
// must not be modified once handed to a Supervisor.
type StepGraph struct {
	Groups []Group
}

// NewStepGraph is a convenience for building graphs in code.
func NewStepGraph(groups ...Group) *StepGraph {
	return &StepGraph{Groups: groups}
}

// Steps returns every step of the graph, in graph order.
func (g *StepGraph) Steps() []*Step {
	var rv []*Step
	for _, grp := range g.Groups {
		rv = append(rv, grp...)
	}
	return rv
}

// Find returns the named step, or nil.
func (g *StepGraph) Find(name string) *Step {
	for _, s := range g.Steps() {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Validate checks the invariants the engine depends upon.  It returns a
// *ConfigurationError describing the first problem found.
func (g *StepGraph) Validate() error {
	if g == nil || len(g.Steps()) == 0 {
		return &ConfigurationError{Err: ErrEmptyGraph}
	}
	seen := make(map[string]bool)
	for _, s := range g.Steps() {
		if s == nil || s.Name == "" {
			return &ConfigurationError{Err: ErrNoName}
		}
		if seen[s.Name] {
			return &ConfigurationError{Step: s.Name, Err: ErrDuplicateStep}
		}
		seen[s.Name] = true
		if len(s.Commands) == 0 && s.Script == "" {
			return &ConfigurationError{Step: s.Name, Err: ErrNoCommands}
		}
		if s.Delay < 0 || s.Retry.Delay < 0 {
			return &ConfigurationError{Step: s.Name, Err: ErrNegativeDelay}
		}
		if s.Retry.Retries < Unbounded {
			return &ConfigurationError{Step: s.Name, Err: ErrBadRetries}
		}
	}
	return nil
}

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
	"fmt"
)

var (
	ErrTerminationRequested = errors.New("Termination requested")
	ErrEmptyGraph           = errors.New("Step graph has no steps")
	ErrNoCommands           = errors.New("Step has no commands or script")
	ErrNoName               = errors.New("Step has no name")
	ErrDuplicateStep        = errors.New("Duplicate step name")
	ErrNegativeDelay        = errors.New("Negative delay")
	ErrBadRetries           = errors.New("Bad retry count")
	ErrNoRenderer           = errors.New("No script renderer configured")
	ErrStepNotFound         = errors.New("Step not found")
	ErrAlreadyRunning       = errors.New("Supervisor already running")
)

// SpawnError is returned when the operating system refuses to start a
// process for a step.  For retry purposes it is treated as a failed attempt.
type SpawnError struct {
	Step    string
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("step %s: cannot start %q: %v", e.Step, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ExecutionFailure describes a step whose retry budget has been exhausted.
type ExecutionFailure struct {
	Step     string
	Attempts int
	Result   ExitResult
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("step %s failed after %d attempt(s): %s",
		e.Step, e.Attempts, e.Result)
}

func (e *ExecutionFailure) Unwrap() error {
	return e.Result.Err
}

// ConfigurationError reports a malformed step graph.  These are never
// retried; they indicate a problem in whatever produced the graph.
type ConfigurationError struct {
	Step string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration: step %s: %v", e.Step, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// InternalError wraps a panic recovered from a step runner.
type InternalError struct {
	Step  string
	Value interface{}
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal fault in step %s: %v", e.Step, e.Value)
}

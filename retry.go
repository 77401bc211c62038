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

// RetryState is the state of a RetryController.
type RetryState int

const (
	RetryIdle RetryState = iota
	RetryAttempting
	RetryAwaitingDelay
	RetrySucceeded
	RetryFailed
)

func (s RetryState) String() string {
	switch s {
	case RetryIdle:
		return "idle"
	case RetryAttempting:
		return "attempting"
	case RetryAwaitingDelay:
		return "awaiting-retry-delay"
	case RetrySucceeded:
		return "succeeded"
	case RetryFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal is true for Succeeded and Failed.
func (s RetryState) Terminal() bool {
	return s == RetrySucceeded || s == RetryFailed
}

// Decision is what the controller wants done after an exit.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// RetryController decides, for one step, whether another attempt should
// be made after each exit.  It is not safe for concurrent use; each step
// runner owns its own.
//
//   Idle --Begin--> Attempting --Observe--> AwaitingRetryDelay --Begin--> ...
//                              \
//                               +--> Succeeded | Failed
//
// Cancel moves any non-terminal state straight to Failed.
type RetryController struct {
	policy    RetryPolicy
	state     RetryState
	attempts  int
	last      ExitResult
	cancelled bool
}

// NewRetryController returns a controller in the Idle state.
func NewRetryController(p RetryPolicy) *RetryController {
	return &RetryController{policy: p}
}

// Begin records the start of an attempt.  It returns false if the
// controller is already in a terminal state.
func (c *RetryController) Begin() bool {
	if c.state.Terminal() || c.state == RetryAttempting {
		return false
	}
	c.state = RetryAttempting
	c.attempts++
	return true
}

// Observe feeds the result of the current attempt.
func (c *RetryController) Observe(r ExitResult) Decision {
	if c.state != RetryAttempting {
		return Decision{}
	}
	c.last = r
	n := c.attempts - 1

	if r.Success() {
		if !c.policy.Always {
			c.state = RetrySucceeded
			return Decision{}
		}
	} else if c.policy.Retries != Unbounded && n >= c.policy.Retries {
		c.state = RetryFailed
		return Decision{}
	}
	c.state = RetryAwaitingDelay
	return Decision{Retry: true, Delay: c.policy.Delay}
}

// Cancel aborts any pending retry.
func (c *RetryController) Cancel() {
	if c.state.Terminal() {
		return
	}
	c.cancelled = true
	c.state = RetryFailed
}

func (c *RetryController) State() RetryState {
	return c.state
}

// Attempts returns the number of attempts begun so far.
func (c *RetryController) Attempts() int {
	return c.attempts
}

// Last returns the result of the most recently observed attempt.
func (c *RetryController) Last() ExitResult {
	return c.last
}

// Cancelled is true if the controller was stopped by Cancel.
func (c *RetryController) Cancelled() bool {
	return c.cancelled
}

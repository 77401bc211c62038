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
)

// Process exit codes reported by a run.
const (
	ExitOK            = 0
	ExitStepFailure   = 1
	ExitSpawnFailure  = 2
	ExitInternal      = 70
	ExitConfiguration = 120
	ExitTerminated    = 130
)

// ExitStatus maps the outcome of a run to a process exit code.  The
// failures are the non-suppressed step errors; terminated is true if the
// run was cut short from outside.
func ExitStatus(failures []error, terminated bool) int {
	spawnOnly := len(failures) > 0
	for _, e := range failures {
		var ie *InternalError
		if errors.As(e, &ie) {
			return ExitInternal
		}
		var ce *ConfigurationError
		if errors.As(e, &ce) {
			return ExitConfiguration
		}
		if !isSpawnFailure(e) {
			spawnOnly = false
		}
	}
	switch {
	case terminated:
		return ExitTerminated
	case spawnOnly:
		return ExitSpawnFailure
	case len(failures) > 0:
		return ExitStepFailure
	}
	return ExitOK
}

func isSpawnFailure(e error) bool {
	var ef *ExecutionFailure
	if errors.As(e, &ef) {
		return !ef.Result.Spawned()
	}
	var se *SpawnError
	return errors.As(e, &se)
}

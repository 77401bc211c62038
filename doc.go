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

// Package vizier provides a container-native init and process supervisor.
//
// A run executes a StepGraph: an ordered list of groups, each group being
// a set of steps that may run together.
// A step is one or more shell commands, usually a long running service.
// Groups are started in order; the next group starts only once every
// blocking (non-parallel) step of the current group has reached a final
// verdict.  Parallel steps are left running in the background, which is
// how long lived services are expressed.
//
// Failed steps are restarted according to their RetryPolicy.  A step with
// Always set is restarted even when it exits cleanly, and so only ever
// finishes when the run is terminated.
//
// The Supervisor owns the run.  It traps termination signals, and on
// receipt (or on an unrecoverable failure) it sweeps every process it
// has started, signalling each process group so that children spawned by
// an intermediate shell are reached too.  Termination is best effort, but
// bounded in time; the Supervisor never hangs waiting for a process that
// refuses to die.
//
// All output, both the output of the supervised processes and vizier's own
// lifecycle messages, is handed to a Sink.  Vizier itself never formats or
// colors anything.
//
package vizier

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

// Package util is used for internal implementation bits in the CLI/UI.
package util

import (
	"fmt"
	"sort"
	"time"

	"github.com/gdamore/vizier/rest"
)

// Status returns a short status word for the step.
func Status(s *rest.StepInfo) string {
	if s.Suppressed {
		return "ignored"
	}
	return s.Status
}

// Severity ranks a step for display; lower is more urgent.
func Severity(s *rest.StepInfo) int {
	switch {
	case s.Status == "failed" && !s.Suppressed:
		return 0
	case s.Status == "retrying":
		return 1
	case s.Status == "running":
		return 2
	case s.Status == "pending":
		return 3
	}
	return 4
}

func FormatDuration(d time.Duration) string {

	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

// FormatAttempt renders one history entry on a single line.
func FormatAttempt(a rest.AttemptInfo) string {
	var how string
	switch {
	case a.Error != "":
		how = "error: " + a.Error
	case a.Signal != "":
		how = "signal " + a.Signal
	default:
		how = fmt.Sprintf("exit %d", a.Code)
	}
	d := a.End.Sub(a.Start)
	d -= d % time.Millisecond
	return fmt.Sprintf("#%-4d %s  %10s  %s", a.Attempt,
		a.Start.Format(time.StampMilli), d.String(), how)
}

// SortSteps puts failed steps first, then active ones, and otherwise keeps
// graph order.
func SortSteps(items []*rest.StepInfo) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if sa, sb := Severity(a), Severity(b); sa != sb {
			return sa < sb
		}
		return a.Group < b.Group
	})
}

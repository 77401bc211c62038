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

package util

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/gdamore/vizier/rest"
)

func TestFormatDuration(t *testing.T) {
	Convey("Durations are h:mm:ss", t, func() {
		So(FormatDuration(0), ShouldEqual, "0:00:00")
		So(FormatDuration(61*time.Second), ShouldEqual, "0:01:01")
		So(FormatDuration(26*time.Hour+3*time.Minute), ShouldEqual, "26:03:00")
	})
}

func TestSortSteps(t *testing.T) {
	Convey("Failed steps sort first, then graph order", t, func() {
		items := []*rest.StepInfo{
			{Name: "a", Group: 0, Status: "succeeded"},
			{Name: "b", Group: 1, Status: "running"},
			{Name: "c", Group: 1, Status: "failed", Suppressed: true},
			{Name: "d", Group: 2, Status: "failed"},
			{Name: "e", Group: 2, Status: "pending"},
		}
		SortSteps(items)
		var names []string
		for _, i := range items {
			names = append(names, i.Name)
		}
		So(names, ShouldResemble, []string{"d", "b", "e", "a", "c"})
		So(Status(items[4]), ShouldEqual, "ignored")
	})
}

func TestFormatAttempt(t *testing.T) {
	Convey("Attempts show how they ended", t, func() {
		start := time.Now()
		a := rest.AttemptInfo{Attempt: 2, Start: start, End: start.Add(1500 * time.Millisecond), Code: 3}
		So(FormatAttempt(a), ShouldContainSubstring, "exit 3")
		So(FormatAttempt(a), ShouldContainSubstring, "1.5s")
		a.Signal = "killed"
		So(FormatAttempt(a), ShouldContainSubstring, "signal killed")
		a.Error = "no such file"
		So(FormatAttempt(a), ShouldContainSubstring, "error: no such file")
	})
}

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

package ui

import (
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/gdamore/vizier/rest"
)

func TestPrompt(t *testing.T) {
	Convey("Credential fields are fixed width", t, func() {
		So(prompt([]rune("bob"), true), ShouldEqual, "bob_            ")
		So(prompt([]rune("bob"), false), ShouldEqual, "bob             ")
		long := prompt([]rune("abcdefghijklmnopqrstuvwxyz"), false)
		So(len(long), ShouldEqual, maxField)
		So(long[:1], ShouldEqual, "<")
		So(strings.HasSuffix(long, "z"), ShouldBeTrue)
	})
}

func TestRunTitle(t *testing.T) {
	Convey("The title summarizes the run", t, func() {
		So(runTitle(nil), ShouldEqual, "Steps")
		So(runTitle(&rest.RunInfo{Name: "app", Phase: "running",
			Group: 1, Groups: 3, Live: 2}), ShouldEqual,
			"app: running (group 2 of 3, 2 live)")
	})
}

func TestInfoLines(t *testing.T) {
	Convey("Step details include the recent history", t, func() {
		now := time.Now()
		s := &rest.StepInfo{Name: "db", Group: 1, Parallel: true,
			Status: "retrying", Attempts: 25, TimeStamp: now}
		for i := 1; i <= 25; i++ {
			s.History = append(s.History, rest.AttemptInfo{
				Attempt: i, Start: now, End: now, Code: 1})
		}
		lines := infoLines(s)
		So(lines[1], ShouldContainSubstring, "1 (parallel)")
		So(strings.Join(lines, "\n"), ShouldContainSubstring, "(5 earlier attempts)")
		So(lines[len(lines)-1], ShouldContainSubstring, "#25")
		So(len(lines), ShouldEqual, 7+1+1+maxShownAttempts)
	})
}

func TestLogLines(t *testing.T) {
	Convey("The run log names the step", t, func() {
		recs := []rest.LogRecord{
			{Time: time.Now(), Step: "db", Level: "info", Text: "ready"},
			{Time: time.Now(), Level: "info", Text: "*** starting"},
		}
		all := logLines(recs, true)
		So(all[0], ShouldEndWith, "db: ready")
		So(all[1], ShouldEndWith, "info  *** starting")
		one := logLines(recs[:1], false)
		So(one[0], ShouldEndWith, "info  ready")
	})
}

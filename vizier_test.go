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
	"strings"
	"sync"
	"time"
)

type testRecord struct {
	Kind  StreamKind
	Step  string
	Level Level
	Text  string
}

// testSink collects everything written to it.  It deliberately does not
// call t.Log, since process output may still arrive after a test returns.
type testSink struct {
	recs []testRecord
	mx   sync.Mutex
}

func (ts *testSink) Write(kind StreamKind, step string, level Level, b []byte) {
	ts.mx.Lock()
	ts.recs = append(ts.recs, testRecord{
		Kind:  kind,
		Step:  step,
		Level: level,
		Text:  string(b),
	})
	ts.mx.Unlock()
}

func (ts *testSink) Records(step string, kind StreamKind) []testRecord {
	ts.mx.Lock()
	defer ts.mx.Unlock()
	var rv []testRecord
	for _, r := range ts.recs {
		if r.Step == step && r.Kind == kind {
			rv = append(rv, r)
		}
	}
	return rv
}

func (ts *testSink) Texts(step string, kind StreamKind) []string {
	var rv []string
	for _, r := range ts.Records(step, kind) {
		rv = append(rv, r.Text)
	}
	return rv
}

// Contains reports whether any record of the step contains substr.
func (ts *testSink) Contains(step string, substr string) bool {
	ts.mx.Lock()
	defer ts.mx.Unlock()
	for _, r := range ts.recs {
		if r.Step == step && strings.Contains(r.Text, substr) {
			return true
		}
	}
	return false
}

func shStep(name string, cmds ...string) *Step {
	return &Step{
		Name:      name,
		Commands:  cmds,
		LogLevels: DefaultLogLevels,
	}
}

func testRuntime(g *StepGraph) (*Runtime, *testSink) {
	ts := &testSink{}
	return &Runtime{
		State:     NewRunState("test", g),
		Sink:      ts,
		StopGrace: 200 * time.Millisecond,
	}, ts
}

// eventually polls cond for up to d.
func eventually(d time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

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
	"sync"
)

// MultiSink fans out every line to a set of sinks.  Typically this is the
// console and the in-memory Log that backs the status server.  The
// contained sinks do not need their own locking against each other; each
// Write is delivered to all of them before the next one starts.
type MultiSink struct {
	sinks []Sink
	lock  sync.Mutex
}

// Write implements Sink.
func (m *MultiSink) Write(kind StreamKind, step string, level Level, b []byte) {
	m.lock.Lock()
	for _, s := range m.sinks {
		s.Write(kind, step, level, b)
	}
	m.lock.Unlock()
}

// AddSink adds a sink.  A sink can only be added once.
func (m *MultiSink) AddSink(sink Sink) {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, x := range m.sinks {
		if x == sink {
			return
		}
	}
	m.sinks = append(m.sinks, sink)
}

// DelSink removes a sink from the fan out list.
func (m *MultiSink) DelSink(sink Sink) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for i, x := range m.sinks {
		if x == sink {
			m.sinks = append(m.sinks[:i], m.sinks[i+1:]...)
			break
		}
	}
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		m.AddSink(s)
	}
	return m
}

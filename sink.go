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
	"fmt"
	"strings"
)

// StreamKind identifies where a line of output came from.
type StreamKind int

const (
	StreamStdout StreamKind = iota
	StreamStderr
	StreamLifecycle
)

func (k StreamKind) String() string {
	switch k {
	case StreamStdout:
		return "stdout"
	case StreamStderr:
		return "stderr"
	case StreamLifecycle:
		return "lifecycle"
	}
	return fmt.Sprintf("stream(%d)", int(k))
}

// Level is a verbosity classification.  The numeric values line up with
// zapcore levels, with LevelSilent beyond all of them.
type Level int8

const (
	LevelDebug Level = iota - 1
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent Level = 127
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelSilent:
		return "silent"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel converts a level name into a Level.  A few aliases used by
// other loggers are accepted.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "verbose", "trace":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error", "fatal":
		return LevelError, nil
	case "silent", "none", "off", "false":
		return LevelSilent, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Sink receives all output from the engine.  The bytes handed to Write
// are a single line without its trailing newline.  Implementations must
// be safe for concurrent use; lines from one stream of one step are
// delivered in order.
type Sink interface {
	Write(kind StreamKind, step string, level Level, b []byte)
}

// DiscardSink drops everything.
type DiscardSink struct{}

func (DiscardSink) Write(StreamKind, string, Level, []byte) {}

func logf(s Sink, step string, level Level, format string, v ...interface{}) {
	s.Write(StreamLifecycle, step, level, []byte(fmt.Sprintf(format, v...)))
}

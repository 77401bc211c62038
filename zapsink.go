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
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapSink writes lines to a zap logger, with the step and stream as
// structured fields.  Filtering by level is left to the logger's core.
type ZapSink struct {
	logger *zap.Logger
}

// Write implements Sink.
func (z *ZapSink) Write(kind StreamKind, step string, level Level, b []byte) {
	if level >= LevelSilent {
		return
	}
	ce := z.logger.Check(zapcore.Level(level), string(b))
	if ce == nil {
		return
	}
	if step == "" {
		ce.Write(zap.Stringer("stream", kind))
		return
	}
	ce.Write(zap.String("step", step), zap.Stringer("stream", kind))
}

// Logger returns the underlying logger.
func (z *ZapSink) Logger() *zap.Logger {
	return z.logger
}

// NewZapSink wraps an existing logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger}
}

// NewConsoleSink builds a ZapSink writing to stderr.  The format is either
// "json" or anything else for the human readable console encoding.
func NewConsoleSink(level Level, format string) *ZapSink {
	ecfg := zap.NewProductionEncoderConfig()
	ecfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(ecfg)
	} else {
		ecfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(ecfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(zapcore.Level(level)))
	return NewZapSink(zap.New(core))
}

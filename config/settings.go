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

package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/gdamore/vizier"
)

// DefaultConfigPath is where the daemon looks for its step graph.
const DefaultConfigPath = "/config/services.yml"

// Settings are the daemon's own knobs, as opposed to the step graph.
type Settings struct {
	ConfigPath string
	Name       string
	LogLevel   string
	LogFormat  string
	StatusAddr string
	StatusAuth string
	ScriptDir  string
	StopGrace  time.Duration
	MaxConns   int
}

// FromEnv returns the default settings, overridden by VIZIER_* variables.
// A nil getenv yields the built in defaults.
func FromEnv(getenv func(string) string) (Settings, error) {
	st := Settings{
		ConfigPath: DefaultConfigPath,
		LogLevel:   "info",
		LogFormat:  "console",
		StopGrace:  vizier.DefaultStopGrace,
		MaxConns:   16,
	}
	if getenv == nil {
		return st, nil
	}
	for _, v := range []struct {
		name string
		dst  *string
	}{
		{"VIZIER_CONFIG", &st.ConfigPath},
		{"VIZIER_NAME", &st.Name},
		{"VIZIER_LOG_LEVEL", &st.LogLevel},
		{"VIZIER_LOG_FORMAT", &st.LogFormat},
		{"VIZIER_STATUS_ADDR", &st.StatusAddr},
		{"VIZIER_STATUS_AUTH", &st.StatusAuth},
		{"VIZIER_SCRIPT_DIR", &st.ScriptDir},
	} {
		if s := getenv(v.name); s != "" {
			*v.dst = s
		}
	}
	if s := getenv("VIZIER_STOP_GRACE"); s != "" {
		d, e := ParseDuration(s)
		if e != nil {
			return st, fmt.Errorf("VIZIER_STOP_GRACE: %w", e)
		}
		st.StopGrace = d
	}
	return st, nil
}

// Flags registers the settings on fs, using the current values as the
// defaults, so that flags override the environment.
func (st *Settings) Flags(fs *flag.FlagSet) {
	fs.StringVar(&st.ConfigPath, "c", st.ConfigPath, "step graph file")
	fs.StringVar(&st.Name, "n", st.Name, "run name (defaults to the document name)")
	fs.StringVar(&st.LogLevel, "l", st.LogLevel, "console log level")
	fs.StringVar(&st.LogFormat, "f", st.LogFormat, "console log format (console or json)")
	fs.StringVar(&st.StatusAddr, "a", st.StatusAddr, "status listen address (empty disables)")
	fs.StringVar(&st.StatusAuth, "u", st.StatusAuth, "status auth as user:bcrypt-hash")
	fs.StringVar(&st.ScriptDir, "s", st.ScriptDir, "directory for rendered scripts")
	fs.DurationVar(&st.StopGrace, "g", st.StopGrace, "grace period before SIGKILL")
	fs.IntVar(&st.MaxConns, "m", st.MaxConns, "maximum status connections")
}

// Level returns the parsed console log level.
func (st *Settings) Level() (vizier.Level, error) {
	return vizier.ParseLevel(st.LogLevel)
}

// RunName is the name given by flag or environment, else the document
// name.  An empty result leaves the choice to the supervisor.
func (st *Settings) RunName(doc *Document) string {
	if st.Name != "" || doc == nil {
		return st.Name
	}
	return doc.Name
}

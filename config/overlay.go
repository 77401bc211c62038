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
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ServicePrefix starts the variables that override or add steps, as in
// SERVICE_0_CWD or SERVICE_2_ENABLE.
const ServicePrefix = "SERVICE_"

type serviceVar struct {
	key string
	set func(sc *Step, v string) error
}

func boolValue(v string) (*bool, error) {
	b, e := strconv.ParseBool(v)
	if e != nil {
		return nil, e
	}
	return &b, nil
}

// Values that carry lists or maps are YAML, so JSON is accepted too.
var serviceVars = []serviceVar{
	{"CWD", func(sc *Step, v string) error {
		sc.Cwd = v
		return nil
	}},
	{"NAME", func(sc *Step, v string) error {
		sc.Name = v
		return nil
	}},
	{"SHELL", func(sc *Step, v string) error {
		sc.Shell = v
		return nil
	}},
	{"COMMAND", func(sc *Step, v string) error {
		sc.Commands = []string{v}
		sc.Script = ""
		return nil
	}},
	{"COMMANDS", func(sc *Step, v string) error {
		var cmds []string
		if e := yaml.Unmarshal([]byte(v), &cmds); e != nil {
			return e
		}
		sc.Commands = cmds
		sc.Script = ""
		return nil
	}},
	{"SCRIPT", func(sc *Step, v string) error {
		sc.Script = v
		sc.Commands = nil
		return nil
	}},
	{"ENVIRONMENT", func(sc *Step, v string) error {
		var env map[string]string
		if e := yaml.Unmarshal([]byte(v), &env); e != nil {
			return e
		}
		if sc.Environment == nil {
			sc.Environment = make(map[string]string)
		}
		for k, val := range env {
			sc.Environment[k] = val
		}
		return nil
	}},
	{"ENABLE", func(sc *Step, v string) (e error) {
		sc.Enable, e = boolValue(v)
		return
	}},
	{"LOAD_DOTENV", func(sc *Step, v string) (e error) {
		sc.LoadDotenv, e = boolValue(v)
		return
	}},
	{"PARALLEL", func(sc *Step, v string) (e error) {
		sc.Parallel, e = boolValue(v)
		return
	}},
	{"IGNORE_ERROR", func(sc *Step, v string) (e error) {
		sc.IgnoreError, e = boolValue(v)
		return
	}},
	{"DELAY", func(sc *Step, v string) error {
		d, e := ParseDuration(v)
		if e != nil {
			return e
		}
		dd := Duration(d)
		sc.Delay = &dd
		return nil
	}},
}

// Overlay applies the environment to the document.  VIZIER_CHECK_DIRECTORIES
// sets CheckDirectories.  SERVICE_<i>_<KEY> sets KEY on step i, counting
// steps in graph order from zero.  An index past the last step adds a new
// step, in a group of its own, provided SERVICE_<i>_CWD, _COMMAND or
// _COMMANDS is set; the first index without one ends the scan.
func (d *Document) Overlay(getenv func(string) string) error {
	if getenv == nil {
		return nil
	}
	if v := getenv("VIZIER_CHECK_DIRECTORIES"); v != "" {
		b, e := strconv.ParseBool(v)
		if e != nil {
			return configError("", fmt.Errorf("VIZIER_CHECK_DIRECTORIES: %w", e))
		}
		d.CheckDirectories = b
	}

	var steps []*Step
	for gi := range d.Steps {
		for si := range d.Steps[gi] {
			steps = append(steps, &d.Steps[gi][si])
		}
	}
	for i := 0; ; i++ {
		get := func(key string) (string, string) {
			name := fmt.Sprintf("%s%d_%s", ServicePrefix, i, key)
			return name, getenv(name)
		}
		var sc *Step
		if i < len(steps) {
			sc = steps[i]
		} else {
			_, cwd := get("CWD")
			_, cmd := get("COMMAND")
			_, cmds := get("COMMANDS")
			if cwd == "" && cmd == "" && cmds == "" {
				return nil
			}
			d.Steps = append(d.Steps, Group{Step{}})
			sc = &d.Steps[len(d.Steps)-1][0]
		}
		for _, sv := range serviceVars {
			name, v := get(sv.key)
			if v == "" {
				continue
			}
			if e := sv.set(sc, v); e != nil {
				return configError(sc.Name, fmt.Errorf("%s: %w", name, e))
			}
		}
	}
}

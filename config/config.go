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

// Package config turns a YAML step graph description into a
// vizier.StepGraph.  Two document shapes are accepted: a mapping with
// "defaults" and "steps", or a bare list of groups.
//
//	name: demo
//	check_directories: true
//	defaults:
//	  shell: /bin/bash
//	  retry: { retries: 3, delay: 1s }
//	steps:
//	  - - name: db
//	      cwd: /data/db
//	      commands: ["./run-db"]
//	      parallel: true
//	      retry: { retries: unbounded, always: true }
//	  - - cwd: /srv/api
//	      load_dotenv: true
//	      commands: ["./api"]
//	    - name: worker
//	      enable: false
//	      commands: ["./worker"]
//
// A step without a name is named by its cwd.  Disabled steps are left out
// of the graph, and a group with no enabled steps is dropped.  With
// load_dotenv, the .env file in the step directory, if any, is read into
// the step environment below the configured variables.
//
// Durations are Go duration strings ("1500ms", "2s"), or plain integers
// meaning milliseconds.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gdamore/vizier"
)

var (
	ErrBadDuration  = errors.New("bad duration")
	ErrBadRetries   = errors.New("bad retries")
	ErrBadDocument  = errors.New("document must be a mapping or a list of groups")
	ErrNoneEnabled  = errors.New("no step is enabled")
	ErrNoDirectory  = errors.New("directory does not exist")
	ErrNotDirectory = errors.New("not a directory")
)

// Duration is a time.Duration that also accepts integer milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: %w", n.Line, ErrBadDuration)
	}
	v, e := ParseDuration(n.Value)
	if e != nil {
		return fmt.Errorf("line %d: %w", n.Line, e)
	}
	*d = Duration(v)
	return nil
}

// ParseDuration parses a duration string, treating bare integers as
// milliseconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, e := strconv.ParseInt(s, 10, 64); e == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	v, e := time.ParseDuration(s)
	if e != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
	}
	return v, nil
}

// Retries is a retry budget; "unbounded" maps to vizier.Unbounded.
type Retries int

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Retries) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: %w", n.Line, ErrBadRetries)
	}
	switch strings.ToLower(strings.TrimSpace(n.Value)) {
	case "unbounded", "unlimited", "infinite", "forever":
		*r = Retries(vizier.Unbounded)
		return nil
	}
	v, e := strconv.Atoi(strings.TrimSpace(n.Value))
	if e != nil || v < vizier.Unbounded {
		return fmt.Errorf("line %d: %w: %q", n.Line, ErrBadRetries, n.Value)
	}
	*r = Retries(v)
	return nil
}

// Retry is the retry section of a step.
type Retry struct {
	Retries *Retries  `yaml:"retries"`
	Always  *bool     `yaml:"always"`
	Delay   *Duration `yaml:"delay"`
}

// Log holds per-stream level names.  "lifetime" is an alias of
// "lifecycle".
type Log struct {
	Stdout    string `yaml:"stdout"`
	Stderr    string `yaml:"stderr"`
	Lifecycle string `yaml:"lifecycle"`
	Lifetime  string `yaml:"lifetime"`
}

// Step is a step as written in the document.  Pointers distinguish unset
// values from zero values so that defaults can be applied.
type Step struct {
	Name        string            `yaml:"name"`
	Enable      *bool             `yaml:"enable"`
	Cwd         string            `yaml:"cwd"`
	LoadDotenv  *bool             `yaml:"load_dotenv"`
	Shell       string            `yaml:"shell"`
	Commands    []string          `yaml:"commands"`
	Script      string            `yaml:"script"`
	Environment map[string]string `yaml:"environment"`
	Parallel    *bool             `yaml:"parallel"`
	Delay       *Duration         `yaml:"delay"`
	Retry       *Retry            `yaml:"retry"`
	IgnoreError *bool             `yaml:"ignore_error"`
	Log         *Log              `yaml:"log"`
}

// Group is a list of steps.  A single step mapping is accepted as a group
// of one.
type Group []Step

// UnmarshalYAML implements yaml.Unmarshaler.
func (g *Group) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.MappingNode {
		var s Step
		if e := n.Decode(&s); e != nil {
			return e
		}
		*g = Group{s}
		return nil
	}
	var steps []Step
	if e := n.Decode(&steps); e != nil {
		return e
	}
	*g = steps
	return nil
}

// Document is a whole configuration file.
type Document struct {
	Name             string  `yaml:"name"`
	CheckDirectories bool    `yaml:"check_directories"`
	Defaults         Step    `yaml:"defaults"`
	Steps            []Group `yaml:"steps"`

	disabled []string
}

func configError(step string, e error) error {
	return &vizier.ConfigurationError{Step: step, Err: e}
}

// Parse decodes a document.  Errors are *vizier.ConfigurationError.
func Parse(b []byte) (*Document, error) {
	var root yaml.Node
	if e := yaml.Unmarshal(b, &root); e != nil {
		return nil, configError("", e)
	}
	doc := &Document{}
	if len(root.Content) == 0 {
		return doc, nil
	}
	n := root.Content[0]
	var e error
	switch n.Kind {
	case yaml.SequenceNode:
		e = n.Decode(&doc.Steps)
	case yaml.MappingNode:
		e = n.Decode(doc)
	default:
		e = ErrBadDocument
	}
	if e != nil {
		return nil, configError("", e)
	}
	return doc, nil
}

// Load reads and decodes the named file.
func Load(path string) (*Document, error) {
	b, e := os.ReadFile(path)
	if e != nil {
		return nil, configError("", fmt.Errorf("failed to read config file: %w", e))
	}
	return Parse(b)
}

// LoadGraph loads the named file, applies the environment overlay (see
// Overlay) and builds the graph.  The document is returned whenever it
// could be read, so that the caller can see its name and disabled steps.
func LoadGraph(path string, getenv func(string) string) (*Document, *vizier.StepGraph, error) {
	doc, e := Load(path)
	if e != nil {
		return nil, nil, e
	}
	if e := doc.Overlay(getenv); e != nil {
		return doc, nil, e
	}
	g, e := doc.Graph()
	return doc, g, e
}

// Disabled returns the names of the steps left out by the last Graph.
func (d *Document) Disabled() []string {
	return d.disabled
}

func (d *Document) enabled(sc *Step) bool {
	if sc.Enable != nil {
		return *sc.Enable
	}
	if d.Defaults.Enable != nil {
		return *d.Defaults.Enable
	}
	return true
}

// Graph applies the defaults to every enabled step and builds a validated
// graph.
func (d *Document) Graph() (*vizier.StepGraph, error) {
	g := &vizier.StepGraph{}
	d.disabled = nil
	total := 0
	for gi, grp := range d.Steps {
		vg := make(vizier.Group, 0, len(grp))
		for si := range grp {
			total++
			if !d.enabled(&grp[si]) {
				d.disabled = append(d.disabled, stepName(gi, si, &grp[si]))
				continue
			}
			s, e := d.step(gi, si, &grp[si])
			if e != nil {
				return nil, e
			}
			vg = append(vg, s)
		}
		if len(vg) > 0 {
			g.Groups = append(g.Groups, vg)
		}
	}
	if total > 0 && len(d.disabled) == total {
		return nil, configError("", ErrNoneEnabled)
	}
	if e := g.Validate(); e != nil {
		return nil, e
	}
	if d.CheckDirectories {
		if e := checkDirectories(g); e != nil {
			return nil, e
		}
	}
	return g, nil
}

// checkDirectories reports every step whose directory is missing or is
// not a directory.
func checkDirectories(g *vizier.StepGraph) error {
	var errs []error
	for _, s := range g.Steps() {
		if s.Dir == "" {
			continue
		}
		fi, e := os.Stat(s.Dir)
		switch {
		case e != nil:
			errs = append(errs, configError(s.Name, fmt.Errorf("%w: %s", ErrNoDirectory, s.Dir)))
		case !fi.IsDir():
			errs = append(errs, configError(s.Name, fmt.Errorf("%w: %s", ErrNotDirectory, s.Dir)))
		}
	}
	return errors.Join(errs...)
}

func stepName(gi, si int, sc *Step) string {
	switch {
	case sc.Name != "":
		return sc.Name
	case sc.Cwd != "":
		return filepath.Clean(sc.Cwd)
	}
	return fmt.Sprintf("step-%d-%d", gi, si)
}

func (d *Document) step(gi, si int, sc *Step) (*vizier.Step, error) {
	def := &d.Defaults
	s := &vizier.Step{
		Name:      stepName(gi, si, sc),
		Dir:       pick(sc.Cwd, def.Cwd),
		Shell:     pick(sc.Shell, def.Shell),
		Commands:  sc.Commands,
		Script:    sc.Script,
		LogLevels: vizier.DefaultLogLevels,
	}
	if len(s.Commands) == 0 && s.Script == "" {
		s.Commands = def.Commands
		s.Script = def.Script
	}

	env := make(map[string]string)
	if pickBool(sc.LoadDotenv, def.LoadDotenv) {
		p := filepath.Join(s.Dir, ".env")
		vals, e := godotenv.Read(p)
		if e != nil && !errors.Is(e, fs.ErrNotExist) {
			return nil, configError(s.Name, fmt.Errorf("failed to read %s: %w", p, e))
		}
		for k, v := range vals {
			env[k] = v
		}
	}
	for _, m := range []map[string]string{def.Environment, sc.Environment} {
		for k, v := range m {
			env[k] = v
		}
	}
	if len(env) > 0 {
		s.Environment = env
	}

	s.Parallel = pickBool(sc.Parallel, def.Parallel)
	s.IgnoreError = pickBool(sc.IgnoreError, def.IgnoreError)
	if v := pickDuration(sc.Delay, def.Delay); v != nil {
		s.Delay = time.Duration(*v)
	}

	var r, dr Retry
	if sc.Retry != nil {
		r = *sc.Retry
	}
	if def.Retry != nil {
		dr = *def.Retry
	}
	if r.Retries == nil {
		r.Retries = dr.Retries
	}
	if r.Retries != nil {
		s.Retry.Retries = int(*r.Retries)
	}
	s.Retry.Always = pickBool(r.Always, dr.Always)
	if v := pickDuration(r.Delay, dr.Delay); v != nil {
		s.Retry.Delay = time.Duration(*v)
	}

	for _, l := range []*Log{def.Log, sc.Log} {
		if e := applyLog(&s.LogLevels, l); e != nil {
			return nil, configError(s.Name, e)
		}
	}
	return s, nil
}

func applyLog(lv *vizier.LogLevels, l *Log) error {
	if l == nil {
		return nil
	}
	set := func(dst *vizier.Level, name string) error {
		if name == "" {
			return nil
		}
		v, e := vizier.ParseLevel(name)
		if e != nil {
			return e
		}
		*dst = v
		return nil
	}
	if e := set(&lv.Stdout, l.Stdout); e != nil {
		return e
	}
	if e := set(&lv.Stderr, l.Stderr); e != nil {
		return e
	}
	if e := set(&lv.Lifecycle, l.Lifetime); e != nil {
		return e
	}
	return set(&lv.Lifecycle, l.Lifecycle)
}

func pick(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func pickBool(v, def *bool) bool {
	if v != nil {
		return *v
	}
	if def != nil {
		return *def
	}
	return false
}

func pickDuration(v, def *Duration) *Duration {
	if v != nil {
		return v
	}
	return def
}

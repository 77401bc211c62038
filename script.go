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
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// ScriptRenderer turns a step's Script reference into an executable file.
// The returned path is run as "<shell> <path>" and is otherwise opaque.
type ScriptRenderer interface {
	Render(step *Step) (string, error)
}

// ScriptData is what a script template sees.
type ScriptData struct {
	Name        string
	Dir         string
	Commands    []string
	Environment map[string]string
}

// TemplateRenderer renders step scripts with text/template, writing the
// result to Dir.  A template that refers to an undefined key is an error.
type TemplateRenderer struct {
	Dir string
}

// NewTemplateRenderer creates a renderer writing to dir, which is created
// if needed.  An empty dir uses a directory below os.TempDir.
func NewTemplateRenderer(dir string) (*TemplateRenderer, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "vizier")
	}
	if e := os.MkdirAll(dir, 0755); e != nil {
		return nil, fmt.Errorf("script dir: %w", e)
	}
	return &TemplateRenderer{Dir: dir}, nil
}

// Render implements ScriptRenderer.
func (r *TemplateRenderer) Render(step *Step) (string, error) {
	src, e := os.ReadFile(step.Script)
	if e != nil {
		return "", e
	}
	t, e := template.New(filepath.Base(step.Script)).
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"quote": func(s string) string {
				return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
			},
		}).
		Parse(string(src))
	if e != nil {
		return "", e
	}
	data := ScriptData{
		Name:        step.Name,
		Dir:         step.Dir,
		Commands:    step.Commands,
		Environment: step.Environment,
	}
	var buf bytes.Buffer
	if e := t.Execute(&buf, data); e != nil {
		return "", e
	}
	path := filepath.Join(r.Dir, safeName(step.Name)+".sh")
	if e := os.WriteFile(path, buf.Bytes(), 0755); e != nil {
		return "", e
	}
	return path, nil
}

func safeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, name)
}

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
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/gdamore/vizier/rest"
)

type LogPanel struct {
	text *views.TextArea
	name string // step name, or empty for the whole run

	Panel
}

func NewLogPanel(app *App) *LogPanel {
	p := &LogPanel{}

	p.Panel.Init(app)

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)
	p.SetKeys([]string{"[ESC] Main", "[H] Help"})

	return p
}

func (p *LogPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *LogPanel) HandleEvent(ev tcell.Event) bool {
	app := p.App()
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			app.ShowMain()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.ShowMain()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'I', 'i':
				if p.name != "" {
					app.ShowInfo(p.name)
					return true
				}
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}

func (p *LogPanel) SetName(name string) {
	p.SetTitle("Loading")
	p.text.SetLines(nil)
	p.name = name
}

// logLines formats records.  The step is shown only in the run log.
func logLines(recs []rest.LogRecord, withStep bool) []string {
	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		ts := r.Time.Format(time.StampMilli)
		switch {
		case withStep && r.Step != "":
			lines = append(lines, fmt.Sprintf("%s %-5s %s: %s",
				ts, r.Level, r.Step, r.Text))
		default:
			lines = append(lines, fmt.Sprintf("%s %-5s %s",
				ts, r.Level, r.Text))
		}
	}
	return lines
}

// update must be called with AppLock held.
func (p *LogPanel) update() {

	var info *rest.StepInfo
	var e1 error
	if p.name != "" {
		info, e1 = p.App().GetItem(p.name)
	}
	loginfo, e2 := p.App().GetLog(p.name)

	if p.name == "" {
		p.SetTitle("Consolidated Log")
	} else {
		p.SetTitle("Log for " + p.name)
	}

	words := []string{"[ESC] Main", "[H] Help"}
	if p.name != "" {
		words = append(words, "[I] Info")
	}
	p.SetKeys(words)

	if loginfo == nil {
		e := e2
		if e == nil {
			e = e1
		}
		if e != nil {
			p.SetStatus(fmt.Sprintf("No data: %v", e))
			p.SetError()
		} else {
			p.SetStatus("Loading ...")
			p.SetNormal()
		}
		p.text.SetLines([]string{""})
		return
	}

	if info != nil {
		p.SetStatus(info.Reason)
		p.SetStepStyle(info.Status, info.Suppressed)
	} else {
		p.SetStatus(fmt.Sprintf("%d records", len(loginfo.Records)))
		p.SetNormal()
	}
	p.text.SetLines(logLines(loginfo.Records, p.name == ""))
}

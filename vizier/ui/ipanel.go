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
	"github.com/gdamore/vizier/vizier/util"
)

// maxShownAttempts limits the history shown for a step.
const maxShownAttempts = 20

type InfoPanel struct {
	text *views.TextArea
	info *rest.StepInfo
	name string // step name
	err  error  // last error retrieving state

	Panel
}

func NewInfoPanel(app *App) *InfoPanel {
	p := &InfoPanel{}
	p.Panel.Init(app)

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)
	p.SetKeys([]string{"[ESC] Main", "[H] Help"})

	return p
}

func (p *InfoPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *InfoPanel) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			p.App().ShowMain()
			return true
		case tcell.KeyF1:
			p.App().ShowHelp()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				p.App().ShowMain()
				return true
			case 'H', 'h':
				p.App().ShowHelp()
				return true
			case 'L', 'l':
				p.App().ShowLog(p.name)
				return true
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}

func (p *InfoPanel) SetName(name string) {
	p.name = name
	p.info = nil
	p.err = nil
	p.text.SetLines(nil)
}

// infoLines renders the details of a step.
func infoLines(s *rest.StepInfo) []string {
	kind := "blocking"
	if s.Parallel {
		kind = "parallel"
	}
	lines := make([]string, 0, 12)
	lines = append(lines, fmt.Sprintf("%13s %s", "Name:", s.Name))
	lines = append(lines, fmt.Sprintf("%13s %d (%s)", "Group:", s.Group, kind))
	lines = append(lines, fmt.Sprintf("%13s %s", "Status:", util.Status(s)))
	lines = append(lines, fmt.Sprintf("%13s %d", "Attempts:", s.Attempts))
	lines = append(lines, fmt.Sprintf("%13s %v", "Since:",
		s.TimeStamp.Format(time.RFC3339)))
	lines = append(lines, fmt.Sprintf("%13s %s", "Detail:", s.Reason))
	lines = append(lines, "")

	hist := s.History
	if len(hist) == 0 {
		lines = append(lines, fmt.Sprintf("%13s", "No attempts"))
		return lines
	}
	lines = append(lines, fmt.Sprintf("%13s", "History:"))
	if len(hist) > maxShownAttempts {
		lines = append(lines, fmt.Sprintf("%13s (%d earlier attempts)",
			"", len(hist)-maxShownAttempts))
		hist = hist[len(hist)-maxShownAttempts:]
	}
	for _, a := range hist {
		lines = append(lines, fmt.Sprintf("%13s %s", "", util.FormatAttempt(a)))
	}
	return lines
}

// update must be called with AppLock held.
func (p *InfoPanel) update() {

	s, e := p.App().GetItem(p.name)
	if p.info == s && p.err == e {
		return
	}
	p.info = s
	p.err = e

	p.SetTitle("Details for " + p.name)

	if s == nil {
		if e != nil {
			p.SetStatus(fmt.Sprintf("No data: %v", e))
			p.SetError()
		} else {
			p.SetStatus("Loading...")
			p.SetNormal()
		}
		p.text.SetLines(nil)
		return
	}

	p.SetStatus(s.Reason)
	p.SetStepStyle(s.Status, s.Suppressed)
	p.text.SetLines(infoLines(s))
	p.SetKeys([]string{"[ESC] Main", "[H] Help", "[L] Log"})
}

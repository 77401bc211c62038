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
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/gdamore/vizier/rest"
	"github.com/gdamore/vizier/vizier/util"
)

// MainPanel implements a Widget as a Panel, but provides the data
// model and handling for the content area, listing every step of the run.
type MainPanel struct {
	content  *views.CellView
	selected *rest.StepInfo
	nfailed  int
	nactive  int
	npending int
	ndone    int
	width    int
	height   int
	curx     int
	cury     int
	lines    []string
	styles   []tcell.Style
	items    []*rest.StepInfo

	Panel
}

// mainModel provides the model for a CellArea.
type mainModel struct {
	m *MainPanel
}

func NewMainPanel(app *App, server string) *MainPanel {
	m := &MainPanel{}

	m.Panel.Init(app)
	m.content = views.NewCellView()
	m.SetContent(m.content)

	m.content.SetModel(&mainModel{m})
	m.content.SetStyle(StyleNormal)

	m.SetTitle("Steps")
	m.SetKeys([]string{"[Q] Quit"})

	return m
}

func (m *MainPanel) Draw() {
	m.update()
	m.Panel.Draw()
}

func (m *MainPanel) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			m.unselect()
			return true
		case tcell.KeyF1:
			m.App().ShowHelp()
			return true
		case tcell.KeyEnter:
			if m.selected != nil {
				m.App().ShowInfo(m.selected.Name)
				return true
			}
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				m.App().Quit()
				return true
			case 'H', 'h':
				m.App().ShowHelp()
				return true
			case 'I', 'i':
				if m.selected != nil {
					m.App().ShowInfo(m.selected.Name)
					return true
				}
			case 'L', 'l':
				if m.selected != nil {
					m.App().ShowLog(m.selected.Name)
				} else {
					m.App().ShowLog("")
				}
				return true
			}
		}
	}
	return m.Panel.HandleEvent(ev)
}

// Model items
func (model *mainModel) GetCell(x, y int) (rune, tcell.Style, []rune, int) {
	m := model.m

	if y < 0 || y >= len(m.lines) {
		return ' ', StyleNormal, nil, 1
	}

	ch := ' '
	if x >= 0 && x < len(m.lines[y]) {
		ch = rune(m.lines[y][x])
	}
	style := m.styles[y]
	if m.items[y] == m.selected {
		style = style.Reverse(true)
	}
	return ch, style, nil, 1
}

func (model *mainModel) GetBounds() (int, int) {
	// This assumes that all content is displayable runes of width 1.
	m := model.m
	x := 0
	for _, l := range m.lines {
		if x < len(l) {
			x = len(l)
		}
	}
	return x, len(m.lines)
}

func (model *mainModel) GetCursor() (int, int, bool, bool) {
	m := model.m
	return m.curx, m.cury, true, false
}

func (model *mainModel) MoveCursor(offx, offy int) {
	m := model.m
	m.curx += offx
	m.cury += offy
	m.updateCursor(true)
}

func (model *mainModel) SetCursor(x, y int) {
	m := model.m
	m.curx = x
	m.cury = y
	m.updateCursor(true)
}

func (m *MainPanel) unselect() {
	m.cury = 0
	m.curx = 0
	m.updateCursor(false)
}

func (m *MainPanel) updateCursor(selected bool) {
	if m.curx > m.width-1 {
		m.curx = m.width - 1
	}
	if m.cury > m.height-1 {
		m.cury = m.height - 1
	}
	if m.curx < 0 {
		m.curx = 0
	}
	if m.cury < 0 {
		m.cury = 0
	}
	if selected && m.height > 0 {
		if m.selected == nil {
			m.curx = 0
			m.cury = 0
		}
		m.selected = m.items[m.cury]
	} else {
		m.selected = nil
	}
}

func runTitle(run *rest.RunInfo) string {
	if run == nil {
		return "Steps"
	}
	if run.Groups == 0 {
		return fmt.Sprintf("%s: %s", run.Name, run.Phase)
	}
	return fmt.Sprintf("%s: %s (group %d of %d, %d live)", run.Name,
		run.Phase, run.Group+1, run.Groups, run.Live)
}

// update is called to update content, e.g. in response to Draw() or
// as part of another update.  It is called with the AppLock held.
func (m *MainPanel) update() {

	items, err := m.App().GetItems()
	m.items = items
	m.SetTitle(runTitle(m.App().GetRun()))

	// preserve selected item
	if sel := m.selected; sel != nil {
		m.selected = nil
		for y, item := range m.items {
			if item.Name == sel.Name {
				m.selected = item
				m.cury = y
			}
		}
	}
	if err != nil {
		var re *rest.Error
		if errors.As(err, &re) && re.Code == http.StatusUnauthorized {
			m.App().ShowAuth()
			return
		}
		m.SetError()
		m.SetStatus(fmt.Sprintf("Cannot load steps: %v", err))
		m.lines = []string{}
		m.styles = []tcell.Style{}
		m.items = nil
		m.height = 0
		return
	}

	lines := make([]string, 0, len(m.items))
	styles := make([]tcell.Style, 0, len(m.items))

	m.nfailed = 0
	m.nactive = 0
	m.npending = 0
	m.ndone = 0

	m.height = 0
	m.width = 0

	for _, info := range items {
		d := time.Since(info.TimeStamp)
		d -= d % time.Second
		kind := "blocking"
		if info.Parallel {
			kind = "parallel"
		}
		line := fmt.Sprintf("%-20s %3d %-8s %-10s %4d %10s   %s",
			info.Name, info.Group, kind, util.Status(info),
			info.Attempts, util.FormatDuration(d), info.Reason)

		if len(line) > m.width {
			m.width = len(line)
		}
		m.height++

		lines = append(lines, line)
		styles = append(styles, stepStyle(info.Status, info.Suppressed))
		switch util.Severity(info) {
		case 0:
			m.nfailed++
		case 1, 2:
			m.nactive++
		case 3:
			m.npending++
		default:
			m.ndone++
		}
	}

	m.lines = lines
	m.styles = styles

	m.SetStatus(fmt.Sprintf(
		"%6d Steps %6d Failed %6d Active %6d Pending %6d Done",
		len(m.items), m.nfailed, m.nactive, m.npending, m.ndone))

	if m.nfailed > 0 {
		m.SetError()
	} else if m.npending > 0 {
		m.SetWarn()
	} else if m.nactive+m.ndone > 0 {
		m.SetGood()
	} else {
		m.SetNormal()
	}

	words := []string{"[Q] Quit", "[H] Help", "[L] Log"}
	if m.selected != nil {
		words = append(words, "[I] Info")
	}
	m.SetKeys(words)
}

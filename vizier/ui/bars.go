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
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"
)

var (
	barStyleNormal = tcell.StyleDefault.
			Foreground(tcell.ColorBlack).
			Background(tcell.ColorSilver)
	barStyleAlternate = tcell.StyleDefault.
				Foreground(tcell.ColorBlue).
				Background(tcell.ColorSilver)
)

// TitleBar shows the server on the left, the panel title in the middle,
// and the program name on the right.
type TitleBar struct {
	once sync.Once
	views.SimpleStyledTextBar
}

func (tb *TitleBar) Init() {
	tb.once.Do(func() {
		tb.SimpleStyledTextBar.Init()
		tb.SimpleStyledTextBar.SetStyle(barStyleNormal)
		tb.RegisterLeftStyle('N', barStyleNormal)
		tb.RegisterLeftStyle('A', barStyleAlternate)
		tb.RegisterCenterStyle('N', barStyleNormal)
		tb.RegisterCenterStyle('A', barStyleAlternate)
		tb.RegisterRightStyle('N', barStyleNormal)
		tb.RegisterRightStyle('A', barStyleAlternate)
	})
}

func NewTitleBar() *TitleBar {
	tb := &TitleBar{}
	tb.Init()
	return tb
}

// KeyBar lists the keys that apply.  Text in brackets is highlighted.
type KeyBar struct {
	once sync.Once
	views.SimpleStyledTextBar
}

func (k *KeyBar) Init() {
	k.once.Do(func() {
		k.SimpleStyledTextBar.Init()
		k.SimpleStyledTextBar.SetStyle(barStyleNormal)
		k.RegisterLeftStyle('N', barStyleNormal)
		k.RegisterLeftStyle('A', barStyleAlternate.Bold(true))
	})
}

// markup converts "[Q] Quit" words into styled text bar markup.
func markup(words []string) string {
	b := make([]rune, 0, 80)
	for i, w := range words {
		if i != 0 && len(w) != 0 {
			b = append(b, ' ')
		}
		esc := false
		for _, r := range w {
			switch {
			case r == '%':
				b = append(b, '%', '%')
			case r == '[' && !esc:
				esc = true
				b = append(b, r, '%', 'A')
			case r == ']' && esc:
				esc = false
				b = append(b, '%', 'N', r)
			default:
				b = append(b, r)
			}
		}
	}
	return string(b)
}

func (k *KeyBar) SetKeys(words []string) {
	k.SetLeft(markup(words))
}

func NewKeyBar() *KeyBar {
	kb := &KeyBar{}
	kb.Init()
	return kb
}

// StatusBar is like a titlebar, but it changes color based on the
// status of a screen, e.g. red background to indicate a fault condition.
type StatusBar struct {
	once   sync.Once
	status string
	views.SimpleStyledTextBar
}

var (
	StatusBarStyleNormal = barStyleNormal
	StatusBarStyleGood   = tcell.StyleDefault.
				Foreground(tcell.ColorWhite).
				Background(tcell.ColorGreen).
				Bold(true)
	StatusBarStyleWarn = tcell.StyleDefault.
				Foreground(tcell.ColorBlack).
				Background(tcell.ColorYellow)
	StatusBarStyleError = tcell.StyleDefault.
				Foreground(tcell.ColorWhite).
				Background(tcell.ColorMaroon).
				Bold(true)
)

func (sb *StatusBar) Init() {
	sb.once.Do(func() {
		sb.SimpleStyledTextBar.Init()
		sb.SetNormal()
	})
}

func (sb *StatusBar) SetStyle(style tcell.Style) {
	sb.SimpleStyledTextBar.SetStyle(style)
	sb.SimpleStyledTextBar.RegisterLeftStyle('N', style)
	sb.SimpleStyledTextBar.SetLeft(sb.status)
}

func (sb *StatusBar) SetGood() {
	sb.SetStyle(StatusBarStyleGood)
}

func (sb *StatusBar) SetNormal() {
	sb.SetStyle(StatusBarStyleNormal)
}

func (sb *StatusBar) SetWarn() {
	sb.SetStyle(StatusBarStyleWarn)
}

func (sb *StatusBar) SetError() {
	sb.SetStyle(StatusBarStyleError)
}

func (sb *StatusBar) SetText(status string) {
	sb.status = markup([]string{status})
	sb.SetLeft(sb.status)
}

func NewStatusBar() *StatusBar {
	sb := &StatusBar{}
	sb.Init()
	return sb
}

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

// Package ui is a terminal status viewer for a vizier run.  It is read
// only: it watches the status server and never changes anything.
package ui

import (
	"context"
	"errors"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"
	"go.uber.org/zap"

	"github.com/gdamore/vizier/rest"
	"github.com/gdamore/vizier/vizier/util"
)

var errNoStep = errors.New("Step not found")

type App struct {
	app       *views.Application
	view      views.View
	panel     views.Widget
	info      *InfoPanel
	help      *HelpPanel
	log       *LogPanel
	main      *MainPanel
	auth      *AuthPanel
	client    *rest.Client
	logger    *zap.Logger
	err       error
	run       *rest.RunInfo
	items     []*rest.StepInfo
	logName   string
	logInfo   *rest.LogInfo
	logErr    error
	logCancel context.CancelFunc
	ctx       context.Context
	stop      context.CancelFunc

	views.WidgetWatchers
}

func (a *App) show(w views.Widget) {
	if w != a.panel {
		a.panel.SetView(nil)
		a.panel = w
	}
	a.panel.SetView(a.view)
	a.panel.Resize()
	a.app.Refresh()
}

func (a *App) ShowHelp() {
	a.show(a.help)
}

func (a *App) ShowInfo(name string) {
	a.info.SetName(name)
	a.show(a.info)
}

// ShowLog shows the log of the named step, or of the whole run if name
// is empty.
func (a *App) ShowLog(name string) {
	if a.logCancel != nil {
		a.logCancel()
	}
	ctx, cancel := context.WithCancel(a.ctx)
	a.logInfo = nil
	a.logErr = nil
	a.logName = name
	a.logCancel = cancel
	a.log.SetName(name)
	go a.refreshLog(ctx, name)

	a.show(a.log)
}

func (a *App) ShowMain() {
	a.show(a.main)
}

func (a *App) ShowAuth() {
	a.auth.ResetFields()
	a.show(a.auth)
}

// SetUserPassword sets the credentials and restarts the watchers.
func (a *App) SetUserPassword(user, pass string) {
	a.client.SetAuth(user, pass)
	a.err = nil
	a.items = nil
	a.Logf("Retrying with credentials", zap.String("user", user))
}

func (a *App) Quit() {
	a.stop()
	a.app.Quit()
}

func (a *App) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a.logger = logger
}

func (a *App) Logf(msg string, fields ...zap.Field) {
	a.logger.Debug(msg, fields...)
}

func (a *App) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		// Intercept a few control keys up front, for global handling.
		case tcell.KeyCtrlC:
			a.Quit()
			return true
		case tcell.KeyCtrlL:
			a.app.Refresh()
			return true
		}
	}

	if a.panel != nil {
		return a.panel.HandleEvent(ev)
	}
	return false
}

func (a *App) Draw() {
	if a.panel != nil {
		a.panel.Draw()
	}
}

func (a *App) Resize() {
	if a.panel != nil {
		a.panel.Resize()
	}
}

func (a *App) SetView(view views.View) {
	a.view = view
	if a.panel != nil {
		a.panel.SetView(view)
	}
}

func (a *App) Size() (int, int) {
	if a.panel != nil {
		return a.panel.Size()
	}
	return 0, 0
}

func (a *App) GetClient() *rest.Client {
	return a.client
}

func (a *App) GetAppName() string {
	return "Vizier v1.0"
}

func NewApp(client *rest.Client, url string) *App {

	app := &App{}
	app.app = &views.Application{}
	app.client = client
	app.logger = zap.NewNop()
	app.ctx, app.stop = context.WithCancel(context.Background())
	app.info = NewInfoPanel(app)
	app.help = NewHelpPanel(app)
	app.log = NewLogPanel(app)
	app.main = NewMainPanel(app, url)
	app.auth = NewAuthPanel(app, url)
	app.panel = app.main

	for _, p := range []*Panel{&app.info.Panel, &app.help.Panel,
		&app.log.Panel, &app.main.Panel, &app.auth.Panel} {
		p.SetServer(url)
	}

	go app.refresh()
	return app
}

func (a *App) getItems() ([]*rest.StepInfo, error) {
	names, e := a.client.Steps()
	if e != nil {
		return nil, e
	}
	items := make([]*rest.StepInfo, 0, len(names))
	for _, n := range names {
		item, e := a.client.GetStep(n)
		if e != nil {
			return nil, e
		}
		items = append(items, item)
	}
	util.SortSteps(items)
	return items, nil
}

// refresh keeps the app items current.  The run info changes whenever any
// step does, so it is the one thing watched.
func (a *App) refresh() {
	var run *rest.RunInfo
	for {
		items, e := a.getItems()
		if e == nil {
			run, e = a.client.GetInfo()
		}
		cur := run
		err := e
		a.app.PostFunc(func() {
			a.items = items
			a.run = cur
			a.err = err
			a.app.Update()
		})
		if e != nil {
			a.Logf("Refresh failed", zap.Error(e))
			select {
			case <-a.ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		ctx, cancel := context.WithTimeout(a.ctx, time.Hour)
		_, e = a.client.Watch(ctx, run)
		cancel()
		if a.ctx.Err() != nil {
			return
		}
		if e != nil {
			time.Sleep(2 * time.Second)
		}
	}
}

func (a *App) refreshLog(ctx context.Context, name string) {
	info, e := a.client.GetLog(name)

	for {
		cur, err := info, e
		a.app.PostFunc(func() {
			if a.logName == name {
				a.logInfo = cur
				a.logErr = err
				a.app.Update()
			}
		})
		if ctx.Err() != nil {
			return
		}
		if e != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			info, e = a.client.GetLog(name)
			continue
		}
		var next *rest.LogInfo
		if next, e = a.client.WatchLog(ctx, name, info); e == nil {
			info = next
		}
	}
}

func (a *App) GetItems() ([]*rest.StepInfo, error) {
	return a.items, a.err
}

func (a *App) GetItem(name string) (*rest.StepInfo, error) {
	if a.err != nil {
		return nil, a.err
	}
	for _, i := range a.items {
		if i.Name == name {
			return i, nil
		}
	}
	return nil, errNoStep
}

// GetRun returns the most recent run information, which may be nil.
func (a *App) GetRun() *rest.RunInfo {
	return a.run
}

func (a *App) GetLog(name string) (*rest.LogInfo, error) {
	if a.logName == name {
		return a.logInfo, a.logErr
	}
	return nil, nil
}

func (a *App) Run() error {
	a.Logf("Starting up user interface")
	a.app.SetRootWidget(a)
	a.ShowMain()
	go func() {
		// Give us periodic updates, so that durations advance.
		for a.ctx.Err() == nil {
			a.app.Update()
			time.Sleep(time.Second)
		}
	}()
	return a.app.Run()
}

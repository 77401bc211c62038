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

// Command vizierd is a container init.  It loads a step graph, runs it
// group by group, and exits with a status describing how the run ended.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/gdamore/vizier"
	"github.com/gdamore/vizier/config"
	"github.com/gdamore/vizier/rest"
)

func fatal(code int, format string, v ...interface{}) {
	fmt.Fprintf(os.Stderr, "vizierd: "+format+"\n", v...)
	os.Exit(code)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	st, e := config.FromEnv(os.Getenv)
	if e != nil {
		fatal(vizier.ExitConfiguration, "%v", e)
	}
	fs := flag.NewFlagSet("vizierd", flag.ExitOnError)
	st.Flags(fs)
	fs.Parse(args)

	level, e := st.Level()
	if e != nil {
		fatal(vizier.ExitConfiguration, "%v", e)
	}
	console := vizier.NewConsoleSink(level, st.LogFormat)
	logger := console.Logger()
	defer logger.Sync()

	doc, g, e := config.LoadGraph(st.ConfigPath, os.Getenv)
	if e != nil {
		logger.Error("Failed to load step graph",
			zap.String("path", st.ConfigPath), zap.Error(e))
		return vizier.ExitConfiguration
	}
	if off := doc.Disabled(); len(off) > 0 {
		logger.Warn("Some steps are disabled by configuration",
			zap.Strings("steps", off))
	}
	auth, e := rest.ParseBasicAuth(st.StatusAuth)
	if e != nil {
		logger.Error("Bad status auth", zap.Error(e))
		return vizier.ExitConfiguration
	}
	renderer, e := vizier.NewTemplateRenderer(st.ScriptDir)
	if e != nil {
		logger.Error("Failed to prepare script directory", zap.Error(e))
		return vizier.ExitConfiguration
	}

	s := vizier.NewSupervisor(st.RunName(doc), g,
		vizier.WithSink(console),
		vizier.WithMetrics(vizier.NewMetrics("vizier")),
		vizier.WithRenderer(renderer),
		vizier.WithStopGrace(st.StopGrace))

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	if st.StatusAddr != "" {
		h := rest.NewHandler(s)
		h.SetAuth(auth)
		go func() {
			defer close(served)
			logger.Info("Status server listening", zap.String("addr", st.StatusAddr))
			if e := rest.Serve(ctx, st.StatusAddr, h, st.MaxConns); e != nil {
				logger.Warn("Status server failed", zap.Error(e))
			}
		}()
	} else {
		close(served)
	}

	r := s.Run(ctx)
	cancel()
	<-served
	if r.Err != nil {
		logger.Error("Run failed", zap.Int("status", r.Status), zap.Error(r.Err))
	}
	return r.Status
}

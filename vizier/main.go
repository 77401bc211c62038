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

// Command vizier is a client for the read-only status server of vizierd.
// It uses subcommands.
//
// The flags are
//
//	-a <address>	- select the server address, default is
//			  http://127.0.0.1:8321
//	-u <user:pass>	- user name & password for basic auth
//	-L <file>	- write a debug log of the UI to file
//
// Subcommands are
//
//	steps               - list all steps, in graph order
//	status [<step> ...] - show status for the named steps (or all)
//	info <step>         - show detailed step information and history
//	log [<step>]        - show the log for the step (or the whole run)
//	health              - show the run phase; exits 1 unless healthy
//	ui                  - interactive display (the default)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gdamore/vizier/rest"
	"github.com/gdamore/vizier/vizier/util"
)

var addr = "http://127.0.0.1:8321"
var auth = ""
var logFile = ""

func usage() {
	fmt.Fprintf(os.Stderr,
		"Usage: %s [-a <address>] [-u <user:pass>] <subcommand>\n",
		os.Args[0])
	os.Exit(2)
}

func fatalf(format string, v ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", v...)
	os.Exit(1)
}

func showStatus(s *rest.StepInfo) {
	d := time.Since(s.TimeStamp)
	// for printing second resolution is sufficient
	d -= d % time.Second
	fmt.Printf("%-20s %10s %10s %s\n", s.Name,
		util.Status(s), util.FormatDuration(d), s.Reason)
}

func showInfo(s *rest.StepInfo) {
	kind := "blocking"
	if s.Parallel {
		kind = "parallel"
	}
	fmt.Printf("Name:      %s\n", s.Name)
	fmt.Printf("Group:     %d (%s)\n", s.Group, kind)
	fmt.Printf("Status:    %s\n", util.Status(s))
	fmt.Printf("Attempts:  %d\n", s.Attempts)
	fmt.Printf("Since:     %v\n", time.Since(s.TimeStamp).Round(time.Second))
	fmt.Printf("Detail:    %s\n", s.Reason)
	for _, a := range s.History {
		fmt.Printf("           %s\n", util.FormatAttempt(a))
	}
}

func uiLogger() *zap.Logger {
	if logFile == "" {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{logFile}
	cfg.ErrorOutputPaths = []string{logFile}
	logger, e := cfg.Build()
	if e != nil {
		fatalf("Cannot open log: %v", e)
	}
	return logger
}

func main() {
	flag.StringVar(&addr, "a", addr, "vizierd status address")
	flag.StringVar(&auth, "u", auth, "user:pass authentication")
	flag.StringVar(&logFile, "L", logFile, "UI debug log file")
	flag.Parse()

	client := rest.NewClient(nil, strings.TrimSuffix(addr, "/"))
	if auth != "" {
		a := strings.SplitN(auth, ":", 2)
		if len(a) != 2 {
			fatalf("Bad user:pass supplied")
		}
		client.SetAuth(a[0], a[1])
	}

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"ui"}
	}

	switch args[0] {
	case "steps":
		if len(args) != 1 {
			usage()
		}
		s, e := client.Steps()
		if e != nil {
			fatalf("Failed: %v", e)
		}
		for _, name := range s {
			fmt.Println(name)
		}
	case "log":
		if len(args) > 2 {
			usage()
		}
		name := ""
		if len(args) == 2 {
			name = args[1]
		}
		l, e := client.GetLog(name)
		if e != nil {
			fatalf("Failed: %v", e)
		}
		for _, r := range l.Records {
			if name == "" && r.Step != "" {
				fmt.Printf("%s %s: %s\n", r.Time.Format(time.StampMilli), r.Step, r.Text)
			} else {
				fmt.Printf("%s %s\n", r.Time.Format(time.StampMilli), r.Text)
			}
		}
	case "info":
		if len(args) != 2 {
			usage()
		}
		s, e := client.GetStep(args[1])
		if e != nil {
			fatalf("Failed: %v", e)
		}
		showInfo(s)
	case "status":
		names := args[1:]
		var e error
		if len(names) == 0 {
			names, e = client.Steps()
			if e != nil {
				fatalf("Failed: %v", e)
			}
		}
		infos := []*rest.StepInfo{}
		for _, n := range names {
			info, e := client.GetStep(n)
			if e == nil {
				infos = append(infos, info)
			} else {
				fmt.Fprintf(os.Stderr, "Failed: %s: %v\n", n, e)
			}
		}
		util.SortSteps(infos)
		for _, info := range infos {
			showStatus(info)
		}
	case "health":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h, e := client.Healthy(ctx)
		if h != nil {
			fmt.Printf("%s (%d live)\n", h.Phase, h.Live)
		}
		if e != nil {
			cancel()
			fatalf("Unhealthy: %v", e)
		}
	case "ui":
		doUI(client, addr, uiLogger())
	default:
		usage()
	}
}

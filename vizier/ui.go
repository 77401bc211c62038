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

//go:build !plan9 && !js && !wasip1

package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/gdamore/vizier/rest"
	"github.com/gdamore/vizier/vizier/ui"
)

func doUI(client *rest.Client, url string, logger *zap.Logger) {
	app := ui.NewApp(client, url)
	app.SetLogger(logger)
	defer logger.Sync()
	if e := app.Run(); e != nil {
		fmt.Fprintf(os.Stderr, "Failed: %v\n", e)
		os.Exit(1)
	}
}

/*
   Our screen has the following appearance:

   http://localhost:8321   app: running (group 2 of 3, 1 live)   Vizier v1.0
       4 Steps      0 Failed      2 Active      1 Pending      1 Done
   ____________________________________________________________________________
   db                     0 parallel running       1    0:12:04   Started attempt 1
   migrate                1 blocking retrying      3    0:00:02   Restarting in 1s
   web                    2 blocking pending       0    0:12:05   Waiting to start
   fetch                  0 blocking succeeded     1    0:12:04   Succeeded
   ____________________________________________________________________________
   [Q] Quit [H] Help [L] Log [I] Info
*/

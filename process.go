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
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DrainDelay bounds how long output is still collected after a process
// has exited.  A grandchild that keeps our pipes open will otherwise keep
// the handle alive forever.
var DrainDelay = 2 * time.Second

// maxLine is the longest line we buffer before forcing it out.
const maxLine = 64 * 1024

// Command describes a single program invocation.
type Command struct {
	Path string   // program, looked up in PATH if not absolute
	Args []string // arguments, not including the program itself
	Dir  string
	Env  map[string]string
}

// ShellCommand returns a Command running line with shell -c.
func ShellCommand(shell string, line string) Command {
	return Command{Path: shell, Args: []string{"-c", line}}
}

func (c Command) String() string {
	if len(c.Args) == 2 && c.Args[0] == "-c" {
		return c.Args[1]
	}
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// ExitResult is how a process finished.  Code is -1 if the process was
// killed by a signal, or never ran.
type ExitResult struct {
	Code   int
	Signal syscall.Signal
	Err    error
}

// Success is true for a clean zero exit.
func (r ExitResult) Success() bool {
	return r.Code == 0 && r.Signal == 0 && r.Err == nil
}

// Spawned is false if the process could not be started at all.
func (r ExitResult) Spawned() bool {
	var se *SpawnError
	return !errors.As(r.Err, &se)
}

func (r ExitResult) String() string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("error: %v", r.Err)
	case r.Signal != 0:
		return fmt.Sprintf("signal %v", r.Signal)
	}
	return fmt.Sprintf("code %d", r.Code)
}

// Handle is a running (or finished) operating system process.  The process
// is the leader of its own process group, so that signals delivered to
// the group also reach anything started by the shell.
type Handle struct {
	step    string
	command string
	cmd     *exec.Cmd
	pid     int
	start   time.Time
	stdout  *lineWriter
	stderr  *lineWriter
	result  ExitResult
	done    chan struct{}
}

// lineWriter splits a byte stream into lines for the Sink.
type lineWriter struct {
	sink  Sink
	kind  StreamKind
	step  string
	level Level
	buf   []byte
	mx    sync.Mutex
}

func (w *lineWriter) Write(b []byte) (int, error) {
	w.mx.Lock()
	defer w.mx.Unlock()
	w.buf = append(w.buf, b...)
	off := 0
	for {
		i := bytes.IndexByte(w.buf[off:], '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[off : off+i])
		off += i + 1
	}
	n := copy(w.buf, w.buf[off:])
	w.buf = w.buf[:n]
	if len(w.buf) >= maxLine {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
	return len(b), nil
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	w.sink.Write(w.kind, w.step, w.level, line)
}

// Flush emits any final partial line.
func (w *lineWriter) Flush() {
	w.mx.Lock()
	if len(w.buf) != 0 {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
	w.mx.Unlock()
}

// mergeEnv overlays extra on top of base, which is in os.Environ form.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	rv := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		k := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k = kv[:i]
		}
		if _, ok := extra[k]; ok {
			continue
		}
		rv = append(rv, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rv = append(rv, k+"="+extra[k])
	}
	return rv
}

// Spawn starts a process for the named step.  Output is delivered to sink
// a line at a time as it arrives.  If the process cannot be started a
// *SpawnError is returned.
func Spawn(step string, c Command, sink Sink, levels LogLevels) (*Handle, error) {
	if sink == nil {
		sink = DiscardSink{}
	}
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = mergeEnv(os.Environ(), c.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = DrainDelay

	h := &Handle{
		step:    step,
		command: c.String(),
		cmd:     cmd,
		done:    make(chan struct{}),
	}
	h.stdout = &lineWriter{sink: sink, kind: StreamStdout, step: step, level: levels.Stdout}
	h.stderr = &lineWriter{sink: sink, kind: StreamStderr, step: step, level: levels.Stderr}
	cmd.Stdout = h.stdout
	cmd.Stderr = h.stderr

	if e := cmd.Start(); e != nil {
		return nil, &SpawnError{Step: step, Command: h.command, Err: e}
	}
	h.pid = cmd.Process.Pid
	h.start = time.Now()

	go h.doWait()
	return h, nil
}

func (h *Handle) doWait() {
	e := h.cmd.Wait()
	h.stdout.Flush()
	h.stderr.Flush()
	h.result = exitResult(h.cmd.ProcessState, e)
	close(h.done)
}

func exitResult(ps *os.ProcessState, e error) ExitResult {
	if ps == nil {
		if e == nil {
			e = errors.New("no process state")
		}
		return ExitResult{Code: -1, Err: e}
	}
	r := ExitResult{Code: ps.ExitCode()}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		r.Signal = ws.Signal()
	}
	var ee *exec.ExitError
	if e != nil && !errors.As(e, &ee) && !errors.Is(e, exec.ErrWaitDelay) {
		r.Err = e
	}
	return r
}

// Step returns the name of the step that owns this process.
func (h *Handle) Step() string {
	return h.step
}

// Command returns the command line, for display.
func (h *Handle) Command() string {
	return h.command
}

// Pid returns the process id, which is also the process group id.
func (h *Handle) Pid() int {
	return h.pid
}

// Started returns when the process was started.
func (h *Handle) Started() time.Time {
	return h.start
}

// Done is closed once the process has exited and its output has been
// forwarded.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited returns true if the process has finished.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits and returns how it went.
func (h *Handle) Wait() ExitResult {
	<-h.done
	return h.result
}

// Terminate sends SIGTERM to the process group.  It is best effort:
// processes that are already gone are skipped, and no error is returned.
func (h *Handle) Terminate() {
	h.signal(unix.SIGTERM)
}

// Kill sends SIGKILL to the process group.
func (h *Handle) Kill() {
	h.signal(unix.SIGKILL)
}

func (h *Handle) signal(sig unix.Signal) {
	// The negative pid addresses the whole group, which may outlive its
	// leader.  ESRCH once the group is empty is ignored.
	_ = unix.Kill(-h.pid, sig)
	if h.Exited() {
		return
	}
	// The leader is also signalled directly in case something moved it
	// to another group.
	_ = unix.Kill(h.pid, sig)
}

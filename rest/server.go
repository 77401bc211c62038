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

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/gdamore/vizier"
)

// pollSlice bounds each wait so that a departed client is noticed.
const pollSlice = time.Second

// Handler wraps a Supervisor, adding a read-only http.Handler view of it.
type Handler struct {
	s    *vizier.Supervisor
	r    *mux.Router
	auth *BasicAuth
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, etag string, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		if etag != "" {
			w.Header().Set("Etag", etag)
		}
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

// notModified reports, and answers, a conditional request whose etag
// still matches.
func (h *Handler) notModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("Etag", etag)
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

// pollTime returns how long the client asked us to hold the request.
func pollTime(r *http.Request) time.Duration {
	secs, e := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if e != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > MaxPollTime {
		d = MaxPollTime
	}
	return d
}

// longPoll holds the request while the resource etag equals the poll
// etag.  current returns the resource etag and wait blocks for up to the
// given time for anything to change.  It returns the final etag.
func (h *Handler) longPoll(r *http.Request, current func() string,
	wait func(time.Duration)) string {

	etag := current()
	want := r.Header.Get(PollEtagHeader)
	d := pollTime(r)
	if want == "" || want != etag || d == 0 {
		return etag
	}
	expire := time.Now().Add(d)
	for etag == want {
		left := time.Until(expire)
		if left <= 0 {
			break
		}
		select {
		case <-r.Context().Done():
			return etag
		default:
		}
		if left > pollSlice {
			left = pollSlice
		}
		wait(left)
		etag = current()
	}
	return etag
}

// watchState returns a wait function over the run state serial.  The
// serial is sampled before the resource, so no update is missed.
func (h *Handler) watchState() (func(time.Duration), func()) {
	rs := h.s.State()
	var serial int64
	sample := func() { serial = rs.Serial() }
	return func(d time.Duration) { rs.WatchSerial(serial, d) }, sample
}

func (h *Handler) getInfo(w http.ResponseWriter, r *http.Request) {
	rs := h.s.State()
	var info vizier.RunInfo
	current := func() string {
		info = rs.Info()
		return strconv.FormatInt(info.Serial, 10)
	}
	etag := h.longPoll(r, current, func(d time.Duration) {
		rs.WatchSerial(info.Serial, d)
	})
	if h.notModified(w, r, etag) {
		return
	}
	h.writeJson(w, etag, newRunInfo(info))
}

func (h *Handler) listSteps(w http.ResponseWriter, r *http.Request) {
	// The set of steps is fixed for the life of a run.
	etag := h.s.State().ID()
	if h.notModified(w, r, etag) {
		return
	}
	h.writeJson(w, etag, h.s.State().Names())
}

func (h *Handler) findStep(name string) (vizier.StepState, *Error) {
	st, ok := h.s.State().Step(name)
	if !ok {
		return st, &Error{http.StatusNotFound, vizier.ErrStepNotFound.Error()}
	}
	return st, nil
}

// stepVar returns the step name from the route.  Names may hold slashes,
// so the route is matched on the escaped path.
func stepVar(r *http.Request) string {
	name := mux.Vars(r)["step"]
	if v, e := url.PathUnescape(name); e == nil {
		return v
	}
	return name
}

func (h *Handler) getStep(w http.ResponseWriter, r *http.Request) {
	name := stepVar(r)
	st, e := h.findStep(name)
	if e != nil {
		h.writeError(w, e)
		return
	}
	wait, sample := h.watchState()
	current := func() string {
		sample()
		st, _ = h.s.State().Step(name)
		return strconv.FormatInt(st.Serial, 10)
	}
	etag := h.longPoll(r, current, wait)
	if h.notModified(w, r, etag) {
		return
	}
	h.writeJson(w, etag, newStepInfo(st))
}

func (h *Handler) writeLog(w http.ResponseWriter, r *http.Request, step string) {
	log := h.s.Log()
	var id int64
	current := func() string {
		id = log.ID()
		return strconv.FormatInt(id, 10)
	}
	etag := h.longPoll(r, current, func(d time.Duration) {
		log.Watch(id, d)
	})
	if h.notModified(w, r, etag) {
		return
	}
	recs, id := log.GetRecords(step, 0)
	h.writeJson(w, strconv.FormatInt(id, 10), recs)
}

func (h *Handler) getStepLog(w http.ResponseWriter, r *http.Request) {
	name := stepVar(r)
	if _, e := h.findStep(name); e != nil {
		h.writeError(w, e)
		return
	}
	h.writeLog(w, r, name)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	h.writeLog(w, r, "")
}

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	rs := h.s.State()
	phase, _ := rs.Phase()
	hl := &Health{Phase: phase.String(), Live: rs.Live()}
	switch phase {
	case vizier.PhaseDraining, vizier.PhaseTerminated:
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(hl)
	default:
		h.writeJson(w, "", hl)
	}
}

// SetAuth requires basic authentication for everything except /healthz.
// A nil auth disables the check.
func (h *Handler) SetAuth(a *BasicAuth) {
	h.auth = a
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if h.auth != nil && req.URL.Path != "/healthz" && !h.auth.Check(req) {
		w.Header().Set("WWW-Authenticate", `Basic realm="vizier"`)
		h.writeError(w, &Error{http.StatusUnauthorized, "Unauthorized"})
		return
	}
	h.r.ServeHTTP(w, req)
}

func NewHandler(s *vizier.Supervisor) *Handler {
	r := mux.NewRouter().UseEncodedPath()
	h := &Handler{s: s, r: r}
	r.HandleFunc("/info", h.getInfo).Methods("GET")
	r.HandleFunc("/steps", h.listSteps).Methods("GET")
	r.HandleFunc("/steps/{step}", h.getStep).Methods("GET")
	r.HandleFunc("/steps/{step}/log", h.getStepLog).Methods("GET")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.HandleFunc("/healthz", h.getHealth).Methods("GET")
	if m := s.Metrics(); m != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.Registry(),
			promhttp.HandlerOpts{})).Methods("GET")
	}
	return h
}

// ServeListener serves h on l until ctx is done.  At most maxConns
// connections are accepted at once if maxConns is positive.
func ServeListener(ctx context.Context, l net.Listener, h http.Handler, maxConns int) error {
	if maxConns > 0 {
		l = netutil.LimitListener(l, maxConns)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		// Held polls end when the server is asked to stop.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if srv.Shutdown(sctx) != nil {
			srv.Close()
		}
	}()
	e := srv.Serve(l)
	if errors.Is(e, http.ErrServerClosed) {
		return nil
	}
	return e
}

// Serve listens on addr and calls ServeListener.
func Serve(ctx context.Context, addr string, h http.Handler, maxConns int) error {
	l, e := net.Listen("tcp", addr)
	if e != nil {
		return e
	}
	return ServeListener(ctx, l, h, maxConns)
}

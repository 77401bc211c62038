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
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// pollSecs is how long a Watch asks the server to hold the request.
const pollSecs = 300

type LogInfo struct {
	name    string
	etag    string
	Records []LogRecord
}

// Client is a read-only client for a vizier status server.  It caches
// the most recent value of everything it fetches.
type Client struct {
	user      string // HTTP Basic-Auth
	pass      string
	base      string // URI to root of tree on server
	auth      bool
	client    *http.Client
	transport *http.Transport

	// Cached data
	info  *RunInfo
	steps map[string]*StepInfo
	names []string
	etag  string // etag for list of steps
	logs  map[string]*LogInfo
	lock  sync.Mutex
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) url(name string) string {
	if name == "" {
		return c.base + "/steps"
	}
	return c.base + "/steps/" + url.PathEscape(name)
}

func (c *Client) pollInfo(ctx context.Context, secs int, last *RunInfo) (*RunInfo, error) {
	c.lock.Lock()
	cached := c.info
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if cached != nil && last.etag != cached.etag {
		return cached, nil
	} else {
		otag = last.etag
	}

	v := &RunInfo{}
	etag, e := c.poll(ctx, c.base+"/info", otag, secs, v)
	if e != nil {
		return nil, e
	}
	if etag == "" {
		if cached == nil {
			return last, nil
		}
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.info = v
	c.lock.Unlock()
	return v, nil
}

// GetInfo returns information about the run.
func (c *Client) GetInfo() (*RunInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.pollInfo(ctx, 0, nil)
}

// Watch waits for the run to change from last.  Any change to any step
// changes the run.  It may return last unchanged when the poll expires.
func (c *Client) Watch(ctx context.Context, last *RunInfo) (*RunInfo, error) {
	return c.pollInfo(ctx, pollSecs, last)
}

// Steps returns the names of the steps in the run, in graph order.
func (c *Client) Steps() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.lock.Lock()
	otag := c.etag
	onames := c.names
	c.lock.Unlock()

	var v []string
	etag, e := c.poll(ctx, c.url(""), otag, 0, &v)
	if e != nil {
		return nil, e
	}
	if etag == "" || etag == otag {
		return onames, nil
	}

	c.lock.Lock()
	// A new run id means a new run, and every cached step is stale.
	c.etag = etag
	c.names = v
	c.steps = make(map[string]*StepInfo)
	c.lock.Unlock()
	return v, nil
}

func (c *Client) pollStep(ctx context.Context, name string, secs int, last *StepInfo) (*StepInfo, error) {
	c.lock.Lock()
	cached, ok := c.steps[name]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if ok && last.etag != cached.etag {
		// The cache already holds something newer than last.
		return cached, nil
	} else {
		otag = last.etag
	}

	v := &StepInfo{}
	etag, e := c.poll(ctx, c.url(name), otag, secs, v)
	if e != nil {
		c.lock.Lock()
		delete(c.steps, name)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		if !ok {
			return last, nil
		}
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.steps[name] = v
	c.lock.Unlock()
	return v, nil
}

// GetStep returns the status of the named step.
func (c *Client) GetStep(name string) (*StepInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.pollStep(ctx, name, 0, nil)
}

// WatchStep waits for the named step to change from last.
func (c *Client) WatchStep(ctx context.Context, name string, last *StepInfo) (*StepInfo, error) {
	return c.pollStep(ctx, name, pollSecs, last)
}

// poll issues an HTTP GET against the URL, optionally checking for a cache,
// including optionally issuing a long poll that tries to wait until the
// value changes.  The return values are the new Etag and any error.  If the
// value did not change, then the returned etag will be "", but the error will
// be nil.
func (c *Client) poll(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {

	req, e := http.NewRequestWithContext(ctx, "GET", url, nil)
	if e != nil {
		return "", e
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}

	res, e := c.client.Do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		return "", &Error{Code: res.StatusCode, Message: res.Status}
	}
	body, e := io.ReadAll(res.Body)
	if e != nil {
		return "", e
	}
	if e := json.Unmarshal(body, v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

func (c *Client) pollLog(ctx context.Context, name string, secs int, last *LogInfo) (*LogInfo, error) {

	c.lock.Lock()
	cached, ok := c.logs[name]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if ok && last.etag != cached.etag {
		// Revalidate the cached copy without waiting.
		secs = 0
		otag = cached.etag
	} else {
		otag = last.etag
	}

	url := c.url(name) + "/log"
	if name == "" {
		url = c.base + "/log"
	}

	v := &LogInfo{name: name}
	etag, e := c.poll(ctx, url, otag, secs, &v.Records)
	if e != nil {
		c.lock.Lock()
		delete(c.logs, name)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		if !ok {
			return last, nil
		}
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.logs[name] = v
	c.lock.Unlock()

	return v, nil
}

// WatchLog waits for the log of the named step (or the whole run, if name
// is empty) to change from last.
func (c *Client) WatchLog(ctx context.Context, name string, last *LogInfo) (*LogInfo, error) {
	return c.pollLog(ctx, name, pollSecs, last)
}

func (c *Client) GetLog(name string) (*LogInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.pollLog(ctx, name, 0, nil)
}

// Healthy reports the health of the run.  A draining or finished run
// answers with 503, which is returned as an *Error along with the body.
func (c *Client) Healthy(ctx context.Context) (*Health, error) {
	req, e := http.NewRequestWithContext(ctx, "GET", c.base+"/healthz", nil)
	if e != nil {
		return nil, e
	}
	res, e := c.client.Do(req)
	if e != nil {
		return nil, e
	}
	defer res.Body.Close()
	hl := &Health{}
	if e := json.NewDecoder(res.Body).Decode(hl); e != nil {
		return nil, e
	}
	if res.StatusCode != http.StatusOK {
		return hl, &Error{Code: res.StatusCode, Message: res.Status}
	}
	return hl, nil
}

// NewClient returns a Client handle.  The transport maybe nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t *http.Transport, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	c := &Client{
		transport: t,
		base:      baseURI,
		client:    &http.Client{Transport: t},
		steps:     make(map[string]*StepInfo),
		logs:      make(map[string]*LogInfo),
	}
	return c
}

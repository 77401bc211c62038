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
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrBadAuth = errors.New("auth must be user:bcrypt-hash")

// BasicAuth checks HTTP basic credentials against a bcrypt hash.
type BasicAuth struct {
	user string
	hash []byte
}

// NewBasicAuth creates a checker for user with the given bcrypt hash.
func NewBasicAuth(user string, hash string) (*BasicAuth, error) {
	if user == "" {
		return nil, ErrBadAuth
	}
	if _, e := bcrypt.Cost([]byte(hash)); e != nil {
		return nil, e
	}
	return &BasicAuth{user: user, hash: []byte(hash)}, nil
}

// ParseBasicAuth parses "user:hash".  An empty string means no auth, and
// returns nil without error.
func ParseBasicAuth(s string) (*BasicAuth, error) {
	if s == "" {
		return nil, nil
	}
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return nil, ErrBadAuth
	}
	return NewBasicAuth(s[:i], s[i+1:])
}

// HashPassword is a helper for producing the hash half of an auth string.
func HashPassword(pass string) (string, error) {
	b, e := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	return string(b), e
}

// Check reports whether the request carries valid credentials.
func (a *BasicAuth) Check(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(user), []byte(a.user)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.hash, []byte(pass)) == nil
}

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
	"sync"
	"time"
)

const (
	MaxLogRecords = 1000
)

type LogRecord struct {
	Id     int64     `json:"id,string"`
	Time   time.Time `json:"time"`
	Step   string    `json:"step,omitempty"`
	Stream string    `json:"stream"`
	Level  string    `json:"level"`
	Text   string    `json:"text"`
}

// Log is a bounded in-memory Sink.  It keeps the most recent records so
// that they can be served to status clients.  Records at LevelSilent are
// not kept.
type Log struct {
	records    []LogRecord
	numRecords int
	maxRecords int
	id         int64
	cvs        map[*sync.Cond]bool
	mx         sync.Mutex
}

func (log *Log) lock() {
	log.mx.Lock()
}

func (log *Log) unlock() {
	log.mx.Unlock()
}

// Write implements Sink.
func (log *Log) Write(kind StreamKind, step string, level Level, b []byte) {
	if level >= LevelSilent {
		return
	}
	log.lock()
	idx := log.numRecords % log.maxRecords
	log.id++
	log.records[idx] = LogRecord{
		Id:     log.id,
		Time:   time.Now(),
		Step:   step,
		Stream: kind.String(),
		Level:  level.String(),
		Text:   string(b),
	}
	// NB: numRecords may actually be more than maxRecords.
	// In that case, we've looped, but we use this really to
	// track the next index.
	log.numRecords++
	for cv := range log.cvs {
		cv.Broadcast()
	}
	log.unlock()
}

func (log *Log) Clear() {
	log.lock()
	log.numRecords = 0
	// We presume that we cannot add new records more quickly than
	// once every nanosecond.
	log.id = time.Now().UnixNano()
	log.unlock()
}

// GetRecords returns the records that are stored, as well as an ID
// suitable for use as an Etag.  If step is not empty, only records for
// that step are returned.  The last parameter can be the last ID
// that was checked, in which case this function will return nil immediately
// if the log has not changed since that ID was returned, without duplicating
// any records.  Note that IDs are not unique across different Log instances.
func (log *Log) GetRecords(step string, last int64) ([]LogRecord, int64) {
	log.lock()
	defer log.unlock()
	if log.id == last {
		return nil, last
	}
	cnt := log.numRecords
	if cnt > log.maxRecords {
		cnt = log.maxRecords
	}
	recs := make([]LogRecord, 0, cnt)
	index := log.numRecords - cnt
	for j := 0; j < cnt; j++ {
		r := log.records[index%log.maxRecords]
		index++
		if step != "" && r.Step != step {
			continue
		}
		recs = append(recs, r)
	}
	return recs, log.id
}

// ID returns the id of the most recent record.  It changes on every write.
func (log *Log) ID() int64 {
	log.lock()
	defer log.unlock()
	return log.id
}

// Watch waits until the log changes from last, or until expire elapses,
// and returns the current ID.  An expire of zero just polls.
func (log *Log) Watch(last int64, expire time.Duration) int64 {
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&log.mx)
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			log.lock()
			expired = true
			cv.Broadcast()
			log.unlock()
		})
	} else {
		expired = true
	}

	log.lock()
	log.cvs[cv] = true
	for {
		if log.id != last || expired {
			break
		}
		cv.Wait()
	}
	delete(log.cvs, cv)
	last = log.id
	log.unlock()
	if timer != nil {
		timer.Stop()
	}
	return last
}

// NewLog returns a Log instance holding up to max records.  If max is not
// positive, MaxLogRecords is used.
func NewLog(max int) *Log {
	if max <= 0 {
		max = MaxLogRecords
	}
	log := &Log{
		maxRecords: max,
		records:    make([]LogRecord, max),
		id:         time.Now().UnixNano(),
		cvs:        make(map[*sync.Cond]bool),
	}
	return log
}

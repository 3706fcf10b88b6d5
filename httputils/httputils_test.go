// Copyright (c) 2026 - The Message Bus authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httputils

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/dispatch"
	"github.com/looplab/messagebus/eventstore/memory"
	"github.com/looplab/messagebus/mocks"
)

type statsSource dispatch.Stats

func (s statsSource) Stats() dispatch.Stats { return dispatch.Stats(s) }

func TestStatsHandler(t *testing.T) {
	h := StatsHandler(statsSource{Admitted: 3, Completed: 2, InFlight: 1, MaxConcurrentTasks: 60})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t,
		`{"admitted":3,"completed":2,"failed":0,"rejected":0,"in_flight":1,"peak":0,"max_concurrent_tasks":60}`,
		w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/stats", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStatsHandler_Loop(t *testing.T) {
	loop, err := dispatch.NewLoop(mocks.NewTransport(1), &mocks.Processor{})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	StatsHandler(loop).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	var stats dispatch.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(dispatch.DefaultMaxConcurrentTasks), stats.MaxConcurrentTasks)
}

func TestRecordsHandler(t *testing.T) {
	store := memory.NewRecordStore()
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)

	r := mb.NewAggregateEventRecord("id", "GuestListID", "GuestList", 1, &mocks.Event{Content: "event"})
	r.Timestamp = timestamp
	require.NoError(t, store.Append(context.Background(), r))

	h := RecordsHandler(store, "GuestListID")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records/id", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{
		"id": "id",
		"type": "GuestListID",
		"aggregate": "GuestList",
		"version": 1,
		"event_type": "Event",
		"event": {"id": "", "content": "event"},
		"timestamp": "2009-11-10T23:00:00Z"
	}]`, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records/other", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records/", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFeed(t *testing.T) {
	inner := &mocks.Publisher{}
	feed := NewFeed(inner, nil)

	srv := httptest.NewServer(FeedHandler(feed))
	defer srv.Close()

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	defer c.Close()

	assert.Eventually(t, func() bool {
		feed.mu.RLock()
		defer feed.mu.RUnlock()

		return len(feed.subs) == 1
	}, time.Second, 10*time.Millisecond)

	err = feed.Publish(context.Background(), mb.NewQueue("events"), &mocks.Event{Content: "event"})
	require.NoError(t, err)

	assert.Len(t, inner.Messages(), 1)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))

	var p Published
	require.NoError(t, c.ReadJSON(&p))

	assert.Equal(t, "events", p.Queue)
	assert.Equal(t, mocks.EventType, p.MessageType)
	assert.JSONEq(t, `{"id":"","content":"event"}`, string(p.Data))

	// Closing the connection unsubscribes.
	c.Close()

	assert.Eventually(t, func() bool {
		feed.mu.RLock()
		defer feed.mu.RUnlock()

		return len(feed.subs) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestFeed_PublishError(t *testing.T) {
	inner := &mocks.Publisher{Err: assert.AnError}
	feed := NewFeed(inner, nil)

	ch := feed.subscribe()
	defer feed.unsubscribe(ch)

	if err := feed.Publish(context.Background(), mb.NewQueue("events"), &mocks.Event{}); err != assert.AnError {
		t.Error("the error should be returned:", err)
	}

	select {
	case p := <-ch:
		t.Error("nothing should be sent on the feed:", p)
	default:
	}
}

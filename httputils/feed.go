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
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	mb "github.com/looplab/messagebus"
)

var upgrader = websocket.Upgrader{} // use default options

// Published is a message sent on the feed.
type Published struct {
	Queue       string          `json:"queue"`
	MessageType mb.MessageType  `json:"message_type"`
	Data        json.RawMessage `json:"data"`
}

// Feed is a messagebus.Publisher that forwards published messages to the
// subscribed websocket connections before publishing them.
type Feed struct {
	mb.Publisher

	mu   sync.RWMutex
	subs map[chan Published]struct{}

	logger *slog.Logger
}

// NewFeed creates a Feed.
func NewFeed(p mb.Publisher, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}

	return &Feed{
		Publisher: p,
		subs:      map[chan Published]struct{}{},
		logger:    logger,
	}
}

// Publish implements the Publish method of the messagebus.Publisher interface.
func (f *Feed) Publish(ctx context.Context, queue mb.Queue, msg mb.Message) error {
	if err := f.Publisher.Publish(ctx, queue, msg); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		f.logger.Warn("could not encode message for feed",
			slog.String("message_type", msg.MessageType().String()),
			slog.String("error", err.Error()),
		)

		return nil
	}

	p := Published{
		Queue:       queue.Name,
		MessageType: msg.MessageType(),
		Data:        data,
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for ch := range f.subs {
		select {
		case ch <- p:
		default:
			f.logger.Warn("missed message on feed", slog.String("message_type", p.MessageType.String()))
		}
	}

	return nil
}

func (f *Feed) subscribe() chan Published {
	ch := make(chan Published, 10)

	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	return ch
}

func (f *Feed) unsubscribe(ch chan Published) {
	f.mu.Lock()
	delete(f.subs, ch)
	f.mu.Unlock()
}

// FeedHandler is a Websocket handler for the feed. Published messages will be
// forwarded as JSON to all requests that have been upgraded to websockets.
func FeedHandler(f *Feed) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			f.logger.Warn("could not upgrade connection", slog.String("error", err.Error()))

			return
		}
		defer c.Close()

		ch := f.subscribe()
		defer f.unsubscribe(ch)

		// Detect closed connections, the client is not expected to write.
		closed := make(chan struct{})
		go func() {
			defer close(closed)

			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case p := <-ch:
				if err := c.WriteJSON(p); err != nil {
					f.logger.Warn("could not write to feed", slog.String("error", err.Error()))

					return
				}
			}
		}
	})
}

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

// Package local is an in-memory transport, where queues are buffered channels
// shared by the consumers of a Group.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jinzhu/copier"
	"golang.org/x/sync/errgroup"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/codec/json"
	"github.com/looplab/messagebus/transport"
)

// DefaultQueueSize is the default buffer size of a queue.
var DefaultQueueSize = 100

// Delivery is a message on a queue.
type Delivery struct {
	Payload []byte
	Headers map[string]string
	// Attempt is the number of previous deliveries.
	Attempt int
}

// Group is a set of queues shared by multiple transports locally, if needed.
type Group struct {
	queues   map[string]chan Delivery
	queuesMu sync.Mutex
	size     int
}

// NewGroup creates a Group.
func NewGroup() *Group {
	return &Group{
		queues: map[string]chan Delivery{},
		size:   DefaultQueueSize,
	}
}

func (g *Group) queue(name string) chan Delivery {
	g.queuesMu.Lock()
	defer g.queuesMu.Unlock()

	if ch, ok := g.queues[name]; ok {
		return ch
	}

	ch := make(chan Delivery, g.size)
	g.queues[name] = ch

	return ch
}

// Transport is an in-memory transport. Each published message is delivered to
// one of the consumers of the queue. Nacked packages are redelivered up to the
// configured number of times, then dropped.
type Transport struct {
	group         *Group
	codec         mb.Codec
	logger        *slog.Logger
	maxRedelivery int

	stopped  chan struct{}
	stopOnce sync.Once

	acked   atomic.Int64
	nacked  atomic.Int64
	dropped atomic.Int64
}

var _ = mb.Transport(&Transport{})
var _ = mb.Publisher(&Transport{})

// Option is an option setter used to configure creation.
type Option func(*Transport) error

// WithGroup shares the queues of a group with other transports.
func WithGroup(g *Group) Option {
	return func(t *Transport) error {
		if g == nil {
			return errors.New("missing group")
		}

		t.group = g

		return nil
	}
}

// WithCodec uses the specified codec for encoding messages.
func WithCodec(codec mb.Codec) Option {
	return func(t *Transport) error {
		t.codec = codec

		return nil
	}
}

// WithRedelivery redelivers nacked packages up to n times.
func WithRedelivery(n int) Option {
	return func(t *Transport) error {
		if n < 0 {
			return fmt.Errorf("invalid redelivery count: %d", n)
		}

		t.maxRedelivery = n

		return nil
	}
}

// WithLogger uses a logger other than slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) error {
		if logger == nil {
			return errors.New("missing logger")
		}

		t.logger = logger

		return nil
	}
}

// NewTransport creates a Transport.
func NewTransport(options ...Option) (*Transport, error) {
	t := &Transport{
		codec:   &json.Codec{},
		logger:  slog.Default(),
		stopped: make(chan struct{}),
	}

	for _, option := range options {
		if option == nil {
			continue
		}

		if err := option(t); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	if t.group == nil {
		t.group = NewGroup()
	}

	t.logger = t.logger.With(slog.String("transport", "local"))

	return t, nil
}

// Publish implements the Publish method of the messagebus.Publisher interface.
// It blocks while the queue is full.
func (t *Transport) Publish(ctx context.Context, queue mb.Queue, msg mb.Message) error {
	data, err := t.codec.Marshal(ctx, msg)
	if err != nil {
		return fmt.Errorf("could not marshal message: %w", err)
	}

	return t.PublishRaw(ctx, queue, data, transport.Headers(ctx, msg))
}

// PublishRaw publishes an encoded payload with headers. The payload and
// headers are copied.
func (t *Transport) PublishRaw(ctx context.Context, queue mb.Queue, payload []byte, headers map[string]string) error {
	var d Delivery
	if err := copier.CopyWithOption(&d, &Delivery{Payload: payload, Headers: headers}, copier.Option{DeepCopy: true}); err != nil {
		return fmt.Errorf("could not copy message: %w", err)
	}

	return t.enqueue(ctx, queue, d)
}

func (t *Transport) enqueue(ctx context.Context, queue mb.Queue, d Delivery) error {
	select {
	case t.group.queue(queue.Name) <- d:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("could not publish message: %w", ctx.Err())
	}
}

// Consume implements the Consume method of the messagebus.Transport interface.
// Each queue is consumed in its own goroutine.
func (t *Transport) Consume(ctx context.Context, queues []mb.Queue, onPackage mb.PackageFunc) error {
	if len(queues) == 0 {
		return errors.New("no queues to consume")
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, q := range queues {
		q := q
		ch := t.group.queue(q.Name)

		g.Go(func() error {
			t.consume(ctx, q, ch, onPackage)

			return nil
		})
	}

	return g.Wait()
}

func (t *Transport) consume(ctx context.Context, q mb.Queue, ch chan Delivery, onPackage mb.PackageFunc) {
	for {
		// Stopping takes precedence over buffered deliveries.
		select {
		case <-t.stopped:
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-t.stopped:
			return
		case <-ctx.Done():
			return
		case d := <-ch:
			onPackage(ctx, t.newPackage(q, d))
		}
	}
}

func (t *Transport) newPackage(q mb.Queue, d Delivery) *transport.Package {
	ack := func(context.Context) error {
		t.acked.Add(1)

		return nil
	}

	nack := func(ctx context.Context) error {
		t.nacked.Add(1)

		if d.Attempt >= t.maxRedelivery {
			t.dropped.Add(1)
			t.logger.Warn("dropping nacked package",
				slog.String("queue", q.Name),
				slog.String("message_id", d.Headers[mb.MessageIDHeader]),
				slog.Int("attempt", d.Attempt+1),
			)

			return nil
		}

		d.Attempt++

		return t.enqueue(ctx, q, d)
	}

	return transport.NewPackage(d.Payload, d.Headers, ack, nack)
}

// Stop implements the Stop method of the messagebus.Transport interface.
// Buffered deliveries are kept for other consumers of the group.
func (t *Transport) Stop(context.Context) error {
	t.stopOnce.Do(func() { close(t.stopped) })

	return nil
}

// Stats are the settle counters of a transport.
type Stats struct {
	Acked   int64
	Nacked  int64
	Dropped int64
}

// Stats returns the current counters.
func (t *Transport) Stats() Stats {
	return Stats{
		Acked:   t.acked.Load(),
		Nacked:  t.nacked.Load(),
		Dropped: t.dropped.Load(),
	}
}

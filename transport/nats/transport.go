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

// Package nats is a transport on NATS JetStream, with one subject per queue
// in a stream per application.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/codec/json"
	"github.com/looplab/messagebus/transport"
)

// DefaultAckWait is the time to wait for acks before re-delivering a package.
var DefaultAckWait = 60 * time.Second

// Transport is a transport on NATS JetStream. Each queue is read by a durable
// pull consumer shared by all consumers of the application. Nacked packages
// are redelivered by the server.
type Transport struct {
	appID     string
	conn      *nats.Conn
	connOpts  []nats.Option
	js        nats.JetStreamContext
	codec     mb.Codec
	logger    *slog.Logger
	batchSize int

	stopCtx context.Context
	stop    context.CancelFunc
}

var _ = mb.Transport(&Transport{})
var _ = mb.Publisher(&Transport{})

// NewTransport creates a Transport and the stream of the application.
func NewTransport(url, appID string, options ...Option) (*Transport, error) {
	t := &Transport{
		appID:     appID,
		codec:     &json.Codec{},
		logger:    slog.Default(),
		batchSize: 10,
	}

	// Apply configuration options.
	for _, option := range options {
		if option == nil {
			continue
		}

		if err := option(t); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	t.logger = t.logger.With(slog.String("transport", "nats"))

	// Create the NATS client.
	var err error
	if t.conn, err = nats.Connect(url, t.connOpts...); err != nil {
		return nil, &mb.ConnectionError{
			Err:       fmt.Errorf("could not connect to NATS: %w", err),
			Transport: "nats",
		}
	}

	if t.js, err = t.conn.JetStream(); err != nil {
		return nil, fmt.Errorf("could not create JetStream context: %w", err)
	}

	// Get or create the stream.
	if _, err := t.js.StreamInfo(t.streamName()); errors.Is(err, nats.ErrStreamNotFound) {
		if _, err := t.js.AddStream(&nats.StreamConfig{
			Name:     t.streamName(),
			Subjects: []string{t.streamName() + ".>"},
		}); err != nil {
			return nil, fmt.Errorf("could not create NATS stream: %w", err)
		}
	} else if err != nil {
		return nil, &mb.ConnectionError{
			Err:       fmt.Errorf("could not get NATS stream: %w", err),
			Transport: "nats",
		}
	}

	t.stopCtx, t.stop = context.WithCancel(context.Background())

	return t, nil
}

// Option is an option setter used to configure creation.
type Option func(*Transport) error

// WithCodec uses the specified codec for encoding messages.
func WithCodec(codec mb.Codec) Option {
	return func(t *Transport) error {
		t.codec = codec

		return nil
	}
}

// WithNATSOptions adds the NATS options to the underlying client.
func WithNATSOptions(opts ...nats.Option) Option {
	return func(t *Transport) error {
		t.connOpts = opts

		return nil
	}
}

// WithBatchSize sets the number of packages fetched per request.
func WithBatchSize(n int) Option {
	return func(t *Transport) error {
		if n < 1 {
			return fmt.Errorf("invalid batch size: %d", n)
		}

		t.batchSize = n

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

var nameReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

func (t *Transport) streamName() string {
	return nameReplacer.Replace(t.appID)
}

func (t *Transport) subject(q mb.Queue) string {
	return t.streamName() + "." + q.Name
}

func (t *Transport) durableName(q mb.Queue) string {
	return t.streamName() + "_" + nameReplacer.Replace(q.Name)
}

// Publish implements the Publish method of the messagebus.Publisher interface.
func (t *Transport) Publish(ctx context.Context, queue mb.Queue, msg mb.Message) error {
	data, err := t.codec.Marshal(ctx, msg)
	if err != nil {
		return fmt.Errorf("could not marshal message: %w", err)
	}

	m := nats.NewMsg(t.subject(queue))
	m.Data = data

	for k, v := range transport.Headers(ctx, msg) {
		m.Header.Set(k, v)
	}

	if _, err := t.js.PublishMsg(m, nats.Context(ctx)); err != nil {
		return fmt.Errorf("could not publish message: %w", err)
	}

	return nil
}

// Consume implements the Consume method of the messagebus.Transport interface.
func (t *Transport) Consume(ctx context.Context, queues []mb.Queue, onPackage mb.PackageFunc) error {
	if len(queues) == 0 {
		return errors.New("no queues to consume")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer context.AfterFunc(t.stopCtx, cancel)()

	subs := make([]*nats.Subscription, 0, len(queues))
	for _, q := range queues {
		sub, err := t.js.PullSubscribe(t.subject(q), t.durableName(q),
			nats.AckWait(DefaultAckWait),
			nats.DeliverAll(),
		)
		if err != nil {
			return fmt.Errorf("could not subscribe to queue %s: %w", q, err)
		}

		subs = append(subs, sub)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		sub := sub

		g.Go(func() error {
			return t.consume(ctx, sub, onPackage)
		})
	}

	return g.Wait()
}

func (t *Transport) consume(ctx context.Context, sub *nats.Subscription, onPackage mb.PackageFunc) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := sub.Fetch(t.batchSize, nats.MaxWait(time.Second))
		if errors.Is(err, nats.ErrTimeout) {
			continue
		} else if errors.Is(err, nats.ErrConnectionClosed) {
			return &mb.ConnectionError{Err: err, Transport: "nats"}
		} else if err != nil {
			t.logger.Error("could not receive", slog.String("error", err.Error()))

			// Retry the receive loop if there was an error.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}

			continue
		}

		for _, msg := range msgs {
			onPackage(ctx, t.newPackage(msg))
		}
	}
}

func (t *Transport) newPackage(msg *nats.Msg) *transport.Package {
	headers := make(map[string]string, len(msg.Header))
	for k := range msg.Header {
		headers[k] = msg.Header.Get(k)
	}

	ack := func(ctx context.Context) error {
		return msg.Ack(nats.Context(ctx))
	}

	nack := func(ctx context.Context) error {
		return msg.Nak(nats.Context(ctx))
	}

	return transport.NewPackage(msg.Data, headers, ack, nack)
}

// Stop implements the Stop method of the messagebus.Transport interface.
func (t *Transport) Stop(context.Context) error {
	t.stop()

	return nil
}

// Close stops consuming and closes the connection.
func (t *Transport) Close() {
	t.stop()
	t.conn.Close()
}

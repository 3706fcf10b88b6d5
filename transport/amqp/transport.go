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

// Package amqp is a transport on RabbitMQ, with one durable queue per queue
// of the application.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/codec/json"
	"github.com/looplab/messagebus/transport"
)

// DefaultPrefetch is the number of unacked packages held by a consumer.
var DefaultPrefetch = 100

// Transport is a transport on RabbitMQ. Nacked packages are requeued by the
// broker.
type Transport struct {
	appID    string
	conn     *amqp.Connection
	codec    mb.Codec
	logger   *slog.Logger
	prefetch int

	pub   *amqp.Channel
	pubMu sync.Mutex

	declared   map[string]struct{}
	declaredMu sync.Mutex

	stopCtx context.Context
	stop    context.CancelFunc
}

var _ = mb.Transport(&Transport{})
var _ = mb.Publisher(&Transport{})

// NewTransport creates a Transport and connects to the broker.
func NewTransport(url, appID string, options ...Option) (*Transport, error) {
	t := &Transport{
		appID:    appID,
		codec:    &json.Codec{},
		logger:   slog.Default(),
		prefetch: DefaultPrefetch,
		declared: map[string]struct{}{},
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

	t.logger = t.logger.With(slog.String("transport", "amqp"))

	var err error
	if t.conn, err = amqp.Dial(url); err != nil {
		return nil, &mb.ConnectionError{
			Err:       fmt.Errorf("could not connect to RabbitMQ: %w", err),
			Transport: "amqp",
		}
	}

	if t.pub, err = t.conn.Channel(); err != nil {
		return nil, fmt.Errorf("could not open channel: %w", err)
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

// WithPrefetch sets the number of unacked packages held by a consumer.
func WithPrefetch(n int) Option {
	return func(t *Transport) error {
		if n < 1 {
			return fmt.Errorf("invalid prefetch: %d", n)
		}

		t.prefetch = n

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

func (t *Transport) queueName(q mb.Queue) string {
	return t.appID + "_" + q.Name
}

func (t *Transport) declare(ch *amqp.Channel, name string) error {
	t.declaredMu.Lock()
	defer t.declaredMu.Unlock()

	if _, ok := t.declared[name]; ok {
		return nil
	}

	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("could not declare queue %s: %w", name, err)
	}

	t.declared[name] = struct{}{}

	return nil
}

// Publish implements the Publish method of the messagebus.Publisher interface.
func (t *Transport) Publish(ctx context.Context, queue mb.Queue, msg mb.Message) error {
	data, err := t.codec.Marshal(ctx, msg)
	if err != nil {
		return fmt.Errorf("could not marshal message: %w", err)
	}

	headers := transport.Headers(ctx, msg)
	table := make(amqp.Table, len(headers))
	for k, v := range headers {
		table[k] = v
	}

	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	name := t.queueName(queue)
	if err := t.declare(t.pub, name); err != nil {
		return err
	}

	if err := t.pub.PublishWithContext(ctx, "", name, false, false, amqp.Publishing{
		Headers:      table,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    headers[mb.MessageIDHeader],
		Type:         headers[mb.MessageTypeHeader],
		Body:         data,
	}); err != nil {
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

	ch, err := t.conn.Channel()
	if err != nil {
		return &mb.ConnectionError{
			Err:       fmt.Errorf("could not open channel: %w", err),
			Transport: "amqp",
		}
	}

	defer func() {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			t.logger.Error("could not close channel", slog.String("error", err.Error()))
		}
	}()

	if err := ch.Qos(t.prefetch, 0, false); err != nil {
		return fmt.Errorf("could not set prefetch: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, q := range queues {
		name := t.queueName(q)
		if err := t.declare(ch, name); err != nil {
			return err
		}

		deliveries, err := ch.ConsumeWithContext(ctx, name, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("could not consume queue %s: %w", name, err)
		}

		g.Go(func() error {
			return t.consume(ctx, deliveries, onPackage)
		})
	}

	return g.Wait()
}

func (t *Transport) consume(ctx context.Context, deliveries <-chan amqp.Delivery, onPackage mb.PackageFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}

				return &mb.ConnectionError{
					Err:       errors.New("delivery channel closed"),
					Transport: "amqp",
				}
			}

			onPackage(ctx, newPackage(d))
		}
	}
}

func newPackage(d amqp.Delivery) *transport.Package {
	headers := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}

	if _, ok := headers[mb.MessageIDHeader]; !ok && d.MessageId != "" {
		headers[mb.MessageIDHeader] = d.MessageId
	}

	ack := func(context.Context) error {
		return d.Ack(false)
	}

	nack := func(context.Context) error {
		return d.Nack(false, true)
	}

	return transport.NewPackage(d.Body, headers, ack, nack)
}

// Stop implements the Stop method of the messagebus.Transport interface.
func (t *Transport) Stop(context.Context) error {
	t.stop()

	return nil
}

// Close stops consuming and closes the connection.
func (t *Transport) Close() error {
	t.stop()

	return t.conn.Close()
}

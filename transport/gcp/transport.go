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

// Package gcp is a transport on Google Cloud Pub/Sub, with one topic per queue
// and a subscription per application.
package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/codec/json"
	"github.com/looplab/messagebus/transport"
)

// DefaultAckDeadline is the ack deadline of created subscriptions.
var DefaultAckDeadline = 60 * time.Second

// Transport is a transport on Google Cloud Pub/Sub. Nacked packages are
// redelivered by the service.
type Transport struct {
	appID          string
	client         *pubsub.Client
	clientOpts     []option.ClientOption
	codec          mb.Codec
	logger         *slog.Logger
	maxOutstanding int

	topics   map[string]*pubsub.Topic
	topicsMu sync.Mutex

	stopCtx context.Context
	stop    context.CancelFunc
}

var _ = mb.Transport(&Transport{})
var _ = mb.Publisher(&Transport{})

// NewTransport creates a Transport.
func NewTransport(projectID, appID string, options ...Option) (*Transport, error) {
	t := &Transport{
		appID:          appID,
		codec:          &json.Codec{},
		logger:         slog.Default(),
		maxOutstanding: 100,
		topics:         map[string]*pubsub.Topic{},
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

	t.logger = t.logger.With(slog.String("transport", "gcp"))

	var err error
	if t.client, err = pubsub.NewClient(context.Background(), projectID, t.clientOpts...); err != nil {
		return nil, &mb.ConnectionError{
			Err:       fmt.Errorf("could not create Pub/Sub client: %w", err),
			Transport: "gcp",
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

// WithPubSubOptions adds the client options to the underlying client.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(t *Transport) error {
		t.clientOpts = opts

		return nil
	}
}

// WithMaxOutstanding sets the number of unacked packages held by a consumer.
func WithMaxOutstanding(n int) Option {
	return func(t *Transport) error {
		if n < 1 {
			return fmt.Errorf("invalid max outstanding: %d", n)
		}

		t.maxOutstanding = n

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

func (t *Transport) topicID(q mb.Queue) string {
	return t.appID + "_" + q.Name
}

// topic gets or creates the topic of a queue.
func (t *Transport) topic(ctx context.Context, q mb.Queue) (*pubsub.Topic, error) {
	t.topicsMu.Lock()
	defer t.topicsMu.Unlock()

	id := t.topicID(q)
	if topic, ok := t.topics[id]; ok {
		return topic, nil
	}

	topic := t.client.Topic(id)
	if ok, err := topic.Exists(ctx); err != nil {
		return nil, &mb.ConnectionError{
			Err:       fmt.Errorf("could not check topic: %w", err),
			Transport: "gcp",
		}
	} else if !ok {
		if topic, err = t.client.CreateTopic(ctx, id); err != nil {
			return nil, fmt.Errorf("could not create topic: %w", err)
		}
	}

	t.topics[id] = topic

	return topic, nil
}

// subscription gets or creates the subscription of the application to a queue.
func (t *Transport) subscription(ctx context.Context, q mb.Queue) (*pubsub.Subscription, error) {
	topic, err := t.topic(ctx, q)
	if err != nil {
		return nil, err
	}

	id := t.topicID(q) + "_" + t.appID
	sub := t.client.Subscription(id)

	if ok, err := sub.Exists(ctx); err != nil {
		return nil, fmt.Errorf("could not check subscription: %w", err)
	} else if !ok {
		if sub, err = t.client.CreateSubscription(ctx, id, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: DefaultAckDeadline,
		}); err != nil {
			return nil, fmt.Errorf("could not create subscription: %w", err)
		}
	}

	sub.ReceiveSettings.MaxOutstandingMessages = t.maxOutstanding

	return sub, nil
}

// Publish implements the Publish method of the messagebus.Publisher interface.
func (t *Transport) Publish(ctx context.Context, queue mb.Queue, msg mb.Message) error {
	topic, err := t.topic(ctx, queue)
	if err != nil {
		return err
	}

	data, err := t.codec.Marshal(ctx, msg)
	if err != nil {
		return fmt.Errorf("could not marshal message: %w", err)
	}

	res := topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: transport.Headers(ctx, msg),
	})
	if _, err := res.Get(ctx); err != nil {
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

	subs := make([]*pubsub.Subscription, 0, len(queues))
	for _, q := range queues {
		sub, err := t.subscription(ctx, q)
		if err != nil {
			return err
		}

		subs = append(subs, sub)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		sub := sub

		g.Go(func() error {
			err := sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
				onPackage(ctx, newPackage(msg))
			})
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("could not receive: %w", err)
			}

			return nil
		})
	}

	return g.Wait()
}

func newPackage(msg *pubsub.Message) *transport.Package {
	ack := func(context.Context) error {
		msg.Ack()

		return nil
	}

	nack := func(context.Context) error {
		msg.Nack()

		return nil
	}

	return transport.NewPackage(msg.Data, msg.Attributes, ack, nack)
}

// Stop implements the Stop method of the messagebus.Transport interface.
func (t *Transport) Stop(context.Context) error {
	t.stop()

	return nil
}

// Close stops consuming, flushes the topics and closes the client.
func (t *Transport) Close() error {
	t.stop()

	t.topicsMu.Lock()
	for _, topic := range t.topics {
		topic.Stop()
	}
	t.topicsMu.Unlock()

	return t.client.Close()
}

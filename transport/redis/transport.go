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

// Package redis is a transport on Redis streams, with one stream per queue and
// a consumer group per application.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/codec/json"
	"github.com/looplab/messagebus/transport"
)

const dataKey = "data"

// Transport is a transport on Redis streams. Packages are read with a
// consumer group named after the application, so that each package goes to
// one consumer of the application.
//
// A nacked package stays in the pending entries list of the consumer and is
// read again the next time the consumer starts.
type Transport struct {
	appID      string
	clientID   string
	client     *redis.Client
	clientOpts *redis.Options
	codec      mb.Codec
	logger     *slog.Logger
	batchSize  int64
	blockTime  time.Duration

	stopCtx context.Context
	stop    context.CancelFunc
}

var _ = mb.Transport(&Transport{})
var _ = mb.Publisher(&Transport{})

// NewTransport creates a Transport and checks the connection.
func NewTransport(addr, appID, clientID string, options ...Option) (*Transport, error) {
	t := &Transport{
		appID:     appID,
		clientID:  clientID,
		codec:     &json.Codec{},
		logger:    slog.Default(),
		batchSize: 10,
		blockTime: time.Second,
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

	// Default client options.
	if t.clientOpts == nil {
		t.clientOpts = &redis.Options{
			Addr: addr,
		}
	}

	t.logger = t.logger.With(slog.String("transport", "redis"))
	t.stopCtx, t.stop = context.WithCancel(context.Background())

	// Create client and check connection.
	t.client = redis.NewClient(t.clientOpts)
	if res, err := t.client.Ping(context.Background()).Result(); err != nil || res != "PONG" {
		return nil, &mb.ConnectionError{
			Err:       fmt.Errorf("could not check Redis server: %w", err),
			Transport: "redis",
		}
	}

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

// WithRedisOptions uses the Redis options for the underlying client, instead of the defaults.
func WithRedisOptions(opts *redis.Options) Option {
	return func(t *Transport) error {
		t.clientOpts = opts

		return nil
	}
}

// WithBatchSize sets the number of packages read per request.
func WithBatchSize(n int64) Option {
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

func (t *Transport) streamName(q mb.Queue) string {
	return t.appID + "_" + q.Name
}

// Publish implements the Publish method of the messagebus.Publisher interface.
func (t *Transport) Publish(ctx context.Context, queue mb.Queue, msg mb.Message) error {
	data, err := t.codec.Marshal(ctx, msg)
	if err != nil {
		return fmt.Errorf("could not marshal message: %w", err)
	}

	values := map[string]interface{}{
		dataKey: data,
	}
	for k, v := range transport.Headers(ctx, msg) {
		values[k] = v
	}

	args := &redis.XAddArgs{
		Stream: t.streamName(queue),
		Values: values,
	}
	if _, err := t.client.XAdd(ctx, args).Result(); err != nil {
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

	streams := make([]string, 0, 2*len(queues))
	for _, q := range queues {
		stream := t.streamName(q)

		// Get or create the consumer group, starting at the beginning of the stream.
		res, err := t.client.XGroupCreateMkStream(ctx, stream, t.appID, "0").Result()
		if err != nil {
			// Ignore group exists non-errors.
			if !strings.HasPrefix(err.Error(), "BUSYGROUP") {
				return &mb.ConnectionError{
					Err:       fmt.Errorf("could not create consumer group: %w", err),
					Transport: "redis",
				}
			}
		} else if res != "OK" {
			return fmt.Errorf("could not create consumer group: %s", res)
		}

		streams = append(streams, stream)
	}

	// Read the pending packages of this consumer first, then new ones.
	pending := true
	lastIDs := make(map[string]string, len(streams))

	for {
		args := make([]string, 0, 2*len(streams))
		args = append(args, streams...)
		for _, stream := range streams {
			id := ">"
			if pending {
				id = "0"
				if last, ok := lastIDs[stream]; ok {
					id = last
				}
			}

			args = append(args, id)
		}

		res, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    t.appID,
			Consumer: t.appID + "_" + t.clientID,
			Streams:  args,
			Count:    t.batchSize,
			Block:    t.blockTime,
		}).Result()
		if ctx.Err() != nil {
			return nil
		} else if errors.Is(err, redis.Nil) {
			continue
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

		n := 0
		for _, stream := range res {
			for _, msg := range stream.Messages {
				n++
				lastIDs[stream.Stream] = msg.ID
				onPackage(ctx, t.newPackage(stream.Stream, msg))
			}
		}

		if pending && n == 0 {
			pending = false
		}
	}
}

func (t *Transport) newPackage(stream string, msg redis.XMessage) *transport.Package {
	headers := make(map[string]string, len(msg.Values))

	var data []byte
	for k, v := range msg.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}

		if k == dataKey {
			data = []byte(s)
		} else {
			headers[k] = s
		}
	}

	ack := func(ctx context.Context) error {
		if err := t.client.XAck(ctx, stream, t.appID, msg.ID).Err(); err != nil {
			return fmt.Errorf("could not ack message: %w", err)
		}

		return nil
	}

	return transport.NewPackage(data, headers, ack, nil)
}

// Stop implements the Stop method of the messagebus.Transport interface.
func (t *Transport) Stop(context.Context) error {
	t.stop()

	return nil
}

// Close stops consuming and closes the client.
func (t *Transport) Close() error {
	t.stop()

	return t.client.Close()
}

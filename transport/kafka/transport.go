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

// Package kafka is a transport on Kafka, with one topic per queue and a
// consumer group per application.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/codec/json"
	"github.com/looplab/messagebus/transport"
)

// Transport is a transport on Kafka.
//
// Acking a package commits its offset, which also acknowledges the earlier
// packages of the same partition. A nacked package is not committed and is
// delivered again after a rebalance or restart of the group.
type Transport struct {
	addr   string
	appID  string
	writer *kafka.Writer
	codec  mb.Codec
	logger *slog.Logger

	topics   map[string]struct{}
	topicsMu sync.Mutex

	stopCtx context.Context
	stop    context.CancelFunc
}

var _ = mb.Transport(&Transport{})
var _ = mb.Publisher(&Transport{})

// NewTransport creates a Transport and checks the connection.
func NewTransport(addr, appID string, options ...Option) (*Transport, error) {
	t := &Transport{
		addr:   addr,
		appID:  appID,
		codec:  &json.Codec{},
		logger: slog.Default(),
		topics: map[string]struct{}{},
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

	t.logger = t.logger.With(slog.String("transport", "kafka"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &mb.ConnectionError{
			Err:       fmt.Errorf("could not dial Kafka: %w", err),
			Transport: "kafka",
		}
	}

	if err := conn.Close(); err != nil {
		return nil, fmt.Errorf("could not close Kafka connection: %w", err)
	}

	t.writer = &kafka.Writer{
		Addr:         kafka.TCP(addr),
		BatchSize:    1,                // Write every message without delay.
		RequiredAcks: kafka.RequireOne, // Stronger consistency.
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

func (t *Transport) topicName(q mb.Queue) string {
	return t.appID + "_" + q.Name
}

// ensureTopic gets or creates the topic.
func (t *Transport) ensureTopic(ctx context.Context, topic string) error {
	t.topicsMu.Lock()
	defer t.topicsMu.Unlock()

	if _, ok := t.topics[topic]; ok {
		return nil
	}

	client := &kafka.Client{
		Addr: kafka.TCP(t.addr),
	}

	var resp *kafka.CreateTopicsResponse
	var err error
	for i := 0; i < 10; i++ {
		resp, err = client.CreateTopics(ctx, &kafka.CreateTopicsRequest{
			Topics: []kafka.TopicConfig{{
				Topic:             topic,
				NumPartitions:     1,
				ReplicationFactor: 1,
			}},
		})
		if errors.Is(err, kafka.BrokerNotAvailable) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}

			continue
		} else if err != nil {
			return &mb.ConnectionError{
				Err:       fmt.Errorf("could not create Kafka topic: %w", err),
				Transport: "kafka",
			}
		}

		break
	}

	if resp == nil {
		return fmt.Errorf("could not get/create Kafka topic in time: %w", err)
	}

	if topicErr, ok := resp.Errors[topic]; ok && topicErr != nil {
		if !errors.Is(topicErr, kafka.TopicAlreadyExists) {
			return fmt.Errorf("invalid Kafka topic: %w", topicErr)
		}
	}

	t.topics[topic] = struct{}{}

	return nil
}

// Publish implements the Publish method of the messagebus.Publisher interface.
func (t *Transport) Publish(ctx context.Context, queue mb.Queue, msg mb.Message) error {
	topic := t.topicName(queue)
	if err := t.ensureTopic(ctx, topic); err != nil {
		return err
	}

	data, err := t.codec.Marshal(ctx, msg)
	if err != nil {
		return fmt.Errorf("could not marshal message: %w", err)
	}

	headers := transport.Headers(ctx, msg)
	kafkaHeaders := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		kafkaHeaders = append(kafkaHeaders, kafka.Header{Key: k, Value: []byte(v)})
	}

	if err := t.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Value:   data,
		Headers: kafkaHeaders,
	}); err != nil {
		return fmt.Errorf("could not publish message: %w", err)
	}

	return nil
}

// Consume implements the Consume method of the messagebus.Transport interface.
// Each queue is read by its own group reader.
func (t *Transport) Consume(ctx context.Context, queues []mb.Queue, onPackage mb.PackageFunc) error {
	if len(queues) == 0 {
		return errors.New("no queues to consume")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer context.AfterFunc(t.stopCtx, cancel)()

	readers := make([]*kafka.Reader, 0, len(queues))
	for _, q := range queues {
		topic := t.topicName(q)
		if err := t.ensureTopic(ctx, topic); err != nil {
			return err
		}

		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:                []string{t.addr},
			Topic:                  topic,
			GroupID:                t.appID,     // Send messages to only one consumer per group.
			MaxBytes:               100e3,       // 100KB
			MaxWait:                time.Second, // Allow to exit readloop in max 1s.
			PartitionWatchInterval: time.Second,
			WatchPartitionChanges:  true,
			StartOffset:            kafka.FirstOffset,
		}))
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range readers {
		r := r

		g.Go(func() error {
			defer func() {
				if err := r.Close(); err != nil {
					t.logger.Error("could not close reader", slog.String("error", err.Error()))
				}
			}()

			return t.consume(ctx, r, onPackage)
		})
	}

	return g.Wait()
}

func (t *Transport) consume(ctx context.Context, r *kafka.Reader, onPackage mb.PackageFunc) error {
	for {
		msg, err := r.FetchMessage(ctx)
		if ctx.Err() != nil {
			return nil
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

		onPackage(ctx, t.newPackage(r, msg))
	}
}

func (t *Transport) newPackage(r *kafka.Reader, msg kafka.Message) *transport.Package {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	ack := func(ctx context.Context) error {
		if err := r.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("could not commit message: %w", err)
		}

		return nil
	}

	return transport.NewPackage(msg.Value, headers, ack, nil)
}

// Stop implements the Stop method of the messagebus.Transport interface.
func (t *Transport) Stop(context.Context) error {
	t.stop()

	return nil
}

// Close stops consuming and closes the writer.
func (t *Transport) Close() error {
	t.stop()

	if err := t.writer.Close(); err != nil {
		return fmt.Errorf("could not close Kafka writer: %w", err)
	}

	return nil
}

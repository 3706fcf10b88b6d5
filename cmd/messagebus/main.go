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

// Command messagebus runs the guest list domain on the configured transport
// and record store until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/api/option"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/aggregate"
	"github.com/looplab/messagebus/codec/bson"
	"github.com/looplab/messagebus/codec/json"
	"github.com/looplab/messagebus/config"
	"github.com/looplab/messagebus/dispatch"
	"github.com/looplab/messagebus/eventstore/memory"
	"github.com/looplab/messagebus/eventstore/mongodb"
	"github.com/looplab/messagebus/examples/guestlist"
	"github.com/looplab/messagebus/httputils"
	"github.com/looplab/messagebus/processor"
	"github.com/looplab/messagebus/retry"
	"github.com/looplab/messagebus/tracing"
	"github.com/looplab/messagebus/transport/amqp"
	"github.com/looplab/messagebus/transport/gcp"
	"github.com/looplab/messagebus/transport/kafka"
	"github.com/looplab/messagebus/transport/local"
	"github.com/looplab/messagebus/transport/nats"
	"github.com/looplab/messagebus/transport/redis"
	"github.com/looplab/messagebus/uuid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("could not load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("exiting", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// transporter is a transport that can also publish.
type transporter interface {
	mb.Transport
	mb.Publisher
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("could not close", slog.String("error", err.Error()))
			}
		}
	}()

	if cfg.ZipkinURL != "" {
		closer, err := tracing.NewJaegerTracer(cfg.AppID, cfg.ZipkinURL)
		if err != nil {
			return err
		}

		closers = append(closers, closer)

		tracing.RegisterContext()
	}

	codec := newCodec(cfg)

	tr, closer, err := newTransport(cfg, codec, logger)
	if err != nil {
		return err
	}

	if closer != nil {
		closers = append(closers, closer)
	}

	records, closer, err := newRecordStore(cfg, codec)
	if err != nil {
		return err
	}

	if closer != nil {
		closers = append(closers, closer)
	}

	var (
		publisher   mb.Publisher   = tr
		recordStore mb.RecordStore = records
	)

	if cfg.ZipkinURL != "" {
		publisher = tracing.NewPublisher(publisher)
		recordStore = tracing.NewRecordStore(recordStore)
	}

	feed := httputils.NewFeed(publisher, logger)
	events := mb.NewQueue(cfg.EventQueue)

	retrier, err := retry.NewExecutor(cfg.RetryOptions())
	if err != nil {
		return err
	}

	store, err := aggregate.NewStore(recordStore,
		aggregate.WithPublisher(feed, events),
		aggregate.WithRetry(retrier),
		aggregate.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	p, err := processor.New(codec,
		processor.WithPublisher(feed, events),
		processor.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	if err := guestlist.Setup(p, store, guestlist.NewGuestList()); err != nil {
		return err
	}

	var handler mb.Processor = p
	if cfg.ZipkinURL != "" {
		handler = mb.UseProcessorMiddleware(p, tracing.NewProcessorMiddleware())
	}

	loop, err := dispatch.NewLoop(tr, handler,
		dispatch.WithMaxConcurrentTasks(cfg.MaxConcurrentTasks),
		dispatch.WithShutdownDelay(cfg.ShutdownDelay),
		dispatch.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	if cfg.HTTPEnabled {
		srv := newHTTPServer(cfg.HTTPAddr, loop, recordStore, feed)

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", slog.String("error", err.Error()))
			}
		}()

		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("could not shutdown http server", slog.String("error", err.Error()))
			}
		}()
	}

	// Cancelling ctx stops the loop with the configured shutdown delay.
	err = loop.Listen(ctx, mb.Queues(cfg.Queues...)...)

	<-loop.Done()

	return err
}

func newHTTPServer(addr string, loop *dispatch.Loop, records mb.RecordStore, feed *httputils.Feed) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/stats", httputils.StatsHandler(loop))
	mux.Handle("/records/", httputils.RecordsHandler(records, guestlist.InvitationIDType))
	mux.Handle("/feed", httputils.FeedHandler(feed))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func newCodec(cfg config.Config) mb.Codec {
	if cfg.Codec == config.CodecBSON {
		return &bson.Codec{}
	}

	return &json.Codec{}
}

func newTransport(cfg config.Config, codec mb.Codec, logger *slog.Logger) (transporter, io.Closer, error) {
	switch cfg.Transport {
	case config.TransportRedis:
		t, err := redis.NewTransport(cfg.RedisAddr, cfg.AppID, uuid.New().String(),
			redis.WithCodec(codec),
			redis.WithLogger(logger),
		)

		return t, t, err
	case config.TransportKafka:
		t, err := kafka.NewTransport(cfg.KafkaAddr, cfg.AppID,
			kafka.WithCodec(codec),
			kafka.WithLogger(logger),
		)

		return t, t, err
	case config.TransportNATS:
		t, err := nats.NewTransport(cfg.NATSURL, cfg.AppID,
			nats.WithCodec(codec),
			nats.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}

		return t, closerFunc(t.Close), nil
	case config.TransportGCP:
		var opts []option.ClientOption
		if os.Getenv("PUBSUB_EMULATOR_HOST") != "" {
			opts = append(opts, option.WithoutAuthentication())
		}

		t, err := gcp.NewTransport(cfg.GCPProjectID, cfg.AppID,
			gcp.WithPubSubOptions(opts...),
			gcp.WithCodec(codec),
			gcp.WithLogger(logger),
		)

		return t, t, err
	case config.TransportAMQP:
		t, err := amqp.NewTransport(cfg.AMQPURL, cfg.AppID,
			amqp.WithCodec(codec),
			amqp.WithLogger(logger),
		)

		return t, t, err
	default:
		t, err := local.NewTransport(
			local.WithCodec(codec),
			local.WithLogger(logger),
		)

		return t, nil, err
	}
}

func newRecordStore(cfg config.Config, codec mb.Codec) (mb.RecordStore, io.Closer, error) {
	if cfg.Store == config.StoreMongoDB {
		s, err := mongodb.NewRecordStore(cfg.MongoURI, cfg.MongoDB, mongodb.WithCodec(codec))
		if err != nil {
			return nil, nil, err
		}

		return s, s, nil
	}

	return memory.NewRecordStore(), nil, nil
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()

	return nil
}

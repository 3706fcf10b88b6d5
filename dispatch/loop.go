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

// Package dispatch is the entry point of the message bus: a loop that
// consumes packages from a transport and processes them concurrently, with an
// upper bound on the number of packages in flight.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	mb "github.com/looplab/messagebus"
)

const (
	// DefaultMaxConcurrentTasks is the default ceiling of packages in flight,
	// chosen to stay below typical downstream connection pool limits.
	DefaultMaxConcurrentTasks = 60
	// DefaultShutdownDelay is the default drain window of Stop.
	DefaultShutdownDelay = 10 * time.Second
	// MinShutdownDelay is the shortest drain window, so that acknowledgment of
	// just dispatched packages is never cut off.
	MinShutdownDelay = time.Second
)

// ErrMissingTransport is when a loop is created without a transport.
var ErrMissingTransport = errors.New("missing transport")

// ErrMissingProcessor is when a loop is created without a processor.
var ErrMissingProcessor = errors.New("missing processor")

// ErrAlreadyListening is when Listen is called more than once on a loop.
var ErrAlreadyListening = errors.New("loop is already listening")

// ErrProcessorPanic is when a processor panicked while handling a package.
var ErrProcessorPanic = errors.New("processor panic")

// Loop consumes packages from a transport and hands each one to the
// processor in its own goroutine. Admission blocks the transport's delivery
// callback while the maximum number of packages are in flight, which leaves
// the transport's own prefetch and ack discipline as the flow control.
//
// A failing package is logged, nacked and never stops the loop. A Loop runs
// once; create a new one to listen again.
type Loop struct {
	transport mb.Transport
	processor mb.Processor
	logger    *slog.Logger

	maxTasks      int64
	shutdownDelay time.Duration
	slots         *semaphore.Weighted

	// stopCtx is cancelled by Stop, taskCtx when the drain window closes.
	stopCtx     context.Context
	stop        context.CancelFunc
	taskCtx     context.Context
	cancelTasks context.CancelFunc

	// admitMu orders admissions against Stop, see admit.
	admitMu   sync.RWMutex
	tasks     sync.WaitGroup
	stopOnce  sync.Once
	doneOnce  sync.Once
	done      chan struct{}
	listening atomic.Bool

	inFlight  atomic.Int64
	peak      atomic.Int64
	admitted  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// Option is an option setter used to configure creation.
type Option func(*Loop) error

// WithMaxConcurrentTasks sets the ceiling of packages in flight.
func WithMaxConcurrentTasks(n int) Option {
	return func(l *Loop) error {
		if n < 1 {
			return fmt.Errorf("invalid max concurrent tasks: %d", n)
		}

		l.maxTasks = int64(n)

		return nil
	}
}

// WithShutdownDelay sets the drain window used when the listen context is
// cancelled. Values below MinShutdownDelay are raised to it.
func WithShutdownDelay(d time.Duration) Option {
	return func(l *Loop) error {
		l.shutdownDelay = normalizeDelay(d)

		return nil
	}
}

// WithLogger uses a logger other than slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) error {
		if logger == nil {
			return errors.New("missing logger")
		}

		l.logger = logger

		return nil
	}
}

// NewLoop creates a Loop.
func NewLoop(t mb.Transport, p mb.Processor, options ...Option) (*Loop, error) {
	if t == nil {
		return nil, ErrMissingTransport
	}

	if p == nil {
		return nil, ErrMissingProcessor
	}

	l := &Loop{
		transport:     t,
		processor:     p,
		logger:        slog.Default(),
		maxTasks:      DefaultMaxConcurrentTasks,
		shutdownDelay: DefaultShutdownDelay,
		done:          make(chan struct{}),
	}

	for _, option := range options {
		if option == nil {
			continue
		}

		if err := option(l); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	l.logger = l.logger.With(slog.String("component", "dispatch"))
	l.slots = semaphore.NewWeighted(l.maxTasks)
	l.stopCtx, l.stop = context.WithCancel(context.Background())
	l.taskCtx, l.cancelTasks = context.WithCancel(context.Background())

	return l, nil
}

// Listen consumes the queues until the transport ends, fails or the loop is
// stopped. A transport failure, such as a ConnectionError, is returned.
// Cancelling ctx is the same as calling Stop with the configured shutdown
// delay. Listen does not wait for packages in flight, use Done for that.
func (l *Loop) Listen(ctx context.Context, queues ...mb.Queue) error {
	if !l.listening.CompareAndSwap(false, true) {
		return ErrAlreadyListening
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopConsuming := context.AfterFunc(l.stopCtx, cancel)
	defer stopConsuming()

	stopOnCancel := context.AfterFunc(ctx, func() { l.Stop(l.shutdownDelay) })
	defer stopOnCancel()

	l.logger.Info("listening",
		slog.Any("queues", queues),
		slog.Int64("max_concurrent_tasks", l.maxTasks),
	)

	err := l.transport.Consume(consumeCtx, queues, l.admit)

	// The transport is done, start draining if nobody asked for it.
	l.Stop(l.shutdownDelay)

	if err != nil && !(errors.Is(err, context.Canceled) && consumeCtx.Err() != nil) {
		l.logger.Error("transport failed", slog.String("error", err.Error()))

		return err
	}

	l.logger.Info("stopped listening")

	return nil
}

// ListenOnce is a single shot entry point for deterministic tests: the first
// received package is processed synchronously, then the transport and the
// loop are stopped. Packages delivered alongside the first one are nacked.
// The processing error, if any, is returned along with any transport error.
func (l *Loop) ListenOnce(ctx context.Context, queues ...mb.Queue) error {
	if !l.listening.CompareAndSwap(false, true) {
		return ErrAlreadyListening
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		taken     atomic.Bool
		handleErr error
	)

	err := l.transport.Consume(consumeCtx, queues, func(_ context.Context, pkg mb.Package) {
		// Only the first package is processed, the others go back to the broker.
		if !taken.CompareAndSwap(false, true) {
			l.reject(pkg)

			return
		}

		l.begin()
		handleErr = l.process(pkg)
		l.end()

		if err := l.transport.Stop(ctx); err != nil {
			l.logger.Error("could not stop transport", slog.String("error", err.Error()))
		}

		cancel()
	})
	if errors.Is(err, context.Canceled) && consumeCtx.Err() != nil {
		err = nil
	}

	l.terminate()

	return errors.Join(handleErr, err)
}

// Stop stops consuming new packages immediately, and after the delay stops
// the loop entirely: packages still in flight then have their context
// cancelled and are abandoned, not awaited. Delays below MinShutdownDelay,
// including zero and negative ones, are raised to it. Only the first call
// has an effect.
func (l *Loop) Stop(delay time.Duration) {
	l.stopOnce.Do(func() {
		delay = normalizeDelay(delay)

		l.admitMu.Lock()
		l.stop()
		l.admitMu.Unlock()

		l.logger.Info("stopping",
			slog.Duration("delay", delay),
			slog.Int64("in_flight", l.inFlight.Load()),
		)

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), delay)
			defer cancel()

			if err := l.transport.Stop(ctx); err != nil {
				l.logger.Error("could not stop transport", slog.String("error", err.Error()))
			}
		}()

		go l.drain(delay)
	})
}

// Done is closed when the loop has stopped: all packages in flight finished
// or the drain window closed.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stats are the counters of a loop.
type Stats struct {
	// Admitted is the number of packages handed to the processor.
	Admitted int64 `json:"admitted"`
	// Completed is the number of admitted packages that finished.
	Completed int64 `json:"completed"`
	// Failed is the number of completed packages that failed.
	Failed int64 `json:"failed"`
	// Rejected is the number of packages nacked without processing because
	// the loop was stopping.
	Rejected int64 `json:"rejected"`
	// InFlight is the number of packages being processed.
	InFlight int64 `json:"in_flight"`
	// Peak is the highest number of packages in flight at the same time.
	Peak int64 `json:"peak"`
	// MaxConcurrentTasks is the configured ceiling.
	MaxConcurrentTasks int64 `json:"max_concurrent_tasks"`
}

// Stats returns the current counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Admitted:           l.admitted.Load(),
		Completed:          l.completed.Load(),
		Failed:             l.failed.Load(),
		Rejected:           l.rejected.Load(),
		InFlight:           l.inFlight.Load(),
		Peak:               l.peak.Load(),
		MaxConcurrentTasks: l.maxTasks,
	}
}

// admit is the delivery callback given to the transport. It blocks until a
// slot is free, which is the backpressure on the transport.
func (l *Loop) admit(_ context.Context, pkg mb.Package) {
	if err := l.slots.Acquire(l.stopCtx, 1); err != nil {
		l.reject(pkg)

		return
	}

	// Stop holds the write lock while cancelling, so after it returns no
	// admission can add to the task group that drain waits on.
	l.admitMu.RLock()
	if l.stopCtx.Err() != nil {
		l.admitMu.RUnlock()
		l.slots.Release(1)
		l.reject(pkg)

		return
	}

	l.tasks.Add(1)
	l.begin()
	l.admitMu.RUnlock()

	go l.run(pkg)
}

func (l *Loop) run(pkg mb.Package) {
	// Deferred in reverse: the counter is released before the slot.
	defer l.tasks.Done()
	defer l.slots.Release(1)
	defer l.end()

	_ = l.process(pkg)
}

// process hands the package to the processor and acks or nacks it. Panics
// are recovered as failures.
func (l *Loop) process(pkg mb.Package) (err error) {
	ctx := mb.NewContextWithPackage(l.taskCtx, pkg)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrProcessorPanic, r)
		}

		if err != nil {
			l.failed.Add(1)
			l.logger.ErrorContext(ctx, "could not process package",
				slog.String("package_id", pkg.ID().String()),
				slog.String("trace_id", pkg.TraceID().String()),
				slog.String("error", err.Error()),
				slog.Duration("duration", time.Since(start)),
			)

			if nackErr := pkg.Nack(ctx); nackErr != nil {
				l.logger.ErrorContext(ctx, "could not nack package",
					slog.String("package_id", pkg.ID().String()),
					slog.String("trace_id", pkg.TraceID().String()),
					slog.String("error", nackErr.Error()),
				)
			}

			return
		}

		if ackErr := pkg.Ack(ctx); ackErr != nil {
			l.logger.ErrorContext(ctx, "could not ack package",
				slog.String("package_id", pkg.ID().String()),
				slog.String("trace_id", pkg.TraceID().String()),
				slog.String("error", ackErr.Error()),
			)
		}
	}()

	return l.processor.Handle(ctx, pkg)
}

func (l *Loop) begin() {
	l.admitted.Add(1)

	n := l.inFlight.Add(1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (l *Loop) end() {
	l.completed.Add(1)
	l.inFlight.Add(-1)
}

// reject nacks a package that arrived while stopping, so that the broker can
// redeliver it to another consumer.
func (l *Loop) reject(pkg mb.Package) {
	l.rejected.Add(1)

	if err := pkg.Nack(context.Background()); err != nil {
		l.logger.Warn("could not nack rejected package",
			slog.String("package_id", pkg.ID().String()),
			slog.String("trace_id", pkg.TraceID().String()),
			slog.String("error", err.Error()),
		)
	}
}

// drain waits for the packages in flight or the end of the drain window,
// whichever comes first, and then terminates the loop.
func (l *Loop) drain(delay time.Duration) {
	finished := make(chan struct{})
	go func() {
		l.tasks.Wait()
		close(finished)
	}()

	t := time.NewTimer(delay)
	defer t.Stop()

	select {
	case <-finished:
	case <-t.C:
		l.logger.Warn("drain window closed, abandoning packages in flight",
			slog.Int64("in_flight", l.inFlight.Load()),
		)
	}

	l.terminate()
}

func (l *Loop) terminate() {
	l.doneOnce.Do(func() {
		l.stop()
		l.cancelTasks()
		close(l.done)

		l.logger.Info("stopped", slog.Any("stats", l.Stats()))
	})
}

func normalizeDelay(d time.Duration) time.Duration {
	if d < MinShutdownDelay {
		return MinShutdownDelay
	}

	return d
}

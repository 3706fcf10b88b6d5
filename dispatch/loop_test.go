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

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/mocks"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewLoop(t *testing.T) {
	_, err := NewLoop(nil, &mocks.Processor{})
	assert.ErrorIs(t, err, ErrMissingTransport)

	_, err = NewLoop(mocks.NewTransport(1), nil)
	assert.ErrorIs(t, err, ErrMissingProcessor)

	_, err = NewLoop(mocks.NewTransport(1), &mocks.Processor{}, WithMaxConcurrentTasks(0))
	assert.Error(t, err)

	_, err = NewLoop(mocks.NewTransport(1), &mocks.Processor{}, WithLogger(nil))
	assert.Error(t, err)

	l, err := NewLoop(mocks.NewTransport(1), &mocks.Processor{})
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultMaxConcurrentTasks), l.Stats().MaxConcurrentTasks)
	assert.Equal(t, DefaultShutdownDelay, l.shutdownDelay)
}

func TestNormalizeDelay(t *testing.T) {
	assert.Equal(t, time.Second, normalizeDelay(0))
	assert.Equal(t, time.Second, normalizeDelay(-5*time.Second))
	assert.Equal(t, time.Second, normalizeDelay(time.Millisecond))
	assert.Equal(t, 3*time.Second, normalizeDelay(3*time.Second))
}

func TestLoop_HundredPackages(t *testing.T) {
	defer goleak.VerifyNone(t)

	const n, k = 100, 10

	transport := mocks.NewTransport(n)
	processor := &mocks.Processor{
		HandleFunc: func(context.Context, mb.Package) error {
			time.Sleep(time.Duration(rand.Intn(5)+1) * time.Millisecond)
			return nil
		},
	}

	l, err := NewLoop(transport, processor,
		WithMaxConcurrentTasks(k),
		WithLogger(discardLogger()),
	)
	require.NoError(t, err)

	pkgs := make([]*mocks.Package, n)
	for i := range pkgs {
		pkgs[i] = mocks.NewPackage(nil)
		transport.Packages <- pkgs[i]
	}

	listenErr := make(chan error, 1)
	go func() { listenErr <- l.Listen(context.Background(), mb.NewQueue("test")) }()

	require.Eventually(t, func() bool {
		return l.Stats().Completed == n
	}, 5*time.Second, 5*time.Millisecond)

	l.Stop(0)
	require.NoError(t, <-listenErr)
	<-l.Done()

	stats := l.Stats()
	assert.Equal(t, int64(n), stats.Admitted)
	assert.Equal(t, int64(n), stats.Completed)
	assert.Equal(t, int64(0), stats.InFlight)
	assert.Equal(t, int64(0), stats.Failed)
	assert.LessOrEqual(t, stats.Peak, int64(k))
	assert.LessOrEqual(t, processor.Peak(), k)
	assert.Equal(t, n, processor.Count())

	for _, pkg := range pkgs {
		assert.Equal(t, 1, pkg.Acked())
		assert.Equal(t, 0, pkg.Nacked())
	}

	assert.True(t, transport.Stopped())
}

func TestLoop_AdmissionBound(t *testing.T) {
	const k = 2

	release := make(chan struct{})
	transport := mocks.NewTransport(5)
	processor := &mocks.Processor{
		HandleFunc: func(context.Context, mb.Package) error {
			<-release
			return nil
		},
	}

	l, err := NewLoop(transport, processor,
		WithMaxConcurrentTasks(k),
		WithLogger(discardLogger()),
	)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		transport.Packages <- mocks.NewPackage(nil)
	}

	go func() { _ = l.Listen(context.Background()) }()

	require.Eventually(t, func() bool {
		return l.Stats().InFlight == k
	}, time.Second, time.Millisecond)

	// The third package is held by the blocked delivery callback, the rest
	// stay with the transport.
	require.Eventually(t, func() bool {
		return len(transport.Packages) == 2
	}, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(k), l.Stats().InFlight, "no more than k packages should be in flight")
	assert.Equal(t, int64(k), l.Stats().Admitted)

	close(release)

	require.Eventually(t, func() bool {
		return l.Stats().Completed == 5
	}, time.Second, time.Millisecond)
	assert.Equal(t, int64(k), l.Stats().Peak)

	l.Stop(0)
	<-l.Done()
}

func TestLoop_CounterConservation(t *testing.T) {
	defer goleak.VerifyNone(t)

	const n = 60

	errFailed := errors.New("failed")
	transport := mocks.NewTransport(n)
	processor := &mocks.Processor{
		HandleFunc: func(_ context.Context, pkg mb.Package) error {
			switch pkg.Headers()["outcome"] {
			case "error":
				return errFailed
			case "panic":
				panic("handler exploded")
			}
			return nil
		},
	}

	l, err := NewLoop(transport, processor,
		WithMaxConcurrentTasks(7),
		WithLogger(discardLogger()),
	)
	require.NoError(t, err)

	pkgs := make([]*mocks.Package, n)
	for i := range pkgs {
		pkgs[i] = mocks.NewPackage(nil)
		pkgs[i].Meta["outcome"] = []string{"ok", "error", "panic"}[i%3]
		transport.Packages <- pkgs[i]
	}

	go func() { _ = l.Listen(context.Background()) }()

	require.Eventually(t, func() bool {
		return l.Stats().Completed == n
	}, 5*time.Second, time.Millisecond)

	l.Stop(0)
	<-l.Done()

	stats := l.Stats()
	assert.Equal(t, int64(n), stats.Admitted)
	assert.Equal(t, int64(n), stats.Completed)
	assert.Equal(t, int64(2*n/3), stats.Failed)
	assert.Equal(t, int64(0), stats.InFlight)

	for _, pkg := range pkgs {
		assert.Equal(t, 1, pkg.Acked()+pkg.Nacked(), "every package should be settled once")
		if pkg.Meta["outcome"] == "ok" {
			assert.Equal(t, 1, pkg.Acked())
		} else {
			assert.Equal(t, 1, pkg.Nacked())
		}
	}
}

func TestLoop_FailureIsLoggedWithIDs(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	transport := mocks.NewTransport(2)
	processor := &mocks.Processor{
		HandleFunc: func(_ context.Context, pkg mb.Package) error {
			if pkg.Headers()["fail"] == "yes" {
				return errors.New("could not handle")
			}
			return nil
		},
	}

	l, err := NewLoop(transport, processor, WithLogger(logger))
	require.NoError(t, err)

	failing := mocks.NewPackage(nil)
	failing.Meta["fail"] = "yes"
	transport.Packages <- failing
	transport.Packages <- mocks.NewPackage(nil)

	go func() { _ = l.Listen(context.Background()) }()

	require.Eventually(t, func() bool {
		return l.Stats().Completed == 2
	}, time.Second, time.Millisecond)
	l.Stop(0)
	<-l.Done()

	var found bool
	for _, line := range strings.Split(buf.String(), "\n") {
		if line == "" {
			continue
		}

		entry := map[string]interface{}{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))

		if entry["msg"] != "could not process package" {
			continue
		}

		found = true
		assert.Equal(t, "ERROR", entry["level"])
		assert.Equal(t, failing.ID().String(), entry["package_id"])
		assert.Equal(t, failing.TraceID().String(), entry["trace_id"])
		assert.Equal(t, "could not handle", entry["error"])
	}
	assert.True(t, found, "the failure should be logged")
	assert.Equal(t, int64(1), l.Stats().Failed)
}

func TestLoop_ContextCarriesPackage(t *testing.T) {
	transport := mocks.NewTransport(1)
	processor := &mocks.Processor{}

	l, err := NewLoop(transport, processor, WithLogger(discardLogger()))
	require.NoError(t, err)

	pkg := mocks.NewPackage(nil)
	transport.Packages <- pkg

	require.NoError(t, l.ListenOnce(context.Background()))
	require.Len(t, processor.Contexts, 1)

	id, ok := mb.PackageIDFromContext(processor.Contexts[0])
	assert.True(t, ok)
	assert.Equal(t, pkg.ID(), id)

	traceID, ok := mb.TraceIDFromContext(processor.Contexts[0])
	assert.True(t, ok)
	assert.Equal(t, pkg.TraceID(), traceID)
}

func TestLoop_ConnectionFailure(t *testing.T) {
	transport := mocks.NewTransport(1)
	transport.Err = &mb.ConnectionError{Transport: "mock", Err: errors.New("refused")}

	l, err := NewLoop(transport, &mocks.Processor{}, WithLogger(discardLogger()))
	require.NoError(t, err)

	err = l.Listen(context.Background(), mb.NewQueue("test"))
	assert.ErrorIs(t, err, mb.ErrConnectionFail)

	var connErr *mb.ConnectionError
	assert.ErrorAs(t, err, &connErr)

	select {
	case <-l.Done():
	case <-time.After(3 * time.Second):
		t.Error("the loop should stop after a connection failure")
	}
}

func TestLoop_ListenTwice(t *testing.T) {
	transport := mocks.NewTransport(1)
	l, err := NewLoop(transport, &mocks.Processor{}, WithLogger(discardLogger()))
	require.NoError(t, err)

	go func() { _ = l.Listen(context.Background()) }()
	require.Eventually(t, func() bool { return l.listening.Load() }, time.Second, time.Millisecond)

	assert.ErrorIs(t, l.Listen(context.Background()), ErrAlreadyListening)
	assert.ErrorIs(t, l.ListenOnce(context.Background()), ErrAlreadyListening)

	l.Stop(0)
	<-l.Done()
}

func TestLoop_StopFloor(t *testing.T) {
	for _, delay := range []time.Duration{0, -5 * time.Second} {
		release := make(chan struct{})
		transport := mocks.NewTransport(1)
		processor := &mocks.Processor{
			HandleFunc: func(context.Context, mb.Package) error {
				<-release
				return nil
			},
		}

		l, err := NewLoop(transport, processor, WithLogger(discardLogger()))
		require.NoError(t, err)

		transport.Packages <- mocks.NewPackage(nil)
		go func() { _ = l.Listen(context.Background()) }()
		require.Eventually(t, func() bool { return l.Stats().InFlight == 1 }, time.Second, time.Millisecond)

		start := time.Now()
		l.Stop(delay)

		select {
		case <-l.Done():
		case <-time.After(3 * time.Second):
			t.Fatal("the loop should stop after the drain window")
		}

		assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond,
			"a delay of %s should be raised to one second", delay)
		assert.Equal(t, int64(1), l.Stats().InFlight, "the blocked package should be abandoned")

		close(release)
	}
}

func TestLoop_StopCancelsAbandonedTasks(t *testing.T) {
	transport := mocks.NewTransport(1)
	cancelled := make(chan struct{})
	processor := &mocks.Processor{
		HandleFunc: func(ctx context.Context, _ mb.Package) error {
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		},
	}

	l, err := NewLoop(transport, processor, WithLogger(discardLogger()))
	require.NoError(t, err)

	transport.Packages <- mocks.NewPackage(nil)
	go func() { _ = l.Listen(context.Background()) }()
	require.Eventually(t, func() bool { return l.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	l.Stop(time.Second)

	select {
	case <-cancelled:
	case <-time.After(3 * time.Second):
		t.Fatal("the task context should be cancelled when the drain window closes")
	}
}

func TestLoop_StopDrainsEarly(t *testing.T) {
	transport := mocks.NewTransport(1)
	l, err := NewLoop(transport, &mocks.Processor{}, WithLogger(discardLogger()))
	require.NoError(t, err)

	pkg := mocks.NewPackage(nil)
	transport.Packages <- pkg
	go func() { _ = l.Listen(context.Background()) }()
	require.Eventually(t, func() bool { return l.Stats().Completed == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	l.Stop(time.Minute)
	l.Stop(time.Hour) // No effect.

	select {
	case <-l.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("the loop should stop as soon as nothing is in flight")
	}
	assert.Less(t, time.Since(start), time.Minute)
	assert.True(t, transport.Stopped())
}

func TestLoop_ContextCancelStops(t *testing.T) {
	transport := mocks.NewTransport(1)
	l, err := NewLoop(transport, &mocks.Processor{},
		WithLogger(discardLogger()),
		WithShutdownDelay(time.Second),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	listenErr := make(chan error, 1)
	go func() { listenErr <- l.Listen(ctx) }()
	require.Eventually(t, func() bool { return l.listening.Load() }, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-listenErr)

	select {
	case <-l.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("the loop should stop when the context is cancelled")
	}
}

func TestLoop_RejectsWhileStopping(t *testing.T) {
	release := make(chan struct{})
	transport := mocks.NewTransport(2)
	processor := &mocks.Processor{
		HandleFunc: func(context.Context, mb.Package) error {
			<-release
			return nil
		},
	}

	l, err := NewLoop(transport, processor,
		WithMaxConcurrentTasks(1),
		WithLogger(discardLogger()),
	)
	require.NoError(t, err)

	first, second := mocks.NewPackage(nil), mocks.NewPackage(nil)
	transport.Packages <- first
	transport.Packages <- second

	go func() { _ = l.Listen(context.Background()) }()

	// The second package waits for a slot in the delivery callback.
	require.Eventually(t, func() bool {
		return l.Stats().InFlight == 1 && len(transport.Packages) == 0
	}, time.Second, time.Millisecond)

	l.Stop(time.Second)

	require.Eventually(t, func() bool { return second.Nacked() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(1), l.Stats().Rejected)
	assert.Equal(t, int64(1), l.Stats().Admitted)

	close(release)
	<-l.Done()
	assert.Equal(t, 1, first.Acked())
}

func TestLoop_ListenOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	errHandle := errors.New("handle")
	transport := mocks.NewTransport(3)
	processor := &mocks.Processor{
		HandleFunc: func(context.Context, mb.Package) error {
			return errHandle
		},
	}

	l, err := NewLoop(transport, processor, WithLogger(discardLogger()))
	require.NoError(t, err)

	first := mocks.NewPackage(nil)
	transport.Packages <- first
	transport.Packages <- mocks.NewPackage(nil)
	transport.Packages <- mocks.NewPackage(nil)

	err = l.ListenOnce(context.Background(), mb.NewQueue("test"))
	assert.ErrorIs(t, err, errHandle)

	assert.Equal(t, 1, processor.Count())
	assert.Equal(t, 1, first.Nacked())
	assert.True(t, transport.Stopped())
	assert.Len(t, transport.Packages, 2)
	assert.Equal(t, []mb.Queue{{Name: "test"}}, transport.Queues())

	stats := l.Stats()
	assert.Equal(t, int64(1), stats.Admitted)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(0), stats.InFlight)

	select {
	case <-l.Done():
	default:
		t.Error("the loop should be terminated")
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// burstTransport delivers all its packages at once, from one goroutine each.
type burstTransport struct {
	packages []mb.Package
}

func (t *burstTransport) Consume(ctx context.Context, _ []mb.Queue, onPackage mb.PackageFunc) error {
	var wg sync.WaitGroup
	for _, pkg := range t.packages {
		wg.Add(1)
		go func(pkg mb.Package) {
			defer wg.Done()
			onPackage(ctx, pkg)
		}(pkg)
	}
	wg.Wait()

	return nil
}

func (t *burstTransport) Stop(context.Context) error { return nil }

func TestLoop_ListenOnceNacksConcurrentPackages(t *testing.T) {
	pkgs := []*mocks.Package{mocks.NewPackage(nil), mocks.NewPackage(nil), mocks.NewPackage(nil)}
	transport := &burstTransport{}
	for _, pkg := range pkgs {
		transport.packages = append(transport.packages, pkg)
	}

	var l *Loop

	// The first package is held until the others have arrived.
	processor := &mocks.Processor{
		HandleFunc: func(context.Context, mb.Package) error {
			deadline := time.Now().Add(2 * time.Second)
			for l.Stats().Rejected < 2 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}

			return nil
		},
	}

	l, err := NewLoop(transport, processor, WithLogger(discardLogger()))
	require.NoError(t, err)

	require.NoError(t, l.ListenOnce(context.Background()))

	acked, nacked := 0, 0
	for _, pkg := range pkgs {
		acked += pkg.Acked()
		nacked += pkg.Nacked()

		assert.Equal(t, 1, pkg.Acked()+pkg.Nacked(), "every package should be settled once")
	}

	assert.Equal(t, 1, acked)
	assert.Equal(t, 2, nacked)

	stats := l.Stats()
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(2), stats.Rejected)
	assert.Equal(t, int64(0), stats.InFlight)
}

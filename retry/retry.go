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

// Package retry re-executes transient operations a bounded number of times,
// for a caller chosen set of recoverable failure kinds, with a pluggable delay
// policy.
//
// The operations must be safe to repeat, there is no rollback or
// compensation of partial side effects.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Defaults used for options that are not set. A zero delay is kept and
// retries immediately.
const (
	DefaultMaxCount = 3
	DefaultDelay    = 250 * time.Millisecond
)

// Options are the retry options.
type Options struct {
	// MaxCount is the maximum number of attempts, including the first.
	MaxCount int
	// Delay is the wait between attempts for the default constant backoff.
	Delay time.Duration
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		MaxCount: DefaultMaxCount,
		Delay:    DefaultDelay,
	}
}

func (o Options) normalized() Options {
	if o.MaxCount < 1 {
		o.MaxCount = DefaultMaxCount
	}

	if o.Delay < 0 {
		o.Delay = 0
	}

	return o
}

// Executor executes operations with retries.
type Executor struct {
	opts    Options
	backoff Backoff
}

// Option is an option setter used to configure creation.
type Option func(*Executor) error

// WithBackoff uses a different backoff policy than the constant delay.
func WithBackoff(b Backoff) Option {
	return func(e *Executor) error {
		if b == nil {
			return errors.New("missing backoff")
		}

		e.backoff = b

		return nil
	}
}

// NewExecutor creates an Executor. A zero delay is valid and retries
// immediately.
func NewExecutor(opts Options, options ...Option) (*Executor, error) {
	opts = opts.normalized()

	e := &Executor{
		opts:    opts,
		backoff: ConstantBackoff(opts.Delay),
	}

	for _, option := range options {
		if option == nil {
			continue
		}

		if err := option(e); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	return e, nil
}

// Options returns the options used by the executor.
func (e *Executor) Options() Options {
	return e.opts
}

// Execute runs the operation, and runs it again after the backoff delay if it
// fails with an error that matches one of the retryable errors with
// errors.Is. Other errors are returned directly. When all attempts are used
// the last error is returned unchanged.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error, retryable ...error) error {
	return e.ExecuteIf(ctx, op, Kinds(retryable...))
}

// ExecuteIf is like Execute but uses a function to decide if an error is
// retryable.
func (e *Executor) ExecuteIf(ctx context.Context, op func(context.Context) error, retryable func(error) bool) error {
	var err error

	for attempt := 1; ; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}

		if retryable == nil || !retryable(err) || attempt >= e.opts.MaxCount {
			return err
		}

		if d := e.backoff.Duration(attempt); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()

				return ctx.Err()
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Do is like Execute for operations with a result.
func Do[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error), retryable ...error) (T, error) {
	var res T

	err := e.Execute(ctx, func(ctx context.Context) error {
		var err error
		res, err = op(ctx)

		return err
	}, retryable...)

	return res, err
}

// Kinds returns a matcher for errors that are one of the kinds, using
// errors.Is.
func Kinds(kinds ...error) func(error) bool {
	return func(err error) bool {
		for _, k := range kinds {
			if errors.Is(err, k) {
				return true
			}
		}

		return false
	}
}

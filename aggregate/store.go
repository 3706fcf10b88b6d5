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

// Package aggregate rebuilds event sourced aggregates from their record
// streams and saves their new records with optimistic concurrency.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/retry"
)

// ErrMissingRecordStore is when a store is created with a nil record store.
var ErrMissingRecordStore = errors.New("missing record store")

// ErrMismatchedAggregateType is when a loaded record belongs to another kind
// of aggregate.
var ErrMismatchedAggregateType = errors.New("mismatched record and aggregate type")

// ApplyEventError is when an event could not be applied. It contains the error
// and the record that caused it.
type ApplyEventError struct {
	// Record is the record that caused the error.
	Record mb.AggregateEventRecord
	// Err is the error that happened when applying the event.
	Err error
}

// Error implements the Error method of the error interface.
func (e *ApplyEventError) Error() string {
	return "failed to apply event " + e.Record.String() + ": " + e.Err.Error()
}

// Unwrap implements the errors.Unwrap method.
func (e *ApplyEventError) Unwrap() error {
	return e.Err
}

// Aggregate is a versioned entity whose state is derived by applying the
// events of its record stream in version order.
//
// A domain aggregate can either implement the full interface, or more commonly
// embed *Base to take care of everything except ApplyEvent.
type Aggregate interface {
	// AggregateID returns the id of the aggregate.
	AggregateID() string
	// IDType returns the identity type of the aggregate.
	IDType() string
	// AggregateType returns the kind of the aggregate.
	AggregateType() string

	// Version returns the version of the last applied record.
	Version() int
	// IncrementVersion increments the version after a record is applied.
	IncrementVersion()

	// Records returns the records that are not yet saved.
	Records() []mb.AggregateEventRecord
	// ClearRecords clears the records after saving.
	ClearRecords()

	// ApplyEvent applies an event on the aggregate by setting its values.
	ApplyEvent(context.Context, mb.Message) error
}

// Store loads and saves aggregates using a record store, and publishes the
// saved events as side effects.
type Store struct {
	store     mb.RecordStore
	publisher mb.Publisher
	queue     mb.Queue
	retry     *retry.Executor
	logger    *slog.Logger
}

// Option is an option setter used to configure creation.
type Option func(*Store) error

// WithPublisher publishes the events of saved records to a queue.
func WithPublisher(p mb.Publisher, queue mb.Queue) Option {
	return func(s *Store) error {
		if p == nil {
			return errors.New("missing publisher")
		}

		s.publisher = p
		s.queue = queue

		return nil
	}
}

// WithRetry uses an executor for retrying Update on version conflicts.
func WithRetry(e *retry.Executor) Option {
	return func(s *Store) error {
		if e == nil {
			return errors.New("missing retry executor")
		}

		s.retry = e

		return nil
	}
}

// WithLogger uses a logger other than slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			return errors.New("missing logger")
		}

		s.logger = logger

		return nil
	}
}

// NewStore creates an aggregate store.
func NewStore(store mb.RecordStore, options ...Option) (*Store, error) {
	if store == nil {
		return nil, ErrMissingRecordStore
	}

	s := &Store{
		store:  store,
		logger: slog.Default(),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	if s.retry == nil {
		var err error
		if s.retry, err = retry.NewExecutor(retry.DefaultOptions()); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Load rehydrates a new aggregate by applying all records of its stream.
func (s *Store) Load(ctx context.Context, a Aggregate) error {
	records, err := s.store.Load(ctx, a.AggregateID(), a.IDType())
	if err != nil {
		return err
	}

	return s.applyRecords(ctx, a, records)
}

// Save commits the unsaved records of the aggregate as one batch, applies
// them and publishes their events. If the stream moved past the version of
// the aggregate nothing is committed and messagebus.ErrVersionConflict is
// returned, the aggregate must then be reloaded.
func (s *Store) Save(ctx context.Context, a Aggregate) error {
	records := a.Records()
	if len(records) == 0 {
		return nil
	}

	if err := s.store.Save(ctx, records, a.Version()); err != nil {
		return err
	}

	a.ClearRecords()

	if err := s.applyRecords(ctx, a, records); err != nil {
		return err
	}

	if s.publisher == nil {
		return nil
	}

	for _, r := range records {
		if r.Event == nil {
			continue
		}

		if err := s.publisher.Publish(ctx, s.queue, r.Event); err != nil {
			return fmt.Errorf("could not publish event %s: %w", r, err)
		}
	}

	return nil
}

// Update loads a new aggregate, runs fn on it and saves it. On a version
// conflict the whole sequence is run again on a freshly loaded aggregate, as
// many times as the retry executor allows.
func (s *Store) Update(ctx context.Context, newAggregate func() Aggregate, fn func(context.Context, Aggregate) error) (Aggregate, error) {
	attempt := 0

	return retry.Do(ctx, s.retry, func(ctx context.Context) (Aggregate, error) {
		attempt++
		if attempt > 1 {
			s.logger.Debug("reloading aggregate after version conflict",
				slog.Int("attempt", attempt),
			)
		}

		a := newAggregate()
		if err := s.Load(ctx, a); err != nil {
			return nil, err
		}

		if err := fn(ctx, a); err != nil {
			return nil, err
		}

		if err := s.Save(ctx, a); err != nil {
			return nil, err
		}

		return a, nil
	}, mb.ErrVersionConflict)
}

func (s *Store) applyRecords(ctx context.Context, a Aggregate, records []mb.AggregateEventRecord) error {
	for _, r := range records {
		if r.Aggregate != a.AggregateType() {
			return ErrMismatchedAggregateType
		}

		if err := a.ApplyEvent(ctx, r.Event); err != nil {
			return &ApplyEventError{
				Record: r,
				Err:    err,
			}
		}

		a.IncrementVersion()
	}

	return nil
}

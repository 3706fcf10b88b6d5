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

package tracing

import (
	"context"
	"errors"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	mb "github.com/looplab/messagebus"
)

// RecordStore is a messagebus.RecordStore that adds tracing.
type RecordStore struct {
	mb.RecordStore
}

// NewRecordStore creates a RecordStore.
func NewRecordStore(store mb.RecordStore) *RecordStore {
	return &RecordStore{
		RecordStore: store,
	}
}

// Append implements the Append method of the messagebus.RecordStore interface.
func (s *RecordStore) Append(ctx context.Context, r mb.AggregateEventRecord) error {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "RecordStore.Append")

	err := s.RecordStore.Append(ctx, r)
	if errors.Is(err, mb.ErrVersionConflict) {
		sp.SetTag("mb.conflict", true)
	} else if err != nil {
		ext.LogError(sp, err)
	}

	sp.SetTag("mb.aggregate_id", r.ID)
	sp.SetTag("mb.aggregate_type", r.Aggregate)
	sp.SetTag("mb.version", r.Version)
	sp.SetTag("mb.event_type", r.EventType.String())

	sp.Finish()

	return err
}

// Save implements the Save method of the messagebus.RecordStore interface.
func (s *RecordStore) Save(ctx context.Context, records []mb.AggregateEventRecord, originalVersion int) error {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "RecordStore.Save")

	err := s.RecordStore.Save(ctx, records, originalVersion)
	if errors.Is(err, mb.ErrVersionConflict) {
		sp.SetTag("mb.conflict", true)
	} else if err != nil {
		ext.LogError(sp, err)
	}

	if len(records) > 0 {
		sp.SetTag("mb.aggregate_id", records[0].ID)
		sp.SetTag("mb.aggregate_type", records[0].Aggregate)
	}

	sp.SetTag("mb.version", originalVersion)
	sp.SetTag("mb.records", len(records))

	sp.Finish()

	return err
}

// Load implements the Load method of the messagebus.RecordStore interface.
func (s *RecordStore) Load(ctx context.Context, id, idType string) ([]mb.AggregateEventRecord, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "RecordStore.Load")

	records, err := s.RecordStore.Load(ctx, id, idType)
	if err != nil {
		ext.LogError(sp, err)
	}

	sp.SetTag("mb.aggregate_id", id)
	sp.SetTag("mb.records", len(records))

	sp.Finish()

	return records, err
}

// Version implements the Version method of the messagebus.RecordStore interface.
func (s *RecordStore) Version(ctx context.Context, id, idType string) (int, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "RecordStore.Version")

	v, err := s.RecordStore.Version(ctx, id, idType)
	if err != nil {
		ext.LogError(sp, err)
	}

	sp.SetTag("mb.aggregate_id", id)
	sp.SetTag("mb.version", v)

	sp.Finish()

	return v, err
}

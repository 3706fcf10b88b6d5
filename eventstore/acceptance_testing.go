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

// Package eventstore holds the acceptance test shared by the record store
// implementations.
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kr/pretty"
	"github.com/stretchr/testify/assert"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/mocks"
	"github.com/looplab/messagebus/uuid"
)

// AcceptanceTest is the acceptance test that all implementations of
// RecordStore should pass. It should manually be called from a test case in
// each implementation:
//
//	func TestRecordStore(t *testing.T) {
//	    store := NewRecordStore()
//	    eventstore.AcceptanceTest(t, store, context.Background())
//	}
func AcceptanceTest(t *testing.T, store mb.RecordStore, ctx context.Context) []mb.AggregateEventRecord {
	storeErr := &mb.RecordStoreError{}

	id := uuid.New().String()
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)

	newRecord := func(id string, version int, content string) mb.AggregateEventRecord {
		r := mb.NewAggregateEventRecord(id, "GuestListID", "GuestList", version,
			&mocks.Event{ID: id, Content: content})
		r.Timestamp = timestamp

		return r
	}

	// Empty stream.
	version, err := store.Version(ctx, id, "GuestListID")
	if err != nil {
		t.Error("there should be no error:", err)
	}

	assert.Equal(t, 0, version)

	records, err := store.Load(ctx, id, "GuestListID")
	if err != nil {
		t.Error("there should be no error:", err)
	}

	assert.Empty(t, records)

	// Invalid records.
	for _, r := range []mb.AggregateEventRecord{
		{Type: "GuestListID", Version: 1},
		{ID: id, Version: 1},
		{ID: id, Type: "GuestListID", Version: 0},
	} {
		err := store.Append(ctx, r)
		if !errors.As(err, &storeErr) || storeErr.Op != mb.RecordStoreOpAppend {
			t.Error("there should be a record store error:", err)
		}
	}

	// Gap before the first version.
	err = store.Append(ctx, newRecord(id, 2, "gap"))
	if !errors.As(err, &storeErr) || !errors.Is(err, mb.ErrVersionConflict) {
		t.Error("there should be a version conflict:", err)
	}

	var saved []mb.AggregateEventRecord

	// Versions 1 to 3.
	for v := 1; v <= 3; v++ {
		r := newRecord(id, v, "event")
		if err := store.Append(ctx, r); err != nil {
			t.Fatal("there should be no error:", err)
		}

		saved = append(saved, r)
	}

	// Same version twice.
	err = store.Append(ctx, newRecord(id, 3, "duplicate"))
	if !errors.As(err, &storeErr) || !errors.Is(err, mb.ErrVersionConflict) {
		t.Error("there should be a version conflict:", err)
	} else if storeErr.ID != id || storeErr.Version != 3 {
		t.Error("the error should identify the record:", storeErr)
	}

	// Version gap.
	err = store.Append(ctx, newRecord(id, 5, "gap"))
	if !errors.Is(err, mb.ErrVersionConflict) {
		t.Error("there should be a version conflict:", err)
	}

	// Another stream is independent.
	otherID := uuid.New().String()
	other := newRecord(otherID, 1, "other")
	if err := store.Append(ctx, other); err != nil {
		t.Error("there should be no error:", err)
	}

	// Same ID with another identity type is another stream.
	otherType := newRecord(id, 1, "other type")
	otherType.Type = "OtherID"
	if err := store.Append(ctx, otherType); err != nil {
		t.Error("there should be no error:", err)
	}

	version, err = store.Version(ctx, id, "GuestListID")
	if err != nil {
		t.Error("there should be no error:", err)
	}

	assert.Equal(t, 3, version)

	loaded, err := store.Load(ctx, id, "GuestListID")
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if !assert.ObjectsAreEqual(saved, normalize(loaded)) {
		t.Error("the loaded records should be correct:")
		t.Log(pretty.Diff(saved, normalize(loaded)))
	}

	// Concurrent writers of the same version, only one wins.
	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Append(ctx, newRecord(id, 4, "race"))
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else if !errors.Is(err, mb.ErrVersionConflict) {
			t.Error("there should be a version conflict:", err)
		}
	}

	assert.Equal(t, 1, won, "exactly one concurrent writer should succeed")

	saved = append(saved, newRecord(id, 4, "race"))

	// Invalid batches.
	for name, tc := range map[string]struct {
		records []mb.AggregateEventRecord
		err     error
	}{
		"empty":      {nil, mb.ErrMissingRecords},
		"streams":    {[]mb.AggregateEventRecord{newRecord(id, 5, "a"), newRecord(otherID, 6, "b")}, mb.ErrMismatchedRecordStream},
		"numbering":  {[]mb.AggregateEventRecord{newRecord(id, 5, "a"), newRecord(id, 7, "b")}, mb.ErrInvalidRecordVersion},
		"base":       {[]mb.AggregateEventRecord{newRecord(id, 6, "a")}, mb.ErrInvalidRecordVersion},
		"invalid id": {[]mb.AggregateEventRecord{{Type: "GuestListID", Version: 5}}, mb.ErrMissingRecordID},
	} {
		err := store.Save(ctx, tc.records, 4)
		if !errors.As(err, &storeErr) || storeErr.Op != mb.RecordStoreOpSave || !errors.Is(err, tc.err) {
			t.Errorf("there should be a save error for %s: %v", name, err)
		}
	}

	// A competing writer lands before the batch, none of the batch is kept.
	competitor := newRecord(id, 5, "competitor")
	if err := store.Append(ctx, competitor); err != nil {
		t.Fatal("there should be no error:", err)
	}

	saved = append(saved, competitor)

	err = store.Save(ctx, []mb.AggregateEventRecord{
		newRecord(id, 5, "batch"),
		newRecord(id, 6, "batch"),
	}, 4)
	if !errors.As(err, &storeErr) || !errors.Is(err, mb.ErrVersionConflict) {
		t.Error("there should be a version conflict:", err)
	}

	loaded, err = store.Load(ctx, id, "GuestListID")
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if !assert.ObjectsAreEqual(saved, normalize(loaded)) {
		t.Error("a rejected batch should leave the stream untouched:")
		t.Log(pretty.Diff(saved, normalize(loaded)))
	}

	// Concurrent batches on the same version, only one is committed whole.
	batches := make([][]mb.AggregateEventRecord, 10)
	for i := range batches {
		content := fmt.Sprintf("batch %d", i)
		batches[i] = []mb.AggregateEventRecord{
			newRecord(id, 6, content),
			newRecord(id, 7, content),
			newRecord(id, 8, content),
		}
	}

	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Save(ctx, batches[i], 5)
		}(i)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			if winner >= 0 {
				t.Error("only one concurrent batch should succeed")
			}

			winner = i
		} else if !errors.Is(err, mb.ErrVersionConflict) {
			t.Error("there should be a version conflict:", err)
		}
	}

	if winner < 0 {
		t.Fatal("one concurrent batch should succeed")
	}

	saved = append(saved, batches[winner]...)

	loaded, err = store.Load(ctx, id, "GuestListID")
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if !assert.ObjectsAreEqual(saved, normalize(loaded)) {
		t.Error("the stream should hold exactly the winning batch:")
		t.Log(pretty.Diff(saved, normalize(loaded)))
	}

	if version, err := store.Version(ctx, id, "GuestListID"); err != nil || version != 8 {
		t.Error("the version should be correct:", version, err)
	}

	return saved
}

// normalize strips the monotonic clock and location so records compare equal
// after a round trip through a database.
func normalize(records []mb.AggregateEventRecord) []mb.AggregateEventRecord {
	out := make([]mb.AggregateEventRecord, len(records))
	for i, r := range records {
		r.Timestamp = r.Timestamp.UTC()
		out[i] = r
	}

	return out
}

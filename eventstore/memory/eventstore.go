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

// Package memory is an in-memory record store, useful in testing and for
// single process deployments.
package memory

import (
	"context"
	"slices"
	"sync"

	mb "github.com/looplab/messagebus"
)

type streamKey struct {
	id, idType string
}

// RecordStore implements a messagebus.RecordStore as an in memory structure.
type RecordStore struct {
	streams   map[streamKey][]mb.AggregateEventRecord
	streamsMu sync.RWMutex
}

var _ = mb.RecordStore(&RecordStore{})

// NewRecordStore creates a new RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		streams: map[streamKey][]mb.AggregateEventRecord{},
	}
}

// Append implements the Append method of the messagebus.RecordStore interface.
func (s *RecordStore) Append(ctx context.Context, r mb.AggregateEventRecord) error {
	return s.save(mb.RecordStoreOpAppend, []mb.AggregateEventRecord{r}, r.Version-1)
}

// Save implements the Save method of the messagebus.RecordStore interface.
func (s *RecordStore) Save(ctx context.Context, records []mb.AggregateEventRecord, originalVersion int) error {
	return s.save(mb.RecordStoreOpSave, records, originalVersion)
}

func (s *RecordStore) save(op mb.RecordStoreOperation, records []mb.AggregateEventRecord, originalVersion int) error {
	storeErr := func(err error) error {
		e := &mb.RecordStoreError{
			Err:     err,
			Op:      op,
			Version: originalVersion + 1,
		}
		if len(records) > 0 {
			e.ID = records[0].ID
			e.Type = records[0].Type
		}

		return e
	}

	if err := mb.ValidateBatch(records, originalVersion); err != nil {
		return storeErr(err)
	}

	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()

	k := streamKey{records[0].ID, records[0].Type}
	if len(s.streams[k]) != originalVersion {
		return storeErr(mb.ErrVersionConflict)
	}

	s.streams[k] = append(s.streams[k], records...)

	return nil
}

// Load implements the Load method of the messagebus.RecordStore interface.
func (s *RecordStore) Load(ctx context.Context, id, idType string) ([]mb.AggregateEventRecord, error) {
	s.streamsMu.RLock()
	defer s.streamsMu.RUnlock()

	return slices.Clone(s.streams[streamKey{id, idType}]), nil
}

// Version implements the Version method of the messagebus.RecordStore interface.
func (s *RecordStore) Version(ctx context.Context, id, idType string) (int, error) {
	s.streamsMu.RLock()
	defer s.streamsMu.RUnlock()

	return len(s.streams[streamKey{id, idType}]), nil
}

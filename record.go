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

package messagebus

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AggregateEventRecord is one persisted fact that an aggregate instance
// transitioned. For a fixed (ID, Type) pair the records form a total order by
// Version, starting at 1, with no gaps and no duplicates. Records are never
// changed or deleted once committed.
type AggregateEventRecord struct {
	// ID is the aggregate instance identifier.
	ID string
	// Type is the identity type of the aggregate.
	Type string
	// Aggregate is the kind of the aggregate.
	Aggregate string
	// Version is the position of the record in the stream of (ID, Type).
	Version int

	// EventType is the type of the applied event.
	EventType MessageType
	// Event is the applied event.
	Event Message
	// Timestamp is when the transition was applied.
	Timestamp time.Time
}

// NewAggregateEventRecord creates a record for an event applied to an aggregate.
func NewAggregateEventRecord(id, idType, aggregate string, version int, event Message) AggregateEventRecord {
	r := AggregateEventRecord{
		ID:        id,
		Type:      idType,
		Aggregate: aggregate,
		Version:   version,
		Event:     event,
		Timestamp: time.Now(),
	}
	if event != nil {
		r.EventType = event.MessageType()
	}

	return r
}

// Validate checks that the record can be appended to a stream.
func (r AggregateEventRecord) Validate() error {
	switch {
	case r.ID == "":
		return ErrMissingRecordID
	case r.Type == "":
		return ErrMissingRecordType
	case r.Version < 1:
		return ErrInvalidRecordVersion
	}

	return nil
}

// String implements the String method of the fmt.Stringer interface.
func (r AggregateEventRecord) String() string {
	return fmt.Sprintf("%s(%s@%d, %s)", r.Aggregate, r.ID, r.Version, r.EventType)
}

// ErrVersionConflict is when a record does not carry the next unused version
// of its stream. Callers should reload the aggregate and apply their changes
// again.
var ErrVersionConflict = errors.New("version conflict")

// ErrMissingRecordID is when a record has no aggregate ID.
var ErrMissingRecordID = errors.New("missing record id")

// ErrMissingRecordType is when a record has no identity type.
var ErrMissingRecordType = errors.New("missing record type")

// ErrInvalidRecordVersion is when a record has a version below 1, or when
// the records of a batch do not follow each other.
var ErrInvalidRecordVersion = errors.New("invalid record version")

// ErrMissingRecords is when a batch without records is saved.
var ErrMissingRecords = errors.New("missing records")

// ErrMismatchedRecordStream is when a batch holds records of several streams.
var ErrMismatchedRecordStream = errors.New("mismatched record stream")

// ValidateBatch checks that the records can be saved together on top of
// originalVersion: all valid, all of the same stream and numbered
// originalVersion+1, originalVersion+2 and so on.
func ValidateBatch(records []AggregateEventRecord, originalVersion int) error {
	if len(records) == 0 {
		return ErrMissingRecords
	}

	for i, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}

		if r.ID != records[0].ID || r.Type != records[0].Type {
			return ErrMismatchedRecordStream
		}

		if r.Version != originalVersion+i+1 {
			return ErrInvalidRecordVersion
		}
	}

	return nil
}

// RecordStore is the persistence contract for aggregate event records. It is
// the sole writer of the streams and enforces the version order with
// optimistic concurrency.
type RecordStore interface {
	// Append appends a record to its stream. It fails with ErrVersionConflict
	// if the version is not exactly the current version plus one.
	Append(context.Context, AggregateEventRecord) error

	// Save appends a batch of records of one stream atomically. Either all
	// records are committed or none. It fails with ErrVersionConflict if the
	// stream is not at originalVersion when the batch is written.
	Save(ctx context.Context, records []AggregateEventRecord, originalVersion int) error

	// Load loads all records of a stream, in version order.
	Load(ctx context.Context, id, idType string) ([]AggregateEventRecord, error)

	// Version returns the current version of a stream, 0 if it is empty.
	Version(ctx context.Context, id, idType string) (int, error)
}

// RecordStoreOperation is the operation done when an error happened.
type RecordStoreOperation string

const (
	// Errors during appending of records.
	RecordStoreOpAppend RecordStoreOperation = "append"
	// Errors during saving of record batches.
	RecordStoreOpSave RecordStoreOperation = "save"
	// Errors during loading of streams.
	RecordStoreOpLoad RecordStoreOperation = "load"
	// Errors during reading of stream versions.
	RecordStoreOpVersion RecordStoreOperation = "version"
)

// RecordStoreError is an error in the record store.
type RecordStoreError struct {
	// Err is the error.
	Err error
	// BaseErr is an optional underlying error, for example from the DB driver.
	BaseErr error
	// Op is the operation for the error.
	Op RecordStoreOperation
	// ID and Type identify the stream.
	ID   string
	Type string
	// Version is the version of the record being appended, if any.
	Version int
}

// Error implements the Error method of the errors.Error interface.
func (e *RecordStoreError) Error() string {
	str := "record store: "

	if e.Op != "" {
		str += string(e.Op) + ": "
	}

	if e.Err != nil {
		str += e.Err.Error()
	} else {
		str += "unknown error"
	}

	if e.BaseErr != nil {
		str += ": " + e.BaseErr.Error()
	}

	if e.ID != "" {
		str += fmt.Sprintf(", %s(%s)", e.Type, e.ID)
		if e.Version > 0 {
			str += fmt.Sprintf(" v%d", e.Version)
		}
	}

	return str
}

// Unwrap implements the errors.Unwrap method.
func (e *RecordStoreError) Unwrap() error {
	return e.Err
}

// Cause implements the github.com/pkg/errors Unwrap method.
func (e *RecordStoreError) Cause() error {
	return e.Unwrap()
}

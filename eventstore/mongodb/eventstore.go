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

// Package mongodb is a record store for MongoDB, with one document per record
// and a unique index enforcing the version order of each stream.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/codec/json"
)

// ErrCouldNotEncodeEvent is when an event could not be encoded.
var ErrCouldNotEncodeEvent = errors.New("could not encode event")

// ErrCouldNotDecodeEvent is when an event could not be decoded.
var ErrCouldNotDecodeEvent = errors.New("could not decode event")

// ErrDatabase is when the database returned an error, see BaseErr.
var ErrDatabase = errors.New("database error")

// RecordStore is a messagebus.RecordStore for MongoDB, using one collection
// for all records.
type RecordStore struct {
	client          *mongo.Client
	clientOwnership clientOwnership
	records         *mongo.Collection
	codec           mb.Codec
}

var _ = mb.RecordStore(&RecordStore{})

type clientOwnership int

const (
	internalClient clientOwnership = iota
	externalClient
)

// NewRecordStore creates a new RecordStore with a MongoDB URI: `mongodb://hostname`.
func NewRecordStore(uri, dbName string, options ...Option) (*RecordStore, error) {
	opts := mongoOptions().ApplyURI(uri)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("could not connect to DB: %w", err)
	}

	return newRecordStoreWithClient(client, internalClient, dbName, options...)
}

// NewRecordStoreWithClient creates a new RecordStore with a client.
func NewRecordStoreWithClient(client *mongo.Client, dbName string, options ...Option) (*RecordStore, error) {
	return newRecordStoreWithClient(client, externalClient, dbName, options...)
}

func mongoOptions() *options.ClientOptions {
	return options.Client().
		SetWriteConcern(writeconcern.Majority()).
		SetReadConcern(readconcern.Majority()).
		SetReadPreference(readpref.Primary())
}

func newRecordStoreWithClient(client *mongo.Client, clientOwnership clientOwnership, dbName string, options ...Option) (*RecordStore, error) {
	if client == nil {
		return nil, fmt.Errorf("missing DB client")
	}

	s := &RecordStore{
		client:          client,
		clientOwnership: clientOwnership,
		records:         client.Database(dbName).Collection("records"),
		codec:           &json.Codec{},
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not connect to MongoDB: %w", err)
	}

	if _, err := s.records.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "id", Value: 1},
			{Key: "type", Value: 1},
			{Key: "version", Value: 1},
		},
		Options: optionsIndexUnique(),
	}); err != nil {
		return nil, fmt.Errorf("could not ensure records index: %w", err)
	}

	return s, nil
}

func optionsIndexUnique() *options.IndexOptionsBuilder {
	return options.Index().SetUnique(true)
}

// Option is an option setter used to configure creation.
type Option func(*RecordStore) error

// WithCodec uses the specified codec for encoding events.
func WithCodec(codec mb.Codec) Option {
	return func(s *RecordStore) error {
		if codec == nil {
			return errors.New("missing codec")
		}

		s.codec = codec

		return nil
	}
}

// WithCollectionName uses a different collection name than "records".
func WithCollectionName(name string) Option {
	return func(s *RecordStore) error {
		if name == "" {
			return errors.New("missing collection name")
		}

		s.records = s.records.Database().Collection(name)

		return nil
	}
}

// record is the document stored for each record.
type record struct {
	ID        string         `bson:"id"`
	Type      string         `bson:"type"`
	Aggregate string         `bson:"aggregate"`
	Version   int            `bson:"version"`
	EventType mb.MessageType `bson:"event_type"`
	Data      []byte         `bson:"data,omitempty"`
	Timestamp time.Time      `bson:"timestamp"`
}

// Append implements the Append method of the messagebus.RecordStore interface.
func (s *RecordStore) Append(ctx context.Context, r mb.AggregateEventRecord) error {
	return s.save(ctx, mb.RecordStoreOpAppend, []mb.AggregateEventRecord{r}, r.Version-1)
}

// Save implements the Save method of the messagebus.RecordStore interface.
// The batch is written in a transaction, which needs a replica set.
func (s *RecordStore) Save(ctx context.Context, records []mb.AggregateEventRecord, originalVersion int) error {
	return s.save(ctx, mb.RecordStoreOpSave, records, originalVersion)
}

func (s *RecordStore) save(ctx context.Context, op mb.RecordStoreOperation, records []mb.AggregateEventRecord, originalVersion int) error {
	storeErr := func(err, baseErr error) error {
		e := &mb.RecordStoreError{
			Err:     err,
			BaseErr: baseErr,
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
		return storeErr(err, nil)
	}

	docs := make([]record, len(records))
	for i, r := range records {
		docs[i] = record{
			ID:        r.ID,
			Type:      r.Type,
			Aggregate: r.Aggregate,
			Version:   r.Version,
			EventType: r.EventType,
			Timestamp: r.Timestamp,
		}

		if r.Event != nil {
			var err error
			if docs[i].Data, err = s.codec.Marshal(ctx, r.Event); err != nil {
				return storeErr(ErrCouldNotEncodeEvent, err)
			}
		}
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return storeErr(ErrDatabase, fmt.Errorf("could not start transaction: %w", err))
	}

	defer sess.EndSession(ctx)

	// The version check rejects gaps and stale batches, the unique index
	// rejects concurrent writers. Either way nothing of the batch is kept.
	_, err = sess.WithTransaction(ctx, func(txCtx context.Context) (interface{}, error) {
		current, err := s.version(txCtx, records[0].ID, records[0].Type)
		if err != nil {
			return nil, err
		}

		if current != originalVersion {
			return nil, mb.ErrVersionConflict
		}

		if _, err := s.records.InsertMany(txCtx, docs); err != nil {
			return nil, err
		}

		return nil, nil
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, mb.ErrVersionConflict):
		return storeErr(mb.ErrVersionConflict, nil)
	case mongo.IsDuplicateKeyError(err):
		return storeErr(mb.ErrVersionConflict, err)
	default:
		return storeErr(ErrDatabase, err)
	}
}

// Load implements the Load method of the messagebus.RecordStore interface.
func (s *RecordStore) Load(ctx context.Context, id, idType string) ([]mb.AggregateEventRecord, error) {
	storeErr := func(err, baseErr error) error {
		return &mb.RecordStoreError{
			Err:     err,
			BaseErr: baseErr,
			Op:      mb.RecordStoreOpLoad,
			ID:      id,
			Type:    idType,
		}
	}

	cursor, err := s.records.Find(ctx,
		bson.M{"id": id, "type": idType},
		options.Find().SetSort(bson.D{{Key: "version", Value: 1}}),
	)
	if err != nil {
		return nil, storeErr(ErrDatabase, err)
	}

	var docs []record
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storeErr(ErrDatabase, err)
	}

	records := make([]mb.AggregateEventRecord, 0, len(docs))
	for _, doc := range docs {
		r := mb.AggregateEventRecord{
			ID:        doc.ID,
			Type:      doc.Type,
			Aggregate: doc.Aggregate,
			Version:   doc.Version,
			EventType: doc.EventType,
			Timestamp: doc.Timestamp,
		}

		if len(doc.Data) > 0 {
			if r.Event, _, err = s.codec.Unmarshal(ctx, doc.Data); err != nil {
				return nil, storeErr(ErrCouldNotDecodeEvent, err)
			}
		}

		records = append(records, r)
	}

	return records, nil
}

// Version implements the Version method of the messagebus.RecordStore interface.
func (s *RecordStore) Version(ctx context.Context, id, idType string) (int, error) {
	v, err := s.version(ctx, id, idType)
	if err != nil {
		return 0, &mb.RecordStoreError{
			Err:     ErrDatabase,
			BaseErr: err,
			Op:      mb.RecordStoreOpVersion,
			ID:      id,
			Type:    idType,
		}
	}

	return v, nil
}

func (s *RecordStore) version(ctx context.Context, id, idType string) (int, error) {
	var doc record

	err := s.records.FindOne(ctx,
		bson.M{"id": id, "type": idType},
		options.FindOne().
			SetSort(bson.D{{Key: "version", Value: -1}}).
			SetProjection(bson.M{"version": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}

	return doc.Version, nil
}

// Clear clears the record storage.
func (s *RecordStore) Clear(ctx context.Context) error {
	if err := s.records.Drop(ctx); err != nil {
		return fmt.Errorf("could not clear records collection: %w", err)
	}

	return nil
}

// Close closes the DB client if it was created by the store.
func (s *RecordStore) Close() error {
	if s.clientOwnership == externalClient {
		// Don't close a client we don't own.
		return nil
	}

	return s.client.Disconnect(context.Background())
}

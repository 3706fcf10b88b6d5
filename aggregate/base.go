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

package aggregate

import (
	"slices"
	"time"

	mb "github.com/looplab/messagebus"
)

// Base is an event sourced aggregate base to embed in a domain aggregate.
//
// A typical example:
//
//	type GuestList struct {
//	    *aggregate.Base
//
//	    guests map[string]bool
//	}
//
//	func NewGuestList(id string) *GuestList {
//	    return &GuestList{
//	        Base: aggregate.NewBase("GuestList", "GuestListID", id),
//	    }
//	}
//
// Command methods call RecordThat with the resulting event, the events are
// applied with ApplyEvent once they are saved by the Store:
//
//	func (g *GuestList) ApplyEvent(ctx context.Context, event mb.Message) error {
//	    switch e := event.(type) {
//	    case *GuestInvited:
//	        g.guests[e.Name] = true
//	    }
//
//	    return nil
//	}
type Base struct {
	id        string
	idType    string
	aggregate string
	v         int
	records   []mb.AggregateEventRecord
}

// NewBase creates an aggregate base.
func NewBase(aggregate, idType, id string) *Base {
	return &Base{
		id:        id,
		idType:    idType,
		aggregate: aggregate,
	}
}

// AggregateID implements the AggregateID method of the Aggregate interface.
func (b *Base) AggregateID() string {
	return b.id
}

// IDType implements the IDType method of the Aggregate interface.
func (b *Base) IDType() string {
	return b.idType
}

// AggregateType implements the AggregateType method of the Aggregate interface.
func (b *Base) AggregateType() string {
	return b.aggregate
}

// Version implements the Version method of the Aggregate interface.
func (b *Base) Version() int {
	return b.v
}

// IncrementVersion implements the IncrementVersion method of the Aggregate interface.
func (b *Base) IncrementVersion() {
	b.v++
}

// Records implements the Records method of the Aggregate interface.
func (b *Base) Records() []mb.AggregateEventRecord {
	return slices.Clone(b.records)
}

// ClearRecords implements the ClearRecords method of the Aggregate interface.
func (b *Base) ClearRecords() {
	b.records = nil
}

// RecordThat records an event with the next unused version of the stream.
func (b *Base) RecordThat(event mb.Message) mb.AggregateEventRecord {
	return b.RecordThatAt(event, time.Now())
}

// RecordThatAt is like RecordThat with a fixed timestamp.
func (b *Base) RecordThatAt(event mb.Message, timestamp time.Time) mb.AggregateEventRecord {
	r := mb.NewAggregateEventRecord(b.id, b.idType, b.aggregate, b.v+len(b.records)+1, event)
	r.Timestamp = timestamp
	b.records = append(b.records, r)

	return r
}

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

package mocks

import (
	"fmt"
	"reflect"

	mb "github.com/looplab/messagebus"
)

// CompareRecords compares two records, ignoring their timestamp.
func CompareRecords(r1, r2 mb.AggregateEventRecord) error {
	if r1.ID != r2.ID {
		return fmt.Errorf("incorrect aggregate ID: %s (should be %s)", r1.ID, r2.ID)
	}

	if r1.Type != r2.Type {
		return fmt.Errorf("incorrect identity type: %s (should be %s)", r1.Type, r2.Type)
	}

	if r1.Aggregate != r2.Aggregate {
		return fmt.Errorf("incorrect aggregate type: %s (should be %s)", r1.Aggregate, r2.Aggregate)
	}

	if r1.Version != r2.Version {
		return fmt.Errorf("incorrect version: %d (should be %d)", r1.Version, r2.Version)
	}

	if r1.EventType != r2.EventType {
		return fmt.Errorf("incorrect event type: %s (should be %s)", r1.EventType, r2.EventType)
	}

	if !reflect.DeepEqual(r1.Event, r2.Event) {
		return fmt.Errorf("incorrect event: %v (should be %v)", r1.Event, r2.Event)
	}

	return nil
}

// EqualRecords compares two slices of records, ignoring their timestamps.
func EqualRecords(records1, records2 []mb.AggregateEventRecord) bool {
	if len(records1) != len(records2) {
		return false
	}

	for i, r1 := range records1 {
		if CompareRecords(r1, records2[i]) != nil {
			return false
		}
	}

	return true
}

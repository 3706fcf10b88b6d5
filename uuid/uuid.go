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

// Package uuid holds the identifier type used for packages and trace IDs.
package uuid

import (
	"github.com/google/uuid"
)

// UUID is an alias type for github.com/google/uuid.UUID.
type UUID = uuid.UUID

// Nil is an empty UUID.
var Nil = UUID(uuid.Nil)

// New creates a new UUID.
func New() UUID {
	return UUID(uuid.New())
}

// Parse parses a UUID from a string, or returns an error.
func Parse(s string) (UUID, error) {
	id, err := uuid.Parse(s)

	return UUID(id), err
}

// MustParse parses a UUID from a string, or panics.
func MustParse(s string) UUID {
	return UUID(uuid.MustParse(s))
}

// ParseOrNew parses a UUID from a string. Empty or malformed strings, as
// found in headers of packages published by foreign producers, yield a fresh
// UUID instead.
func ParseOrNew(s string) UUID {
	if s == "" {
		return New()
	}

	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return New()
	}

	return id
}

// FromHeaders reads the UUID under a key, or creates one if it is missing or
// malformed.
func FromHeaders(headers map[string]string, key string) UUID {
	return ParseOrNew(headers[key])
}

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
	"testing"

	"github.com/looplab/messagebus/uuid"
)

func TestContextTraceID(t *testing.T) {
	ctx := context.Background()

	if _, ok := TraceIDFromContext(ctx); ok {
		t.Error("there should be no trace ID")
	}

	traceID := uuid.New()
	ctx = NewContextWithTraceID(ctx, traceID)

	if id, ok := TraceIDFromContext(ctx); !ok || id != traceID {
		t.Error("the trace ID should be correct:", id)
	}

	if _, ok := PackageIDFromContext(ctx); ok {
		t.Error("there should be no package ID")
	}
}

type contextTestPackage struct {
	Package

	id, traceID uuid.UUID
}

func (p contextTestPackage) ID() uuid.UUID      { return p.id }
func (p contextTestPackage) TraceID() uuid.UUID { return p.traceID }

func TestNewContextWithPackage(t *testing.T) {
	pkg := contextTestPackage{id: uuid.New(), traceID: uuid.New()}
	ctx := NewContextWithPackage(context.Background(), pkg)

	if id, ok := PackageIDFromContext(ctx); !ok || id != pkg.id {
		t.Error("the package ID should be correct:", id)
	}

	if id, ok := TraceIDFromContext(ctx); !ok || id != pkg.traceID {
		t.Error("the trace ID should be correct:", id)
	}
}

func TestMarshalContext_TraceID(t *testing.T) {
	vals := MarshalContext(context.Background())
	if _, ok := vals[traceIDKeyStr]; ok {
		t.Error("the marshaled values should be empty:", vals)
	}

	traceID := uuid.New()
	vals = MarshalContext(NewContextWithTraceID(context.Background(), traceID))

	if val, ok := vals[traceIDKeyStr]; !ok || val != traceID.String() {
		t.Error("the marshaled trace ID should be correct:", val)
	}

	ctx := UnmarshalContext(context.Background(), vals)
	if id, ok := TraceIDFromContext(ctx); !ok || id != traceID {
		t.Error("the unmarshaled trace ID should be correct:", id)
	}

	// Malformed IDs are ignored.
	ctx = UnmarshalContext(context.Background(), map[string]interface{}{
		traceIDKeyStr: "not-a-uuid",
	})
	if _, ok := TraceIDFromContext(ctx); ok {
		t.Error("there should be no trace ID")
	}

	if ctx := UnmarshalContext(context.Background(), nil); ctx != context.Background() {
		t.Error("the context should be unchanged")
	}
}

type contextTestKey int

const (
	contextTestKeyOne    contextTestKey = iota
	contextTestKeyOneStr                = "context_test_one"
)

func TestRegisterContextMarshaler(t *testing.T) {
	RegisterContextMarshaler(func(ctx context.Context, vals map[string]interface{}) {
		if val, ok := ctx.Value(contextTestKeyOne).(string); ok {
			vals[contextTestKeyOneStr] = val
		}
	})
	RegisterContextUnmarshaler(func(ctx context.Context, vals map[string]interface{}) context.Context {
		if val, ok := vals[contextTestKeyOneStr].(string); ok {
			return context.WithValue(ctx, contextTestKeyOne, val)
		}

		return ctx
	})

	traceID := uuid.New()
	ctx := NewContextWithTraceID(context.Background(), traceID)
	ctx = context.WithValue(ctx, contextTestKeyOne, "testval")

	vals := MarshalContext(ctx)
	if len(vals) != 2 {
		t.Error("there should be two marshaled values:", vals)
	}

	ctx = UnmarshalContext(context.Background(), vals)
	if val, ok := ctx.Value(contextTestKeyOne).(string); !ok || val != "testval" {
		t.Error("the unmarshaled value should be correct:", val)
	}

	if id, ok := TraceIDFromContext(ctx); !ok || id != traceID {
		t.Error("the unmarshaled trace ID should be correct:", id)
	}
}

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
	"sync"

	"github.com/looplab/messagebus/uuid"
)

func init() {
	// Register the trace ID so that it follows messages published while
	// handling a package.
	RegisterContextMarshaler(func(ctx context.Context, vals map[string]interface{}) {
		if id, ok := ctx.Value(traceIDKey).(uuid.UUID); ok {
			vals[traceIDKeyStr] = id.String()
		}
	})
	RegisterContextUnmarshaler(func(ctx context.Context, vals map[string]interface{}) context.Context {
		if s, ok := vals[traceIDKeyStr].(string); ok {
			if id, err := uuid.Parse(s); err == nil {
				return context.WithValue(ctx, traceIDKey, id)
			}
		}

		return ctx
	})
}

type contextKey int

// Context keys for the package being handled.
const (
	packageIDKey contextKey = iota
	traceIDKey
)

// Strings used to marshal context values.
const (
	traceIDKeyStr = "mb_trace_id"
)

// NewContextWithPackage returns the context with the package and trace IDs set.
func NewContextWithPackage(ctx context.Context, pkg Package) context.Context {
	ctx = context.WithValue(ctx, packageIDKey, pkg.ID())

	return context.WithValue(ctx, traceIDKey, pkg.TraceID())
}

// NewContextWithTraceID returns the context with the trace ID set.
func NewContextWithTraceID(ctx context.Context, traceID uuid.UUID) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// PackageIDFromContext returns the ID of the package being handled.
func PackageIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(packageIDKey).(uuid.UUID)

	return id, ok
}

// TraceIDFromContext returns the trace ID of the package being handled.
func TraceIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(traceIDKey).(uuid.UUID)

	return id, ok
}

// Private context marshaling funcs.
var (
	contextMarshalFuncs   = []ContextMarshalFunc{}
	contextMarshalFuncsMu = sync.RWMutex{}

	contextUnmarshalFuncs   = []ContextUnmarshalFunc{}
	contextUnmarshalFuncsMu = sync.RWMutex{}
)

// ContextMarshalFunc is a function that marshalls any context values to a map,
// used for sending context on the wire.
type ContextMarshalFunc func(context.Context, map[string]interface{})

// RegisterContextMarshaler registers a marshaler function used by MarshalContext.
func RegisterContextMarshaler(f ContextMarshalFunc) {
	contextMarshalFuncsMu.Lock()
	defer contextMarshalFuncsMu.Unlock()

	contextMarshalFuncs = append(contextMarshalFuncs, f)
}

// MarshalContext marshals a context into a map.
func MarshalContext(ctx context.Context) map[string]interface{} {
	contextMarshalFuncsMu.RLock()
	defer contextMarshalFuncsMu.RUnlock()

	allVals := map[string]interface{}{}

	for _, f := range contextMarshalFuncs {
		vals := map[string]interface{}{}
		f(ctx, vals)

		for key, val := range vals {
			if _, ok := allVals[key]; ok {
				panic("duplicate context entry for: " + key)
			}

			allVals[key] = val
		}
	}

	return allVals
}

// ContextUnmarshalFunc is a function that unmarshalls context values from a
// map, used when receiving context from the wire.
type ContextUnmarshalFunc func(context.Context, map[string]interface{}) context.Context

// RegisterContextUnmarshaler registers a unmarshaler function used by UnmarshalContext.
func RegisterContextUnmarshaler(f ContextUnmarshalFunc) {
	contextUnmarshalFuncsMu.Lock()
	defer contextUnmarshalFuncsMu.Unlock()

	contextUnmarshalFuncs = append(contextUnmarshalFuncs, f)
}

// UnmarshalContext unmarshals context values from a map onto a context.
func UnmarshalContext(ctx context.Context, vals map[string]interface{}) context.Context {
	contextUnmarshalFuncsMu.RLock()
	defer contextUnmarshalFuncsMu.RUnlock()

	if vals == nil {
		return ctx
	}

	for _, f := range contextUnmarshalFuncs {
		ctx = f(ctx, vals)
	}

	return ctx
}

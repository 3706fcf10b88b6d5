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

// Package tracing adds opentracing spans to package processing, record stores
// and publishers, and propagates the spans with the message context.
package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	mb "github.com/looplab/messagebus"
)

// The string keys to marshal the context.
const (
	tracingSpanKeyStr = "mb_tracing_span"
)

// RegisterContext registers the tracing span to be marshaled/unmarshaled on the
// context. This enables propagation of the tracing spans through published
// messages for backends that supports it (like Jaeger).
func RegisterContext() {
	mb.RegisterContextMarshaler(func(ctx context.Context, vals map[string]interface{}) {
		if span := opentracing.SpanFromContext(ctx); span != nil {
			tracer := opentracing.GlobalTracer()

			carrier := opentracing.TextMapCarrier{}
			if err := tracer.Inject(span.Context(), opentracing.TextMap, carrier); err != nil {
				slog.Warn("could not inject tracing span", slog.String("error", err.Error()))

				return
			}

			js, err := json.Marshal(carrier)
			if err != nil {
				slog.Warn("could not marshal tracing span", slog.String("error", err.Error()))

				return
			}

			vals[tracingSpanKeyStr] = string(js)
		}
	})
	mb.RegisterContextUnmarshaler(func(ctx context.Context, vals map[string]interface{}) context.Context {
		if js, ok := vals[tracingSpanKeyStr].(string); ok {
			tracer := opentracing.GlobalTracer()

			carrier := opentracing.TextMapCarrier{}
			if err := json.Unmarshal([]byte(js), &carrier); err != nil {
				slog.Warn("could not unmarshal tracing span", slog.String("error", err.Error()))

				return ctx
			}

			parentSpanContext, err := tracer.Extract(opentracing.TextMap, carrier)
			if err != nil && !errors.Is(err, opentracing.ErrSpanContextNotFound) {
				slog.Warn("could not extract tracing span", slog.String("error", err.Error()))

				return ctx
			}

			span := tracer.StartSpan("message", ext.RPCServerOption(parentSpanContext))
			ctx = opentracing.ContextWithSpan(ctx, span)
		}

		return ctx
	})
}

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

package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/eventstore"
	"github.com/looplab/messagebus/eventstore/memory"
	"github.com/looplab/messagebus/mocks"
)

var tracer = mocktracer.New()

func init() {
	opentracing.SetGlobalTracer(tracer)
	RegisterContext()
}

func TestProcessorMiddleware(t *testing.T) {
	tracer.Reset()

	handleErr := errors.New("handle error")
	inner := &mocks.Processor{
		HandleFunc: func(ctx context.Context, pkg mb.Package) error {
			if opentracing.SpanFromContext(ctx) == nil {
				t.Error("there should be a span in the context")
			}

			return handleErr
		},
	}

	p := mb.UseProcessorMiddleware(inner, NewProcessorMiddleware())

	pkg := mocks.NewPackage([]byte("payload"))
	pkg.Meta[mb.MessageTypeHeader] = "Command"

	if err := p.Handle(context.Background(), pkg); !errors.Is(err, handleErr) {
		t.Error("the error should be returned:", err)
	}

	spans := tracer.FinishedSpans()
	if len(spans) != 1 {
		t.Fatal("there should be one span:", len(spans))
	}

	assert.Equal(t, "Processor.Handle(Command)", spans[0].OperationName)
	assert.Equal(t, pkg.PackageID.String(), spans[0].Tag("mb.package_id"))
	assert.Equal(t, pkg.Trace.String(), spans[0].Tag("mb.trace_id"))
	assert.Equal(t, true, spans[0].Tag("error"))
}

func TestRecordStore(t *testing.T) {
	tracer.Reset()

	store := NewRecordStore(memory.NewRecordStore())
	eventstore.AcceptanceTest(t, store, context.Background())

	var appends, saves, conflicts int
	for _, sp := range tracer.FinishedSpans() {
		switch sp.OperationName {
		case "RecordStore.Append":
			appends++
		case "RecordStore.Save":
			saves++
		default:
			continue
		}

		if sp.Tag("mb.conflict") == true {
			conflicts++
		}
	}

	assert.NotZero(t, appends)
	assert.NotZero(t, saves)
	assert.NotZero(t, conflicts)
}

func TestPublisher(t *testing.T) {
	tracer.Reset()

	inner := &mocks.Publisher{}
	p := NewPublisher(inner)

	if err := p.Publish(context.Background(), mb.NewQueue("events"), &mocks.Event{Content: "event"}); err != nil {
		t.Error("there should be no error:", err)
	}

	assert.Len(t, inner.Messages(), 1)

	spans := tracer.FinishedSpans()
	if len(spans) != 1 {
		t.Fatal("there should be one span:", len(spans))
	}

	assert.Equal(t, "Publisher.Publish(Event)", spans[0].OperationName)
	assert.Equal(t, "events", spans[0].Tag("mb.queue"))
}

func TestContextPropagation(t *testing.T) {
	tracer.Reset()

	sp, ctx := opentracing.StartSpanFromContext(context.Background(), "parent")
	defer sp.Finish()

	vals := mb.MarshalContext(ctx)
	if _, ok := vals[tracingSpanKeyStr]; !ok {
		t.Fatal("the span should be marshaled:", vals)
	}

	received := mb.UnmarshalContext(context.Background(), vals)

	child := opentracing.SpanFromContext(received)
	if child == nil {
		t.Fatal("there should be a span in the unmarshaled context")
	}

	parentCtx := sp.Context().(mocktracer.MockSpanContext)
	childCtx := child.Context().(mocktracer.MockSpanContext)
	assert.Equal(t, parentCtx.TraceID, childCtx.TraceID)
}

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

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/kr/pretty"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/codec/json"
	"github.com/looplab/messagebus/mocks"
	"github.com/looplab/messagebus/uuid"
)

// Transporter is both ends of a transport.
type Transporter interface {
	mb.Transport
	mb.Publisher
}

// AcceptanceTest is the acceptance test that all implementations of Transport
// should pass. It should manually be called from a test case in each
// implementation:
//
//	func TestTransport(t *testing.T) {
//	    tr := NewTransport()
//	    transport.AcceptanceTest(t, tr, mb.NewQueue("test_"+uuid.New().String()), time.Second)
//	}
func AcceptanceTest(t *testing.T, tr Transporter, queue mb.Queue, timeout time.Duration) {
	t.Helper()

	traceID := uuid.New()
	ctx := mb.NewContextWithTraceID(context.Background(), traceID)

	event1 := &mocks.Event{ID: "1", Content: "event1"}
	event2 := &mocks.Event{ID: "2", Content: "event2"}

	if err := tr.Publish(ctx, queue, event1); err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := tr.Publish(context.Background(), queue, event2); err != nil {
		t.Fatal("there should be no error:", err)
	}

	received := make(chan mb.Package, 10)
	consumeErr := make(chan error, 1)

	go func() {
		consumeErr <- tr.Consume(context.Background(), []mb.Queue{queue}, func(ctx context.Context, pkg mb.Package) {
			if err := pkg.Ack(ctx); err != nil {
				t.Error("there should be no error:", err)
			}
			received <- pkg
		})
	}()

	var pkgs []mb.Package
	for len(pkgs) < 2 {
		select {
		case pkg := <-received:
			pkgs = append(pkgs, pkg)
		case err := <-consumeErr:
			t.Fatal("consume should not return:", err)
		case <-time.After(timeout):
			t.Fatal("did not receive packages in time")
		}
	}

	codec := &json.Codec{}
	for i, expected := range []*mocks.Event{event1, event2} {
		pkg := pkgs[i]

		msg, _, err := codec.Unmarshal(context.Background(), pkg.Payload())
		if err != nil {
			t.Fatal("there should be no error:", err)
		}

		if !assertEqualMessage(expected, msg) {
			t.Error("the message should be correct:")
			t.Log(pretty.Diff(expected, msg))
		}

		if pkg.ID() == uuid.Nil || pkg.TraceID() == uuid.Nil {
			t.Error("the package should have IDs:", pkg.ID(), pkg.TraceID())
		}

		if pkg.Headers()[mb.MessageTypeHeader] != mocks.EventType.String() {
			t.Error("the message type header should be set:", pkg.Headers())
		}
	}

	if pkgs[0].TraceID() != traceID {
		t.Error("the trace ID should be propagated:", pkgs[0].TraceID(), traceID)
	}

	if pkgs[0].ID() == pkgs[1].ID() {
		t.Error("the package IDs should be unique")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := tr.Stop(stopCtx); err != nil {
		t.Error("there should be no error:", err)
	}

	select {
	case err := <-consumeErr:
		if err != nil {
			t.Error("there should be no error:", err)
		}
	case <-time.After(timeout):
		t.Error("consume should return after stop")
	}
}

func assertEqualMessage(expected *mocks.Event, msg mb.Message) bool {
	e, ok := msg.(*mocks.Event)

	return ok && *e == *expected
}

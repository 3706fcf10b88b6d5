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

// Package codec holds the acceptance test shared by the message codecs.
package codec

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/kr/pretty"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/uuid"
)

func init() {
	mb.RegisterMessage(func() mb.Message { return &Message{} })
}

// MessageType is the type for Message.
const MessageType mb.MessageType = "CodecMessage"

// AcceptanceTest is the acceptance test that all implementations of Codec
// should pass. It should manually be called from a test case in each
// implementation:
//
//	func TestCodec(t *testing.T) {
//	    c := &Codec{}
//	    expectedBytes := []byte("")
//	    codec.AcceptanceTest(t, c, expectedBytes)
//	}
//
// A nil expectedBytes skips the comparison of the encoded bytes.
func AcceptanceTest(t *testing.T, c mb.Codec, expectedBytes []byte) {
	// Marshaling.
	traceID := uuid.MustParse("10a7ec0f-7f2b-46f5-bca1-877b6e33c9fd")
	ctx := mb.NewContextWithTraceID(context.Background(), traceID)
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	msg := &Message{
		Bool:    true,
		String:  "string",
		Number:  42.0,
		Slice:   []string{"a", "b"},
		Map:     map[string]interface{}{"key": "value"}, // NOTE: Just one key to avoid compare issues.
		Time:    timestamp,
		TimeRef: &timestamp,
		Struct: Nested{
			Bool:   true,
			String: "string",
			Number: 42.0,
		},
		StructRef: &Nested{
			Bool:   true,
			String: "string",
			Number: 42.0,
		},
	}

	b, err := c.Marshal(ctx, msg)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if expectedBytes != nil && string(b) != string(expectedBytes) {
		t.Error("the encoded bytes should be correct:", string(b))
	}

	// Unmarshaling.
	decoded, decodedContext, err := c.Unmarshal(context.Background(), b)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if !reflect.DeepEqual(decoded, msg) {
		t.Error("the decoded message was incorrect:")
		t.Log(pretty.Diff(decoded, msg))
	}

	if id, ok := mb.TraceIDFromContext(decodedContext); !ok || id != traceID {
		t.Error("the decoded context was incorrect:", decodedContext)
	}

	// Unregistered messages can be sent but not received.
	b, err = c.Marshal(ctx, &unregistered{})
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if _, _, err := c.Unmarshal(context.Background(), b); !errors.Is(err, mb.ErrMessageNotRegistered) {
		t.Error("there should be a not registered error:", err)
	}

	// Garbage.
	if _, _, err := c.Unmarshal(context.Background(), []byte("garbage")); err == nil {
		t.Error("there should be an error for an invalid payload")
	}
}

// Message is a mocked message with all kinds of fields, useful in testing.
type Message struct {
	Bool       bool
	String     string
	Number     float64
	Slice      []string
	Map        map[string]interface{}
	Time       time.Time
	TimeRef    *time.Time
	NullTime   *time.Time
	Struct     Nested
	StructRef  *Nested
	NullStruct *Nested
}

// MessageType implements the MessageType method of the messagebus.Message interface.
func (m *Message) MessageType() mb.MessageType { return MessageType }

// Nested is nested message data.
type Nested struct {
	Bool   bool
	String string
	Number float64
}

type unregistered struct{}

func (u *unregistered) MessageType() mb.MessageType { return "CodecUnregistered" }

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

// Package json is a codec for messages in JSON format.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	mb "github.com/looplab/messagebus"
)

// ErrInvalidPayload is when the payload is not a JSON message envelope.
var ErrInvalidPayload = errors.New("invalid payload")

// Envelope field names.
const (
	messageTypeField = "message_type"
	dataField        = "data"
	contextField     = "context"
)

// Codec is a codec for marshaling and unmarshaling messages to and from bytes
// in JSON format. Messages must be registered with messagebus.RegisterMessage
// with a factory returning a pointer.
type Codec struct{}

var _ = mb.Codec(&Codec{})

// Marshal implements the Marshal method of the messagebus.Codec interface.
func (c *Codec) Marshal(ctx context.Context, msg mb.Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("missing message")
	}

	m := message{
		MessageType: msg.MessageType(),
		Context:     mb.MarshalContext(ctx),
	}

	var err error
	if m.Data, err = json.Marshal(msg); err != nil {
		return nil, fmt.Errorf("could not marshal message data: %w", err)
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("could not marshal message: %w", err)
	}

	return b, nil
}

// Unmarshal implements the Unmarshal method of the messagebus.Codec interface.
func (c *Codec) Unmarshal(ctx context.Context, b []byte) (mb.Message, context.Context, error) {
	if !gjson.ValidBytes(b) {
		return nil, ctx, fmt.Errorf("could not unmarshal message: %w", ErrInvalidPayload)
	}

	res := gjson.GetManyBytes(b, messageTypeField, dataField, contextField)

	messageType := mb.MessageType(res[0].String())
	if messageType == "" {
		return nil, ctx, fmt.Errorf("could not unmarshal message: %w: missing %s", ErrInvalidPayload, messageTypeField)
	}

	msg, err := mb.CreateMessage(messageType)
	if err != nil {
		return nil, ctx, fmt.Errorf("could not create message %q: %w", messageType, err)
	}

	if res[1].Exists() {
		if err := json.Unmarshal([]byte(res[1].Raw), msg); err != nil {
			return nil, ctx, fmt.Errorf("could not unmarshal message data: %w", err)
		}
	}

	if vals, ok := res[2].Value().(map[string]interface{}); ok {
		ctx = mb.UnmarshalContext(ctx, vals)
	}

	return msg, ctx, nil
}

// MessageType returns the type of an encoded message without decoding it.
func MessageType(b []byte) (mb.MessageType, bool) {
	res := gjson.GetBytes(b, messageTypeField)
	if !res.Exists() || res.String() == "" {
		return "", false
	}

	return mb.MessageType(res.String()), true
}

// message is the internal structure used on the wire only.
type message struct {
	MessageType mb.MessageType         `json:"message_type"`
	Data        json.RawMessage        `json:"data"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

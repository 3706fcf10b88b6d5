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

// Package bson is a codec for messages in BSON format.
package bson

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	mb "github.com/looplab/messagebus"
)

// Codec is a codec for marshaling and unmarshaling messages to and from bytes
// in BSON format. Messages must be registered with messagebus.RegisterMessage
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
	if m.RawData, err = bson.Marshal(msg); err != nil {
		return nil, fmt.Errorf("could not marshal message data: %w", err)
	}

	b, err := bson.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("could not marshal message: %w", err)
	}

	return b, nil
}

// Unmarshal implements the Unmarshal method of the messagebus.Codec interface.
func (c *Codec) Unmarshal(ctx context.Context, b []byte) (mb.Message, context.Context, error) {
	var m message
	if err := bson.Unmarshal(b, &m); err != nil {
		return nil, ctx, fmt.Errorf("could not unmarshal message: %w", err)
	}

	msg, err := mb.CreateMessage(m.MessageType)
	if err != nil {
		return nil, ctx, fmt.Errorf("could not create message %q: %w", m.MessageType, err)
	}

	if len(m.RawData) > 0 {
		if err := bson.Unmarshal(m.RawData, msg); err != nil {
			return nil, ctx, fmt.Errorf("could not unmarshal message data: %w", err)
		}
	}

	return msg, mb.UnmarshalContext(ctx, m.Context), nil
}

// message is the internal structure used on the wire only.
type message struct {
	MessageType mb.MessageType         `bson:"message_type"`
	RawData     bson.Raw               `bson:"data,omitempty"`
	Context     map[string]interface{} `bson:"context"`
}

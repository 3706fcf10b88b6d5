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

// Package transport holds the building blocks shared by the broker transports:
// a package implementation with settle-once ack and nack, and the headers
// carried by outgoing messages.
package transport

import (
	"context"
	"errors"
	"sync/atomic"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/uuid"
)

// ErrAlreadySettled is when a package is acked or nacked more than once.
var ErrAlreadySettled = errors.New("package already settled")

// SettleFunc acks or nacks a package with the broker.
type SettleFunc func(context.Context) error

// Package is a received package. The IDs are read from the message_id and
// trace_id headers, and generated when missing or invalid.
type Package struct {
	id      uuid.UUID
	traceID uuid.UUID
	payload []byte
	headers map[string]string

	ack     SettleFunc
	nack    SettleFunc
	settled atomic.Bool
}

var _ = mb.Package(&Package{})

// NewPackage creates a Package. A nil ack or nack is a no-op.
func NewPackage(payload []byte, headers map[string]string, ack, nack SettleFunc) *Package {
	if headers == nil {
		headers = map[string]string{}
	}

	return &Package{
		id:      uuid.FromHeaders(headers, mb.MessageIDHeader),
		traceID: uuid.FromHeaders(headers, mb.TraceIDHeader),
		payload: payload,
		headers: headers,
		ack:     ack,
		nack:    nack,
	}
}

// ID implements the ID method of the messagebus.Package interface.
func (p *Package) ID() uuid.UUID { return p.id }

// TraceID implements the TraceID method of the messagebus.Package interface.
func (p *Package) TraceID() uuid.UUID { return p.traceID }

// Payload implements the Payload method of the messagebus.Package interface.
func (p *Package) Payload() []byte { return p.payload }

// Headers implements the Headers method of the messagebus.Package interface.
func (p *Package) Headers() map[string]string { return p.headers }

// Ack implements the Ack method of the messagebus.Package interface.
func (p *Package) Ack(ctx context.Context) error {
	return p.settle(ctx, p.ack)
}

// Nack implements the Nack method of the messagebus.Package interface.
func (p *Package) Nack(ctx context.Context) error {
	return p.settle(ctx, p.nack)
}

func (p *Package) settle(ctx context.Context, f SettleFunc) error {
	if !p.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}

	if f == nil {
		return nil
	}

	return f(ctx)
}

// Headers returns the headers of an outgoing message: a new message ID, the
// trace ID of the package being handled (or a new one) and the message type.
func Headers(ctx context.Context, msg mb.Message) map[string]string {
	traceID, ok := mb.TraceIDFromContext(ctx)
	if !ok || traceID == uuid.Nil {
		traceID = uuid.New()
	}

	return map[string]string{
		mb.MessageIDHeader:   uuid.New().String(),
		mb.TraceIDHeader:     traceID.String(),
		mb.MessageTypeHeader: msg.MessageType().String(),
	}
}

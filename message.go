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
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/messagebus/uuid"
)

// Message is a command or an event carried inside a package.
//
// A command name should be in present tense and contain the intent
// (InviteGuest), an event name should be in past tense (GuestInvited).
type Message interface {
	// MessageType returns the type of the message.
	MessageType() MessageType
}

// MessageType is the type of a message, used as its unique identifier.
type MessageType string

// String returns the string representation of a message type.
func (mt MessageType) String() string {
	return string(mt)
}

// ErrMessageNotRegistered is when no message factory was registered.
var ErrMessageNotRegistered = errors.New("message not registered")

var (
	messages   = make(map[MessageType]func() Message)
	messagesMu sync.RWMutex
)

// RegisterMessage registers a message factory for a type. The factory is used
// to create concrete message types when decoding packages.
//
// An example would be:
//
//	RegisterMessage(func() Message { return &InviteGuest{} })
func RegisterMessage(factory func() Message) {
	// Check that the created message matches the type registered.
	msg := factory()
	if msg == nil {
		panic("messagebus: created message is nil")
	}

	messageType := msg.MessageType()
	if messageType == MessageType("") {
		panic("messagebus: attempt to register empty message type")
	}

	messagesMu.Lock()
	defer messagesMu.Unlock()

	if _, ok := messages[messageType]; ok {
		panic(fmt.Sprintf("messagebus: registering duplicate types for %q", messageType))
	}

	messages[messageType] = factory
}

// UnregisterMessage removes the registration of the message factory for a
// type. This is mainly useful in tests and maintenance situations.
func UnregisterMessage(messageType MessageType) {
	if messageType == MessageType("") {
		panic("messagebus: attempt to unregister empty message type")
	}

	messagesMu.Lock()
	defer messagesMu.Unlock()

	if _, ok := messages[messageType]; !ok {
		panic(fmt.Sprintf("messagebus: unregister of non-registered type %q", messageType))
	}

	delete(messages, messageType)
}

// CreateMessage creates a message of a type using the factory registered with
// RegisterMessage.
func CreateMessage(messageType MessageType) (Message, error) {
	messagesMu.RLock()
	defer messagesMu.RUnlock()

	if factory, ok := messages[messageType]; ok {
		return factory(), nil
	}

	return nil, ErrMessageNotRegistered
}

// ValidationFailedEvent is the capability of an event that can be emitted
// automatically when a message fails validation.
type ValidationFailedEvent interface {
	Message

	// WithViolations returns the event populated with the violations of the
	// message that failed validation.
	WithViolations(traceID uuid.UUID, violations Violations) ValidationFailedEvent
}

// ExecutionFailedEvent is the capability of an event that can be emitted
// automatically when a handler fails.
type ExecutionFailedEvent interface {
	Message

	// WithFailure returns the event populated with a human readable reason.
	WithFailure(traceID uuid.UUID, reason string) ExecutionFailedEvent
}

// Publisher sends messages to a queue of a transport.
type Publisher interface {
	// Publish encodes and sends a message to a queue.
	Publish(ctx context.Context, queue Queue, msg Message) error
}

// PublisherFunc is a function that can be used as a publisher.
type PublisherFunc func(context.Context, Queue, Message) error

// Publish implements the Publish method of the Publisher.
func (f PublisherFunc) Publish(ctx context.Context, queue Queue, msg Message) error {
	return f(ctx, queue, msg)
}

// Codec is a codec for marshaling and unmarshaling messages to and from bytes.
type Codec interface {
	// Marshal marshals a message and the context into bytes.
	Marshal(context.Context, Message) ([]byte, error)
	// Unmarshal unmarshals a message from bytes, and returns the context
	// carried with it.
	Unmarshal(context.Context, []byte) (Message, context.Context, error)
}

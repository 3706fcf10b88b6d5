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
	"slices"
)

// HandlerKind is the routing class of a handler.
type HandlerKind int

const (
	// EventListener handlers receive events, any number may listen to a type.
	EventListener HandlerKind = iota + 1
	// CommandHandler handlers receive commands, exactly one per type.
	CommandHandler
)

// String returns the string representation of a handler kind.
func (k HandlerKind) String() string {
	switch k {
	case EventListener:
		return "event listener"
	case CommandHandler:
		return "command handler"
	default:
		return "unknown"
	}
}

// HandlerPolicy describes how a handler must be invoked and how its failures
// are translated into events. It is created once when the handler is
// registered and never changes afterwards; all the With/Enable methods return
// a new policy and leave the receiver untouched.
type HandlerPolicy struct {
	kind                  HandlerKind
	validationEnabled     bool
	validationGroups      []string
	validationFailedEvent MessageType
	throwableEvent        MessageType
}

// NewEventListenerPolicy creates a policy for an event listener, with
// validation disabled and no automatically emitted failure events.
func NewEventListenerPolicy() HandlerPolicy {
	return HandlerPolicy{kind: EventListener}
}

// NewCommandHandlerPolicy creates a policy for a command handler, with
// validation disabled and no automatically emitted failure events.
func NewCommandHandlerPolicy() HandlerPolicy {
	return HandlerPolicy{kind: CommandHandler}
}

// Kind returns the routing class.
func (p HandlerPolicy) Kind() HandlerKind {
	return p.kind
}

// IsEventListener reports whether the handler is an event listener.
func (p HandlerPolicy) IsEventListener() bool {
	return p.kind == EventListener
}

// IsCommandHandler reports whether the handler is a command handler.
func (p HandlerPolicy) IsCommandHandler() bool {
	return p.kind == CommandHandler
}

// ValidationEnabled reports whether messages are validated before invocation.
func (p HandlerPolicy) ValidationEnabled() bool {
	return p.validationEnabled
}

// ValidationGroups returns the selected validation rule groups. An empty
// selection means all default rules.
func (p HandlerPolicy) ValidationGroups() []string {
	return slices.Clone(p.validationGroups)
}

// DefaultValidationFailedEvent returns the event type emitted when validation
// fails, if any.
func (p HandlerPolicy) DefaultValidationFailedEvent() (MessageType, bool) {
	return p.validationFailedEvent, p.validationFailedEvent != ""
}

// DefaultThrowableEvent returns the event type emitted when the handler
// fails, if any.
func (p HandlerPolicy) DefaultThrowableEvent() (MessageType, bool) {
	return p.throwableEvent, p.throwableEvent != ""
}

// EnableValidation returns a policy with validation turned on for the groups.
// Duplicate groups are dropped, the order of first appearance is kept.
func (p HandlerPolicy) EnableValidation(groups ...string) HandlerPolicy {
	n := p.clone()
	n.validationEnabled = true
	n.validationGroups = nil

	for _, g := range groups {
		if !slices.Contains(n.validationGroups, g) {
			n.validationGroups = append(n.validationGroups, g)
		}
	}

	return n
}

// WithDefaultValidationFailedEvent returns a policy that emits an event of the
// type when validation fails. The type must be registered with
// RegisterMessage and implement ValidationFailedEvent, otherwise an
// InvalidEventTypeError is returned.
func (p HandlerPolicy) WithDefaultValidationFailedEvent(eventType MessageType) (HandlerPolicy, error) {
	msg, err := CreateMessage(eventType)
	if err != nil {
		return p, &InvalidEventTypeError{Err: err, EventType: eventType, Capability: "ValidationFailedEvent"}
	}

	if _, ok := msg.(ValidationFailedEvent); !ok {
		return p, &InvalidEventTypeError{EventType: eventType, Capability: "ValidationFailedEvent"}
	}

	n := p.clone()
	n.validationFailedEvent = eventType

	return n, nil
}

// WithDefaultThrowableEvent returns a policy that emits an event of the type
// when the handler fails. The type must be registered with RegisterMessage and
// implement ExecutionFailedEvent, otherwise an InvalidEventTypeError is
// returned.
func (p HandlerPolicy) WithDefaultThrowableEvent(eventType MessageType) (HandlerPolicy, error) {
	msg, err := CreateMessage(eventType)
	if err != nil {
		return p, &InvalidEventTypeError{Err: err, EventType: eventType, Capability: "ExecutionFailedEvent"}
	}

	if _, ok := msg.(ExecutionFailedEvent); !ok {
		return p, &InvalidEventTypeError{EventType: eventType, Capability: "ExecutionFailedEvent"}
	}

	n := p.clone()
	n.throwableEvent = eventType

	return n, nil
}

func (p HandlerPolicy) clone() HandlerPolicy {
	n := p
	n.validationGroups = slices.Clone(p.validationGroups)

	return n
}

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

	"github.com/looplab/messagebus/uuid"
)

// Header keys used by transports to carry package identifiers.
const (
	MessageIDHeader   = "message_id"
	TraceIDHeader     = "trace_id"
	MessageTypeHeader = "message_type"
)

// Package is one unit of work received from a transport: a serialized message
// plus delivery metadata. The dispatch loop only counts and times packages, it
// never inspects the payload.
type Package interface {
	// ID is the unique identifier of the package.
	ID() uuid.UUID
	// TraceID is the correlation identifier shared by related packages.
	TraceID() uuid.UUID
	// Payload is the serialized message.
	Payload() []byte
	// Headers is the delivery metadata.
	Headers() map[string]string

	// Ack acknowledges that the package has been processed.
	Ack(context.Context) error
	// Nack signals that the package could not be processed.
	Nack(context.Context) error
}

// PackageFunc is called by a transport for every received package.
type PackageFunc func(context.Context, Package)

// Queue is a named source of packages on a transport.
type Queue struct {
	Name string
}

// NewQueue creates a queue with a name.
func NewQueue(name string) Queue {
	return Queue{Name: name}
}

// Queues creates one queue per name.
func Queues(names ...string) []Queue {
	qs := make([]Queue, 0, len(names))
	for _, n := range names {
		qs = append(qs, Queue{Name: n})
	}

	return qs
}

// String implements the String method of the fmt.Stringer interface.
func (q Queue) String() string {
	return q.Name
}

// Transport is a source of packages, typically a message broker consumer.
type Transport interface {
	// Consume subscribes to the queues and calls onPackage for every received
	// package. It blocks until the transport is stopped, the context is
	// cancelled or consumption fails. A failure to connect is returned as a
	// ConnectionError.
	//
	// onPackage may block, which is how consumers apply backpressure.
	Consume(ctx context.Context, queues []Queue, onPackage PackageFunc) error

	// Stop stops consuming new packages.
	Stop(context.Context) error
}

// Processor handles a single package: decoding, routing and invoking the
// matching handlers.
type Processor interface {
	// Handle processes a package. The returned error is only reported, the
	// result is otherwise discarded.
	Handle(context.Context, Package) error
}

// ProcessorFunc is a function that can be used as a processor.
type ProcessorFunc func(context.Context, Package) error

// Handle implements the Handle method of the Processor.
func (f ProcessorFunc) Handle(ctx context.Context, pkg Package) error {
	return f(ctx, pkg)
}

// ProcessorMiddleware is a function that middlewares can implement to be
// able to chain.
type ProcessorMiddleware func(Processor) Processor

// UseProcessorMiddleware wraps a Processor in one or more middleware.
func UseProcessorMiddleware(p Processor, middleware ...ProcessorMiddleware) Processor {
	// Apply in reverse order.
	for i := len(middleware) - 1; i >= 0; i-- {
		p = middleware[i](p)
	}

	return p
}

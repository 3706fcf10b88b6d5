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

// Package mocks holds mocked messages, packages, transports, processors and
// publishers, useful in testing.
package mocks

import (
	"context"
	"sync"
	"sync/atomic"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/uuid"
)

func init() {
	mb.RegisterMessage(func() mb.Message { return &Command{} })
	mb.RegisterMessage(func() mb.Message { return &Event{} })
	mb.RegisterMessage(func() mb.Message { return &ValidatedCommand{} })
	mb.RegisterMessage(func() mb.Message { return &ValidationFailed{} })
	mb.RegisterMessage(func() mb.Message { return &ExecutionFailed{} })
}

const (
	// CommandType is the type for Command.
	CommandType mb.MessageType = "Command"
	// EventType is the type for Event.
	EventType mb.MessageType = "Event"
	// ValidatedCommandType is the type for ValidatedCommand.
	ValidatedCommandType mb.MessageType = "ValidatedCommand"
	// ValidationFailedType is the type for ValidationFailed.
	ValidationFailedType mb.MessageType = "ValidationFailed"
	// ExecutionFailedType is the type for ExecutionFailed.
	ExecutionFailedType mb.MessageType = "ExecutionFailed"
)

// StrictGroup is a validation group used by ValidatedCommand.
const StrictGroup = "Strict"

// Command is a mocked command, useful in testing.
type Command struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// MessageType implements the MessageType method of the messagebus.Message interface.
func (c *Command) MessageType() mb.MessageType { return CommandType }

// Event is a mocked event, useful in testing.
type Event struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// MessageType implements the MessageType method of the messagebus.Message interface.
func (e *Event) MessageType() mb.MessageType { return EventType }

// ValidatedCommand is a mocked command with validation rules, useful in testing.
// Content is required by the default rules, the strict rules require it to be
// longer than three characters.
type ValidatedCommand struct {
	Content string `json:"content"`
}

// MessageType implements the MessageType method of the messagebus.Message interface.
func (c *ValidatedCommand) MessageType() mb.MessageType { return ValidatedCommandType }

// Validate implements the Validate method of the messagebus.Validatable interface.
func (c *ValidatedCommand) Validate(groups ...string) mb.Violations {
	var v mb.Violations

	if mb.InGroups(mb.DefaultValidationGroup, groups) && c.Content == "" {
		v.Add("content", "must not be empty")
	}

	if mb.InGroups(StrictGroup, groups) && len(c.Content) <= 3 {
		v.Add("content", "must be longer than 3 characters")
	}

	return v
}

// ValidationFailed is a mocked validation failed event, useful in testing.
type ValidationFailed struct {
	TraceID    uuid.UUID     `json:"trace_id"`
	Violations mb.Violations `json:"violations"`
}

// MessageType implements the MessageType method of the messagebus.Message interface.
func (e *ValidationFailed) MessageType() mb.MessageType { return ValidationFailedType }

// WithViolations implements the WithViolations method of the messagebus.ValidationFailedEvent interface.
func (e *ValidationFailed) WithViolations(traceID uuid.UUID, v mb.Violations) mb.ValidationFailedEvent {
	return &ValidationFailed{TraceID: traceID, Violations: v}
}

// ExecutionFailed is a mocked execution failed event, useful in testing.
type ExecutionFailed struct {
	TraceID uuid.UUID `json:"trace_id"`
	Reason  string    `json:"reason"`
}

// MessageType implements the MessageType method of the messagebus.Message interface.
func (e *ExecutionFailed) MessageType() mb.MessageType { return ExecutionFailedType }

// WithFailure implements the WithFailure method of the messagebus.ExecutionFailedEvent interface.
func (e *ExecutionFailed) WithFailure(traceID uuid.UUID, reason string) mb.ExecutionFailedEvent {
	return &ExecutionFailed{TraceID: traceID, Reason: reason}
}

// Package is a mocked messagebus.Package, useful in testing.
type Package struct {
	PackageID uuid.UUID
	Trace     uuid.UUID
	Data      []byte
	Meta      map[string]string

	acked  atomic.Int32
	nacked atomic.Int32
	// Used to simulate errors in Ack.
	AckErr error
}

var _ = mb.Package(&Package{})

// NewPackage returns a new Package with fresh IDs.
func NewPackage(data []byte) *Package {
	return &Package{
		PackageID: uuid.New(),
		Trace:     uuid.New(),
		Data:      data,
		Meta:      map[string]string{},
	}
}

// ID implements the ID method of the messagebus.Package interface.
func (p *Package) ID() uuid.UUID { return p.PackageID }

// TraceID implements the TraceID method of the messagebus.Package interface.
func (p *Package) TraceID() uuid.UUID { return p.Trace }

// Payload implements the Payload method of the messagebus.Package interface.
func (p *Package) Payload() []byte { return p.Data }

// Headers implements the Headers method of the messagebus.Package interface.
func (p *Package) Headers() map[string]string { return p.Meta }

// Ack implements the Ack method of the messagebus.Package interface.
func (p *Package) Ack(context.Context) error {
	p.acked.Add(1)

	return p.AckErr
}

// Nack implements the Nack method of the messagebus.Package interface.
func (p *Package) Nack(context.Context) error {
	p.nacked.Add(1)

	return nil
}

// Acked returns the number of acks.
func (p *Package) Acked() int { return int(p.acked.Load()) }

// Nacked returns the number of nacks.
func (p *Package) Nacked() int { return int(p.nacked.Load()) }

// Transport is a mocked messagebus.Transport that delivers the packages sent
// on its channel, useful in testing.
type Transport struct {
	Packages chan mb.Package
	// Used to simulate a failing connection in Consume.
	Err error

	mu      sync.Mutex
	queues  []mb.Queue
	stopped chan struct{}
	once    sync.Once
}

var _ = mb.Transport(&Transport{})

// NewTransport returns a new Transport with a buffered package channel.
func NewTransport(size int) *Transport {
	return &Transport{
		Packages: make(chan mb.Package, size),
		stopped:  make(chan struct{}),
	}
}

// Consume implements the Consume method of the messagebus.Transport interface.
func (t *Transport) Consume(ctx context.Context, queues []mb.Queue, onPackage mb.PackageFunc) error {
	if t.Err != nil {
		return t.Err
	}

	t.mu.Lock()
	t.queues = queues
	t.mu.Unlock()

	for {
		// Stopping takes precedence over queued packages.
		select {
		case <-t.stopped:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		select {
		case <-t.stopped:
			return nil
		case <-ctx.Done():
			return nil
		case pkg, ok := <-t.Packages:
			if !ok {
				return nil
			}

			onPackage(ctx, pkg)
		}
	}
}

// Stop implements the Stop method of the messagebus.Transport interface.
func (t *Transport) Stop(context.Context) error {
	t.once.Do(func() { close(t.stopped) })

	return nil
}

// Stopped reports whether Stop has been called.
func (t *Transport) Stopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

// Queues returns the queues passed to Consume.
func (t *Transport) Queues() []mb.Queue {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.queues
}

// Processor is a mocked messagebus.Processor that tracks how many packages
// are handled concurrently, useful in testing.
type Processor struct {
	// HandleFunc is called for every package, if set.
	HandleFunc func(context.Context, mb.Package) error

	mu       sync.Mutex
	Handled  []mb.Package
	current  int
	peak     int
	Contexts []context.Context
}

var _ = mb.Processor(&Processor{})

// Handle implements the Handle method of the messagebus.Processor interface.
func (p *Processor) Handle(ctx context.Context, pkg mb.Package) error {
	p.mu.Lock()
	p.current++
	if p.current > p.peak {
		p.peak = p.current
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.current--
		p.Handled = append(p.Handled, pkg)
		p.Contexts = append(p.Contexts, ctx)
		p.mu.Unlock()
	}()

	if p.HandleFunc != nil {
		return p.HandleFunc(ctx, pkg)
	}

	return nil
}

// Peak returns the highest number of packages handled at the same time.
func (p *Processor) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.peak
}

// Count returns the number of handled packages.
func (p *Processor) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.Handled)
}

// Published is a message published to a queue.
type Published struct {
	Ctx     context.Context
	Queue   mb.Queue
	Message mb.Message
}

// Publisher is a mocked messagebus.Publisher, useful in testing.
type Publisher struct {
	mu        sync.Mutex
	Published []Published
	// Used to simulate errors in Publish.
	Err error
}

var _ = mb.Publisher(&Publisher{})

// Publish implements the Publish method of the messagebus.Publisher interface.
func (p *Publisher) Publish(ctx context.Context, queue mb.Queue, msg mb.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}

	p.Published = append(p.Published, Published{Ctx: ctx, Queue: queue, Message: msg})

	return nil
}

// Messages returns the published messages.
func (p *Publisher) Messages() []mb.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := make([]mb.Message, len(p.Published))
	for i, pub := range p.Published {
		msgs[i] = pub.Message
	}

	return msgs
}

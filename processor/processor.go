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

// Package processor decodes packages and routes the carried messages to the
// registered handlers, executing each one under its handler policy.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/retry"
	"github.com/looplab/messagebus/uuid"
)

var (
	// ErrMissingCodec is when a processor is created without a codec.
	ErrMissingCodec = errors.New("missing codec")
	// ErrMissingHandler is when registering a nil handler.
	ErrMissingHandler = errors.New("missing handler")
	// ErrHandlerAlreadyRegistered is when a command type already has a handler.
	ErrHandlerAlreadyRegistered = errors.New("handler is already registered")
	// ErrInvalidPolicy is when registering with a policy that has no kind.
	ErrInvalidPolicy = errors.New("invalid handler policy")
	// ErrMissingPublisher is when a policy emits failure events but the
	// processor has no publisher.
	ErrMissingPublisher = errors.New("missing publisher")
	// ErrHandlerPanic is when a handler panicked.
	ErrHandlerPanic = errors.New("handler panic")
)

// Handler handles a decoded message.
type Handler interface {
	Handle(context.Context, mb.Message) error
}

// HandlerFunc is a function that can be used as a handler.
type HandlerFunc func(context.Context, mb.Message) error

// Handle implements the Handle method of the Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg mb.Message) error {
	return f(ctx, msg)
}

type registration struct {
	handler Handler
	policy  mb.HandlerPolicy
}

// Processor is a messagebus.Processor that routes messages to handlers.
type Processor struct {
	codec     mb.Codec
	publisher mb.Publisher
	queue     mb.Queue
	retry     *retry.Executor
	retryable []error
	logger    *slog.Logger

	handlers   map[mb.MessageType][]registration
	handlersMu sync.RWMutex
}

var _ = mb.Processor(&Processor{})

// Option is an option setter used to configure creation.
type Option func(*Processor) error

// WithPublisher sets the publisher and queue used for failure events.
func WithPublisher(p mb.Publisher, queue mb.Queue) Option {
	return func(pr *Processor) error {
		if p == nil {
			return ErrMissingPublisher
		}

		pr.publisher = p
		pr.queue = queue

		return nil
	}
}

// WithRetry invokes handlers through the executor, retrying failures that
// match one of the kinds.
func WithRetry(e *retry.Executor, kinds ...error) Option {
	return func(pr *Processor) error {
		if e == nil {
			return errors.New("missing retry executor")
		}

		pr.retry = e
		pr.retryable = kinds

		return nil
	}
}

// WithLogger uses a logger other than slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(pr *Processor) error {
		if logger == nil {
			return errors.New("missing logger")
		}

		pr.logger = logger

		return nil
	}
}

// New creates a Processor.
func New(codec mb.Codec, options ...Option) (*Processor, error) {
	if codec == nil {
		return nil, ErrMissingCodec
	}

	p := &Processor{
		codec:    codec,
		logger:   slog.Default(),
		handlers: make(map[mb.MessageType][]registration),
	}

	for _, option := range options {
		if err := option(p); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	p.logger = p.logger.With(slog.String("component", "processor"))

	return p, nil
}

// Register adds a handler for a message type. A command type can have only
// one handler, an event type any number of listeners.
func (p *Processor) Register(t mb.MessageType, h Handler, policy mb.HandlerPolicy) error {
	if h == nil {
		return ErrMissingHandler
	}

	if !policy.IsCommandHandler() && !policy.IsEventListener() {
		return ErrInvalidPolicy
	}

	_, emitsValidation := policy.DefaultValidationFailedEvent()
	_, emitsFailure := policy.DefaultThrowableEvent()
	if (emitsValidation || emitsFailure) && p.publisher == nil {
		return fmt.Errorf("could not register handler for %s: %w", t, ErrMissingPublisher)
	}

	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()

	regs := p.handlers[t]
	for _, r := range regs {
		if policy.IsCommandHandler() || r.policy.IsCommandHandler() {
			return fmt.Errorf("could not register handler for %s: %w", t, ErrHandlerAlreadyRegistered)
		}
	}

	p.handlers[t] = append(regs, registration{handler: h, policy: policy})

	return nil
}

// RegisterCommandHandler registers a handler with a command handler policy.
func (p *Processor) RegisterCommandHandler(t mb.MessageType, h Handler) error {
	return p.Register(t, h, mb.NewCommandHandlerPolicy())
}

// RegisterEventListener registers a handler with an event listener policy.
func (p *Processor) RegisterEventListener(t mb.MessageType, h Handler) error {
	return p.Register(t, h, mb.NewEventListenerPolicy())
}

// Handle implements the Handle method of the messagebus.Processor interface.
// A package without any registered handler is acknowledged without errors.
// The error of a single handler is returned, so that the package is nacked.
// When an event fans out to several listeners their failures are logged
// instead, or turned into their throwable events, and the package is acked.
func (p *Processor) Handle(ctx context.Context, pkg mb.Package) error {
	msg, ctx, err := p.codec.Unmarshal(ctx, pkg.Payload())
	if err != nil {
		return fmt.Errorf("could not decode package %s: %w", pkg.ID(), err)
	}

	// The package carries the authoritative IDs.
	ctx = mb.NewContextWithPackage(ctx, pkg)

	p.handlersMu.RLock()
	regs := p.handlers[msg.MessageType()]
	p.handlersMu.RUnlock()

	if len(regs) == 0 {
		p.logger.DebugContext(ctx, "no handlers for message",
			slog.String("message_type", msg.MessageType().String()),
			slog.String("package_id", pkg.ID().String()),
		)

		return nil
	}

	if len(regs) == 1 {
		return p.execute(ctx, msg, regs[0])
	}

	// Listeners of a fanned out event settle on their own. Returning a
	// failure would redeliver the package to the listeners that succeeded.
	for i, r := range regs {
		if err := p.execute(ctx, msg, r); err != nil {
			p.logger.ErrorContext(ctx, "event listener failed",
				slog.String("message_type", msg.MessageType().String()),
				slog.String("package_id", pkg.ID().String()),
				slog.String("trace_id", pkg.TraceID().String()),
				slog.Int("listener", i),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// execute runs a single handler under its policy.
func (p *Processor) execute(ctx context.Context, msg mb.Message, r registration) error {
	traceID, _ := mb.TraceIDFromContext(ctx)

	if r.policy.ValidationEnabled() {
		if v, ok := msg.(mb.Validatable); ok {
			if violations := v.Validate(r.policy.ValidationGroups()...); len(violations) > 0 {
				return p.validationFailed(ctx, msg, traceID, violations, r.policy)
			}
		}
	}

	invoke := func(ctx context.Context) error {
		return p.invoke(ctx, r.handler, msg)
	}

	var err error
	if p.retry != nil {
		err = p.retry.Execute(ctx, invoke, p.retryable...)
	} else {
		err = invoke(ctx)
	}

	if err == nil {
		return nil
	}

	return p.executionFailed(ctx, msg, traceID, err, r.policy)
}

func (p *Processor) invoke(ctx context.Context, h Handler, msg mb.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return h.Handle(ctx, msg)
}

func (p *Processor) validationFailed(ctx context.Context, msg mb.Message, traceID uuid.UUID, violations mb.Violations, policy mb.HandlerPolicy) error {
	t, ok := policy.DefaultValidationFailedEvent()
	if !ok {
		return &mb.ValidationError{
			MessageType: msg.MessageType(),
			TraceID:     traceID,
			Violations:  violations,
		}
	}

	e, err := mb.CreateMessage(t)
	if err != nil {
		return fmt.Errorf("could not create validation failed event: %w", err)
	}

	// Checked when the policy was configured.
	event := e.(mb.ValidationFailedEvent).WithViolations(traceID, violations)

	p.logger.InfoContext(ctx, "message failed validation",
		slog.String("message_type", msg.MessageType().String()),
		slog.String("trace_id", traceID.String()),
		slog.String("event_type", t.String()),
	)

	return p.publish(ctx, event)
}

func (p *Processor) executionFailed(ctx context.Context, msg mb.Message, traceID uuid.UUID, cause error, policy mb.HandlerPolicy) error {
	t, ok := policy.DefaultThrowableEvent()
	if !ok {
		return &mb.ExecutionError{
			Err:         cause,
			MessageType: msg.MessageType(),
			TraceID:     traceID,
		}
	}

	e, err := mb.CreateMessage(t)
	if err != nil {
		return fmt.Errorf("could not create execution failed event: %w", err)
	}

	event := e.(mb.ExecutionFailedEvent).WithFailure(traceID, cause.Error())

	p.logger.WarnContext(ctx, "handler failed",
		slog.String("message_type", msg.MessageType().String()),
		slog.String("trace_id", traceID.String()),
		slog.String("event_type", t.String()),
		slog.String("error", cause.Error()),
	)

	return p.publish(ctx, event)
}

func (p *Processor) publish(ctx context.Context, event mb.Message) error {
	if err := p.publisher.Publish(ctx, p.queue, event); err != nil {
		return fmt.Errorf("could not publish %s: %w", event.MessageType(), err)
	}

	return nil
}

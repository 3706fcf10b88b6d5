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

package messagebus_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/mocks"
)

func TestNewPolicy(t *testing.T) {
	p := mb.NewCommandHandlerPolicy()
	assert.Equal(t, mb.CommandHandler, p.Kind())
	assert.True(t, p.IsCommandHandler())
	assert.False(t, p.IsEventListener())
	assert.False(t, p.ValidationEnabled())
	assert.Empty(t, p.ValidationGroups())

	if _, ok := p.DefaultValidationFailedEvent(); ok {
		t.Error("there should be no validation failed event")
	}

	if _, ok := p.DefaultThrowableEvent(); ok {
		t.Error("there should be no throwable event")
	}

	p = mb.NewEventListenerPolicy()
	assert.Equal(t, mb.EventListener, p.Kind())
	assert.True(t, p.IsEventListener())
	assert.Equal(t, "event listener", p.Kind().String())
	assert.Equal(t, "command handler", mb.CommandHandler.String())
	assert.Equal(t, "unknown", mb.HandlerKind(0).String())
}

func TestPolicy_EnableValidation(t *testing.T) {
	base := mb.NewCommandHandlerPolicy()
	p := base.EnableValidation("Default", "Adults", "Default")

	assert.True(t, p.ValidationEnabled())
	assert.Equal(t, []string{"Default", "Adults"}, p.ValidationGroups())

	// The original is untouched.
	assert.False(t, base.ValidationEnabled())
	assert.Empty(t, base.ValidationGroups())

	// Enabling again replaces the groups.
	other := p.EnableValidation()
	assert.True(t, other.ValidationEnabled())
	assert.Empty(t, other.ValidationGroups())
	assert.Equal(t, []string{"Default", "Adults"}, p.ValidationGroups())

	// The returned groups are a copy.
	groups := p.ValidationGroups()
	groups[0] = "Changed"
	assert.Equal(t, []string{"Default", "Adults"}, p.ValidationGroups())
}

func TestPolicy_WithDefaultValidationFailedEvent(t *testing.T) {
	base := mb.NewCommandHandlerPolicy().EnableValidation()

	p, err := base.WithDefaultValidationFailedEvent(mocks.ValidationFailedType)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if et, ok := p.DefaultValidationFailedEvent(); !ok || et != mocks.ValidationFailedType {
		t.Error("the event type should be set:", et)
	}

	if _, ok := base.DefaultValidationFailedEvent(); ok {
		t.Error("the original should be untouched")
	}

	assert.True(t, p.ValidationEnabled())

	// Lacks the capability.
	var typeErr *mb.InvalidEventTypeError

	q, err := p.WithDefaultValidationFailedEvent(mocks.EventType)
	if !errors.As(err, &typeErr) || typeErr.Capability != "ValidationFailedEvent" {
		t.Error("there should be an invalid event type error:", err)
	}

	if et, _ := q.DefaultValidationFailedEvent(); et != mocks.ValidationFailedType {
		t.Error("the policy should be unchanged on error:", et)
	}

	// Not registered.
	if _, err := p.WithDefaultValidationFailedEvent("Unknown"); !errors.Is(err, mb.ErrMessageNotRegistered) ||
		!errors.Is(err, mb.ErrInvalidEventType) {
		t.Error("there should be a not registered error:", err)
	}
}

func TestPolicy_WithDefaultThrowableEvent(t *testing.T) {
	base := mb.NewEventListenerPolicy()

	p, err := base.WithDefaultThrowableEvent(mocks.ExecutionFailedType)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if et, ok := p.DefaultThrowableEvent(); !ok || et != mocks.ExecutionFailedType {
		t.Error("the event type should be set:", et)
	}

	if _, ok := base.DefaultThrowableEvent(); ok {
		t.Error("the original should be untouched")
	}

	// A validation failed event does not implement ExecutionFailedEvent.
	if _, err := p.WithDefaultThrowableEvent(mocks.ValidationFailedType); !errors.Is(err, mb.ErrInvalidEventType) {
		t.Error("there should be an invalid event type error:", err)
	}

	if _, err := p.WithDefaultThrowableEvent("Unknown"); !errors.Is(err, mb.ErrMessageNotRegistered) {
		t.Error("there should be a not registered error:", err)
	}
}

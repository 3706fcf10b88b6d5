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
	"errors"
	"testing"

	"github.com/looplab/messagebus/uuid"
)

func TestConnectionError(t *testing.T) {
	baseErr := errors.New("dial tcp: connection refused")
	err := &ConnectionError{Err: baseErr, Transport: "redis"}

	if s := err.Error(); s != "redis: connection failed: dial tcp: connection refused" {
		t.Error("the error string should be correct:", s)
	}

	if !errors.Is(err, ErrConnectionFail) {
		t.Error("the error should match ErrConnectionFail")
	}

	if !errors.Is(err, baseErr) || err.Cause() != baseErr {
		t.Error("the error should wrap the base error")
	}

	if s := (&ConnectionError{Transport: "nats"}).Error(); s != "nats: connection failed" {
		t.Error("the error string should be correct:", s)
	}
}

func TestValidationError(t *testing.T) {
	var v Violations
	v.Add("name", "must not be empty")

	err := &ValidationError{
		MessageType: testMessageType,
		TraceID:     uuid.New(),
		Violations:  v,
	}

	if s := err.Error(); s != "TestMessage: validation failed: name: must not be empty" {
		t.Error("the error string should be correct:", s)
	}

	if !errors.Is(err, ErrValidationFailed) {
		t.Error("the error should match ErrValidationFailed")
	}
}

func TestExecutionError(t *testing.T) {
	handlerErr := errors.New("handler error")
	err := &ExecutionError{
		Err:         handlerErr,
		MessageType: testMessageType,
	}

	if s := err.Error(); s != "TestMessage: execution failed: handler error" {
		t.Error("the error string should be correct:", s)
	}

	if !errors.Is(err, ErrExecutionFailed) || !errors.Is(err, handlerErr) {
		t.Error("the error should match both the kind and the handler error")
	}

	var target *ExecutionError
	if !errors.As(error(err), &target) || target.MessageType != testMessageType {
		t.Error("the error should be an execution error")
	}
}

func TestInvalidEventTypeError(t *testing.T) {
	err := &InvalidEventTypeError{
		Err:        ErrMessageNotRegistered,
		EventType:  "Unknown",
		Capability: "ExecutionFailedEvent",
	}

	if s := err.Error(); s != `invalid event type "Unknown": must implement ExecutionFailedEvent: message not registered` {
		t.Error("the error string should be correct:", s)
	}

	if !errors.Is(err, ErrInvalidEventType) || !errors.Is(err, ErrMessageNotRegistered) {
		t.Error("the error should match both errors")
	}

	err = &InvalidEventTypeError{EventType: "Event", Capability: "ValidationFailedEvent"}
	if !errors.Is(err, ErrInvalidEventType) || errors.Is(err, ErrMessageNotRegistered) {
		t.Error("the error should only match ErrInvalidEventType")
	}
}

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
	"fmt"

	"github.com/looplab/messagebus/uuid"
)

// ErrConnectionFail is when a transport could not connect to its broker.
var ErrConnectionFail = errors.New("connection failed")

// ErrValidationFailed is when a message did not pass validation.
var ErrValidationFailed = errors.New("validation failed")

// ErrExecutionFailed is when a handler failed.
var ErrExecutionFailed = errors.New("execution failed")

// ErrInvalidEventType is when a failure event type lacks the required capability.
var ErrInvalidEventType = errors.New("invalid event type")

// ConnectionError is an error when connecting a transport.
type ConnectionError struct {
	// Err is the underlying error, typically from the client library.
	Err error
	// Transport is the name of the transport, for example "redis".
	Transport string
}

// Error implements the Error method of the errors.Error interface.
func (e *ConnectionError) Error() string {
	str := e.Transport + ": " + ErrConnectionFail.Error()
	if e.Err != nil {
		str += ": " + e.Err.Error()
	}

	return str
}

// Unwrap implements the errors.Unwrap method.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is makes ConnectionError match ErrConnectionFail with errors.Is.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionFail
}

// Cause implements the github.com/pkg/errors Unwrap method.
func (e *ConnectionError) Cause() error {
	return e.Unwrap()
}

// ValidationError is returned when a message failed validation and no
// validation failed event is configured for the handler.
type ValidationError struct {
	MessageType MessageType
	TraceID     uuid.UUID
	Violations  Violations
}

// Error implements the Error method of the errors.Error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.MessageType, ErrValidationFailed, e.Violations.Error())
}

// Unwrap implements the errors.Unwrap method.
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// ExecutionError is returned when a handler failed and no throwable event is
// configured for it.
type ExecutionError struct {
	// Err is the error returned by, or recovered from, the handler.
	Err         error
	MessageType MessageType
	TraceID     uuid.UUID
}

// Error implements the Error method of the errors.Error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.MessageType, ErrExecutionFailed, e.Err)
}

// Unwrap implements the errors.Unwrap method. Both the failure kind and the
// handler error can be matched with errors.Is.
func (e *ExecutionError) Unwrap() []error {
	return []error{ErrExecutionFailed, e.Err}
}

// InvalidEventTypeError is returned when configuring a handler policy with an
// event type that does not have the required capability.
type InvalidEventTypeError struct {
	// Err is the underlying error, for example ErrMessageNotRegistered.
	Err       error
	EventType MessageType
	// Capability is the name of the missing capability.
	Capability string
}

// Error implements the Error method of the errors.Error interface.
func (e *InvalidEventTypeError) Error() string {
	str := fmt.Sprintf("%s %q: must implement %s", ErrInvalidEventType, e.EventType, e.Capability)
	if e.Err != nil {
		str += ": " + e.Err.Error()
	}

	return str
}

// Unwrap implements the errors.Unwrap method.
func (e *InvalidEventTypeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidEventType}
	}

	return []error{ErrInvalidEventType, e.Err}
}

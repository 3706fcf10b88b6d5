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
	"strings"
)

// Violation is a single broken validation rule.
type Violation struct {
	// Property is the path of the offending field, empty for the whole message.
	Property string `json:"property"`
	// Message describes the broken rule.
	Message string `json:"message"`
}

// String implements the String method of the fmt.Stringer interface.
func (v Violation) String() string {
	if v.Property == "" {
		return v.Message
	}

	return v.Property + ": " + v.Message
}

// Violations is a list of broken validation rules.
type Violations []Violation

// Add appends a violation.
func (v *Violations) Add(property, message string) {
	*v = append(*v, Violation{Property: property, Message: message})
}

// Error implements the Error method of the error interface.
func (v Violations) Error() string {
	parts := make([]string, len(v))
	for i, violation := range v {
		parts[i] = violation.String()
	}

	return strings.Join(parts, "; ")
}

// Validatable is a message that can validate its content. The groups select
// which rule subsets apply, no groups means all default rules.
type Validatable interface {
	Message

	Validate(groups ...string) Violations
}

// InGroups reports whether a rule belonging to the group applies for the
// selected groups. Rules in the "Default" group apply when no groups are
// selected.
func InGroups(group string, selected []string) bool {
	if len(selected) == 0 {
		return group == DefaultValidationGroup
	}

	for _, s := range selected {
		if s == group {
			return true
		}
	}

	return false
}

// DefaultValidationGroup is the group of rules that apply when no groups are
// selected.
const DefaultValidationGroup = "Default"

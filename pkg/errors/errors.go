// Copyright 2026 The gVisor Authors.
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

// Package errors holds the standardized error definition for the kernel core.
package errors

import "fmt"

// Class is the broad category of a kernel error. Callers branch on the class;
// the individual error values only refine the message.
type Class int

// Error classes.
const (
	// ClassNone is the zero value and never used by a real error.
	ClassNone Class = iota

	// ClassBinaryFormat is a malformed executable image. It is always
	// reported before any memory is committed.
	ClassBinaryFormat

	// ClassResourceExhaustion is a frame or page-table allocation failure.
	ClassResourceExhaustion

	// ClassAccessViolation is an access outside any valid region, or one
	// the region's permissions do not allow.
	ClassAccessViolation

	// ClassProcessNotFound is a reference to a pid with no live PCB.
	ClassProcessNotFound

	// ClassInvariantViolation is internal core state corruption. It is not
	// recoverable.
	ClassInvariantViolation

	// ClassInvalidArgument is a caller error that does not fit another
	// class, e.g. an out-of-range CPU or a misaligned address.
	ClassInvalidArgument
)

// String implements fmt.Stringer.String.
func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassBinaryFormat:
		return "binary format error"
	case ClassResourceExhaustion:
		return "resource exhaustion"
	case ClassAccessViolation:
		return "access violation"
	case ClassProcessNotFound:
		return "process not found"
	case ClassInvariantViolation:
		return "scheduling invariant violation"
	case ClassInvalidArgument:
		return "invalid argument"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Error represents a kernel error with a descriptive message.
type Error struct {
	class   Class
	message string
}

// New creates a new *Error.
func New(class Class, message string) *Error {
	return &Error{
		class:   class,
		message: message,
	}
}

// NewClass creates the sentinel for class. A class sentinel matches every
// error of that class under errors.Is.
func NewClass(class Class) *Error {
	return &Error{class: class}
}

// Error implements error.Error.
func (e *Error) Error() string {
	if e.message == "" {
		return e.class.String()
	}
	return e.message
}

// Class returns the error's class.
func (e *Error) Class() Class { return e.class }

// Is implements the interface consulted by errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	if t.message == "" {
		return t.class == e.class
	}
	return t == e
}

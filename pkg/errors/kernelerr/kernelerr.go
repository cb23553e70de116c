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

// Package kernelerr contains the class sentinels of the kernel error
// taxonomy, exported as *errors.Error pointers so that callers can test for
// a whole class with the standard errors.Is.
package kernelerr

import (
	"errors"
	"fmt"

	kerrors "gvisor.dev/kcore/pkg/errors"
)

// Class sentinels.
var (
	ErrBinaryFormat       = kerrors.NewClass(kerrors.ClassBinaryFormat)
	ErrResourceExhaustion = kerrors.NewClass(kerrors.ClassResourceExhaustion)
	ErrAccessViolation    = kerrors.NewClass(kerrors.ClassAccessViolation)
	ErrProcessNotFound    = kerrors.NewClass(kerrors.ClassProcessNotFound)
	ErrInvariantViolation = kerrors.NewClass(kerrors.ClassInvariantViolation)
	ErrInvalidArgument    = kerrors.NewClass(kerrors.ClassInvalidArgument)
)

// Errorf returns an error of the given class whose message is built from
// format and args. It wraps any error verbs the same way fmt.Errorf does.
func Errorf(class *kerrors.Error, format string, args ...any) error {
	return &classed{class: class, err: fmt.Errorf(format, args...)}
}

// classed attaches a class to an arbitrary error.
type classed struct {
	class *kerrors.Error
	err   error
}

// Error implements error.Error.
func (c *classed) Error() string {
	return c.class.Error() + ": " + c.err.Error()
}

// Unwrap returns both the class and the wrapped error so that errors.Is
// matches either.
func (c *classed) Unwrap() []error {
	return []error{c.class, c.err}
}

// ClassOf returns the class of err, or ClassNone if err carries none.
func ClassOf(err error) kerrors.Class {
	var e *kerrors.Error
	if errors.As(err, &e) {
		return e.Class()
	}
	return kerrors.ClassNone
}

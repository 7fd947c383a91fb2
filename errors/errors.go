// Copyright 2024 The Tektite Authors
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

package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

type ErrorCode int

// Device error codes are written into the invocation error buffer by kernel code, so zero must mean "no error".
const (
	Success ErrorCode = iota
	DeviceError
	ExpressionError
	DivisionByZero
	OutOfRange
	WrongFormat
	CapacityExceeded
	InvalidConfiguration ErrorCode = iota + 3000
	ResumeLimitExceeded
	InvalidArgument
	InternalError ErrorCode = iota + 5000
)

func (e ErrorCode) String() string {
	switch e {
	case Success:
		return "success"
	case DeviceError:
		return "device error"
	case ExpressionError:
		return "expression error"
	case DivisionByZero:
		return "division by zero"
	case OutOfRange:
		return "value out of range"
	case WrongFormat:
		return "wrong data store format"
	case CapacityExceeded:
		return "capacity exceeded"
	case InvalidConfiguration:
		return "invalid configuration"
	case ResumeLimitExceeded:
		return "resume limit exceeded"
	case InvalidArgument:
		return "invalid argument"
	case InternalError:
		return "internal error"
	default:
		return fmt.Sprintf("error code %d", int(e))
	}
}

func NewInternalError(errReference string) PreAggError {
	return NewPreAggErrorf(InternalError, "internal error - reference: %s please consult logs for details", errReference)
}

func NewInvalidConfigurationError(msg string) PreAggError {
	return NewPreAggErrorf(InvalidConfiguration, "invalid configuration: %s", msg)
}

func NewPreAggErrorf(errorCode ErrorCode, msgFormat string, args ...interface{}) PreAggError {
	msg := fmt.Sprintf(msgFormat, args...)
	return PreAggError{Code: errorCode, Msg: msg}
}

func NewPreAggError(errorCode ErrorCode, msg string) PreAggError {
	return PreAggError{Code: errorCode, Msg: msg}
}

func IsPreAggErrorWithCode(err error, code ErrorCode) bool {
	var perr PreAggError
	if As(err, &perr) {
		return perr.Code == code
	}
	return false
}

type PreAggError struct {
	Code ErrorCode
	Msg  string
}

func (u PreAggError) Error() string {
	return u.Msg
}

func New(msg string) error {
	return pkgerrors.New(msg)
}

func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

func WithStack(err error) error {
	return pkgerrors.WithStack(err)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

func As(err error, target interface{}) bool {
	return pkgerrors.As(err, target)
}

func Is(err, target error) bool {
	return pkgerrors.Is(err, target)
}

// Package errors classifies failures so callers can tell a local validation
// problem from a transport failure, an unreadable response or a remote
// rejection without string matching.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"

	"go.uber.org/zap/zapcore"
)

// ErrorType is the failure category.
type ErrorType string

const (
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation is raised locally before any I/O.
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeTimeout    ErrorType = "timeout"
	// ErrorTypeConnection covers transport and I/O failures, never a remote
	// rejection.
	ErrorTypeConnection     ErrorType = "connection"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeConfig         ErrorType = "config"
	// ErrorTypeParse is a response body that did not have the expected shape.
	ErrorTypeParse ErrorType = "parse"
	// ErrorTypeRemote is a remote rejection without a structured body.
	ErrorTypeRemote ErrorType = "remote"
)

// Error is a categorized error with optional details and the call site
// that first raised it.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

type StackFrame struct {
	Function string
	File     string
	Line     int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key/value pair and returns e for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, 2)
	}
	e.Details[key] = value
	return e
}

// MarshalLogObject lets zap.Object("error", e) log the type and details as
// fields instead of one flattened string.
func (e *Error) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("type", string(e.Type))
	enc.AddString("message", e.Message)
	if e.Cause != nil {
		enc.AddString("cause", e.Cause.Error())
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := enc.AddReflected(k, e.Details[k]); err != nil {
			return err
		}
	}
	if len(e.Stack) > 0 {
		top := e.Stack[0]
		enc.AddString("origin", fmt.Sprintf("%s:%d", top.File, top.Line))
	}
	return nil
}

func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message, Stack: callers(3)}
}

func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...), Stack: callers(3)}
}

// Wrap categorizes err. A nil err gives nil. When err already carries an
// *Error its stack is reused, so the origin stays the innermost call site.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	wrapped := &Error{Type: errType, Message: message, Cause: err}
	var inner *Error
	if errors.As(err, &inner) {
		wrapped.Stack = inner.Stack
	} else {
		wrapped.Stack = callers(3)
	}
	return wrapped
}

// TypeOf returns the category of the outermost *Error in err's chain, or ""
// when there is none.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// IsRetryable reports whether repeating the same call could succeed.
func IsRetryable(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeConnection:
		return true
	}
	return false
}

func IsType(err error, errType ErrorType) bool {
	return TypeOf(err) == errType
}

// IsTransport reports a transport or I/O failure, including timeouts.
func IsTransport(err error) bool {
	t := TypeOf(err)
	return t == ErrorTypeConnection || t == ErrorTypeTimeout
}

func IsParse(err error) bool {
	return IsType(err, ErrorTypeParse)
}

func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// As and Is mirror the standard library so callers need one errors import.
func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func callers(skip int) []StackFrame {
	var pcs [32]uintptr
	n := runtime.Callers(skip, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := make([]StackFrame, 0, n)
	for {
		f, more := frames.Next()
		stack = append(stack, StackFrame{Function: f.Function, File: f.File, Line: f.Line})
		if !more {
			break
		}
	}
	return stack
}

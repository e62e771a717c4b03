package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Class is the retry/reporting class of a transport failure.
type Class int

const (
	ClassTransient Class = iota
	ClassUnauthorized
	ClassNotFound
	ClassClient
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassNotFound:
		return "not_found"
	case ClassClient:
		return "client"
	default:
		return "unknown"
	}
}

// Error is a failure reported by the remote system of record. A zero
// StatusCode means the request never produced a response (network failure).
type Error struct {
	StatusCode int
	Message    string
	Err        error
}

// NewError creates a transport error for a response status.
func NewError(statusCode int, message string) *Error {
	return &Error{StatusCode: statusCode, Message: message}
}

// NetworkError wraps a failure that happened before a response arrived.
func NetworkError(err error) *Error {
	return &Error{Err: err, Message: "network error"}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Err != nil {
		if e.StatusCode == 0 {
			return fmt.Sprintf("transport: %s: %v", msg, e.Err)
		}
		return fmt.Sprintf("transport: %d %s: %v", e.StatusCode, msg, e.Err)
	}
	return fmt.Sprintf("transport: %d %s", e.StatusCode, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Class classifies the error.
func (e *Error) Class() Class {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ClassUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return ClassNotFound
	case e.StatusCode == 0,
		e.StatusCode >= 500,
		e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooManyRequests:
		return ClassTransient
	default:
		return ClassClient
	}
}

// ClassOf classifies any error. Errors that are not *Error are treated as
// transient network failures, except context cancellation which is
// reported as ClassClient so it is never retried.
func ClassOf(err error) Class {
	var te *Error
	if errors.As(err, &te) {
		return te.Class()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassClient
	}
	return ClassTransient
}

// IsUnauthorized reports a 401/403 failure.
func IsUnauthorized(err error) bool {
	return err != nil && ClassOf(err) == ClassUnauthorized
}

// IsNotFound reports a 404 failure.
func IsNotFound(err error) bool {
	return err != nil && ClassOf(err) == ClassNotFound
}

// IsTransient reports a 5xx or network failure.
func IsTransient(err error) bool {
	return err != nil && ClassOf(err) == ClassTransient
}

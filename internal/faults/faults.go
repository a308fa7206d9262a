// Package faults defines the error kinds shared by the farm client, the driver
// layer and the run pipeline. Callers match kinds with errors.Is.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrRemote means the farm API was unreachable or reported failure.
	ErrRemote = errors.New("remote error")
	// ErrMissingPort means launch succeeded but no debugging port came back.
	ErrMissingPort = errors.New("missing debugging port")
	// ErrAttach means the local driver could not connect to the debugging endpoint.
	ErrAttach = errors.New("attach error")
	// ErrNotAttached means a registry operation ran without an attached session.
	ErrNotAttached = errors.New("not attached")
	// ErrDriver means a context, page or interaction call failed in the driver.
	ErrDriver = errors.New("driver error")
	// ErrTimeout means a bounded wait ran out of attempts.
	ErrTimeout = errors.New("timeout")
)

// Error is a kinded error carrying the failed operation and, for remote
// failures, the raw response body.
type Error struct {
	Kind error
	Op   string
	Body string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += fmt.Sprintf(" (body: %s)", e.Body)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds a kinded error for op.
func New(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Remote builds an ErrRemote error that keeps the response body for diagnostics.
func Remote(op string, body []byte, err error) *Error {
	return &Error{Kind: ErrRemote, Op: op, Body: string(body), Err: err}
}

// KindOf returns the first known kind err matches, or nil.
func KindOf(err error) error {
	for _, kind := range []error{ErrMissingPort, ErrRemote, ErrAttach, ErrNotAttached, ErrDriver, ErrTimeout} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// BodyOf returns the remote response body attached to err, if any.
func BodyOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Body
	}
	return ""
}

// Package errs provides structured error types and helpers for vivbliss-watch.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies an error category within the pipeline.
type Code string

const (
	// CodeConfig indicates missing or invalid configuration; fatal at task entry.
	CodeConfig Code = "config"
	// CodeStorage indicates the database is unavailable or rejected an operation
	// outside the dedupe policy.
	CodeStorage Code = "storage"
	// CodeDuplicate indicates an expected unique-key collision that represents
	// safe idempotent reconvergence.
	CodeDuplicate Code = "duplicate"
	// CodeTransport indicates a failure from the downstream chat transport.
	CodeTransport Code = "transport"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeUnavailable indicates the component is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the pipeline.
type E struct {
	Component string
	Code      Code
	Message   string
	Key       string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		Message:   "",
		Key:       "",
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithKey records the entity key (product key or dedupe key) the error concerns.
func WithKey(key string) Option {
	trimmed := strings.TrimSpace(key)
	return func(e *E) {
		e.Key = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Key != "" {
		parts = append(parts, "key="+e.Key)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// IsCode reports whether err or any error it wraps is an *E carrying code.
func IsCode(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*E); ok {
			return e.Code == code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

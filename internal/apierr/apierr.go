// Package apierr defines the pipeline's error taxonomy: Validation,
// Transient, Corrupt and Fatal. Every stage classifies the errors it
// returns into one of these kinds so callers (the ingest queue, the
// pipeline coordinator, the REST layer) can decide whether to retry,
// drop, or abort without inspecting error strings.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry/recovery purposes.
type Kind string

const (
	// Validation means the input itself is malformed (bad bbox, unknown
	// camera, zone polygon with fewer than 3 points). Never retry.
	Validation Kind = "validation"
	// Transient means the operation can reasonably be retried (model
	// backend timeout, momentarily full queue, NATS redelivery).
	Transient Kind = "transient"
	// Corrupt means the data itself is unusable (a frame that fails to
	// decode, an embedding of the wrong dimension). Drop and move on.
	Corrupt Kind = "corrupt"
	// Fatal means the process cannot continue (database unreachable at
	// startup, migrations failed). The caller should abort.
	Fatal Kind = "fatal"
)

// Error wraps an underlying error with a Kind and an optional field for
// validation errors.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Invalid builds a field-scoped Validation error, mirroring the
// field+message shape callers render into API responses.
func Invalid(field, format string, args ...interface{}) *Error {
	return &Error{Kind: Validation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to Fatal for errors
// that were never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

// IsRetryable reports whether the pipeline should retry the operation
// that produced err.
func IsRetryable(err error) bool {
	return KindOf(err) == Transient
}

// MultiError aggregates several field-scoped Validation errors, used by
// the zone/camera/track payload validators.
type MultiError []*Error

func (m MultiError) Error() string {
	if len(m) == 0 {
		return "no errors"
	}
	s := m[0].Error()
	for _, e := range m[1:] {
		s += "; " + e.Error()
	}
	return s
}

// HasErrors reports whether any validation errors were collected.
func (m MultiError) HasErrors() bool {
	return len(m) > 0
}

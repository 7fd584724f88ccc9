// Package swarmerr defines the standard error vocabulary shared by every
// swarm component.
//
// All externally visible failures are represented by exactly one *Error.
// Components never let a raw transport or storage error cross their public
// boundary: lower-level failures are translated into the closest matching
// kind with From or Wrap before they are returned to a caller.
package swarmerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

// Kind identifies a failure within the closed taxonomy.
type Kind string

const (
	// KindInvalidInput indicates a request that failed validation.
	KindInvalidInput Kind = "invalid-input"

	// KindMissingField indicates a request missing a required field.
	KindMissingField Kind = "missing-field"

	// KindNotFound indicates a referenced resource that does not exist.
	KindNotFound Kind = "resource-not-found"

	// KindCorrupted indicates a resource whose integrity check failed and
	// could not be recovered from backup.
	KindCorrupted Kind = "resource-corrupted"

	// KindResourceFailure indicates an underlying resource (disk capacity,
	// file permissions) that refused the operation. Reported to the caller
	// rather than retried automatically.
	KindResourceFailure Kind = "resource-failure"

	// KindUnavailable indicates that no instance is able to serve a request.
	KindUnavailable Kind = "service-unavailable"

	// KindDependency indicates a downstream dependency that failed after all
	// recovery options were exhausted.
	KindDependency Kind = "dependency-failure"

	// KindNetwork indicates a transport-level failure.
	KindNetwork Kind = "network-error"

	// KindTimeout indicates a call that exceeded its deadline.
	KindTimeout Kind = "timeout"

	// KindInternal indicates an unexpected internal failure.
	KindInternal Kind = "internal-error"
)

// Category groups kinds for propagation policy and HTTP status mapping.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryResource   Category = "resource"
	CategoryService    Category = "service"
	CategoryDependency Category = "dependency"
	CategoryNetwork    Category = "network"
	CategoryTimeout    Category = "timeout"
	CategoryInternal   Category = "internal"

	// CategoryAuthentication and CategoryAuthorization exist for the HTTP
	// status mapping table; no kind in the closed set maps to them today.
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
)

// Severity ranks how serious a failure is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// taxonomy maps each kind to its category and default severity.
var taxonomy = map[Kind]struct {
	Category Category
	Severity Severity
}{
	KindInvalidInput:    {CategoryValidation, SeverityError},
	KindMissingField:    {CategoryValidation, SeverityError},
	KindNotFound:        {CategoryResource, SeverityError},
	KindCorrupted:       {CategoryResource, SeverityCritical},
	KindResourceFailure: {CategoryResource, SeverityError},
	KindUnavailable:     {CategoryService, SeverityError},
	KindDependency:      {CategoryDependency, SeverityError},
	KindNetwork:         {CategoryNetwork, SeverityError},
	KindTimeout:         {CategoryTimeout, SeverityWarning},
	KindInternal:        {CategoryInternal, SeverityCritical},
}

// CategoryOf returns the category a kind belongs to.
func CategoryOf(kind Kind) Category {
	if entry, ok := taxonomy[kind]; ok {
		return entry.Category
	}
	return CategoryInternal
}

// DefaultSeverity returns the default severity for a kind.
func DefaultSeverity(kind Kind) Severity {
	if entry, ok := taxonomy[kind]; ok {
		return entry.Severity
	}
	return SeverityError
}

// Error is the standard error carried across every component boundary.
//
// The wire shape matches the JSON tags; Timestamp serializes as RFC 3339.
type Error struct {
	// Kind is the taxonomy entry for this failure.
	Kind Kind `json:"kind"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Details carries structured context (operation, instance id, ...).
	Details map[string]interface{} `json:"details,omitempty"`

	// Category is derived from Kind at construction time.
	Category Category `json:"category"`

	// Severity defaults from Kind and may be escalated.
	Severity Severity `json:"severity"`

	// Timestamp records when the error was constructed.
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID is the opaque token threaded through the call chain.
	CorrelationID string `json:"correlationId,omitempty"`

	// cause is the wrapped lower-level error, if any.
	cause error
}

// New creates an Error of the given kind with category and severity filled
// from the taxonomy.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Category:  CategoryOf(kind),
		Severity:  DefaultSeverity(kind),
		Timestamp: time.Now().UTC(),
	}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates an Error of the given kind that wraps a lower-level cause.
//
// If err is nil, Wrap returns nil so it can be used on the happy path:
//
//	return swarmerr.Wrap(swarmerr.KindNetwork, "forward request", err)
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	e := New(kind, message)
	e.cause = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetail attaches a structured detail and returns the error for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCorrelation sets the correlation id and returns the error for chaining.
func (e *Error) WithCorrelation(id string) *Error {
	e.CorrelationID = id
	return e
}

// WithSeverity overrides the default severity and returns the error.
func (e *Error) WithSeverity(s Severity) *Error {
	e.Severity = s
	return e
}

// Escalate raises the severity one step if it is below error. Used by the
// router when a timeout survives the whole retry budget.
func (e *Error) Escalate() *Error {
	if e.Severity == SeverityInfo || e.Severity == SeverityWarning {
		e.Severity = SeverityError
	}
	return e
}

// From translates an arbitrary error into the closest matching Error.
//
// A *Error passes through unchanged. Context deadlines and net timeouts
// become KindTimeout; a caller-initiated cancel is not a timeout and maps to
// KindInternal with a cancel detail, so it never reads as transient. Other
// net errors become KindNetwork, missing files become KindNotFound,
// permission and disk-capacity failures become KindResourceFailure,
// everything else becomes KindInternal.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var se *Error
	if errors.As(err, &se) {
		return se
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindTimeout, "deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return Wrap(KindInternal, "request canceled", err).
			WithSeverity(SeverityWarning).
			WithDetail("canceled", true)
	case os.IsNotExist(err):
		return Wrap(KindNotFound, "resource does not exist", err)
	case os.IsPermission(err):
		return Wrap(KindResourceFailure, "permission denied", err)
	case errors.Is(err, syscall.ENOSPC):
		return Wrap(KindResourceFailure, "storage capacity exhausted", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(KindTimeout, "network timeout", err)
		}
		return Wrap(KindNetwork, "network failure", err)
	}

	return Wrap(KindInternal, "unexpected failure", err)
}

// IsKind reports whether err is (or wraps) an Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// IsTransient reports whether a failure may succeed against a different
// instance or on retry: network, timeout, and service-unavailable failures.
func IsTransient(err error) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Category {
	case CategoryNetwork, CategoryTimeout, CategoryService:
		return true
	}
	return false
}

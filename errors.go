package restbridge

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sentinel causes for binding and streaming failures. They are wrapped in
// BindingError, BindError, or StreamError so errors.Is keeps working while the
// wrapper carries the method, field, or element context.
var (
	ErrUnknownField     = errors.New("unknown field")
	ErrNotAMessage      = errors.New("field path traverses a non-message field")
	ErrNestedBindings   = errors.New("additional_bindings cannot nest")
	ErrMissingPattern   = errors.New("http rule has no pattern")
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrMalformedBody    = errors.New("malformed request body")
	ErrMalformedElement = errors.New("malformed stream element")
	ErrElementTooLarge  = errors.New("stream element exceeds size limit")
)

// BindingError reports a broken http annotation, found while turning a method
// descriptor into routes. These abort registration.
type BindingError struct {
	Method   string
	Template string
	Err      error
}

func (e *BindingError) Error() string {
	if e.Template == "" {
		return fmt.Sprintf("binding %s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("binding %s (%s): %v", e.Method, e.Template, e.Err)
}

func (e *BindingError) Unwrap() error {
	return e.Err
}

// BindError reports a request that could not be bound to the input message.
// Field is the dotted field path when the failure is field-level, empty for
// whole-body failures.
type BindError struct {
	Field string
	Value string
	Err   error
}

func (e *BindError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("bind request: %v", e.Err)
	}
	return fmt.Sprintf("bind field %s from %q: %v", e.Field, e.Value, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// StreamError reports a failure tied to one element of an NDJSON stream.
// Index is zero-based over the request or response stream it occurred on.
type StreamError struct {
	Index int
	Err   error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream element %d: %v", e.Index, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// statusOf funnels every error through one grpc status so the HTTP code and
// the error payload always agree. Upstream status errors pass through as-is.
func statusOf(err error) *status.Status {
	if s, ok := status.FromError(err); ok {
		return s
	}
	switch {
	case errors.Is(err, ErrElementTooLarge):
		return status.New(codes.ResourceExhausted, err.Error())
	case errors.Is(err, ErrTypeMismatch),
		errors.Is(err, ErrMalformedBody),
		errors.Is(err, ErrMalformedElement),
		errors.Is(err, ErrUnknownField):
		return status.New(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, err.Error())
	}
	return status.New(codes.Internal, err.Error())
}

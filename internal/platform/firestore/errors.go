package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a Firestore failure for repository callers.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

// Error wraps a Firestore failure with its operation and classification.
type Error struct {
	op   string
	kind Kind
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return e.op + ": " + e.err.Error()
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing document.
func (e *Error) IsNotFound() bool { return e != nil && e.kind == KindNotFound }

// IsConflict reports whether the error represents a conflicting update.
func (e *Error) IsConflict() bool { return e != nil && e.kind == KindConflict }

// IsUnavailable reports whether the error represents a transient backend
// outage.
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == KindUnavailable }

// IsNotFound reports whether err carries document-not-found semantics.
func IsNotFound(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.IsNotFound()
}

// IsUnavailable reports whether err represents a transient backend failure.
func IsUnavailable(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.IsUnavailable()
}

func classify(code codes.Code) Kind {
	switch code {
	case codes.NotFound:
		return KindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return KindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
		return KindUnavailable
	default:
		return KindUnknown
	}
}

// WrapError annotates a Firestore error with the operation name and a
// classification. Context cancellations pass through unchanged so callers
// can match on context errors directly.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var wrapped *Error
	if errors.As(err, &wrapped) {
		if op != "" && wrapped.op == "" {
			wrapped.op = op
		}
		return wrapped
	}

	return &Error{op: op, kind: classify(code), err: err}
}

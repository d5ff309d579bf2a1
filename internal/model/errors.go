package model

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies pipeline errors.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindInput         Kind = "input"
	KindTransient     Kind = "transient"
	KindTimeout       Kind = "timeout"
	KindInternal      Kind = "internal"
)

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and operation.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf classifies an arbitrary error. Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindInternal
}

// ReasonFor maps an error kind to its caller-visible reason category.
func ReasonFor(kind Kind) string {
	switch kind {
	case KindConfiguration:
		return ReasonConfigurationError
	case KindInput:
		return ReasonInputRejected
	case KindTransient:
		return ReasonTransientError
	case KindTimeout:
		return ReasonTimeout
	default:
		return ReasonPipelineError
	}
}

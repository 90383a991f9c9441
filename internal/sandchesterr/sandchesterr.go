// Package sandchesterr defines the error kinds surfaced over RPC and
// maps them to grpc status codes at the transport boundary.
package sandchesterr

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is one of the error kinds named by the error-handling design.
type Kind int

const (
	Internal Kind = iota
	NotFound
	AlreadyExists
	InvalidArgument
	ResourceExhausted
	FailedPrecondition
	Unavailable
	Cancelled
	DeadlineExceeded
)

// Error wraps an underlying cause with a classification kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func NotFoundf(format string, args ...any) error           { return newf(NotFound, format, args...) }
func AlreadyExistsf(format string, args ...any) error       { return newf(AlreadyExists, format, args...) }
func InvalidArgumentf(format string, args ...any) error     { return newf(InvalidArgument, format, args...) }
func ResourceExhaustedf(format string, args ...any) error   { return newf(ResourceExhausted, format, args...) }
func FailedPreconditionf(format string, args ...any) error  { return newf(FailedPrecondition, format, args...) }
func Unavailablef(format string, args ...any) error         { return newf(Unavailable, format, args...) }
func Cancelledf(format string, args ...any) error           { return newf(Cancelled, format, args...) }
func DeadlineExceededf(format string, args ...any) error    { return newf(DeadlineExceeded, format, args...) }

func WrapInternal(err error, format string, args ...any) error {
	return wrap(Internal, err, format, args...)
}

func WrapUnavailable(err error, format string, args ...any) error {
	return wrap(Unavailable, err, format, args...)
}

// ClassifyOf returns the Kind carried by err, defaulting to Internal
// for plain errors the rest of the codebase didn't classify.
func ClassifyOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return Internal
}

// ToStatus translates a classified error into a grpc status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	switch ClassifyOf(err) {
	case NotFound:
		code = codes.NotFound
	case AlreadyExists:
		code = codes.AlreadyExists
	case InvalidArgument:
		code = codes.InvalidArgument
	case ResourceExhausted:
		code = codes.ResourceExhausted
	case FailedPrecondition:
		code = codes.FailedPrecondition
	case Unavailable:
		code = codes.Unavailable
	case Cancelled:
		code = codes.Canceled
	case DeadlineExceeded:
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

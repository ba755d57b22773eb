package sentry_client

import (
	"fmt"
)

// ErrorKind classifies client errors
type ErrorKind string

const (
	KindConfig      ErrorKind = "config"
	KindValidation  ErrorKind = "validation"
	KindParse       ErrorKind = "parse"
	KindDelivery    ErrorKind = "delivery"
	KindRateLimited ErrorKind = "rate_limited"
	KindQueue       ErrorKind = "queue"
)

// Error represents a client-specific error
type Error struct {
	Op      string
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind, so callers can test against the sentinels below
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code() == "" || t.Code() == e.Code()
}

// Code returns the sub-code of queue errors, empty otherwise
func (e *Error) Code() string {
	if e.Kind != KindQueue {
		return ""
	}
	return e.Message
}

// Sentinels for errors.Is
var (
	ErrConfig      = &Error{Kind: KindConfig}
	ErrValidation  = &Error{Kind: KindValidation}
	ErrParse       = &Error{Kind: KindParse}
	ErrDelivery    = &Error{Kind: KindDelivery}
	ErrRateLimited = &Error{Kind: KindRateLimited}

	ErrQueueClosed = &Error{Op: "dispatcher_submit", Kind: KindQueue, Message: "queue is closed"}
	ErrQueueFull   = &Error{Op: "dispatcher_submit", Kind: KindQueue, Message: "queue is full"}
)

func configError(op, format string, args ...any) error {
	return &Error{Op: op, Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

func validationError(op, format string, args ...any) error {
	return &Error{Op: op, Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func parseError(format string, args ...any) error {
	return &Error{Op: "dsn_parse", Kind: KindParse, Message: fmt.Sprintf(format, args...)}
}

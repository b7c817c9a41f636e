// Package apperr holds the error taxonomy shared by every service and the
// structured result that crosses service boundaries instead of raw errors.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindInsufficientResource
	KindDuplicate
	KindNotFound
	KindConflict
	KindLockTimeout
	KindPersistence
	KindPublish
	KindChannel
	KindCompensation
)

var kindNames = map[Kind]string{
	KindInternal:             "internal",
	KindValidation:           "validation",
	KindInsufficientResource: "insufficient_resource",
	KindDuplicate:            "duplicate",
	KindNotFound:             "not_found",
	KindConflict:             "conflict",
	KindLockTimeout:          "lock_timeout",
	KindPersistence:          "persistence",
	KindPublish:              "publish",
	KindChannel:              "channel",
	KindCompensation:         "compensation",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Sentinels so callers can match with errors.Is(err, apperr.ErrLockTimeout).
var (
	ErrValidation   = &Error{Kind: KindValidation, Msg: "validation failed"}
	ErrInsufficient = &Error{Kind: KindInsufficientResource, Msg: "insufficient resource"}
	ErrDuplicate    = &Error{Kind: KindDuplicate, Msg: "duplicate"}
	ErrNotFound     = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrConflict     = &Error{Kind: KindConflict, Msg: "conflict"}
	ErrLockTimeout  = &Error{Kind: KindLockTimeout, Msg: "lock acquisition timeout"}
	ErrPersistence  = &Error{Kind: KindPersistence, Msg: "persistence failed"}
	ErrPublish      = &Error{Kind: KindPublish, Msg: "publish failed"}
	ErrChannel      = &Error{Kind: KindChannel, Msg: "payment channel failed"}
	ErrCompensation = &Error{Kind: KindCompensation, Msg: "compensation failed"}
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(k Kind, err error, msg string) *Error {
	return &Error{Kind: k, Msg: msg, Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func Insufficient(format string, args ...any) *Error {
	return New(KindInsufficientResource, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

func Persistence(err error, msg string) *Error { return Wrap(KindPersistence, err, msg) }

// KindOf returns the kind of the first *Error in the chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether redelivering the triggering message may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindInsufficientResource, KindDuplicate, KindNotFound, KindConflict:
		return false
	}
	return true
}

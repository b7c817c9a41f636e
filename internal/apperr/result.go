package apperr

import "errors"

// Result codes on the wire.
const (
	CodeSuccess            = 0
	CodeParamsError        = 40000
	CodeNotFound           = 40400
	CodeConflict           = 40900
	CodeInsufficientStock  = 42200
	CodeSystemError        = 50000
	CodeChannelError       = 50200
	CodeLockTimeout        = 50300
	CodeCompensationFailed = 50900 // the call failed and its rollback did not complete
)

// Result is the structured body returned by every RPC and query endpoint.
type Result[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func OK[T any](data T) Result[T] {
	return Result[T]{Code: CodeSuccess, Message: "ok", Data: data}
}

func Fail[T any](err error) Result[T] {
	var zero T
	return Result[T]{Code: CodeOf(err), Message: messageOf(err), Data: zero}
}

func (r Result[T]) Success() bool { return r.Code == CodeSuccess }

func CodeOf(err error) int {
	if err == nil {
		return CodeSuccess
	}
	// checked first: KindOf reports the cause's kind, not the failed unwind
	if errors.Is(err, ErrCompensation) {
		return CodeCompensationFailed
	}
	switch KindOf(err) {
	case KindValidation:
		return CodeParamsError
	case KindNotFound:
		return CodeNotFound
	case KindConflict, KindDuplicate:
		return CodeConflict
	case KindInsufficientResource:
		return CodeInsufficientStock
	case KindChannel:
		return CodeChannelError
	case KindLockTimeout:
		return CodeLockTimeout
	default:
		return CodeSystemError
	}
}

// KindOfCode maps a remote result code back to a local kind.
func KindOfCode(code int) Kind {
	switch code {
	case CodeParamsError:
		return KindValidation
	case CodeNotFound:
		return KindNotFound
	case CodeConflict:
		return KindConflict
	case CodeInsufficientStock:
		return KindInsufficientResource
	case CodeChannelError:
		return KindChannel
	case CodeLockTimeout:
		return KindLockTimeout
	case CodeCompensationFailed:
		return KindCompensation
	default:
		return KindInternal
	}
}

// internal errors are not echoed to callers
func messageOf(err error) string {
	if errors.Is(err, ErrCompensation) {
		return ErrCompensation.Msg
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal && e.Kind != KindPersistence {
		return e.Error()
	}
	return "system error"
}

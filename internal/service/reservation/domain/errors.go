package domain

import "errors"

// ErrorKind 是调用方可以分支判断的错误类别，集合是封闭的。
type ErrorKind string

const (
	KindNotFound   ErrorKind = "NOT_FOUND"
	KindConflict   ErrorKind = "CONFLICT"
	KindValidation ErrorKind = "VALIDATION"
	KindForbidden  ErrorKind = "FORBIDDEN"
)

// Error 是领域层返回的带类别的错误。
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is 让 errors.Is(err, ErrConflict) 这类按类别的判断成立；
// 具体的错误值（如 ErrSoldOut）仍然只与自身相等。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" {
		return t.Kind == e.Kind
	}
	return e == t
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// 类别匹配用的哨兵
var (
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrValidation = &Error{Kind: KindValidation}
)

var (
	ErrResourceNotFound    = newError(KindNotFound, "resource not found")
	ErrReservationNotFound = newError(KindNotFound, "reservation not found")

	ErrInsufficientCapacity    = newError(KindConflict, "insufficient capacity")
	ErrSoldOut                 = newError(KindConflict, "sold out")
	ErrResourceNotOpen         = newError(KindConflict, "resource is not open for reservations")
	ErrAlreadyCancelled        = newError(KindConflict, "reservation already cancelled")
	ErrDuplicateIdempotencyKey = newError(KindConflict, "idempotency key already used")
	ErrIdempotencyKeyMismatch  = newError(KindConflict, "idempotency key reused with a different request")
	ErrDuplicateTicketCode     = newError(KindConflict, "ticket code already exists")
	ErrCapacityBelowReserved   = newError(KindConflict, "capacity below confirmed reservations")
	ErrResourceHasReservations = newError(KindConflict, "resource still has confirmed reservations")
	ErrInvalidStatusTransition = newError(KindConflict, "invalid resource status transition")

	ErrInvalidQuantity        = newError(KindValidation, "invalid quantity")
	ErrIdempotencyKeyRequired = newError(KindValidation, "idempotency key required")
	ErrInvalidIdempotencyKey  = newError(KindValidation, "idempotency key must be a UUID")
	ErrReasonTooLong          = newError(KindValidation, "cancellation reason too long")
	ErrInvalidCapacity        = newError(KindValidation, "total capacity must be at least 1")
	ErrInvalidResourceStatus  = newError(KindValidation, "invalid resource status")
	ErrInvalidID              = newError(KindValidation, "invalid id")
	ErrCallerRequired         = newError(KindValidation, "caller identity required")
	ErrInvalidPagination      = newError(KindValidation, "invalid limit or offset")

	ErrForbidden = newError(KindForbidden, "caller is not allowed to manage the catalog")
)

// KindOf 返回 err 链上第一个领域错误的类别，非领域错误返回空字符串。
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

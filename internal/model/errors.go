package model

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindState
	KindResource
	KindConflict
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindResource:
		return "resource"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a domain failure returned to callers as a typed result.
// errors.Is matches on Kind, and on Msg as well when the target carries one.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrState      = &Error{Kind: KindState}
	ErrResource   = &Error{Kind: KindResource}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrNotFound   = &Error{Kind: KindNotFound}

	ErrRoundNotRunning   = &Error{Kind: KindState, Msg: "round not running"}
	ErrAlreadySettled    = &Error{Kind: KindState, Msg: "already settled"}
	ErrNotMatured        = &Error{Kind: KindState, Msg: "not matured"}
	ErrAlreadySolved     = &Error{Kind: KindState, Msg: "already solved"}
	ErrInsufficientFunds = &Error{Kind: KindResource, Msg: "insufficient funds"}
	ErrCapReached        = &Error{Kind: KindResource, Msg: "cap reached"}
	ErrNoHolding         = &Error{Kind: KindResource, Msg: "no holding"}
	ErrAlreadyOwned      = &Error{Kind: KindResource, Msg: "already owned"}
	ErrNotOwner          = &Error{Kind: KindResource, Msg: "not owner"}
	ErrNoOpenSession     = &Error{Kind: KindNotFound, Msg: "no open session"}

	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
)

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func State(format string, args ...any) error {
	return &Error{Kind: KindState, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// KindOf reports the domain kind of err, or 0 when err is not a domain error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

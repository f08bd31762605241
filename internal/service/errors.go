package service

import (
	"errors"
	"fmt"
)

// Kind classifies failures for the transport layer.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error carries a Kind, the failing operation and a message that is safe to
// return to clients. Err holds internal detail and is only logged.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the bare kind sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Msg != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrStorage    = &Error{Kind: KindStorage}
)

// Storage error causes that operators need to tell apart.
var (
	ErrOrphanedBlob       = errors.New("blob stored without metadata record")
	ErrDanglingRecord     = errors.New("metadata record without readable blob")
	ErrBlobDeleteFailed   = errors.New("blob delete failed after record removal")
	ErrInconsistentRecord = errors.New("metadata record does not describe an accepted image")
)

func validationError(op, msg string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg, Err: err}
}

func notFoundError(op string, err error) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: "image not found", Err: err}
}

func storageError(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// KindOf returns the Kind of err, or 0 when err is not a service error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// PublicMessage returns the client-safe message for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindStorage && e.Msg != "" {
		return e.Msg
	}
	return "internal server error"
}

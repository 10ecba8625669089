package roles

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks requests that can never succeed as sent, such as
	// incompatible roles or an unknown delegate.
	ErrValidation = errors.New("validation failed")
	// ErrConstraint marks requests rejected to protect a system-wide rule,
	// such as the minimum number of admins.
	ErrConstraint = errors.New("constraint violated")
)

// Error carries a kind (ErrValidation or ErrConstraint) and a message.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Unwrap lets errors.Is match the kind.
func (e *Error) Unwrap() error { return e.Kind }

func validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

func constraintf(format string, args ...any) error {
	return &Error{Kind: ErrConstraint, Msg: fmt.Sprintf(format, args...)}
}

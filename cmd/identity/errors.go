package identity

import (
	"errors"
	"fmt"
)

// OpError is a typed operation error with a stable Op + Kind contract for
// callers and tests. Kind is one of the sentinel kinds; Msg may carry
// human-readable context and must never include secrets.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// NotFoundError reports a missing user or access row.
type NotFoundError struct {
	Op       string
	Username string
}

func (e NotFoundError) Error() string {
	if e.Username == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrNotFound)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrNotFound, e.Username)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// AlreadyExistsError reports a duplicate registration (username uniqueness).
type AlreadyExistsError struct {
	Op       string
	Username string
}

func (e AlreadyExistsError) Error() string {
	if e.Username == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrAlreadyExists)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrAlreadyExists, e.Username)
}

func (e AlreadyExistsError) Unwrap() error { return ErrAlreadyExists }

// IsNotFound reports whether err represents ErrNotFound (including NotFoundError).
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAlreadyExists reports whether err represents ErrAlreadyExists.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

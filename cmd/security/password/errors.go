package password

import "errors"

// Public, stable errors for callers.
var (
	ErrPasswordEmpty   = errors.New("password empty")
	ErrPasswordTooLong = errors.New("password too long")
	ErrInvalidHash     = errors.New("invalid password hash")
	ErrConfig          = errors.New("invalid password config")
)

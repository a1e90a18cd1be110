package session

import "errors"

var (
	// ErrInvalidCredentials is returned by Login whenever the username or the
	// password is wrong. The message is deliberately generic so that login
	// failures do not reveal whether the username exists.
	ErrInvalidCredentials = errors.New("Cannot login. Username/password is incorrect.")

	// ErrInvalidToken is returned when an access token fails validation.
	ErrInvalidToken = errors.New("Access token is invalid.")

	// ErrDeactivated is returned when an operation requires an activated
	// account and reactivation on login is disabled.
	ErrDeactivated = errors.New("Account has been deactivated.")

	// ErrNotFound is returned when an operation names a user that does not exist.
	ErrNotFound = errors.New("user not found")

	// ErrAlreadyExists is returned by Register when the username is taken.
	ErrAlreadyExists = errors.New("user already exists")

	// ErrRefreshExpired is returned when an access extension is requested but
	// the backing refresh token has lapsed.
	ErrRefreshExpired = errors.New("refresh token has expired")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// ValidationError carries the client-facing message for a rejected
// username/password pair.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

// IsValidation reports whether err is a credential validation failure.
func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

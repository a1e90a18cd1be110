package identity

import (
	"context"
	"time"
)

// DefaultTheme is the UI theme assigned to freshly created users.
const DefaultTheme = "ocean"

// UserRecord is the canonical user row.
//
// RefreshToken and RefreshExpiry are set together or not at all: a user with
// a live (unexpired) refresh token is activated; clearing the refresh fields
// is how deactivation and lapse are recorded. Expiry is evaluated lazily by
// the lifecycle manager, never by a background sweep.
type UserRecord struct {
	Username       string
	PasswordDigest string
	RefreshToken   *string
	RefreshExpiry  *time.Time
	Activated      bool
	Theme          string
}

// AccessRecord is the access-token row. At most one exists per username;
// its absence means the user must derive a new access token from a valid
// refresh token.
type AccessRecord struct {
	Username     string
	AccessToken  string
	AccessExpiry time.Time
}

// Store is the credential persistence boundary.
//
// Row-level operations are atomic with respect to the rows they touch.
// The composite operations (CreateActivated, Activate, ClearRefresh,
// Deactivate, Delete) span both tables and must commit all-or-nothing;
// the Postgres implementation wraps each in a single transaction, the
// in-memory implementation holds its mutex across the whole composite.
type Store interface {
	// Exists reports whether a user row exists for username.
	Exists(ctx context.Context, username string) (bool, error)

	// Create inserts a new, not-yet-activated user row.
	// Returns AlreadyExistsError if the username is taken.
	Create(ctx context.Context, username, passwordDigest string) error

	// Read loads the user row. Returns NotFoundError if absent.
	Read(ctx context.Context, username string) (UserRecord, error)

	// WriteRefresh sets the refresh token and its expiry.
	WriteRefresh(ctx context.Context, username, token string, expiry time.Time) error

	// ClearRefresh clears the refresh fields and deletes the access row in
	// one composite (the cascade for a lapsed refresh token). The activated
	// flag is left untouched.
	ClearRefresh(ctx context.Context, username string) error

	// SetActivated flips the activated flag.
	SetActivated(ctx context.Context, username string, activated bool) error

	// SetTheme updates the user's theme setting.
	SetTheme(ctx context.Context, username, theme string) error

	// ReadAccess loads the access row. Returns NotFoundError if absent.
	ReadAccess(ctx context.Context, username string) (AccessRecord, error)

	// WriteAccess upserts the access row.
	WriteAccess(ctx context.Context, username, token string, expiry time.Time) error

	// DeleteAccess removes the access row; deleting an absent row is a no-op.
	DeleteAccess(ctx context.Context, username string) error

	// UsernameForAccessToken resolves the owner of an access token.
	// Returns NotFoundError if no access row carries the token.
	UsernameForAccessToken(ctx context.Context, accessToken string) (string, error)

	// CreateActivated inserts a user row and activates it (refresh fields,
	// activated flag, access row) as a single composite. This is the
	// registration path: a failure must not leave a half-registered user.
	CreateActivated(ctx context.Context, in ActivateInput, passwordDigest string) error

	// Activate sets the refresh fields, marks the user activated, and
	// upserts the access row as a single composite.
	Activate(ctx context.Context, in ActivateInput) error

	// Deactivate clears the refresh fields, marks the user deactivated, and
	// deletes the access row as a single composite. Deactivating an already
	// deactivated user is a no-op, not an error.
	Deactivate(ctx context.Context, username string) error

	// Delete removes the access row and the user row as a single composite.
	// Returns NotFoundError if the user is absent.
	Delete(ctx context.Context, username string) error
}

// ActivateInput carries the token material for activation composites.
// The lifecycle manager generates tokens and computes expiries; the store
// only persists them.
type ActivateInput struct {
	Username      string
	RefreshToken  string
	RefreshExpiry time.Time
	AccessToken   string
	AccessExpiry  time.Time
}

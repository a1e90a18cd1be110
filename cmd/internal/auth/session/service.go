package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vision/cmd/identity"
	"vision/cmd/security/password"
	"vision/cmd/security/token"
)

// Service implements the high-level credential lifecycle for Vision.
//
// It registers and authenticates users, manages the activation state machine,
// and issues, validates, and extends opaque tokens. All time-dependent
// operations take an explicit now so that expiry behaviour is deterministic
// under test.
type Service struct {
	cfg       Config
	store     identity.Store
	passwords password.Config
	log       *slog.Logger

	// revoked, when set, is called after a user's access row is removed
	// (lazy expiry, refresh lapse, deactivation, deletion). The realtime
	// layer uses it to force-close that user's live connections.
	revoked func(username string)
}

// Grant is the result of a successful registration or login.
type Grant struct {
	Username     string
	AccessToken  string
	AccessExpiry time.Time
	RefreshToken string
}

// NewService constructs a Service over the given store.
func NewService(cfg Config, store identity.Store, passwords password.Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, store: store, passwords: passwords, log: log}
}

// OnRevoke registers the hook invoked after a user loses their access row.
// Must be called before the service handles traffic.
func (s *Service) OnRevoke(fn func(username string)) { s.revoked = fn }

func (s *Service) notifyRevoked(username string) {
	if s.revoked != nil {
		s.revoked(username)
	}
}

// Register creates a new user in the activated state and returns their
// initial tokens. The failure of any step leaves no trace of the user.
func (s *Service) Register(ctx context.Context, now time.Time, username, pass string) (Grant, error) {
	if ok, err := s.store.Exists(ctx, username); err != nil {
		return Grant{}, err
	} else if ok {
		return Grant{}, fmt.Errorf("user %q: %w", username, ErrAlreadyExists)
	}

	if err := validateCredentials(username, pass, s.cfg.MaxUsernameLen, s.passwords.Policy.MaxLength); err != nil {
		return Grant{}, err
	}

	digest, err := s.passwords.Hash(pass)
	if err != nil {
		return Grant{}, err
	}

	in, err := s.newActivation(username, now)
	if err != nil {
		return Grant{}, err
	}

	if err := s.store.CreateActivated(ctx, in, digest); err != nil {
		if identity.IsAlreadyExists(err) {
			return Grant{}, fmt.Errorf("user %q: %w", username, ErrAlreadyExists)
		}
		return Grant{}, err
	}

	s.log.InfoContext(ctx, "session.register", "username", username)
	return grantFrom(in), nil
}

// Login verifies the password and ensures the user holds live tokens.
//
// With a live refresh token the existing access token is extended (or a new
// one minted if it lapsed). With a lapsed refresh token, or a deactivated
// account when reactivation is allowed, the user is re-activated with fresh
// tokens. Wrong username and wrong password are indistinguishable to the
// caller.
func (s *Service) Login(ctx context.Context, now time.Time, username, pass string) (Grant, error) {
	u, err := s.store.Read(ctx, username)
	if identity.IsNotFound(err) {
		return Grant{}, ErrInvalidCredentials
	}
	if err != nil {
		return Grant{}, err
	}

	ok, err := s.passwords.Verify(u.PasswordDigest, pass)
	if err != nil || !ok {
		return Grant{}, ErrInvalidCredentials
	}

	live, err := s.refreshLive(ctx, now, u)
	if err != nil {
		return Grant{}, err
	}

	if !live {
		// Explicit deactivation is distinguishable from a lapsed refresh
		// token: the activated flag survives a lapse.
		if !u.Activated && !s.cfg.AllowLoginReactivation {
			return Grant{}, ErrDeactivated
		}
		in, err := s.newActivation(username, now)
		if err != nil {
			return Grant{}, err
		}
		if err := s.store.Activate(ctx, in); err != nil {
			return Grant{}, err
		}
		s.log.InfoContext(ctx, "session.login.reactivate", "username", username)
		return grantFrom(in), nil
	}

	// Refresh token is live: reuse or mint the access token, then extend.
	acc, err := s.liveAccess(ctx, now, username)
	if err != nil {
		return Grant{}, err
	}
	if acc == nil {
		tok, err := token.New()
		if err != nil {
			return Grant{}, err
		}
		exp, err := s.computeAccessExpiry(ctx, now, username)
		if err != nil {
			return Grant{}, err
		}
		if err := s.store.WriteAccess(ctx, username, tok, exp); err != nil {
			return Grant{}, err
		}
		acc = &identity.AccessRecord{Username: username, AccessToken: tok, AccessExpiry: exp}
	}

	exp, err := s.ExtendAccess(ctx, now, username, acc.AccessToken)
	if err != nil {
		return Grant{}, err
	}

	s.log.InfoContext(ctx, "session.login", "username", username)
	return Grant{
		Username:     username,
		AccessToken:  acc.AccessToken,
		AccessExpiry: exp,
		RefreshToken: refreshTokenOf(u),
	}, nil
}

// ValidateAccess reports whether the presented access token is the user's
// current, unexpired one. An expired access row is deleted on the spot.
func (s *Service) ValidateAccess(ctx context.Context, now time.Time, username, accessToken string) (bool, error) {
	u, err := s.store.Read(ctx, username)
	if identity.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !u.Activated {
		return false, nil
	}

	acc, err := s.liveAccess(ctx, now, username)
	if err != nil {
		return false, err
	}
	if acc == nil {
		return false, nil
	}
	return token.Equal(acc.AccessToken, accessToken), nil
}

// ValidateRefresh reports whether the presented refresh token is the user's
// current, unexpired one. A lapsed refresh token is cleared on the spot,
// which also removes the access row.
func (s *Service) ValidateRefresh(ctx context.Context, now time.Time, username, refreshToken string) (bool, error) {
	u, err := s.store.Read(ctx, username)
	if identity.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !u.Activated {
		return false, nil
	}

	live, err := s.refreshLive(ctx, now, u)
	if err != nil {
		return false, err
	}
	if !live || u.RefreshToken == nil {
		return false, nil
	}
	return token.Equal(*u.RefreshToken, refreshToken), nil
}

// ExtendAccess pushes the access token's expiry forward and returns the new
// expiry. The extension never shortens the current expiry and never exceeds
// the refresh token's expiry.
func (s *Service) ExtendAccess(ctx context.Context, now time.Time, username, accessToken string) (time.Time, error) {
	ok, err := s.ValidateAccess(ctx, now, username, accessToken)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, ErrInvalidToken
	}

	exp, err := s.computeAccessExpiry(ctx, now, username)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.store.WriteAccess(ctx, username, accessToken, exp); err != nil {
		return time.Time{}, err
	}
	return exp, nil
}

// UsernameForAccess resolves the owner of an access token, without checking
// its expiry. Callers that need a liveness guarantee follow up with
// ValidateAccess.
func (s *Service) UsernameForAccess(ctx context.Context, accessToken string) (string, error) {
	username, err := s.store.UsernameForAccessToken(ctx, accessToken)
	if identity.IsNotFound(err) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", err
	}
	return username, nil
}

// AuthorizeAccess resolves and validates an access token in one step,
// returning the owning username.
func (s *Service) AuthorizeAccess(ctx context.Context, now time.Time, accessToken string) (string, error) {
	username, err := s.UsernameForAccess(ctx, accessToken)
	if err != nil {
		return "", err
	}
	ok, err := s.ValidateAccess(ctx, now, username, accessToken)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrInvalidToken
	}
	return username, nil
}

// Info returns the user's current token material. Expired tokens are pruned
// first, so absent fields come back empty.
func (s *Service) Info(ctx context.Context, now time.Time, username string) (Grant, error) {
	u, err := s.store.Read(ctx, username)
	if identity.IsNotFound(err) {
		return Grant{}, ErrNotFound
	}
	if err != nil {
		return Grant{}, err
	}

	if _, err := s.refreshLive(ctx, now, u); err != nil {
		return Grant{}, err
	}
	acc, err := s.liveAccess(ctx, now, username)
	if err != nil {
		return Grant{}, err
	}

	g := Grant{Username: username, RefreshToken: refreshTokenOf(u)}
	if acc != nil {
		g.AccessToken = acc.AccessToken
		g.AccessExpiry = acc.AccessExpiry
	}
	return g, nil
}

// Activate restores a deactivated (or lapsed) account to the active state
// with a fresh token pair, without requiring the password. This is the
// administrative counterpart to the reactivation Login performs; it works
// even when login reactivation is disabled.
func (s *Service) Activate(ctx context.Context, now time.Time, username string) (Grant, error) {
	if _, err := s.store.Read(ctx, username); err != nil {
		if identity.IsNotFound(err) {
			return Grant{}, ErrNotFound
		}
		return Grant{}, err
	}

	in, err := s.newActivation(username, now)
	if err != nil {
		return Grant{}, err
	}
	if err := s.store.Activate(ctx, in); err != nil {
		return Grant{}, err
	}

	s.log.InfoContext(ctx, "session.activate", "username", username)
	return grantFrom(in), nil
}

// Deactivate clears the user's tokens and marks the account deactivated.
// Deactivating an absent or already deactivated user is a no-op.
func (s *Service) Deactivate(ctx context.Context, username string) error {
	if err := s.store.Deactivate(ctx, username); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "session.deactivate", "username", username)
	s.notifyRevoked(username)
	return nil
}

// Delete removes the user entirely.
func (s *Service) Delete(ctx context.Context, username string) error {
	err := s.store.Delete(ctx, username)
	if identity.IsNotFound(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	s.log.InfoContext(ctx, "session.delete", "username", username)
	s.notifyRevoked(username)
	return nil
}

// Theme returns the user's stored theme.
func (s *Service) Theme(ctx context.Context, username string) (string, error) {
	u, err := s.store.Read(ctx, username)
	if identity.IsNotFound(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return u.Theme, nil
}

// SetTheme updates the user's stored theme.
func (s *Service) SetTheme(ctx context.Context, username, theme string) error {
	err := s.store.SetTheme(ctx, username, theme)
	if identity.IsNotFound(err) {
		return ErrNotFound
	}
	return err
}

// newActivation mints a fresh refresh/access token pair for username. The
// access expiry never exceeds the refresh expiry, even when the Config was
// built by hand rather than through LoadConfigFromEnv.
func (s *Service) newActivation(username string, now time.Time) (identity.ActivateInput, error) {
	refresh, err := token.New()
	if err != nil {
		return identity.ActivateInput{}, err
	}
	access, err := token.New()
	if err != nil {
		return identity.ActivateInput{}, err
	}

	refreshExp := now.Add(s.cfg.RefreshTTL)
	accessExp := now.Add(s.cfg.AccessTTL)
	if accessExp.After(refreshExp) {
		accessExp = refreshExp
	}

	return identity.ActivateInput{
		Username:      username,
		RefreshToken:  refresh,
		RefreshExpiry: refreshExp,
		AccessToken:   access,
		AccessExpiry:  accessExp,
	}, nil
}

// refreshLive reports whether u holds an unexpired refresh token. A lapsed
// token is cleared as a side effect, cascading to the access row; the
// activated flag is left alone so that an explicit deactivation remains
// distinguishable.
func (s *Service) refreshLive(ctx context.Context, now time.Time, u identity.UserRecord) (bool, error) {
	if !u.Activated || u.RefreshToken == nil || u.RefreshExpiry == nil {
		return false, nil
	}
	if now.Before(*u.RefreshExpiry) {
		return true, nil
	}

	if err := s.store.ClearRefresh(ctx, u.Username); err != nil {
		return false, err
	}
	s.log.InfoContext(ctx, "session.refresh.lapsed", "username", u.Username)
	s.notifyRevoked(u.Username)
	return false, nil
}

// liveAccess returns the user's access row if it exists and is unexpired.
// An expired row is deleted as a side effect and nil is returned.
func (s *Service) liveAccess(ctx context.Context, now time.Time, username string) (*identity.AccessRecord, error) {
	acc, err := s.store.ReadAccess(ctx, username)
	if identity.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if now.Before(acc.AccessExpiry) {
		return &acc, nil
	}

	if err := s.store.DeleteAccess(ctx, username); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "session.access.lapsed", "username", username)
	s.notifyRevoked(username)
	return nil, nil
}

// computeAccessExpiry returns min(refreshExpiry, max(now+AccessTTL,
// currentAccessExpiry)): extensions are monotonic but capped by the refresh
// token's lifetime.
func (s *Service) computeAccessExpiry(ctx context.Context, now time.Time, username string) (time.Time, error) {
	u, err := s.store.Read(ctx, username)
	if err != nil {
		return time.Time{}, err
	}
	if u.RefreshToken == nil || u.RefreshExpiry == nil || !now.Before(*u.RefreshExpiry) {
		return time.Time{}, ErrRefreshExpired
	}

	exp := now.Add(s.cfg.AccessTTL)
	if acc, err := s.store.ReadAccess(ctx, username); err == nil && acc.AccessExpiry.After(exp) {
		exp = acc.AccessExpiry
	} else if err != nil && !identity.IsNotFound(err) {
		return time.Time{}, err
	}

	if exp.After(*u.RefreshExpiry) {
		exp = *u.RefreshExpiry
	}
	return exp, nil
}

func grantFrom(in identity.ActivateInput) Grant {
	return Grant{
		Username:     in.Username,
		AccessToken:  in.AccessToken,
		AccessExpiry: in.AccessExpiry,
		RefreshToken: in.RefreshToken,
	}
}

func refreshTokenOf(u identity.UserRecord) string {
	if u.RefreshToken == nil {
		return ""
	}
	return *u.RefreshToken
}

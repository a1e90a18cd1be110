package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"vision/cmd/identity"
	"vision/cmd/security/password"
)

func testService(t *testing.T) (*Service, *identity.MemoryStore) {
	t.Helper()

	store := identity.NewMemoryStore()
	pw := password.DefaultConfig()
	pw.Params.Rounds = 10 // keep unit tests fast
	log := slog.New(slog.DiscardHandler)
	return NewService(DefaultConfig(), store, pw, log), store
}

func testClock() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestRegister_IssuesLiveTokens(t *testing.T) {
	ctx := context.Background()
	now := testClock()
	s, _ := testService(t)

	g, err := s.Register(ctx, now, "dave", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if g.Username != "dave" || g.AccessToken == "" || g.RefreshToken == "" {
		t.Fatalf("incomplete grant: %+v", g)
	}
	if want := now.Add(24 * time.Hour); !g.AccessExpiry.Equal(want) {
		t.Fatalf("access expiry = %v, want %v", g.AccessExpiry, want)
	}

	ok, err := s.ValidateAccess(ctx, now, "dave", g.AccessToken)
	if err != nil || !ok {
		t.Fatalf("ValidateAccess right after register = (%v, %v)", ok, err)
	}
	ok, err = s.ValidateRefresh(ctx, now, "dave", g.RefreshToken)
	if err != nil || !ok {
		t.Fatalf("ValidateRefresh right after register = (%v, %v)", ok, err)
	}

	if _, err := s.Register(ctx, now, "dave", "password123"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate Register = %v, want ErrAlreadyExists", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	ctx := context.Background()
	now := testClock()
	s, _ := testService(t)

	cases := []struct {
		name     string
		username string
		password string
		wantMsg  string
	}{
		{"empty username", "", "pw", "Username cannot be empty."},
		{"empty password", "dave", "", "Password cannot be empty."},
		{"long username", "abcdefghijklmnopqrstu", "pw", "Username too long (max: 20 characters)."},
		{"symbol in username", "dave!", "pw", "Username should be alphanumeric."},
		{"control char in password", "dave", "pw\x01", "Invalid character in password."},
		{"non-ascii password", "dave", "pässword", "Invalid character in password."},
		{"long password", "dave", strings.Repeat("a", 257), "Password too long (max: 256 characters)."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Register(ctx, now, tc.username, tc.password)
			if !IsValidation(err) {
				t.Fatalf("Register = %v, want ValidationError", err)
			}
			if err.Error() != tc.wantMsg {
				t.Fatalf("message = %q, want %q", err.Error(), tc.wantMsg)
			}
		})
	}

	// Nothing should have been persisted for the rejected usernames.
	if _, err := s.Info(ctx, now, "dave"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rejected registration left a user behind: %v", err)
	}
}

func TestLogin_WrongCredentialsIndistinguishable(t *testing.T) {
	ctx := context.Background()
	now := testClock()
	s, _ := testService(t)

	if _, err := s.Register(ctx, now, "dave", "password123"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, errUnknownUser := s.Login(ctx, now, "ghost", "password123")
	_, errWrongPassword := s.Login(ctx, now, "dave", "wrong")

	if !errors.Is(errUnknownUser, ErrInvalidCredentials) {
		t.Fatalf("unknown user login = %v", errUnknownUser)
	}
	if !errors.Is(errWrongPassword, ErrInvalidCredentials) {
		t.Fatalf("wrong password login = %v", errWrongPassword)
	}
	if errUnknownUser.Error() != errWrongPassword.Error() {
		t.Fatalf("login errors differ: %q vs %q", errUnknownUser, errWrongPassword)
	}
}

func TestLogin_ExtendsExistingAccessToken(t *testing.T) {
	ctx := context.Background()
	now := testClock()
	s, _ := testService(t)

	g, err := s.Register(ctx, now, "dave", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	later := now.Add(6 * time.Hour)
	g2, err := s.Login(ctx, later, "dave", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if g2.AccessToken != g.AccessToken {
		t.Fatalf("login minted a new access token while the old one was live")
	}
	if g2.RefreshToken != g.RefreshToken {
		t.Fatalf("login rotated the refresh token while it was live")
	}
	if want := later.Add(24 * time.Hour); !g2.AccessExpiry.Equal(want) {
		t.Fatalf("extended expiry = %v, want %v", g2.AccessExpiry, want)
	}
}

func TestLogin_MintsAccessAfterAccessLapse(t *testing.T) {
	ctx := context.Background()
	now := testClock()
	s, _ := testService(t)

	g, err := s.Register(ctx, now, "dave", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Past the access TTL but well within the refresh TTL.
	later := now.Add(48 * time.Hour)
	g2, err := s.Login(ctx, later, "dave", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if g2.AccessToken == g.AccessToken {
		t.Fatalf("expired access token was reused")
	}
	if g2.RefreshToken != g.RefreshToken {
		t.Fatalf("refresh token rotated while still live")
	}
	if ok, _ := s.ValidateAccess(ctx, later, "dave", g.AccessToken); ok {
		t.Fatalf("old access token still validates")
	}
	if ok, _ := s.ValidateAccess(ctx, later, "dave", g2.AccessToken); !ok {
		t.Fatalf("new access token does not validate")
	}
}

func TestLogin_ReactivatesAfterRefreshLapse(t *testing.T) {
	ctx := context.Background()
	now := testClock()
	s, _ := testService(t)

	g, err := s.Register(ctx, now, "dave", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	later := now.Add(61 * 24 * time.Hour)

	// The lapsed refresh token no longer validates, and checking it clears
	// the refresh fields.
	if ok, err := s.ValidateRefresh(ctx, later, "dave", g.RefreshToken); err != nil || ok {
		t.Fatalf("lapsed refresh validates = (%v, %v)", ok, err)
	}

	g2, err := s.Login(ctx, later, "dave", "password123")
	if err != nil {
		t.Fatalf("Login after lapse: %v", err)
	}
	if g2.RefreshToken == g.RefreshToken || g2.RefreshToken == "" {
		t.Fatalf("lapse login did not rotate the refresh token")
	}
	if ok, _ := s.ValidateAccess(ctx, later, "dave", g2.AccessToken); !ok {
		t.Fatalf("fresh access token does not validate")
	}
}

func TestLogin_DeactivatedAccount(t *testing.T) {
	ctx := context.Background()
	now := testClock()
	s, _ := testService(t)

	if _, err := s.Register(ctx, now, "dave", "password123"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Deactivate(ctx, "dave"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	// Default config: login reactivates.
	g, err := s.Login(ctx, now, "dave", "password123")
	if err != nil {
		t.Fatalf("Login after deactivate: %v", err)
	}
	if ok, _ := s.ValidateAccess(ctx, now, "dave", g.AccessToken); !ok {
		t.Fatalf("reactivated access token does not validate")
	}

	// With reactivation off, the same login is refused.
	s2, store2 := testService(t)
	s2.cfg.AllowLoginReactivation = false
	_ = store2
	if _, err := s2.Register(ctx, now, "erin", "password123"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s2.Deactivate(ctx, "erin"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := s2.Login(ctx, now, "erin", "password123"); !errors.Is(err, ErrDeactivated) {
		t.Fatalf("Login with reactivation off = %v, want ErrDeactivated", err)
	}
}

func TestActivate_RestoresDeactivatedAccount(t *testing.T) {
	ctx := context.Background()
	now := testClock()
	s, _ := testService(t)
	s.cfg.AllowLoginReactivation = false

	if _, err := s.Register(ctx, now, "dave", "password123"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Deactivate(ctx, "dave"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	// Login cannot bring the account back when reactivation is off, but an
	// administrative Activate can.
	if _, err := s.Login(ctx, now, "dave", "password123"); !errors.Is(err, ErrDeactivated) {
		t.Fatalf("Login while deactivated = %v, want ErrDeactivated", err)
	}

	g, err := s.Activate(ctx, now, "dave")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if g.AccessToken == "" || g.RefreshToken == "" {
		t.Fatalf("incomplete grant after Activate: %+v", g)
	}
	if ok, err := s.ValidateAccess(ctx, now, "dave", g.AccessToken); err != nil || !ok {
		t.Fatalf("ValidateAccess after Activate = (%v, %v)", ok, err)
	}
	if _, err := s.Login(ctx, now, "dave", "password123"); err != nil {
		t.Fatalf("Login after Activate: %v", err)
	}

	if _, err := s.Activate(ctx, now, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Activate for unknown user = %v, want ErrNotFound", err)
	}
}

func TestRegister_AccessExpiryCappedByRefreshExpiry(t *testing.T) {
	ctx := context.Background()
	now := testClock()

	pw := password.DefaultConfig()
	pw.Params.Rounds = 10
	cfg := Config{
		AccessTTL:              48 * time.Hour,
		RefreshTTL:             24 * time.Hour,
		MaxUsernameLen:         20,
		AllowLoginReactivation: true,
	}
	s := NewService(cfg, identity.NewMemoryStore(), pw, slog.New(slog.DiscardHandler))

	g, err := s.Register(ctx, now, "dave", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if want := now.Add(24 * time.Hour); !g.AccessExpiry.Equal(want) {
		t.Fatalf("access expiry = %v, want capped at refresh expiry %v", g.AccessExpiry, want)
	}
}

func TestExtendAccess_MonotonicAndCapped(t *testing.T) {
	ctx := context.Background()
	now := testClock()
	s, _ := testService(t)

	g, err := s.Register(ctx, now, "dave", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Extending at a later time pushes the expiry forward.
	exp1, err := s.ExtendAccess(ctx, now.Add(time.Hour), "dave", g.AccessToken)
	if err != nil {
		t.Fatalf("ExtendAccess: %v", err)
	}
	if want := now.Add(25 * time.Hour); !exp1.Equal(want) {
		t.Fatalf("extended expiry = %v, want %v", exp1, want)
	}

	// Extending at an earlier effective time never shortens it.
	exp2, err := s.ExtendAccess(ctx, now, "dave", g.AccessToken)
	if err != nil {
		t.Fatalf("ExtendAccess: %v", err)
	}
	if exp2.Before(exp1) {
		t.Fatalf("expiry moved backwards: %v -> %v", exp1, exp2)
	}

	// Near the end of the refresh window the extension is capped at the
	// refresh expiry.
	nearEnd := now.Add(60*24*time.Hour - time.Hour)
	exp3, err := s.ExtendAccess(ctx, nearEnd, "dave", g.AccessToken)
	if err != nil {
		t.Fatalf("ExtendAccess near refresh expiry: %v", err)
	}
	if want := now.Add(60 * 24 * time.Hour); !exp3.Equal(want) {
		t.Fatalf("capped expiry = %v, want refresh expiry %v", exp3, want)
	}

	if _, err := s.ExtendAccess(ctx, nearEnd, "dave", "not-the-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ExtendAccess with wrong token = %v, want ErrInvalidToken", err)
	}
}

func TestValidateAccess_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	now := testClock()
	s, store := testService(t)

	g, err := s.Register(ctx, now, "dave", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	later := now.Add(25 * time.Hour)
	ok, err := s.ValidateAccess(ctx, later, "dave", g.AccessToken)
	if err != nil || ok {
		t.Fatalf("expired access validates = (%v, %v)", ok, err)
	}

	// The expired row is gone, not just ignored.
	if _, err := store.ReadAccess(ctx, "dave"); !identity.IsNotFound(err) {
		t.Fatalf("expired access row not deleted: %v", err)
	}

	// Unknown users validate false without error.
	ok, err = s.ValidateAccess(ctx, now, "ghost", g.AccessToken)
	if err != nil || ok {
		t.Fatalf("unknown user validates = (%v, %v)", ok, err)
	}
}

func TestAuthorizeAccess(t *testing.T) {
	ctx := context.Background()
	now := testClock()
	s, _ := testService(t)

	g, err := s.Register(ctx, now, "dave", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	username, err := s.AuthorizeAccess(ctx, now, g.AccessToken)
	if err != nil || username != "dave" {
		t.Fatalf("AuthorizeAccess = (%q, %v)", username, err)
	}

	if _, err := s.AuthorizeAccess(ctx, now, "bogus"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("AuthorizeAccess with bogus token = %v, want ErrInvalidToken", err)
	}

	// Expired tokens resolve but do not authorize.
	if _, err := s.AuthorizeAccess(ctx, now.Add(25*time.Hour), g.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("AuthorizeAccess with expired token = %v, want ErrInvalidToken", err)
	}
}

func TestDeactivate_IdempotentAndRevokes(t *testing.T) {
	ctx := context.Background()
	now := testClock()
	s, _ := testService(t)

	var revoked []string
	s.OnRevoke(func(username string) { revoked = append(revoked, username) })

	g, err := s.Register(ctx, now, "dave", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.Deactivate(ctx, "dave"); err != nil {
			t.Fatalf("Deactivate #%d: %v", i+1, err)
		}
	}
	if err := s.Deactivate(ctx, "ghost"); err != nil {
		t.Fatalf("Deactivate unknown user: %v", err)
	}

	if ok, _ := s.ValidateAccess(ctx, now, "dave", g.AccessToken); ok {
		t.Fatalf("access token survives deactivation")
	}
	if len(revoked) < 2 || revoked[0] != "dave" {
		t.Fatalf("revocation hook calls = %v", revoked)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	now := testClock()
	s, _ := testService(t)

	if _, err := s.Register(ctx, now, "dave", "password123"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Delete(ctx, "dave"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "dave"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
	if _, err := s.Info(ctx, now, "dave"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Info after Delete = %v, want ErrNotFound", err)
	}
}

func TestThemeRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := testClock()
	s, _ := testService(t)

	if _, err := s.Register(ctx, now, "dave", "password123"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	theme, err := s.Theme(ctx, "dave")
	if err != nil || theme != identity.DefaultTheme {
		t.Fatalf("default theme = (%q, %v)", theme, err)
	}
	if err := s.SetTheme(ctx, "dave", "midnight"); err != nil {
		t.Fatalf("SetTheme: %v", err)
	}
	theme, err = s.Theme(ctx, "dave")
	if err != nil || theme != "midnight" {
		t.Fatalf("updated theme = (%q, %v)", theme, err)
	}
	if err := s.SetTheme(ctx, "ghost", "midnight"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetTheme unknown user = %v, want ErrNotFound", err)
	}
}

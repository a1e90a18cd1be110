package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store implementation used when no database is
// configured (dev) and by unit tests. The mutex is held for the duration of
// every operation, including composites, which gives the same all-or-nothing
// visibility as the Postgres transactions.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*memUser
}

type memUser struct {
	user   UserRecord
	access *AccessRecord
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*memUser)}
}

func (s *MemoryStore) Exists(ctx context.Context, username string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.users[username]
	return ok, nil
}

func (s *MemoryStore) Create(ctx context.Context, username, passwordDigest string) error {
	const op = "identity.Create"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(username) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty username"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; ok {
		return AlreadyExistsError{Op: op, Username: username}
	}

	s.users[username] = &memUser{
		user: UserRecord{
			Username:       username,
			PasswordDigest: passwordDigest,
			Theme:          DefaultTheme,
		},
	}
	return nil
}

func (s *MemoryStore) Read(ctx context.Context, username string) (UserRecord, error) {
	const op = "identity.Read"

	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return UserRecord{}, NotFoundError{Op: op, Username: username}
	}
	return copyUser(u.user), nil
}

func (s *MemoryStore) WriteRefresh(ctx context.Context, username, token string, expiry time.Time) error {
	const op = "identity.WriteRefresh"

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return NotFoundError{Op: op, Username: username}
	}

	tok := token
	exp := expiry
	u.user.RefreshToken = &tok
	u.user.RefreshExpiry = &exp
	return nil
}

func (s *MemoryStore) ClearRefresh(ctx context.Context, username string) error {
	const op = "identity.ClearRefresh"

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return NotFoundError{Op: op, Username: username}
	}

	u.user.RefreshToken = nil
	u.user.RefreshExpiry = nil
	u.access = nil
	return nil
}

func (s *MemoryStore) SetActivated(ctx context.Context, username string, activated bool) error {
	const op = "identity.SetActivated"

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return NotFoundError{Op: op, Username: username}
	}
	u.user.Activated = activated
	return nil
}

func (s *MemoryStore) SetTheme(ctx context.Context, username, theme string) error {
	const op = "identity.SetTheme"

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return NotFoundError{Op: op, Username: username}
	}
	u.user.Theme = theme
	return nil
}

func (s *MemoryStore) ReadAccess(ctx context.Context, username string) (AccessRecord, error) {
	const op = "identity.ReadAccess"

	if err := ctx.Err(); err != nil {
		return AccessRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok || u.access == nil {
		return AccessRecord{}, NotFoundError{Op: op, Username: username}
	}
	return *u.access, nil
}

func (s *MemoryStore) WriteAccess(ctx context.Context, username, token string, expiry time.Time) error {
	const op = "identity.WriteAccess"

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return NotFoundError{Op: op, Username: username}
	}
	u.access = &AccessRecord{Username: username, AccessToken: token, AccessExpiry: expiry}
	return nil
}

func (s *MemoryStore) DeleteAccess(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[username]; ok {
		u.access = nil
	}
	return nil
}

func (s *MemoryStore) UsernameForAccessToken(ctx context.Context, accessToken string) (string, error) {
	const op = "identity.UsernameForAccessToken"

	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.access != nil && u.access.AccessToken == accessToken {
			return u.user.Username, nil
		}
	}
	return "", NotFoundError{Op: op}
}

func (s *MemoryStore) CreateActivated(ctx context.Context, in ActivateInput, passwordDigest string) error {
	const op = "identity.CreateActivated"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(in.Username) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty username"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[in.Username]; ok {
		return AlreadyExistsError{Op: op, Username: in.Username}
	}

	u := &memUser{
		user: UserRecord{
			Username:       in.Username,
			PasswordDigest: passwordDigest,
			Theme:          DefaultTheme,
		},
	}
	applyActivation(u, in)
	s.users[in.Username] = u
	return nil
}

func (s *MemoryStore) Activate(ctx context.Context, in ActivateInput) error {
	const op = "identity.Activate"

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[in.Username]
	if !ok {
		return NotFoundError{Op: op, Username: in.Username}
	}
	applyActivation(u, in)
	return nil
}

func (s *MemoryStore) Deactivate(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return nil
	}
	u.user.RefreshToken = nil
	u.user.RefreshExpiry = nil
	u.user.Activated = false
	u.access = nil
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, username string) error {
	const op = "identity.Delete"

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return NotFoundError{Op: op, Username: username}
	}
	delete(s.users, username)
	return nil
}

func applyActivation(u *memUser, in ActivateInput) {
	refreshTok := in.RefreshToken
	refreshExp := in.RefreshExpiry
	u.user.RefreshToken = &refreshTok
	u.user.RefreshExpiry = &refreshExp
	u.user.Activated = true
	u.access = &AccessRecord{
		Username:     in.Username,
		AccessToken:  in.AccessToken,
		AccessExpiry: in.AccessExpiry,
	}
}

func copyUser(u UserRecord) UserRecord {
	out := u
	if u.RefreshToken != nil {
		tok := *u.RefreshToken
		out.RefreshToken = &tok
	}
	if u.RefreshExpiry != nil {
		exp := *u.RefreshExpiry
		out.RefreshExpiry = &exp
	}
	return out
}

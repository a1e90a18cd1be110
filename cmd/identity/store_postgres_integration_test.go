package identity

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Integration tests are opt-in and require VISION_TEST_DATABASE_URL.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_CreateActivated_Conflict(t *testing.T) {
	t.Parallel()

	pool, s := mustOpenTestStore(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	now := time.Now().UTC()
	in := ActivateInput{
		Username:      "dave",
		RefreshToken:  "5e2f1c3a-1111-4aaa-8bbb-000000000001",
		RefreshExpiry: now.Add(60 * 24 * time.Hour),
		AccessToken:   "5e2f1c3a-2222-4aaa-8bbb-000000000002",
		AccessExpiry:  now.Add(24 * time.Hour),
	}

	if err := s.CreateActivated(ctx, in, "digest"); err != nil {
		t.Fatalf("CreateActivated: %v", err)
	}
	if err := s.CreateActivated(ctx, in, "digest"); !IsAlreadyExists(err) {
		t.Fatalf("duplicate CreateActivated = %v, want AlreadyExists", err)
	}

	u, err := s.Read(ctx, "dave")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !u.Activated || u.RefreshToken == nil || *u.RefreshToken != in.RefreshToken {
		t.Fatalf("activated user row wrong: %+v", u)
	}

	a, err := s.ReadAccess(ctx, "dave")
	if err != nil {
		t.Fatalf("ReadAccess: %v", err)
	}
	if a.AccessToken != in.AccessToken {
		t.Fatalf("access row wrong: %+v", a)
	}
}

func TestPostgresStore_DeactivateAndDelete(t *testing.T) {
	t.Parallel()

	pool, s := mustOpenTestStore(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	now := time.Now().UTC()
	in := ActivateInput{
		Username:      "erin",
		RefreshToken:  "5e2f1c3a-3333-4aaa-8bbb-000000000003",
		RefreshExpiry: now.Add(60 * 24 * time.Hour),
		AccessToken:   "5e2f1c3a-4444-4aaa-8bbb-000000000004",
		AccessExpiry:  now.Add(24 * time.Hour),
	}
	if err := s.CreateActivated(ctx, in, "digest"); err != nil {
		t.Fatalf("CreateActivated: %v", err)
	}

	owner, err := s.UsernameForAccessToken(ctx, in.AccessToken)
	if err != nil || owner != "erin" {
		t.Fatalf("UsernameForAccessToken = (%q, %v)", owner, err)
	}

	// Deactivate twice: second call is a no-op, not an error.
	for i := 0; i < 2; i++ {
		if err := s.Deactivate(ctx, "erin"); err != nil {
			t.Fatalf("Deactivate #%d: %v", i+1, err)
		}
	}

	u, err := s.Read(ctx, "erin")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if u.Activated || u.RefreshToken != nil || u.RefreshExpiry != nil {
		t.Fatalf("deactivated row wrong: %+v", u)
	}
	if _, err := s.ReadAccess(ctx, "erin"); !IsNotFound(err) {
		t.Fatalf("access row should be gone, got %v", err)
	}

	if err := s.Delete(ctx, "erin"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "erin"); !IsNotFound(err) {
		t.Fatalf("second Delete = %v, want NotFound", err)
	}
}

func TestPostgresStore_WriteAccessUpsert(t *testing.T) {
	t.Parallel()

	pool, s := mustOpenTestStore(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	now := time.Now().UTC()
	if err := s.Create(ctx, "frank", "digest"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.WriteAccess(ctx, "frank", "5e2f1c3a-5555-4aaa-8bbb-000000000005", now.Add(time.Hour)); err != nil {
		t.Fatalf("WriteAccess insert: %v", err)
	}
	if err := s.WriteAccess(ctx, "frank", "5e2f1c3a-6666-4aaa-8bbb-000000000006", now.Add(2*time.Hour)); err != nil {
		t.Fatalf("WriteAccess upsert: %v", err)
	}

	a, err := s.ReadAccess(ctx, "frank")
	if err != nil {
		t.Fatalf("ReadAccess: %v", err)
	}
	if a.AccessToken != "5e2f1c3a-6666-4aaa-8bbb-000000000006" {
		t.Fatalf("upsert did not replace token: %+v", a)
	}

	// Access rows reference users; an unknown user maps to NotFound.
	if err := s.WriteAccess(ctx, "ghost", "5e2f1c3a-7777-4aaa-8bbb-000000000007", now.Add(time.Hour)); !IsNotFound(err) {
		t.Fatalf("WriteAccess for unknown user = %v, want NotFound", err)
	}
}

// ---- helpers ----

func mustOpenTestStore(t *testing.T) (*pgxpool.Pool, *PostgresStore) {
	t.Helper()

	pool := mustOpenTestPool(t)

	schema := "vision_it_" + strings.ToLower(ulid.Make().String())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		pool.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dropCancel()
		_, _ = pool.Exec(dropCtx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	s, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return pool, s
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("VISION_TEST_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: VISION_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse VISION_TEST_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (VISION_TEST_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host") {
		return true
	}
	return false
}

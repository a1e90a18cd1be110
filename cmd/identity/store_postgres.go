package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the credential store over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - Composite operations run in a single transaction so a failure never
//   leaves a half-registered or half-deactivated user visible.
// - Errors are mapped to identity sentinel kinds where appropriate; other
//   storage errors surface unchanged for the lifecycle manager to translate.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the credential store (default "vision").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "vision",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the schema and tables if they do not exist.
// Username length is capped at 20 by the lifecycle manager's credential
// policy; the column width matches. Token columns are UUID strings (36 chars).
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	users := s.ident("users")
	access := s.ident("access")

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + users + ` (
		     username             VARCHAR(20)  PRIMARY KEY,
		     password             VARCHAR(2000) NOT NULL,
		     refresh_token        VARCHAR(36),
		     refresh_token_expiry TIMESTAMPTZ,
		     activated            BOOLEAN NOT NULL DEFAULT FALSE,
		     theme                VARCHAR(100) NOT NULL DEFAULT 'ocean'
		 )`,
		`CREATE TABLE IF NOT EXISTS ` + access + ` (
		     username             VARCHAR(20) PRIMARY KEY REFERENCES ` + users + `(username),
		     access_token         VARCHAR(36) NOT NULL,
		     access_token_expiry  TIMESTAMPTZ NOT NULL
		 )`,
		`CREATE INDEX IF NOT EXISTS idx_access_token ON ` + access + ` (access_token)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.ident("users")+` WHERE username = $1)`,
		username,
	).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) Create(ctx context.Context, username, passwordDigest string) error {
	const op = "identity.Create"

	if strings.TrimSpace(username) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty username"}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.ident("users")+` (username, password) VALUES ($1, $2)`,
		username, passwordDigest,
	)
	if pgIsUniqueViolation(err) {
		return AlreadyExistsError{Op: op, Username: username}
	}
	return err
}

func (s *PostgresStore) Read(ctx context.Context, username string) (UserRecord, error) {
	const op = "identity.Read"

	var out UserRecord
	err := s.pool.QueryRow(ctx,
		`SELECT username, password, refresh_token, refresh_token_expiry, activated, theme
		   FROM `+s.ident("users")+`
		  WHERE username = $1`,
		username,
	).Scan(
		&out.Username,
		&out.PasswordDigest,
		&out.RefreshToken,
		&out.RefreshExpiry,
		&out.Activated,
		&out.Theme,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRecord{}, NotFoundError{Op: op, Username: username}
		}
		return UserRecord{}, err
	}
	return out, nil
}

func (s *PostgresStore) WriteRefresh(ctx context.Context, username, token string, expiry time.Time) error {
	const op = "identity.WriteRefresh"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident("users")+`
		    SET refresh_token = $2, refresh_token_expiry = $3
		  WHERE username = $1`,
		username, token, expiry,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Username: username}
	}
	return nil
}

func (s *PostgresStore) ClearRefresh(ctx context.Context, username string) error {
	const op = "identity.ClearRefresh"

	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE `+s.ident("users")+`
			    SET refresh_token = NULL, refresh_token_expiry = NULL
			  WHERE username = $1`,
			username,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return NotFoundError{Op: op, Username: username}
		}

		_, err = tx.Exec(ctx,
			`DELETE FROM `+s.ident("access")+` WHERE username = $1`, username)
		return err
	})
}

func (s *PostgresStore) SetActivated(ctx context.Context, username string, activated bool) error {
	const op = "identity.SetActivated"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident("users")+` SET activated = $2 WHERE username = $1`,
		username, activated,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Username: username}
	}
	return nil
}

func (s *PostgresStore) SetTheme(ctx context.Context, username, theme string) error {
	const op = "identity.SetTheme"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident("users")+` SET theme = $2 WHERE username = $1`,
		username, theme,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Username: username}
	}
	return nil
}

func (s *PostgresStore) ReadAccess(ctx context.Context, username string) (AccessRecord, error) {
	const op = "identity.ReadAccess"

	var out AccessRecord
	err := s.pool.QueryRow(ctx,
		`SELECT username, access_token, access_token_expiry
		   FROM `+s.ident("access")+`
		  WHERE username = $1`,
		username,
	).Scan(&out.Username, &out.AccessToken, &out.AccessExpiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccessRecord{}, NotFoundError{Op: op, Username: username}
		}
		return AccessRecord{}, err
	}
	return out, nil
}

func (s *PostgresStore) WriteAccess(ctx context.Context, username, token string, expiry time.Time) error {
	const op = "identity.WriteAccess"

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.ident("access")+` (username, access_token, access_token_expiry)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (username)
		 DO UPDATE SET access_token = EXCLUDED.access_token,
		               access_token_expiry = EXCLUDED.access_token_expiry`,
		username, token, expiry,
	)
	if pgIsForeignKeyViolation(err) {
		return NotFoundError{Op: op, Username: username}
	}
	return err
}

func (s *PostgresStore) DeleteAccess(ctx context.Context, username string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.ident("access")+` WHERE username = $1`, username)
	return err
}

func (s *PostgresStore) UsernameForAccessToken(ctx context.Context, accessToken string) (string, error) {
	const op = "identity.UsernameForAccessToken"

	var username string
	err := s.pool.QueryRow(ctx,
		`SELECT username FROM `+s.ident("access")+` WHERE access_token = $1`,
		accessToken,
	).Scan(&username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", NotFoundError{Op: op}
		}
		return "", err
	}
	return username, nil
}

func (s *PostgresStore) CreateActivated(ctx context.Context, in ActivateInput, passwordDigest string) error {
	const op = "identity.CreateActivated"

	if strings.TrimSpace(in.Username) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty username"}
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO `+s.ident("users")+`
			        (username, password, refresh_token, refresh_token_expiry, activated)
			 VALUES ($1, $2, $3, $4, TRUE)`,
			in.Username, passwordDigest, in.RefreshToken, in.RefreshExpiry,
		)
		if pgIsUniqueViolation(err) {
			return AlreadyExistsError{Op: op, Username: in.Username}
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO `+s.ident("access")+` (username, access_token, access_token_expiry)
			 VALUES ($1, $2, $3)`,
			in.Username, in.AccessToken, in.AccessExpiry,
		)
		return err
	})
}

func (s *PostgresStore) Activate(ctx context.Context, in ActivateInput) error {
	const op = "identity.Activate"

	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE `+s.ident("users")+`
			    SET refresh_token = $2, refresh_token_expiry = $3, activated = TRUE
			  WHERE username = $1`,
			in.Username, in.RefreshToken, in.RefreshExpiry,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return NotFoundError{Op: op, Username: in.Username}
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO `+s.ident("access")+` (username, access_token, access_token_expiry)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (username)
			 DO UPDATE SET access_token = EXCLUDED.access_token,
			               access_token_expiry = EXCLUDED.access_token_expiry`,
			in.Username, in.AccessToken, in.AccessExpiry,
		)
		return err
	})
}

func (s *PostgresStore) Deactivate(ctx context.Context, username string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE `+s.ident("users")+`
			    SET refresh_token = NULL, refresh_token_expiry = NULL, activated = FALSE
			  WHERE username = $1`,
			username,
		)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`DELETE FROM `+s.ident("access")+` WHERE username = $1`, username)
		return err
	})
}

func (s *PostgresStore) Delete(ctx context.Context, username string) error {
	const op = "identity.Delete"

	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`DELETE FROM `+s.ident("access")+` WHERE username = $1`, username)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM `+s.ident("users")+` WHERE username = $1`, username)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return NotFoundError{Op: op, Username: username}
		}
		return nil
	})
}

// ---- helpers ----

func (s *PostgresStore) ident(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

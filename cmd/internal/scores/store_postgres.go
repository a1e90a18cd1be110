package scores

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the score store over PostgreSQL.
//
// Boards are stored normalized as one row per (username, entry), which keeps
// the schema independent of the catalog contents. The pool is owned by the
// caller; this store must NOT close it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the score store (default "vision").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("scores: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("scores: invalid schema identifier")
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
		return nil, fmt.Errorf("scores: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the scores table if it does not exist. The users
// table must already exist (the credential store's EnsureSchema runs first);
// the cascade keeps boards from outliving their user.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + s.ident("scores") + ` (
		     username VARCHAR(20)  NOT NULL REFERENCES ` + s.ident("users") + `(username) ON DELETE CASCADE,
		     entry_id VARCHAR(100) NOT NULL,
		     score    SMALLINT     NOT NULL DEFAULT -1,
		     PRIMARY KEY (username, entry_id)
		 )`,
		`CREATE INDEX IF NOT EXISTS idx_scores_entry ON ` + s.ident("scores") + ` (entry_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) CreateBoard(ctx context.Context, username string, entryIDs []string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, id := range entryIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO `+s.ident("scores")+` (username, entry_id, score)
				 VALUES ($1, $2, $3)
				 ON CONFLICT (username, entry_id) DO NOTHING`,
				username, id, UnscoredValue,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) DeleteBoard(ctx context.Context, username string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.ident("scores")+` WHERE username = $1`, username)
	return err
}

func (s *PostgresStore) Board(ctx context.Context, username string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entry_id, score FROM `+s.ident("scores")+` WHERE username = $1`,
		username,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var score int
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		out[id] = score
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoRow
	}
	return out, nil
}

func (s *PostgresStore) SetScore(ctx context.Context, username, entryID string, score int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident("scores")+`
		    SET score = $3
		  WHERE username = $1 AND entry_id = $2`,
		username, entryID, score,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRow
	}
	return nil
}

func (s *PostgresStore) Tally(ctx context.Context, entryIDs []string) (map[string]map[int]int, error) {
	out := make(map[string]map[int]int, len(entryIDs))
	for _, id := range entryIDs {
		out[id] = make(map[int]int)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT entry_id, score, COUNT(*)
		   FROM `+s.ident("scores")+`
		  WHERE entry_id = ANY($1)
		  GROUP BY entry_id, score`,
		entryIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var score, count int
		if err := rows.Scan(&id, &score, &count); err != nil {
			return nil, err
		}
		out[id][score] = count
	}
	return out, rows.Err()
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

package scores

import (
	"context"
	"errors"
)

// UnscoredValue marks an entry the user has not scored yet.
const UnscoredValue = -1

var (
	// ErrNoRow is returned when a user has no score board.
	ErrNoRow = errors.New("no score row")
)

// Store persists per-user score boards.
//
// A board is the full map of entry id to score for one user; it is created
// at registration with every entry unscored and deleted with the user.
type Store interface {
	// CreateBoard inserts an all-unscored board for username. Creating a
	// board that already exists is a no-op.
	CreateBoard(ctx context.Context, username string, entryIDs []string) error

	// DeleteBoard removes the board; idempotent.
	DeleteBoard(ctx context.Context, username string) error

	// Board returns the user's full board. Returns ErrNoRow if absent.
	Board(ctx context.Context, username string) (map[string]int, error)

	// SetScore updates one entry's score. Returns ErrNoRow if the user has
	// no board.
	SetScore(ctx context.Context, username, entryID string, score int) error

	// Tally returns, for each requested entry id, the count of users per
	// score value. Scores with no users are omitted; callers fill zeroes.
	Tally(ctx context.Context, entryIDs []string) (map[string]map[int]int, error)
}

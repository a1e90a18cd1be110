package scores

import (
	"context"
	"sync"
)

// MemoryStore is the in-memory Store used in dev and unit tests.
type MemoryStore struct {
	mu     sync.Mutex
	boards map[string]map[string]int
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{boards: make(map[string]map[string]int)}
}

func (s *MemoryStore) CreateBoard(ctx context.Context, username string, entryIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.boards[username]; ok {
		return nil
	}
	board := make(map[string]int, len(entryIDs))
	for _, id := range entryIDs {
		board[id] = UnscoredValue
	}
	s.boards[username] = board
	return nil
}

func (s *MemoryStore) DeleteBoard(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.boards, username)
	return nil
}

func (s *MemoryStore) Board(ctx context.Context, username string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	board, ok := s.boards[username]
	if !ok {
		return nil, ErrNoRow
	}
	out := make(map[string]int, len(board))
	for k, v := range board {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) SetScore(ctx context.Context, username, entryID string, score int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	board, ok := s.boards[username]
	if !ok {
		return ErrNoRow
	}
	board[entryID] = score
	return nil
}

func (s *MemoryStore) Tally(ctx context.Context, entryIDs []string) (map[string]map[int]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]map[int]int, len(entryIDs))
	for _, id := range entryIDs {
		out[id] = make(map[int]int)
	}
	for _, board := range s.boards {
		for _, id := range entryIDs {
			if v, ok := board[id]; ok {
				out[id][v]++
			}
		}
	}
	return out, nil
}

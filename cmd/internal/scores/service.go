package scores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"vision/cmd/internal/metrics"
)

// MaxScore is the top of the valid score range.
const MaxScore = 10

var (
	// ErrUnknownEntry is returned when an entry id is not in the catalog.
	ErrUnknownEntry = errors.New("unknown entry")
)

// ScoreRangeError is returned when a submitted score is outside [0, MaxScore].
type ScoreRangeError struct {
	Score int
}

func (e ScoreRangeError) Error() string {
	return fmt.Sprintf("Score %d not in [0,%d].", e.Score, MaxScore)
}

// Broadcaster pushes messages to live connections. The realtime registry
// satisfies this.
type Broadcaster interface {
	Broadcast(msg []byte, accessToken string) int
}

// Service owns the entry catalog and the per-user score boards, and fans
// score changes out to live connections.
type Service struct {
	catalog *Catalog
	store   Store
	bcast   Broadcaster
	met     *metrics.Metrics
	log     *slog.Logger
}

// NewService constructs a Service. bcast may be nil (no fan-out, used in
// tests and during startup).
func NewService(catalog *Catalog, store Store, bcast Broadcaster, met *metrics.Metrics, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{catalog: catalog, store: store, bcast: bcast, met: met, log: log}
}

// SetBroadcaster wires the fan-out target after construction; the registry
// is built later in startup than the score service.
func (s *Service) SetBroadcaster(b Broadcaster) { s.bcast = b }

// Catalog returns the entry catalog.
func (s *Service) Catalog() *Catalog { return s.catalog }

// InitBoard creates the all-unscored board for a fresh user.
func (s *Service) InitBoard(ctx context.Context, username string) error {
	return s.store.CreateBoard(ctx, username, s.catalog.IDs())
}

// DropBoard removes a user's board; idempotent.
func (s *Service) DropBoard(ctx context.Context, username string) error {
	return s.store.DeleteBoard(ctx, username)
}

// Entries returns the full catalog with the user's scores filled in.
func (s *Service) Entries(ctx context.Context, username string) ([]Entry, error) {
	board, err := s.store.Board(ctx, username)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, s.catalog.Len())
	for _, id := range s.catalog.IDs() {
		e, _ := s.catalog.entryCopy(id)
		e.Attributes["score"] = board[id]
		out = append(out, e)
	}
	return out, nil
}

// Entry returns one catalog entry with the user's score filled in.
func (s *Service) Entry(ctx context.Context, username, entryID string) (Entry, error) {
	e, ok := s.catalog.entryCopy(entryID)
	if !ok {
		return Entry{}, ErrUnknownEntry
	}

	board, err := s.store.Board(ctx, username)
	if err != nil {
		return Entry{}, err
	}
	e.Attributes["score"] = board[entryID]
	return e, nil
}

// UpdateScore validates and persists a score change, then pushes the updated
// histogram to every live connection and an echo to the caller's own
// connections (matched by access token).
func (s *Service) UpdateScore(ctx context.Context, username, accessToken, entryID string, score int) error {
	if !s.catalog.Has(entryID) {
		return ErrUnknownEntry
	}
	if score < 0 || score > MaxScore {
		return ScoreRangeError{Score: score}
	}

	if err := s.store.SetScore(ctx, username, entryID, score); err != nil {
		return err
	}
	s.met.ScoreUpdate()
	s.log.InfoContext(ctx, "scores.update", "username", username, "entry", entryID, "score", score)

	if s.bcast == nil {
		return nil
	}

	results, err := s.resultsFor(ctx, []string{entryID})
	if err != nil {
		// The score is persisted; fan-out failure only delays the update
		// until the next snapshot.
		s.log.WarnContext(ctx, "scores.broadcast.results_fail", "entry", entryID, "err", err)
		return nil
	}
	if msg, err := json.Marshal(map[string]any{
		"type":    "results",
		"results": results,
	}); err == nil {
		s.bcast.Broadcast(msg, "")
	}

	if msg, err := json.Marshal(map[string]any{
		"type": "scoreUpdate",
		"scoreUpdate": map[string]any{
			"id":    entryID,
			"score": score,
		},
	}); err == nil {
		s.bcast.Broadcast(msg, accessToken)
	}
	return nil
}

// Results returns the zero-filled score histogram for every catalog entry.
func (s *Service) Results(ctx context.Context) (map[string]map[string]int, error) {
	return s.resultsFor(ctx, s.catalog.IDs())
}

// Snapshot renders the results message pushed to a connection on open.
func (s *Service) Snapshot(ctx context.Context) ([]byte, error) {
	results, err := s.Results(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"type":    "results",
		"results": results,
	})
}

// resultsFor builds histograms keyed by entry id then score. Score keys are
// strings so the wire shape is stable JSON; every value in [-1, MaxScore]
// appears even at zero count.
func (s *Service) resultsFor(ctx context.Context, entryIDs []string) (map[string]map[string]int, error) {
	tally, err := s.store.Tally(ctx, entryIDs)
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]int, len(entryIDs))
	for _, id := range entryIDs {
		hist := make(map[string]int, MaxScore+2)
		for v := UnscoredValue; v <= MaxScore; v++ {
			hist[strconv.Itoa(v)] = 0
		}
		for v, n := range tally[id] {
			if v >= UnscoredValue && v <= MaxScore {
				hist[strconv.Itoa(v)] = n
			}
		}
		out[id] = hist
	}
	return out, nil
}

// Package scores implements the entry catalog and per-user score board.
//
// The catalog is a static list of entries loaded from a JSON file at startup;
// scores are integers in [-1, MaxScore] where -1 means "not yet scored".
// Aggregate results are computed as a histogram per entry and pushed to live
// connections whenever a score changes.
package scores

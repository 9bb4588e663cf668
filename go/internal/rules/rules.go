// Package rules holds the fixed match rules shared by both clients
// and the challenge service. None of these are user-configurable.
package rules

import (
	"strings"
	"time"
)

const (
	// MatchDuration is the fixed length of a match, measured from the
	// authoritative startedAt timestamp.
	MatchDuration = 10 * time.Minute

	// ScoreThreshold ends the match early once one player has named
	// every country.
	ScoreThreshold = 196

	// RejoinPollInterval bounds how often a client re-checks whether
	// it still has an active match to rejoin.
	RejoinPollInterval = 30 * time.Second
)

// ExcludedTerritory is barred from scoring by policy: it is a disputed
// territory, so naming it is recognized as a valid guess but never
// increments either player's score.
const ExcludedTerritory = "kosovo"

// NormalizeItem canonicalizes a guessed item for dedup and rule
// checks. Both clients and the service must agree on this form.
func NormalizeItem(item string) string {
	return strings.ToLower(strings.TrimSpace(item))
}

// CountsForScore is the excluded-territory rule: it reports whether a
// recognized guess may increment the guesser's score.
func CountsForScore(item string) bool {
	return NormalizeItem(item) != ExcludedTerritory
}

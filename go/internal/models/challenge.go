package models

import (
	"time"

	"github.com/google/uuid"
)

// ChallengeStatus defines the lifecycle status of a challenge.
type ChallengeStatus string

const (
	ChallengeStatusPending   ChallengeStatus = "PENDING"
	ChallengeStatusAccepted  ChallengeStatus = "ACCEPTED"
	ChallengeStatusActive    ChallengeStatus = "ACTIVE"
	ChallengeStatusCompleted ChallengeStatus = "COMPLETED"
	ChallengeStatusCancelled ChallengeStatus = "CANCELLED"
)

// Terminal reports whether the status allows no further transitions.
func (s ChallengeStatus) Terminal() bool {
	return s == ChallengeStatusCompleted || s == ChallengeStatusCancelled
}

// CanTransitionTo reports whether the status may move to next.
// Status moves strictly forward, except that cancellation is reachable
// from any non-terminal state before the match goes active.
func (s ChallengeStatus) CanTransitionTo(next ChallengeStatus) bool {
	switch next {
	case ChallengeStatusAccepted:
		return s == ChallengeStatusPending
	case ChallengeStatusActive:
		return s == ChallengeStatusAccepted
	case ChallengeStatusCompleted:
		return s == ChallengeStatusActive
	case ChallengeStatusCancelled:
		return s == ChallengeStatusPending || s == ChallengeStatusAccepted
	default:
		return false
	}
}

// ScoreEntry is one player's score in a challenge. Exactly two entries
// exist per challenge for its whole lifetime, one per participant.
type ScoreEntry struct {
	PlayerID string `json:"player_id"`
	Score    int    `json:"score"`
}

// GuessEntry is one recorded guess in the append-only guess log. The
// log exists for auditing and replay; scoring never reads it back.
type GuessEntry struct {
	PlayerID  string    `json:"player_id"`
	Item      string    `json:"item"`
	GuessedAt time.Time `json:"guessed_at"`
}

// Challenge represents one two-player match invitation and its match
// state. It is the binding contract between the two clients; the relay
// protocol on top of it is a latency optimization only.
type Challenge struct {
	ID               uuid.UUID       `json:"id"`
	ChallengerID     string          `json:"challenger_id"`
	ChallengedID     string          `json:"challenged_id"`
	Status           ChallengeStatus `json:"status"`
	ChallengerJoined bool            `json:"challenger_joined"`
	ChallengedJoined bool            `json:"challenged_joined"`
	// ChallengedEverJoined latches once the invited player first opens
	// the setup screen. ChallengedJoined flips back on leave; this never
	// does, so a momentary visit stays visible after cancellation.
	ChallengedEverJoined bool         `json:"challenged_ever_joined"`
	MatchID              uuid.UUID    `json:"match_id,omitempty"`   // assigned on accept
	StartedAt            *time.Time   `json:"started_at,omitempty"` // set at most once
	Scores               []ScoreEntry `json:"scores"`
	GuessLog             []GuessEntry `json:"guess_log,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// IsParticipant reports whether playerID is one of the two players.
func (c *Challenge) IsParticipant(playerID string) bool {
	return playerID == c.ChallengerID || playerID == c.ChallengedID
}

// OpponentOf returns the other participant's id.
func (c *Challenge) OpponentOf(playerID string) string {
	if playerID == c.ChallengerID {
		return c.ChallengedID
	}
	return c.ChallengerID
}

// ScoreOf returns playerID's score, or 0 if the entry is missing.
func (c *Challenge) ScoreOf(playerID string) int {
	for _, e := range c.Scores {
		if e.PlayerID == playerID {
			return e.Score
		}
	}
	return 0
}

// JoinedFlag returns the presence flag owned by playerID.
func (c *Challenge) JoinedFlag(playerID string) bool {
	if playerID == c.ChallengerID {
		return c.ChallengerJoined
	}
	return c.ChallengedJoined
}

// BothAbsent reports whether neither player is attached to the
// match-setup screen.
func (c *Challenge) BothAbsent() bool {
	return !c.ChallengerJoined && !c.ChallengedJoined
}

// Package document owns the authoritative challenge record: the
// durable, eventually-consistent document both clients treat as the
// single source of truth for match state.
//
// Fields are deliberately partitioned so that concurrent writers never
// race: each player only ever writes their own presence flag and their
// own score entry. Single-writer fields (status, startedAt, matchId)
// are guarded by conditional updates instead of locks; callers learn
// from the returned flag whether their write won or lost the race.
package document

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mapclash/mapclash/go/internal/models"
)

var (
	// ErrNotFound means no challenge document exists for the id.
	ErrNotFound = errors.New("challenge not found")
)

// ChallengeStore is the read-modify-write surface over the challenge
// document. Every mutation returns the resulting document so callers
// can reconcile immediately instead of waiting for the snapshot feed.
type ChallengeStore interface {
	// Create writes a fresh pending challenge: both score entries
	// zeroed, challenger marked joined, challenged not.
	Create(ctx context.Context, challengerID, challengedID string) (*models.Challenge, error)

	// Get reads the latest visible document.
	Get(ctx context.Context, id uuid.UUID) (*models.Challenge, error)

	// SetPresence writes playerID's own presence flag. The flag is
	// player-partitioned, so last-write-wins per field is safe.
	SetPresence(ctx context.Context, id uuid.UUID, playerID string, joined bool) (*models.Challenge, error)

	// Accept moves pending -> accepted and assigns matchID, but only
	// while the challenger is still joined. won reports whether this
	// call performed the transition; a concurrent double-accept
	// observes won=false and the already-assigned match id.
	Accept(ctx context.Context, id uuid.UUID, matchID uuid.UUID) (ch *models.Challenge, won bool, err error)

	// Start moves accepted -> active and stamps the authoritative
	// startedAt exactly once. Safe when raced: the conditional update
	// only succeeds while startedAt is unset, so the losing writer is
	// a no-op that still sees the winner's timestamp.
	Start(ctx context.Context, id uuid.UUID) (ch *models.Challenge, won bool, err error)

	// CancelIfBothAbsent is the single atomic both-flags-false check:
	// it cancels iff neither player is joined and the status is still
	// pending or accepted. Exactly one concurrent caller wins.
	CancelIfBothAbsent(ctx context.Context, id uuid.UUID) (ch *models.Challenge, won bool, err error)

	// Cancel is the explicit user cancellation, idempotent from
	// pending or accepted.
	Cancel(ctx context.Context, id uuid.UUID) (ch *models.Challenge, won bool, err error)

	// Complete moves active -> completed, idempotent so both clients
	// may fire it on timer expiry or score threshold.
	Complete(ctx context.Context, id uuid.UUID) (ch *models.Challenge, won bool, err error)

	// RecordGuess appends to the guess log and, when countsForScore is
	// set, increments playerID's score entry - unless the same player
	// already guessed the same item, which is a no-op. The same item
	// guessed by both players counts once for each.
	RecordGuess(ctx context.Context, id uuid.UUID, playerID, item string, countsForScore bool) (*models.Challenge, error)
}

// SnapshotFeed delivers a strictly-newer sequence of document
// snapshots per challenge. Intermediate states may be skipped; only
// the latest write is guaranteed to become visible.
type SnapshotFeed interface {
	Watch(ctx context.Context, id uuid.UUID) (<-chan models.Challenge, error)
}

// SnapshotPublisher pushes a freshly-written document into the feed.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, ch *models.Challenge) error
}

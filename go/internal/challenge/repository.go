package challenge

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mapclash/mapclash/go/internal/models"
)

// Schema holds the side tables the challenge app writes next to the
// challenge documents.
const Schema = `
CREATE TABLE IF NOT EXISTS missed_challenge_logs (
    id            UUID PRIMARY KEY,
    challenge_id  UUID NOT NULL UNIQUE,
    initiator_id  TEXT NOT NULL,
    friend_id     TEXT NOT NULL,
    friend_name   TEXT NOT NULL,
    friend_avatar TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS player_profiles (
    id     TEXT PRIMARY KEY,
    name   TEXT NOT NULL,
    avatar TEXT NOT NULL DEFAULT ''
);
`

// Repository is the pgx-backed store for missed-challenge logs and
// player profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new challenge side-table repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Migrate creates the side tables if they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate challenge side tables: %w", err)
	}
	return nil
}

// CreateMissedChallengeLog writes the log entry. The unique constraint
// on challenge_id backs the in-memory at-most-once guard: a duplicate
// write after a process restart is swallowed, not an error.
func (r *Repository) CreateMissedChallengeLog(ctx context.Context, entry models.MissedChallengeLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO missed_challenge_logs (id, challenge_id, initiator_id, friend_id, friend_name, friend_avatar)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (challenge_id) DO NOTHING`,
		entry.ID, entry.ChallengeID, entry.InitiatorID, entry.FriendID, entry.FriendName, entry.FriendAvatar)
	if err != nil {
		return fmt.Errorf("failed to insert missed-challenge log: %w", err)
	}
	return nil
}

// GetProfile implements ProfileRepository.
func (r *Repository) GetProfile(ctx context.Context, playerID string) (*models.PlayerProfile, error) {
	var profile models.PlayerProfile
	err := r.pool.QueryRow(ctx, `SELECT id, name, avatar FROM player_profiles WHERE id = $1`, playerID).
		Scan(&profile.ID, &profile.Name, &profile.Avatar)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player profile: %w", err)
	}
	return &profile, nil
}

// UpsertProfile stores a player's display identity.
func (r *Repository) UpsertProfile(ctx context.Context, profile models.PlayerProfile) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO player_profiles (id, name, avatar)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, avatar = EXCLUDED.avatar`,
		profile.ID, profile.Name, profile.Avatar)
	if err != nil {
		return fmt.Errorf("failed to upsert player profile: %w", err)
	}
	return nil
}

package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mapclash/mapclash/go/internal/models"
	"github.com/mapclash/mapclash/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"
)

// Schema is the challenge document table. The score list and guess
// log live inside the document as JSONB, mirroring the document-store
// shape the clients bind to.
const Schema = `
CREATE TABLE IF NOT EXISTS challenges (
    id                UUID PRIMARY KEY,
    challenger_id     TEXT NOT NULL,
    challenged_id     TEXT NOT NULL,
    status            TEXT NOT NULL,
    challenger_joined BOOLEAN NOT NULL DEFAULT FALSE,
    challenged_joined BOOLEAN NOT NULL DEFAULT FALSE,
    challenged_ever_joined BOOLEAN NOT NULL DEFAULT FALSE,
    match_id          UUID,
    started_at        TIMESTAMPTZ,
    scores            JSONB NOT NULL,
    guess_log         JSONB,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const challengeColumns = `id, challenger_id, challenged_id, status, challenger_joined, challenged_joined, challenged_ever_joined, match_id, started_at, scores, guess_log, created_at, updated_at`

// Repository is the Postgres-backed ChallengeStore. Single-writer
// fields are guarded by conditional UPDATEs; the rows-affected verdict
// stands in for a compare-and-set. After every winning write the
// resulting document is pushed to the snapshot publisher.
type Repository struct {
	db        *sql.DB
	publisher SnapshotPublisher // optional
}

// NewRepository creates a challenge repository. publisher may be nil
// when no snapshot feed is wired (tests, tooling).
func NewRepository(db *sql.DB, publisher SnapshotPublisher) *Repository {
	return &Repository{db: db, publisher: publisher}
}

// Migrate creates the challenges table if it does not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate challenges table: %w", err)
	}
	return nil
}

// Create implements ChallengeStore.
func (r *Repository) Create(ctx context.Context, challengerID, challengedID string) (*models.Challenge, error) {
	scores, err := json.Marshal([]models.ScoreEntry{
		{PlayerID: challengerID, Score: 0},
		{PlayerID: challengedID, Score: 0},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal score entries: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO challenges (id, challenger_id, challenged_id, status, challenger_joined, challenged_joined, scores)
		VALUES ($1, $2, $3, $4, TRUE, FALSE, $5)
		RETURNING `+challengeColumns,
		uuid.New(), challengerID, challengedID, models.ChallengeStatusPending, scores)

	ch, err := scanChallenge(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	r.publish(ctx, ch)
	return ch, nil
}

// Get implements ChallengeStore.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, id)
	ch, err := scanChallenge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return ch, nil
}

// SetPresence implements ChallengeStore. Each player only ever writes
// their own flag, so the update is unconditional per field.
func (r *Repository) SetPresence(ctx context.Context, id uuid.UUID, playerID string, joined bool) (*models.Challenge, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE challenges
		SET challenger_joined = CASE WHEN challenger_id = $2 THEN $3 ELSE challenger_joined END,
		    challenged_joined = CASE WHEN challenged_id = $2 THEN $3 ELSE challenged_joined END,
		    challenged_ever_joined = challenged_ever_joined OR (challenged_id = $2 AND $3),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+challengeColumns,
		id, playerID, joined)

	ch, err := scanChallenge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set presence: %w", err)
	}

	r.publish(ctx, ch)
	return ch, nil
}

// Accept implements ChallengeStore.
func (r *Repository) Accept(ctx context.Context, id uuid.UUID, matchID uuid.UUID) (*models.Challenge, bool, error) {
	return r.conditional(ctx, id, `
		UPDATE challenges
		SET status = '`+string(models.ChallengeStatusAccepted)+`', match_id = $2, updated_at = NOW()
		WHERE id = $1
		  AND status = '`+string(models.ChallengeStatusPending)+`'
		  AND challenger_joined
		RETURNING `+challengeColumns,
		id, matchID)
}

// Start implements ChallengeStore. The WHERE clause is the idempotence
// guard: startedAt is written at most once no matter how many clients
// race the transition.
func (r *Repository) Start(ctx context.Context, id uuid.UUID) (*models.Challenge, bool, error) {
	return r.conditional(ctx, id, `
		UPDATE challenges
		SET status = '`+string(models.ChallengeStatusActive)+`', started_at = NOW(), updated_at = NOW()
		WHERE id = $1
		  AND status = '`+string(models.ChallengeStatusAccepted)+`'
		  AND started_at IS NULL
		  AND challenger_joined
		  AND challenged_joined
		RETURNING `+challengeColumns,
		id)
}

// CancelIfBothAbsent implements ChallengeStore. The both-flags check
// and the status write happen in one atomic statement so that two
// clients observing the same empty room cannot both win.
func (r *Repository) CancelIfBothAbsent(ctx context.Context, id uuid.UUID) (*models.Challenge, bool, error) {
	return r.conditional(ctx, id, `
		UPDATE challenges
		SET status = '`+string(models.ChallengeStatusCancelled)+`', updated_at = NOW()
		WHERE id = $1
		  AND status IN ('`+string(models.ChallengeStatusPending)+`', '`+string(models.ChallengeStatusAccepted)+`')
		  AND NOT challenger_joined
		  AND NOT challenged_joined
		RETURNING `+challengeColumns,
		id)
}

// Cancel implements ChallengeStore.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) (*models.Challenge, bool, error) {
	return r.conditional(ctx, id, `
		UPDATE challenges
		SET status = '`+string(models.ChallengeStatusCancelled)+`', updated_at = NOW()
		WHERE id = $1
		  AND status IN ('`+string(models.ChallengeStatusPending)+`', '`+string(models.ChallengeStatusAccepted)+`')
		RETURNING `+challengeColumns,
		id)
}

// Complete implements ChallengeStore.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID) (*models.Challenge, bool, error) {
	return r.conditional(ctx, id, `
		UPDATE challenges
		SET status = '`+string(models.ChallengeStatusCompleted)+`', updated_at = NOW()
		WHERE id = $1
		  AND status = '`+string(models.ChallengeStatusActive)+`'
		RETURNING `+challengeColumns,
		id)
}

// RecordGuess implements ChallengeStore. The row lock serializes
// concurrent guess writes from the two players; dedup is keyed by
// (player, item) so both players may score the same item once each.
func (r *Repository) RecordGuess(ctx context.Context, id uuid.UUID, playerID, item string, countsForScore bool) (*models.Challenge, error) {
	var result *models.Challenge

	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1 FOR UPDATE`, id)
		ch, err := scanChallenge(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read challenge for guess: %w", err)
		}

		for _, g := range ch.GuessLog {
			if g.PlayerID == playerID && g.Item == item {
				result = ch
				return nil // already counted, no-op
			}
		}

		now := time.Now().UTC()
		ch.GuessLog = append(ch.GuessLog, models.GuessEntry{PlayerID: playerID, Item: item, GuessedAt: now})
		if countsForScore {
			for i := range ch.Scores {
				if ch.Scores[i].PlayerID == playerID {
					ch.Scores[i].Score++
				}
			}
		}

		scores, err := json.Marshal(ch.Scores)
		if err != nil {
			return fmt.Errorf("failed to marshal scores: %w", err)
		}
		guessLog, err := json.Marshal(ch.GuessLog)
		if err != nil {
			return fmt.Errorf("failed to marshal guess log: %w", err)
		}

		row = tx.QueryRowContext(ctx, `
			UPDATE challenges
			SET scores = $2, guess_log = $3, updated_at = NOW()
			WHERE id = $1
			RETURNING `+challengeColumns,
			id, scores, guessLog)

		result, err = scanChallenge(row)
		if err != nil {
			return fmt.Errorf("failed to record guess: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.publish(ctx, result)
	return result, nil
}

// conditional runs a compare-and-set style UPDATE. When no row
// matches, the caller lost the race (or the transition is invalid);
// the current document is re-read so the caller can observe the
// winning state.
func (r *Repository) conditional(ctx context.Context, id uuid.UUID, query string, args ...interface{}) (*models.Challenge, bool, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	ch, err := scanChallenge(row)
	if err == nil {
		r.publish(ctx, ch)
		return ch, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed conditional update: %w", err)
	}

	ch, err = r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return ch, false, nil
}

func (r *Repository) publish(ctx context.Context, ch *models.Challenge) {
	if r.publisher == nil || ch == nil {
		return
	}
	if err := r.publisher.PublishSnapshot(ctx, ch); err != nil {
		// The document itself is durable; a missed snapshot only
		// delays the clients until the next one.
		log.Error().Err(err).Str("challenge_id", ch.ID.String()).Msg("failed to publish challenge snapshot")
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChallenge(row rowScanner) (*models.Challenge, error) {
	var (
		ch        models.Challenge
		matchID   uuid.NullUUID
		startedAt sql.NullTime
		scores    []byte
		guessLog  pqtype.NullRawMessage
	)

	err := row.Scan(
		&ch.ID,
		&ch.ChallengerID,
		&ch.ChallengedID,
		&ch.Status,
		&ch.ChallengerJoined,
		&ch.ChallengedJoined,
		&ch.ChallengedEverJoined,
		&matchID,
		&startedAt,
		&scores,
		&guessLog,
		&ch.CreatedAt,
		&ch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if matchID.Valid {
		ch.MatchID = matchID.UUID
	}
	ch.StartedAt = sqlutil.FromSqlTime(startedAt)

	if err := json.Unmarshal(scores, &ch.Scores); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scores: %w", err)
	}
	if guessLog.Valid {
		if err := json.Unmarshal(guessLog.RawMessage, &ch.GuessLog); err != nil {
			return nil, fmt.Errorf("failed to unmarshal guess log: %w", err)
		}
	}

	return &ch, nil
}

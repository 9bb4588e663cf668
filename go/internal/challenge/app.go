package challenge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mapclash/mapclash/go/internal/document"
	"github.com/mapclash/mapclash/go/internal/models"
	"github.com/mapclash/mapclash/go/internal/rules"
	"github.com/rs/zerolog/log"
)

// ErrValidation marks caller errors: bad input or a player acting on a
// challenge they are not part of.
var ErrValidation = errors.New("validation failed")

// MissedChallengeLogRepository defines what the app layer needs for
// missed-challenge logging.
type MissedChallengeLogRepository interface {
	CreateMissedChallengeLog(ctx context.Context, entry models.MissedChallengeLog) error
}

// ProfileRepository defines what the app layer needs for player
// display identities.
type ProfileRepository interface {
	GetProfile(ctx context.Context, playerID string) (*models.PlayerProfile, error)
}

// App owns the challenge lifecycle: pending -> accepted -> active ->
// completed, with cancellation reachable until the match goes active.
// The document store is the serialization point for every transition,
// so races between the two clients resolve into no-ops here rather
// than errors.
type App struct {
	store      document.ChallengeStore
	missedRepo MissedChallengeLogRepository
	profiles   ProfileRepository

	// Session-scoped at-most-once guard for missed-challenge logging.
	// Losing it on restart is acceptable: the log is best effort and
	// the repository dedups on challenge id as a second line.
	loggedMu sync.Mutex
	logged   map[uuid.UUID]bool
}

// NewApp creates a new challenge App.
func NewApp(store document.ChallengeStore, missedRepo MissedChallengeLogRepository, profiles ProfileRepository) *App {
	return &App{
		store:      store,
		missedRepo: missedRepo,
		profiles:   profiles,
		logged:     make(map[uuid.UUID]bool),
	}
}

// Create issues a new challenge. The challenger is on the match-setup
// screen when issuing, so their presence flag starts true.
func (a *App) Create(ctx context.Context, challengerID, challengedID string) (*models.Challenge, error) {
	if challengerID == "" || challengedID == "" {
		return nil, fmt.Errorf("%w: both player ids are required", ErrValidation)
	}
	if challengerID == challengedID {
		return nil, fmt.Errorf("%w: a player cannot challenge themselves", ErrValidation)
	}

	ch, err := a.store.Create(ctx, challengerID, challengedID)
	if err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	log.Info().
		Str("challenge_id", ch.ID.String()).
		Str("challenger_id", challengerID).
		Str("challenged_id", challengedID).
		Msg("challenge created")
	return ch, nil
}

// Get reads the current document.
func (a *App) Get(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	return a.store.Get(ctx, id)
}

// SetPresence writes callerID's own presence flag and, when clearing
// it, runs the both-absent cancellation check in the same call path so
// a leave cannot outrun its side effect.
func (a *App) SetPresence(ctx context.Context, id uuid.UUID, callerID string, joined bool) (*models.Challenge, error) {
	ch, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ch.IsParticipant(callerID) {
		return nil, fmt.Errorf("%w: player %s is not part of challenge %s", ErrValidation, callerID, id)
	}

	ch, err = a.store.SetPresence(ctx, id, callerID, joined)
	if err != nil {
		return nil, fmt.Errorf("failed to set presence: %w", err)
	}

	if !joined && ch.BothAbsent() {
		return a.CancelIfBothAbsent(ctx, id)
	}
	return ch, nil
}

// Accept moves the challenge to accepted and assigns the match id.
// Only the challenged player may accept, and only while the challenger
// is still waiting on the setup screen. A concurrent double-accept
// observes the assigned match id and no-ops.
func (a *App) Accept(ctx context.Context, id uuid.UUID, callerID string) (*models.Challenge, error) {
	ch, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != ch.ChallengedID {
		return nil, fmt.Errorf("%w: only the challenged player may accept", ErrValidation)
	}

	ch, won, err := a.store.Accept(ctx, id, uuid.New())
	if err != nil {
		return nil, fmt.Errorf("failed to accept challenge: %w", err)
	}
	if !won {
		log.Debug().
			Str("challenge_id", id.String()).
			Str("status", string(ch.Status)).
			Msg("accept was a no-op")
	}
	return ch, nil
}

// Start moves the challenge to active and stamps the authoritative
// start time. Either player may call it once both are joined; losing
// the race is a silent no-op and the caller still sees the single
// startedAt the winner wrote.
func (a *App) Start(ctx context.Context, id uuid.UUID, callerID string) (*models.Challenge, error) {
	ch, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ch.IsParticipant(callerID) {
		return nil, fmt.Errorf("%w: player %s is not part of challenge %s", ErrValidation, callerID, id)
	}

	ch, won, err := a.store.Start(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to start match: %w", err)
	}
	if won {
		log.Info().
			Str("challenge_id", id.String()).
			Str("match_id", ch.MatchID.String()).
			Msg("match started")
	} else {
		log.Debug().
			Str("challenge_id", id.String()).
			Str("status", string(ch.Status)).
			Msg("start was a no-op")
	}
	return ch, nil
}

// Cancel is the explicit "cancel challenge" user action.
func (a *App) Cancel(ctx context.Context, id uuid.UUID, callerID string) (*models.Challenge, error) {
	ch, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ch.IsParticipant(callerID) {
		return nil, fmt.Errorf("%w: player %s is not part of challenge %s", ErrValidation, callerID, id)
	}

	ch, won, err := a.store.Cancel(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel challenge: %w", err)
	}
	if won {
		log.Info().Str("challenge_id", id.String()).Msg("challenge cancelled")
		a.maybeLogMissedChallenge(ctx, ch)
	} else {
		log.Debug().
			Str("challenge_id", id.String()).
			Str("status", string(ch.Status)).
			Msg("cancel was a no-op")
	}
	return ch, nil
}

// CancelIfBothAbsent is the automatic cancellation path: exactly one
// caller wins the atomic both-flags-false transition, and only the
// winner runs the missed-challenge side effect.
func (a *App) CancelIfBothAbsent(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	ch, won, err := a.store.CancelIfBothAbsent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel absent challenge: %w", err)
	}
	if won {
		log.Info().Str("challenge_id", id.String()).Msg("challenge cancelled, both players absent")
		a.maybeLogMissedChallenge(ctx, ch)
	}
	return ch, nil
}

// Complete is the terminal success path, fired on timer expiry or the
// score threshold. Both clients may detect the condition and call it;
// the store makes the second call a no-op.
func (a *App) Complete(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	ch, won, err := a.store.Complete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to complete match: %w", err)
	}
	if won {
		log.Info().
			Str("challenge_id", id.String()).
			Int("challenger_score", ch.ScoreOf(ch.ChallengerID)).
			Int("challenged_score", ch.ScoreOf(ch.ChallengedID)).
			Msg("match completed")
	} else {
		log.Debug().
			Str("challenge_id", id.String()).
			Str("status", string(ch.Status)).
			Msg("complete was a no-op")
	}
	return ch, nil
}

// RecordGuess applies the excluded-territory rule and writes the guess
// through to the document.
func (a *App) RecordGuess(ctx context.Context, id uuid.UUID, callerID, item string) (*models.Challenge, error) {
	ch, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ch.IsParticipant(callerID) {
		return nil, fmt.Errorf("%w: player %s is not part of challenge %s", ErrValidation, callerID, id)
	}
	if ch.Status != models.ChallengeStatusActive {
		log.Debug().
			Str("challenge_id", id.String()).
			Str("status", string(ch.Status)).
			Msg("guess outside active match ignored")
		return ch, nil
	}

	item = rules.NormalizeItem(item)
	return a.store.RecordGuess(ctx, id, callerID, item, rules.CountsForScore(item))
}

// maybeLogMissedChallenge writes the best-effort missed-challenge
// record: at most once per cancelled challenge, and only when the
// invited player never opened the setup screen. The ever-joined latch
// survives the leave that precedes cancellation, so a momentary visit
// counts as seen; the zero match id doubles as the "never accepted"
// signal.
func (a *App) maybeLogMissedChallenge(ctx context.Context, ch *models.Challenge) {
	if a.missedRepo == nil {
		return
	}
	if ch.MatchID != uuid.Nil || ch.ChallengedEverJoined {
		return
	}

	a.loggedMu.Lock()
	if a.logged[ch.ID] {
		a.loggedMu.Unlock()
		return
	}
	a.logged[ch.ID] = true
	a.loggedMu.Unlock()

	// The record belongs to the absent invitee and points back at the
	// challenger who tried to reach them.
	friend := a.lookupProfile(ctx, ch.ChallengerID)

	entry := models.MissedChallengeLog{
		ID:           uuid.New(),
		ChallengeID:  ch.ID,
		InitiatorID:  ch.ChallengedID,
		FriendID:     friend.ID,
		FriendName:   friend.Name,
		FriendAvatar: friend.Avatar,
	}

	if err := a.missedRepo.CreateMissedChallengeLog(ctx, entry); err != nil {
		// Best effort: losing the log never blocks the lifecycle
		log.Error().Err(err).Str("challenge_id", ch.ID.String()).Msg("failed to write missed-challenge log")
		return
	}

	log.Info().
		Str("challenge_id", ch.ID.String()).
		Str("friend_id", friend.ID).
		Msg("missed-challenge log written")
}

// lookupProfile degrades to a placeholder identity when the profile
// record is missing; the lifecycle never blocks on it.
func (a *App) lookupProfile(ctx context.Context, playerID string) models.PlayerProfile {
	if a.profiles == nil {
		return models.PlaceholderProfile(playerID)
	}
	profile, err := a.profiles.GetProfile(ctx, playerID)
	if err != nil || profile == nil {
		log.Warn().Err(err).Str("player_id", playerID).Msg("profile not found, using placeholder")
		return models.PlaceholderProfile(playerID)
	}
	return *profile
}

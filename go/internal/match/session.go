package match

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mapclash/mapclash/go/internal/document"
	"github.com/mapclash/mapclash/go/internal/models"
	"github.com/mapclash/mapclash/go/internal/relay"
	"github.com/mapclash/mapclash/go/internal/relay/relayclient"
	"github.com/mapclash/mapclash/go/internal/rules"
	"github.com/rs/zerolog/log"
)

// SessionConfig holds the fixed parameters of a match session. A zero
// RejoinPollInterval disables the rejoin poller.
type SessionConfig struct {
	Clock              clockwork.Clock
	Duration           time.Duration
	ScoreThreshold     int
	RejoinPollInterval time.Duration
}

// DefaultSessionConfig returns the production configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Clock:              clockwork.NewRealClock(),
		Duration:           rules.MatchDuration,
		ScoreThreshold:     rules.ScoreThreshold,
		RejoinPollInterval: rules.RejoinPollInterval,
	}
}

// Callbacks are the session's outputs to the render layer. All fields
// are optional. Protocol errors never reach the render layer; only
// state does.
type Callbacks struct {
	OnOpponentPresence func(present bool)
	OnScores           func(own, opponent int)
	OnTick             func(remaining time.Duration)
	OnEnded            func(final models.Challenge)
}

// Session wires one client's presence tracker, match timer, and guess
// synchronizer to a single relay connection and a single document
// watch. The relay feeds it low-latency advisory events; the snapshot
// feed corrects everything authoritatively.
type Session struct {
	cfg       SessionConfig
	lifecycle Lifecycle
	relay     relayclient.Client
	feed      document.SnapshotFeed
	callbacks Callbacks

	challenge  models.Challenge
	playerID   string
	opponentID string

	presence *PresenceTracker
	timer    *MatchTimer
	guesses  *GuessSynchronizer

	runMu        sync.Mutex
	runCtx       context.Context
	timerOnce    sync.Once
	completeOnce sync.Once
}

// NewSession builds a session for one player attached to one
// challenge.
func NewSession(cfg SessionConfig, lifecycle Lifecycle, relayClient relayclient.Client, feed document.SnapshotFeed, ch models.Challenge, playerID string, callbacks Callbacks) *Session {
	opponentID := ch.OpponentOf(playerID)

	s := &Session{
		cfg:        cfg,
		lifecycle:  lifecycle,
		relay:      relayClient,
		feed:       feed,
		callbacks:  callbacks,
		challenge:  ch,
		playerID:   playerID,
		opponentID: opponentID,
	}

	s.presence = NewPresenceTracker(lifecycle, ch.ID, playerID, opponentID, callbacks.OnOpponentPresence)
	s.timer = NewMatchTimer(cfg.Clock, cfg.Duration, callbacks.OnTick, s.complete)
	s.guesses = NewGuessSynchronizer(lifecycle, relayClient, ch.ID, playerID, opponentID, s.handleScores)

	return s
}

// Enter marks this player present on the match-setup screen.
func (s *Session) Enter(ctx context.Context) error {
	return s.presence.Enter(ctx)
}

// Leave detaches from the match-setup screen. It clears the presence
// flag synchronously (which may cancel the challenge) before dropping
// the relay connection.
func (s *Session) Leave(ctx context.Context) error {
	if err := s.presence.Leave(ctx); err != nil {
		return err
	}
	return s.relay.Close()
}

// Start attempts the accepted -> active transition and tells the
// opponent over the relay so their screen can react before the
// snapshot lands. Racing the opponent's Start is safe; the document
// keeps a single startedAt.
func (s *Session) Start(ctx context.Context) error {
	ch, err := s.lifecycle.Start(ctx, s.challenge.ID, s.playerID)
	if err != nil {
		return fmt.Errorf("failed to start match: %w", err)
	}

	if err := s.relay.PublishStartMatch(ch.MatchID, ch.ChallengerID, ch.ChallengedID); err != nil {
		log.Warn().Err(err).Msg("failed to publish start-match on relay")
	}

	s.startTimer()
	return nil
}

// SubmitGuess forwards a locally-recognized correct guess.
func (s *Session) SubmitGuess(ctx context.Context, item string) error {
	return s.guesses.SubmitGuess(ctx, item)
}

// Scores returns the current score view: own score first.
func (s *Session) Scores() (own, opponent int) {
	return s.guesses.Scores()
}

// Remaining returns the current countdown value.
func (s *Session) Remaining() time.Duration {
	return s.timer.Remaining()
}

// OpponentPresent reports the opponent's presence.
func (s *Session) OpponentPresent() bool {
	return s.presence.OpponentPresent()
}

// Run drives the session until the challenge reaches a terminal
// status or ctx ends. It is the single routing point for relay events
// and document snapshots; no ordering between the two is assumed.
func (s *Session) Run(ctx context.Context) error {
	s.runMu.Lock()
	s.runCtx = ctx
	s.runMu.Unlock()

	snapshots, err := s.feed.Watch(ctx, s.challenge.ID)
	if err != nil {
		return fmt.Errorf("failed to watch challenge document: %w", err)
	}

	relayEvents := s.relay.Events()

	if s.cfg.RejoinPollInterval > 0 {
		poller := NewRejoinPoller(s.cfg.Clock, s.cfg.RejoinPollInterval, s.presence.Resync)
		go poller.Run(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-relayEvents:
			if !ok {
				// Relay gone: keep running on snapshots alone
				relayEvents = nil
				continue
			}
			s.handleRelayEvent(event)

		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			if done := s.applySnapshot(snap); done {
				return nil
			}
		}
	}
}

func (s *Session) handleRelayEvent(event relay.RelayEvent) {
	s.presence.HandleRelayEvent(event)
	s.guesses.HandleRelayEvent(event)

	if event.Type == relay.EventTypeStartMatch {
		// Advisory only: start the countdown now, the authoritative
		// startedAt arrives with the next snapshot.
		s.startTimer()
	}
}

func (s *Session) applySnapshot(snap models.Challenge) (done bool) {
	s.presence.ApplySnapshot(snap)
	s.guesses.ApplySnapshot(snap)

	if snap.StartedAt != nil {
		s.startTimer()
		s.timer.SetStartedAt(*snap.StartedAt)
	}

	if snap.Status.Terminal() {
		log.Info().
			Str("challenge_id", snap.ID.String()).
			Str("status", string(snap.Status)).
			Msg("match session ended")
		if s.callbacks.OnEnded != nil {
			s.callbacks.OnEnded(snap)
		}
		return true
	}
	return false
}

func (s *Session) handleScores(own, opponent int) {
	if s.callbacks.OnScores != nil {
		s.callbacks.OnScores(own, opponent)
	}
	if own >= s.cfg.ScoreThreshold || opponent >= s.cfg.ScoreThreshold {
		s.complete()
	}
}

func (s *Session) startTimer() {
	s.timerOnce.Do(func() {
		s.runMu.Lock()
		ctx := s.runCtx
		s.runMu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		go s.timer.Run(ctx)
	})
}

// complete fires the terminal success transition. Both clients may
// reach this independently (timer expiry on each, threshold on each);
// the store write is an idempotent status set, so every call past the
// first is a no-op.
func (s *Session) complete() {
	s.completeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if _, err := s.lifecycle.Complete(ctx, s.challenge.ID); err != nil {
			log.Error().Err(err).Str("challenge_id", s.challenge.ID.String()).Msg("failed to complete match")
		}
	})
}

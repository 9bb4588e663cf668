package match

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mapclash/mapclash/go/internal/models"
	"github.com/mapclash/mapclash/go/internal/relay"
	"github.com/rs/zerolog/log"
)

// Lifecycle is the slice of challenge operations a client session
// drives against the authoritative document. challenge.App satisfies
// it directly; remote clients satisfy it over the challenge API.
type Lifecycle interface {
	SetPresence(ctx context.Context, id uuid.UUID, callerID string, joined bool) (*models.Challenge, error)
	Start(ctx context.Context, id uuid.UUID, callerID string) (*models.Challenge, error)
	Cancel(ctx context.Context, id uuid.UUID, callerID string) (*models.Challenge, error)
	Complete(ctx context.Context, id uuid.UUID) (*models.Challenge, error)
	RecordGuess(ctx context.Context, id uuid.UUID, callerID, item string) (*models.Challenge, error)
}

// PresenceTracker keeps this player's presence flag true exactly while
// they sit on the match-setup screen, and tracks the opponent's
// presence from two signals: relay events for latency, document
// snapshots for truth. Only the document drives cancellation.
type PresenceTracker struct {
	lifecycle   Lifecycle
	challengeID uuid.UUID
	playerID    string
	opponentID  string

	mu              sync.Mutex
	joined          bool
	opponentPresent bool

	onOpponentChange func(present bool)
}

// NewPresenceTracker creates a tracker for one player in one
// challenge. onOpponentChange may be nil.
func NewPresenceTracker(lifecycle Lifecycle, challengeID uuid.UUID, playerID, opponentID string, onOpponentChange func(bool)) *PresenceTracker {
	return &PresenceTracker{
		lifecycle:        lifecycle,
		challengeID:      challengeID,
		playerID:         playerID,
		opponentID:       opponentID,
		onOpponentChange: onOpponentChange,
	}
}

// Enter marks this player present in the document. On failure the
// remote flag is unchanged and the caller retries on the next
// transition; no local state is treated as ground truth.
func (p *PresenceTracker) Enter(ctx context.Context) error {
	if _, err := p.lifecycle.SetPresence(ctx, p.challengeID, p.playerID, true); err != nil {
		return fmt.Errorf("failed to mark presence: %w", err)
	}

	p.mu.Lock()
	p.joined = true
	p.mu.Unlock()
	return nil
}

// Leave clears this player's flag. It runs synchronously with the
// navigation transition so a fast follow-up screen change cannot skip
// it, and the lifecycle runs the both-absent cancellation check inside
// the same call.
func (p *PresenceTracker) Leave(ctx context.Context) error {
	if _, err := p.lifecycle.SetPresence(ctx, p.challengeID, p.playerID, false); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}

	p.mu.Lock()
	p.joined = false
	p.mu.Unlock()
	return nil
}

// HandleRelayEvent applies an advisory presence signal from the relay.
func (p *PresenceTracker) HandleRelayEvent(event relay.RelayEvent) {
	var present bool
	switch event.Type {
	case relay.EventTypePresenceJoined:
		present = true
	case relay.EventTypePresenceLeft:
		present = false
	default:
		return
	}
	if event.PlayerID != p.opponentID {
		return
	}
	p.setOpponentPresent(present)
}

// ApplySnapshot corrects opponent presence from the authoritative
// document. Snapshots win over whatever the relay said last.
func (p *PresenceTracker) ApplySnapshot(ch models.Challenge) {
	p.setOpponentPresent(ch.JoinedFlag(p.opponentID))
}

// Resync re-asserts this player's presence in the document while they
// are still on the setup screen. The rejoin poller calls it so a
// presence write lost to a transient failure heals within one
// interval.
func (p *PresenceTracker) Resync(ctx context.Context) {
	p.mu.Lock()
	joined := p.joined
	p.mu.Unlock()
	if !joined {
		return
	}

	if _, err := p.lifecycle.SetPresence(ctx, p.challengeID, p.playerID, true); err != nil {
		log.Warn().Err(err).Str("challenge_id", p.challengeID.String()).Msg("presence resync failed")
	}
}

// OpponentPresent reports the current best knowledge of the opponent.
func (p *PresenceTracker) OpponentPresent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opponentPresent
}

func (p *PresenceTracker) setOpponentPresent(present bool) {
	p.mu.Lock()
	changed := p.opponentPresent != present
	p.opponentPresent = present
	p.mu.Unlock()

	if changed {
		log.Debug().
			Str("challenge_id", p.challengeID.String()).
			Bool("opponent_present", present).
			Msg("opponent presence changed")
		if p.onOpponentChange != nil {
			p.onOpponentChange(present)
		}
	}
}

// RejoinPoller periodically re-checks whether this player still has a
// live match to rejoin after backgrounding or a restart. The interval
// is bounded, and cancelling ctx mid-flight stops the ticker without
// leaking it.
type RejoinPoller struct {
	clock    clockwork.Clock
	interval time.Duration
	check    func(ctx context.Context)
}

// NewRejoinPoller creates a poller running check every interval.
func NewRejoinPoller(clock clockwork.Clock, interval time.Duration, check func(ctx context.Context)) *RejoinPoller {
	return &RejoinPoller{clock: clock, interval: interval, check: check}
}

// Run polls until ctx ends.
func (rp *RejoinPoller) Run(ctx context.Context) {
	ticker := rp.clock.NewTicker(rp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			rp.check(ctx)
		}
	}
}

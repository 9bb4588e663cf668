package match

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mapclash/mapclash/go/internal/models"
	"github.com/mapclash/mapclash/go/internal/relay"
	"github.com/mapclash/mapclash/go/internal/relay/relayclient"
	"github.com/mapclash/mapclash/go/internal/rules"
	"github.com/rs/zerolog/log"
)

// GuessSynchronizer merges both players' correct guesses into one
// consistent score view. Own guesses and relay events update the view
// optimistically for latency; every document snapshot then overwrites
// it, because the document always wins conflicts.
type GuessSynchronizer struct {
	lifecycle   Lifecycle
	relay       relayclient.Client
	challengeID uuid.UUID
	playerID    string
	opponentID  string

	mu     sync.Mutex
	seen   map[string]map[string]bool // playerID -> normalized item set
	scores map[string]int

	onScores func(own, opponent int)
}

// NewGuessSynchronizer creates a synchronizer for one player in one
// match. onScores may be nil.
func NewGuessSynchronizer(lifecycle Lifecycle, relayClient relayclient.Client, challengeID uuid.UUID, playerID, opponentID string, onScores func(own, opponent int)) *GuessSynchronizer {
	return &GuessSynchronizer{
		lifecycle:   lifecycle,
		relay:       relayClient,
		challengeID: challengeID,
		playerID:    playerID,
		opponentID:  opponentID,
		seen: map[string]map[string]bool{
			playerID:   make(map[string]bool),
			opponentID: make(map[string]bool),
		},
		scores:   map[string]int{playerID: 0, opponentID: 0},
		onScores: onScores,
	}
}

// SubmitGuess handles a locally-recognized correct guess: dedup,
// optimistic local score, relay fan-out for the opponent's screen, and
// the authoritative document write. Repeating an item this player
// already guessed is a no-op.
func (g *GuessSynchronizer) SubmitGuess(ctx context.Context, item string) error {
	item = rules.NormalizeItem(item)

	g.mu.Lock()
	if g.seen[g.playerID][item] {
		g.mu.Unlock()
		return nil
	}
	g.seen[g.playerID][item] = true
	if rules.CountsForScore(item) {
		g.scores[g.playerID]++
	}
	own, opp := g.scores[g.playerID], g.scores[g.opponentID]
	g.mu.Unlock()

	g.notifyScores(own, opp)

	// Relay is a latency optimization: a failed publish costs the
	// opponent a moment of staleness, nothing more.
	if err := g.relay.PublishGuess(item); err != nil {
		log.Warn().Err(err).Str("item", item).Msg("failed to publish guess on relay")
	}

	if _, err := g.lifecycle.RecordGuess(ctx, g.challengeID, g.playerID, item); err != nil {
		log.Error().Err(err).Str("item", item).Msg("failed to record guess in document")
		return err
	}
	return nil
}

// HandleRelayEvent applies an opponent's guess the moment the relay
// delivers it, without waiting for the document roundtrip. Duplicated
// relay messages hit the dedup set and count nothing.
func (g *GuessSynchronizer) HandleRelayEvent(event relay.RelayEvent) {
	if event.Type != relay.EventTypeGuess {
		return
	}

	parsed, err := relay.ParseEventPayload(&event)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed guess event")
		return
	}
	payload, ok := parsed.(relay.GuessPayload)
	if !ok || payload.PlayerID != g.opponentID {
		return
	}

	item := rules.NormalizeItem(payload.Item)

	g.mu.Lock()
	if g.seen[g.opponentID][item] {
		g.mu.Unlock()
		return
	}
	g.seen[g.opponentID][item] = true
	if rules.CountsForScore(item) {
		g.scores[g.opponentID]++
	}
	own, opp := g.scores[g.playerID], g.scores[g.opponentID]
	g.mu.Unlock()

	g.notifyScores(own, opp)
}

// ApplySnapshot reconciles against the authoritative document: its
// score list replaces the locally-accumulated one wholesale, and its
// guess log refills the dedup sets so that guesses whose relay message
// was lost stay counted exactly once.
func (g *GuessSynchronizer) ApplySnapshot(ch models.Challenge) {
	g.mu.Lock()
	for _, entry := range ch.GuessLog {
		if set, ok := g.seen[entry.PlayerID]; ok {
			set[rules.NormalizeItem(entry.Item)] = true
		}
	}

	changed := false
	for _, entry := range ch.Scores {
		if _, ok := g.scores[entry.PlayerID]; ok && g.scores[entry.PlayerID] != entry.Score {
			g.scores[entry.PlayerID] = entry.Score
			changed = true
		}
	}
	own, opp := g.scores[g.playerID], g.scores[g.opponentID]
	g.mu.Unlock()

	if changed {
		g.notifyScores(own, opp)
	}
}

// Scores returns the current view: own score first.
func (g *GuessSynchronizer) Scores() (own, opponent int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.scores[g.playerID], g.scores[g.opponentID]
}

func (g *GuessSynchronizer) notifyScores(own, opponent int) {
	if g.onScores != nil {
		g.onScores(own, opponent)
	}
}

package match

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapclash/mapclash/go/internal/challenge"
	"github.com/mapclash/mapclash/go/internal/document"
	"github.com/mapclash/mapclash/go/internal/models"
	"github.com/mapclash/mapclash/go/internal/relay/relayclient"
)

type sessionFixture struct {
	store *document.MemoryStore
	app   *challenge.App
	hub   *relayclient.FakeHub
	ch    *models.Challenge

	alice, bob           *Session
	aliceEnded, bobEnded chan models.Challenge
}

// newSessionFixture brings a challenge to accepted and attaches both
// players' sessions to the same fake relay room and snapshot feed.
func newSessionFixture(t *testing.T, cfg SessionConfig) *sessionFixture {
	t.Helper()
	ctx := context.Background()

	f := &sessionFixture{
		store:      document.NewMemoryStore(),
		hub:        relayclient.NewFakeHub(),
		aliceEnded: make(chan models.Challenge, 1),
		bobEnded:   make(chan models.Challenge, 1),
	}
	f.app = challenge.NewApp(f.store, nil, nil)

	ch, err := f.app.Create(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.app.SetPresence(ctx, ch.ID, "bob", true)
	require.NoError(t, err)
	ch, err = f.app.Accept(ctx, ch.ID, "bob")
	require.NoError(t, err)
	f.ch = ch

	aliceConn := f.hub.Connect(ch.MatchID, "alice")
	bobConn := f.hub.Connect(ch.MatchID, "bob")

	f.alice = NewSession(cfg, f.app, aliceConn, f.store, *ch, "alice", Callbacks{
		OnEnded: func(final models.Challenge) { f.aliceEnded <- final },
	})
	f.bob = NewSession(cfg, f.app, bobConn, f.store, *ch, "bob", Callbacks{
		OnEnded: func(final models.Challenge) { f.bobEnded <- final },
	})
	return f
}

func awaitEnded(t *testing.T, ended <-chan models.Challenge) models.Challenge {
	t.Helper()
	select {
	case final := <-ended:
		return final
	case <-time.After(5 * time.Second):
		t.Fatal("session never ended")
	}
	return models.Challenge{}
}

func TestSessionsCompleteAtScoreThreshold(t *testing.T) {
	cfg := SessionConfig{
		Clock:          clockwork.NewFakeClock(),
		Duration:       10 * time.Minute,
		ScoreThreshold: 2,
	}
	f := newSessionFixture(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.alice.Run(ctx)
	go f.bob.Run(ctx)

	require.NoError(t, f.alice.Start(ctx))

	require.NoError(t, f.alice.SubmitGuess(ctx, "France"))
	require.NoError(t, f.alice.SubmitGuess(ctx, "Spain"))

	final := awaitEnded(t, f.aliceEnded)
	assert.Equal(t, models.ChallengeStatusCompleted, final.Status)
	assert.Equal(t, 2, final.ScoreOf("alice"))
	assert.Equal(t, 0, final.ScoreOf("bob"))

	// Both sessions observe the same terminal snapshot
	final = awaitEnded(t, f.bobEnded)
	assert.Equal(t, models.ChallengeStatusCompleted, final.Status)
}

func TestSessionsCompleteOnTimerExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := SessionConfig{
		Clock:          clock,
		Duration:       3 * time.Second,
		ScoreThreshold: 196,
	}
	f := newSessionFixture(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.alice.Run(ctx)
	go f.bob.Run(ctx)

	require.NoError(t, f.alice.Start(ctx))

	// Both sessions' timers attach to the fake clock: alice's from her
	// own Start, bob's from the relayed start-match event
	clock.BlockUntil(2)
	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
	}

	final := awaitEnded(t, f.aliceEnded)
	assert.Equal(t, models.ChallengeStatusCompleted, final.Status)
	awaitEnded(t, f.bobEnded)

	// Expiry on both clients still completes the match exactly once
	doc, err := f.store.Get(context.Background(), f.ch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeStatusCompleted, doc.Status)
}

func TestOpponentGuessReachesOtherSession(t *testing.T) {
	cfg := SessionConfig{
		Clock:          clockwork.NewFakeClock(),
		Duration:       10 * time.Minute,
		ScoreThreshold: 196,
	}
	f := newSessionFixture(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.alice.Run(ctx)
	go f.bob.Run(ctx)

	require.NoError(t, f.bob.Start(ctx))
	require.NoError(t, f.bob.SubmitGuess(ctx, "Portugal"))

	require.Eventually(t, func() bool {
		_, opp := f.alice.Scores()
		return opp == 1
	}, 2*time.Second, 10*time.Millisecond, "alice never saw bob's guess")

	own, _ := f.bob.Scores()
	assert.Equal(t, 1, own)
}

func TestSessionRejoinPollerRestoresLostPresence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := SessionConfig{
		Clock:              clock,
		Duration:           10 * time.Minute,
		ScoreThreshold:     196,
		RejoinPollInterval: 30 * time.Second,
	}
	f := newSessionFixture(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.alice.Run(ctx)
	go f.bob.Run(ctx)

	require.NoError(t, f.alice.Enter(ctx))

	// Alice's presence flag gets lost out from under her
	_, err := f.store.SetPresence(ctx, f.ch.ID, "alice", false)
	require.NoError(t, err)

	// Both sessions' pollers attach to the fake clock
	clock.BlockUntil(2)
	clock.Advance(30 * time.Second)

	require.Eventually(t, func() bool {
		doc, err := f.store.Get(context.Background(), f.ch.ID)
		return err == nil && doc.ChallengerJoined
	}, 2*time.Second, 10*time.Millisecond, "poller never re-asserted presence")
}

func TestLeaveBeforeAcceptEndsSession(t *testing.T) {
	store := document.NewMemoryStore()
	app := challenge.NewApp(store, nil, nil)
	hub := relayclient.NewFakeHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := app.Create(ctx, "alice", "bob")
	require.NoError(t, err)

	ended := make(chan models.Challenge, 1)
	conn := hub.Connect(ch.ID, "alice")
	session := NewSession(SessionConfig{
		Clock:          clockwork.NewFakeClock(),
		Duration:       10 * time.Minute,
		ScoreThreshold: 196,
	}, app, conn, store, *ch, "alice", Callbacks{
		OnEnded: func(final models.Challenge) { ended <- final },
	})

	go session.Run(ctx)

	// Alice abandons the setup screen while bob never joined
	require.NoError(t, session.Leave(ctx))

	final := awaitEnded(t, ended)
	assert.Equal(t, models.ChallengeStatusCancelled, final.Status)
}

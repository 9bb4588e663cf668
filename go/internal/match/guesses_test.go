package match

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapclash/mapclash/go/internal/challenge"
	"github.com/mapclash/mapclash/go/internal/document"
	"github.com/mapclash/mapclash/go/internal/models"
	"github.com/mapclash/mapclash/go/internal/relay"
	"github.com/mapclash/mapclash/go/internal/relay/relayclient"
)

// startTestMatch drives a challenge all the way to active and returns
// the app alongside the live document.
func startTestMatch(t *testing.T, store *document.MemoryStore) (*challenge.App, *models.Challenge) {
	t.Helper()
	ctx := context.Background()
	app := challenge.NewApp(store, nil, nil)

	ch, err := app.Create(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = app.SetPresence(ctx, ch.ID, "bob", true)
	require.NoError(t, err)
	_, err = app.Accept(ctx, ch.ID, "bob")
	require.NoError(t, err)
	got, err := app.Start(ctx, ch.ID, "alice")
	require.NoError(t, err)
	return app, got
}

func TestSubmitGuessScoresAndDedups(t *testing.T) {
	store := document.NewMemoryStore()
	app, ch := startTestMatch(t, store)

	hub := relayclient.NewFakeHub()
	client := hub.Connect(ch.MatchID, "alice")
	gs := NewGuessSynchronizer(app, client, ch.ID, "alice", "bob", nil)

	ctx := context.Background()
	require.NoError(t, gs.SubmitGuess(ctx, "France"))

	own, opp := gs.Scores()
	assert.Equal(t, 1, own)
	assert.Equal(t, 0, opp)

	// Repeating the item changes nothing locally or in the document
	require.NoError(t, gs.SubmitGuess(ctx, "  france "))
	own, _ = gs.Scores()
	assert.Equal(t, 1, own)

	doc, err := store.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.ScoreOf("alice"))
	assert.Len(t, doc.GuessLog, 1)
}

func TestSameItemScoresForBothPlayers(t *testing.T) {
	store := document.NewMemoryStore()
	app, ch := startTestMatch(t, store)

	hub := relayclient.NewFakeHub()
	aliceConn := hub.Connect(ch.MatchID, "alice")
	bobConn := hub.Connect(ch.MatchID, "bob")

	alice := NewGuessSynchronizer(app, aliceConn, ch.ID, "alice", "bob", nil)
	bob := NewGuessSynchronizer(app, bobConn, ch.ID, "bob", "alice", nil)

	ctx := context.Background()
	require.NoError(t, alice.SubmitGuess(ctx, "France"))
	require.NoError(t, bob.SubmitGuess(ctx, "France"))

	// Each side sees the opponent's relay event
	drainGuessEvents(t, alice, aliceConn)
	drainGuessEvents(t, bob, bobConn)

	own, opp := alice.Scores()
	assert.Equal(t, 1, own)
	assert.Equal(t, 1, opp)

	own, opp = bob.Scores()
	assert.Equal(t, 1, own)
	assert.Equal(t, 1, opp)

	doc, err := store.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.ScoreOf("alice"))
	assert.Equal(t, 1, doc.ScoreOf("bob"))
}

func TestExcludedTerritoryNeverScores(t *testing.T) {
	store := document.NewMemoryStore()
	app, ch := startTestMatch(t, store)

	hub := relayclient.NewFakeHub()
	client := hub.Connect(ch.MatchID, "alice")
	gs := NewGuessSynchronizer(app, client, ch.ID, "alice", "bob", nil)

	ctx := context.Background()
	require.NoError(t, gs.SubmitGuess(ctx, "Kosovo"))

	own, _ := gs.Scores()
	assert.Equal(t, 0, own)

	doc, err := store.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, doc.ScoreOf("alice"))
	assert.Len(t, doc.GuessLog, 1, "the guess itself is still recorded")
}

func TestLostRelayGuessReconciledBySnapshot(t *testing.T) {
	store := document.NewMemoryStore()
	app, ch := startTestMatch(t, store)

	hub := relayclient.NewFakeHub()
	aliceConn := hub.Connect(ch.MatchID, "alice")
	bobConn := hub.Connect(ch.MatchID, "bob")

	alice := NewGuessSynchronizer(app, aliceConn, ch.ID, "alice", "bob", nil)
	bob := NewGuessSynchronizer(app, bobConn, ch.ID, "bob", "alice", nil)

	// The relay eats Bob's message; the document write still lands
	hub.SetDropAll(true)
	ctx := context.Background()
	require.NoError(t, bob.SubmitGuess(ctx, "Spain"))
	hub.SetDropAll(false)

	_, opp := alice.Scores()
	assert.Equal(t, 0, opp, "alice has not heard about the guess yet")

	doc, err := store.Get(ctx, ch.ID)
	require.NoError(t, err)
	alice.ApplySnapshot(*doc)

	_, opp = alice.Scores()
	assert.Equal(t, 1, opp, "the snapshot carries the lost guess")

	// A late duplicate relay delivery of the same guess counts nothing
	require.NoError(t, bobConn.PublishGuess("spain"))
	drainGuessEvents(t, alice, aliceConn)
	_, opp = alice.Scores()
	assert.Equal(t, 1, opp)
}

func TestSnapshotScoresWin(t *testing.T) {
	store := document.NewMemoryStore()
	app, ch := startTestMatch(t, store)

	hub := relayclient.NewFakeHub()
	client := hub.Connect(ch.MatchID, "alice")

	var lastOwn, lastOpp int
	gs := NewGuessSynchronizer(app, client, ch.ID, "alice", "bob", func(own, opp int) {
		lastOwn, lastOpp = own, opp
	})

	snap := *ch
	snap.Scores = []models.ScoreEntry{
		{PlayerID: "alice", Score: 5},
		{PlayerID: "bob", Score: 7},
	}
	gs.ApplySnapshot(snap)

	own, opp := gs.Scores()
	assert.Equal(t, 5, own)
	assert.Equal(t, 7, opp)
	assert.Equal(t, 5, lastOwn)
	assert.Equal(t, 7, lastOpp)
}

// drainGuessEvents feeds every pending relay event for conn into the synchronizer.
func drainGuessEvents(t *testing.T, gs *GuessSynchronizer, conn *relayclient.FakeClient) {
	t.Helper()
	for {
		select {
		case event := <-conn.Events():
			if event.Type == relay.EventTypeGuess {
				gs.HandleRelayEvent(event)
			}
		default:
			return
		}
	}
}

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
)

func TestEnterAndLeaveWriteThrough(t *testing.T) {
	store := document.NewMemoryStore()
	ctx := context.Background()
	app := challenge.NewApp(store, nil, nil)

	ch, err := app.Create(ctx, "alice", "bob")
	require.NoError(t, err)

	tracker := NewPresenceTracker(app, ch.ID, "bob", "alice", nil)

	require.NoError(t, tracker.Enter(ctx))
	doc, err := store.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.True(t, doc.ChallengedJoined)

	require.NoError(t, tracker.Leave(ctx))
	doc, err = store.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.False(t, doc.ChallengedJoined)
}

func TestLeaveCancelsAbandonedChallenge(t *testing.T) {
	store := document.NewMemoryStore()
	ctx := context.Background()
	app := challenge.NewApp(store, nil, nil)

	ch, err := app.Create(ctx, "alice", "bob")
	require.NoError(t, err)

	// Bob never shows; Alice leaving empties the setup screen
	tracker := NewPresenceTracker(app, ch.ID, "alice", "bob", nil)
	require.NoError(t, tracker.Leave(ctx))

	doc, err := store.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeStatusCancelled, doc.Status)
}

func TestRelayEventsAdviseOpponentPresence(t *testing.T) {
	store := document.NewMemoryStore()
	ctx := context.Background()
	app := challenge.NewApp(store, nil, nil)

	ch, err := app.Create(ctx, "alice", "bob")
	require.NoError(t, err)

	var changes []bool
	tracker := NewPresenceTracker(app, ch.ID, "alice", "bob", func(present bool) {
		changes = append(changes, present)
	})

	joined, err := relay.NewEvent(ch.MatchID, "bob", relay.EventTypePresenceJoined, relay.PresencePayload{PlayerID: "bob"})
	require.NoError(t, err)
	tracker.HandleRelayEvent(*joined)
	assert.True(t, tracker.OpponentPresent())

	// A second joined event is not a change
	tracker.HandleRelayEvent(*joined)

	left, err := relay.NewEvent(ch.MatchID, "bob", relay.EventTypePresenceLeft, relay.PresencePayload{PlayerID: "bob"})
	require.NoError(t, err)
	tracker.HandleRelayEvent(*left)
	assert.False(t, tracker.OpponentPresent())

	assert.Equal(t, []bool{true, false}, changes)
}

func TestEventsFromOtherPlayersIgnored(t *testing.T) {
	store := document.NewMemoryStore()
	ctx := context.Background()
	app := challenge.NewApp(store, nil, nil)

	ch, err := app.Create(ctx, "alice", "bob")
	require.NoError(t, err)

	tracker := NewPresenceTracker(app, ch.ID, "alice", "bob", nil)

	event, err := relay.NewEvent(ch.MatchID, "alice", relay.EventTypePresenceJoined, relay.PresencePayload{PlayerID: "alice"})
	require.NoError(t, err)
	tracker.HandleRelayEvent(*event)

	assert.False(t, tracker.OpponentPresent(), "own echo must not flip opponent presence")
}

func TestSnapshotOverridesRelaySignal(t *testing.T) {
	store := document.NewMemoryStore()
	ctx := context.Background()
	app := challenge.NewApp(store, nil, nil)

	ch, err := app.Create(ctx, "alice", "bob")
	require.NoError(t, err)

	tracker := NewPresenceTracker(app, ch.ID, "alice", "bob", nil)

	joined, err := relay.NewEvent(ch.MatchID, "bob", relay.EventTypePresenceJoined, relay.PresencePayload{PlayerID: "bob"})
	require.NoError(t, err)
	tracker.HandleRelayEvent(*joined)
	require.True(t, tracker.OpponentPresent())

	// The document says bob is gone; the document wins
	doc, err := store.Get(ctx, ch.ID)
	require.NoError(t, err)
	tracker.ApplySnapshot(*doc)
	assert.False(t, tracker.OpponentPresent())
}

package relay_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapclash/mapclash/go/internal/relay"
	"github.com/mapclash/mapclash/go/internal/relay/relayclient"
)

// startRelayServer runs a full relay over a test HTTP server.
func startRelayServer(t *testing.T) *httptest.Server {
	t.Helper()

	service := relay.NewService(relay.DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go service.Start(ctx)

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return server
}

func awaitEvent(t *testing.T, client relayclient.Client, eventType relay.EventType) relay.RelayEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case event, ok := <-client.Events():
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", eventType)
			}
			if event.Type == eventType {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func assertNoEvent(t *testing.T, client relayclient.Client) {
	t.Helper()
	select {
	case event, ok := <-client.Events():
		if ok {
			t.Fatalf("unexpected event %s from %s", event.Type, event.PlayerID)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

func TestJoinAnnouncesToRoomNotToSelf(t *testing.T) {
	server := startRelayServer(t)
	matchID := uuid.New()
	ctx := context.Background()

	alice, err := relayclient.Dial(ctx, server.URL, matchID, "alice")
	require.NoError(t, err)
	defer alice.Close()

	bob, err := relayclient.Dial(ctx, server.URL, matchID, "bob")
	require.NoError(t, err)
	defer bob.Close()

	event := awaitEvent(t, alice, relay.EventTypePresenceJoined)
	assert.Equal(t, "bob", event.PlayerID)
	assert.Equal(t, matchID.String(), event.RoomID)

	// Bob never hears his own join echo
	assertNoEvent(t, bob)
}

func TestGuessFansOutToRoomExceptSender(t *testing.T) {
	server := startRelayServer(t)
	matchID := uuid.New()
	ctx := context.Background()

	alice, err := relayclient.Dial(ctx, server.URL, matchID, "alice")
	require.NoError(t, err)
	defer alice.Close()

	bob, err := relayclient.Dial(ctx, server.URL, matchID, "bob")
	require.NoError(t, err)
	defer bob.Close()

	awaitEvent(t, alice, relay.EventTypePresenceJoined)

	require.NoError(t, alice.PublishGuess("france"))

	event := awaitEvent(t, bob, relay.EventTypeGuess)
	assert.Equal(t, "alice", event.PlayerID, "sender identity is stamped server side")

	var payload relay.GuessPayload
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	assert.Equal(t, "france", payload.Item)

	assertNoEvent(t, alice)
}

func TestEventsStayInsideTheirRoom(t *testing.T) {
	server := startRelayServer(t)
	ctx := context.Background()

	alice, err := relayclient.Dial(ctx, server.URL, uuid.New(), "alice")
	require.NoError(t, err)
	defer alice.Close()

	other, err := relayclient.Dial(ctx, server.URL, uuid.New(), "carol")
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, alice.PublishGuess("spain"))

	assertNoEvent(t, other)
}

func TestDisconnectBroadcastsPresenceLeft(t *testing.T) {
	server := startRelayServer(t)
	matchID := uuid.New()
	ctx := context.Background()

	alice, err := relayclient.Dial(ctx, server.URL, matchID, "alice")
	require.NoError(t, err)
	defer alice.Close()

	bob, err := relayclient.Dial(ctx, server.URL, matchID, "bob")
	require.NoError(t, err)

	awaitEvent(t, alice, relay.EventTypePresenceJoined)

	require.NoError(t, bob.Close())

	event := awaitEvent(t, alice, relay.EventTypePresenceLeft)
	assert.Equal(t, "bob", event.PlayerID)
}

func TestStartMatchReachesOpponent(t *testing.T) {
	server := startRelayServer(t)
	matchID := uuid.New()
	ctx := context.Background()

	alice, err := relayclient.Dial(ctx, server.URL, matchID, "alice")
	require.NoError(t, err)
	defer alice.Close()

	bob, err := relayclient.Dial(ctx, server.URL, matchID, "bob")
	require.NoError(t, err)
	defer bob.Close()

	awaitEvent(t, alice, relay.EventTypePresenceJoined)

	require.NoError(t, bob.PublishStartMatch(matchID, "alice", "bob"))

	event := awaitEvent(t, alice, relay.EventTypeStartMatch)
	var payload relay.StartMatchPayload
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	assert.Equal(t, matchID.String(), payload.MatchID)
}

func TestUpgradeRequiresMatchAndPlayer(t *testing.T) {
	server := startRelayServer(t)

	resp, err := http.Get(server.URL + "/ws/match")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(server.URL + "/ws/match?match_id=not-a-uuid&player_id=alice")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(fmt.Sprintf("%s/ws/match?match_id=%s", server.URL, uuid.New()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConnectionStats(t *testing.T) {
	server := startRelayServer(t)
	matchID := uuid.New()
	ctx := context.Background()

	alice, err := relayclient.Dial(ctx, server.URL, matchID, "alice")
	require.NoError(t, err)
	defer alice.Close()

	bob, err := relayclient.Dial(ctx, server.URL, matchID, "bob")
	require.NoError(t, err)
	defer bob.Close()

	// Bob's join has fanned out, so both connections are registered
	awaitEvent(t, alice, relay.EventTypePresenceJoined)

	resp, err := http.Get(server.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats struct {
		TotalConnections int `json:"total_connections"`
		ActiveRooms      int `json:"active_rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 2, stats.TotalConnections)
	assert.Equal(t, 1, stats.ActiveRooms)
}

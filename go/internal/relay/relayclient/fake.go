package relayclient

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mapclash/mapclash/go/internal/relay"
)

// FakeHub is an in-memory stand-in for the relay server. It gives
// tests and local two-client play the same contract as the real
// transport: room-scoped fan-out, sender excluded, best effort.
type FakeHub struct {
	mu      sync.Mutex
	rooms   map[uuid.UUID]map[*FakeClient]bool
	dropAll bool
}

// NewFakeHub creates an empty hub.
func NewFakeHub() *FakeHub {
	return &FakeHub{rooms: make(map[uuid.UUID]map[*FakeClient]bool)}
}

// SetDropAll makes the hub silently discard published events,
// simulating relay message loss.
func (h *FakeHub) SetDropAll(drop bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropAll = drop
}

// Connect joins a fake client to the room for matchID and announces it
// to the other members.
func (h *FakeHub) Connect(matchID uuid.UUID, playerID string) *FakeClient {
	c := &FakeClient{
		hub:      h,
		matchID:  matchID,
		playerID: playerID,
		events:   make(chan relay.RelayEvent, eventBuffer),
	}

	h.mu.Lock()
	if h.rooms[matchID] == nil {
		h.rooms[matchID] = make(map[*FakeClient]bool)
	}
	h.rooms[matchID][c] = true
	h.mu.Unlock()

	h.broadcast(c, relay.EventTypePresenceJoined, relay.PresencePayload{PlayerID: playerID})
	return c
}

func (h *FakeHub) broadcast(sender *FakeClient, eventType relay.EventType, payload interface{}) {
	event, err := relay.NewEvent(sender.matchID, sender.playerID, eventType, payload)
	if err != nil {
		return
	}

	h.mu.Lock()
	if h.dropAll {
		h.mu.Unlock()
		return
	}
	var targets []*FakeClient
	for c := range h.rooms[sender.matchID] {
		if c != sender {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		select {
		case c.events <- *event:
		default:
		}
	}
}

// FakeClient implements Client against a FakeHub.
type FakeClient struct {
	hub      *FakeHub
	matchID  uuid.UUID
	playerID string
	events   chan relay.RelayEvent

	closeOnce sync.Once
}

// PublishGuess implements Client.
func (c *FakeClient) PublishGuess(item string) error {
	c.hub.broadcast(c, relay.EventTypeGuess, relay.GuessPayload{PlayerID: c.playerID, Item: item})
	return nil
}

// PublishStartMatch implements Client.
func (c *FakeClient) PublishStartMatch(matchID uuid.UUID, player1ID, player2ID string) error {
	c.hub.broadcast(c, relay.EventTypeStartMatch, relay.StartMatchPayload{
		MatchID:   matchID.String(),
		Player1ID: player1ID,
		Player2ID: player2ID,
	})
	return nil
}

// Events implements Client.
func (c *FakeClient) Events() <-chan relay.RelayEvent {
	return c.events
}

// Close implements Client.
func (c *FakeClient) Close() error {
	c.closeOnce.Do(func() {
		c.hub.mu.Lock()
		if room, ok := c.hub.rooms[c.matchID]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(c.hub.rooms, c.matchID)
			}
		}
		c.hub.mu.Unlock()

		c.hub.broadcast(c, relay.EventTypePresenceLeft, relay.PresencePayload{PlayerID: c.playerID})
		close(c.events)
	})
	return nil
}

package relay

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RelayEvent is the wire envelope for every message that crosses a
// match room. Events are ephemeral: the relay never stores them, and
// delivery is best effort with no cross-publisher ordering.
type RelayEvent struct {
	ID        string          `json:"id"`        // event UUID
	RoomID    string          `json:"room_id"`   // match UUID
	PlayerID  string          `json:"player_id"` // sender (stamped server side)
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventType represents the kind of relay event.
type EventType string

const (
	EventTypePresenceJoined EventType = "presence-joined"
	EventTypePresenceLeft   EventType = "presence-left"
	EventTypeGuess          EventType = "guess"
	EventTypeStartMatch     EventType = "start-match"
	EventTypeJoinRoom       EventType = "join-room"
)

// PresencePayload accompanies presence-joined / presence-left.
type PresencePayload struct {
	PlayerID string `json:"player_id"`
}

// GuessPayload accompanies a guess event. The item is already
// normalized by the sender.
type GuessPayload struct {
	PlayerID string `json:"player_id"`
	Item     string `json:"item"`
}

// StartMatchPayload accompanies the advisory start-match event. The
// authoritative start signal is the document's startedAt field; this
// event only lets the opponent's screen react before the next
// snapshot arrives.
type StartMatchPayload struct {
	MatchID   string `json:"match_id"`
	Player1ID string `json:"player1_id"`
	Player2ID string `json:"player2_id"`
}

// NewEvent builds an envelope with a fresh id and timestamp. The data
// payload must already be marshalable.
func NewEvent(roomID uuid.UUID, playerID string, eventType EventType, payload interface{}) (*RelayEvent, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return &RelayEvent{
		ID:        uuid.New().String(),
		RoomID:    roomID.String(),
		PlayerID:  playerID,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// ParseEventPayload parses event data into the appropriate payload struct.
func ParseEventPayload(event *RelayEvent) (interface{}, error) {
	switch event.Type {
	case EventTypePresenceJoined, EventTypePresenceLeft:
		var payload PresencePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeGuess:
		var payload GuessPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeStartMatch:
		var payload StartMatchPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // unknown event type
	}
}

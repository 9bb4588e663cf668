// Package relayclient is the client half of the relay protocol: a
// single room-scoped connection that publishes guess and start-match
// events and surfaces the room's events to the match session.
//
// Relay traffic is advisory. Publish failures are non-fatal and are
// not retried; the challenge document is the fallback of record.
package relayclient

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mapclash/mapclash/go/internal/relay"
	"github.com/rs/zerolog/log"
)

// Client is the relay connection a match session holds while attached
// to a match room.
type Client interface {
	// PublishGuess fans a guess out to the other room members.
	PublishGuess(item string) error
	// PublishStartMatch sends the advisory start signal to the room.
	PublishStartMatch(matchID uuid.UUID, player1ID, player2ID string) error
	// Events delivers relay events from the other room members. The
	// channel closes when the connection is gone.
	Events() <-chan relay.RelayEvent
	// Close tears the connection down; the server announces the
	// departure to the room.
	Close() error
}

const (
	writeTimeout = 10 * time.Second
	eventBuffer  = 64
)

// WebSocketClient implements Client over a gorilla/websocket
// connection to the relay server.
type WebSocketClient struct {
	conn     *websocket.Conn
	matchID  uuid.UUID
	playerID string

	writeMu sync.Mutex
	events  chan relay.RelayEvent

	closeOnce sync.Once
}

// Dial connects to the relay server and joins the room for matchID.
func Dial(ctx context.Context, baseURL string, matchID uuid.UUID, playerID string) (*WebSocketClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/match"
	q := u.Query()
	q.Set("match_id", matchID.String())
	q.Set("player_id", playerID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := &WebSocketClient{
		conn:     conn,
		matchID:  matchID,
		playerID: playerID,
		events:   make(chan relay.RelayEvent, eventBuffer),
	}

	go c.readLoop()

	log.Debug().
		Str("match_id", matchID.String()).
		Str("player_id", playerID).
		Msg("relay connection established")

	return c, nil
}

func (c *WebSocketClient) readLoop() {
	defer close(c.events)

	for {
		var event relay.RelayEvent
		if err := c.conn.ReadJSON(&event); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("match_id", c.matchID.String()).Msg("relay connection lost")
			}
			return
		}

		select {
		case c.events <- event:
		default:
			// At-most-once transport: a full buffer is treated like a
			// dropped message, the document snapshot reconciles later.
			log.Warn().
				Str("match_id", c.matchID.String()).
				Str("type", string(event.Type)).
				Msg("relay event buffer full, dropping event")
		}
	}
}

// PublishGuess implements Client.
func (c *WebSocketClient) PublishGuess(item string) error {
	event, err := relay.NewEvent(c.matchID, c.playerID, relay.EventTypeGuess, relay.GuessPayload{
		PlayerID: c.playerID,
		Item:     item,
	})
	if err != nil {
		return fmt.Errorf("build guess event: %w", err)
	}
	return c.send(event)
}

// PublishStartMatch implements Client.
func (c *WebSocketClient) PublishStartMatch(matchID uuid.UUID, player1ID, player2ID string) error {
	event, err := relay.NewEvent(c.matchID, c.playerID, relay.EventTypeStartMatch, relay.StartMatchPayload{
		MatchID:   matchID.String(),
		Player1ID: player1ID,
		Player2ID: player2ID,
	})
	if err != nil {
		return fmt.Errorf("build start-match event: %w", err)
	}
	return c.send(event)
}

func (c *WebSocketClient) send(event *relay.RelayEvent) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("publish relay event: %w", err)
	}
	return nil
}

// Events implements Client.
func (c *WebSocketClient) Events() <-chan relay.RelayEvent {
	return c.events
}

// Close implements Client.
func (c *WebSocketClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

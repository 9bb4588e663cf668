package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionManager owns the process-wide room registry. Rooms are
// keyed by match id and exist only in memory: membership is lost on
// restart, which is fine because the challenge document is the
// durable source of truth.
type ConnectionManager struct {
	// Connection pools organized by match room
	roomConnections map[uuid.UUID]map[*Connection]bool
	mu              sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config ConnectionConfig

	// Event broadcasting
	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client.
type Connection struct {
	ID       string
	PlayerID string
	RoomID   uuid.UUID
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	// Connection metadata
	ConnectedAt time.Time
	LastPing    time.Time

	// Closed by leaveRoom to stop writePump. Send itself is never
	// closed, so a broadcast that snapshotted this connection before
	// the disconnect can still send without panicking.
	done chan struct{}

	// Guards the one presence-left broadcast per connection
	leftOnce sync.Once
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents a message to fan out within a room.
type BroadcastMessage struct {
	RoomID uuid.UUID
	Event  *RelayEvent
	Sender *Connection // optional: if set, skipped during fan-out
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("relay connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and joins
// it to the room for roomID.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, playerID string, roomID uuid.UUID) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		PlayerID:    playerID,
		RoomID:      roomID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.joinRoom(connection)

	// Start connection handlers
	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("player_id", playerID).
		Str("room_id", roomID.String()).
		Msg("WebSocket connection established")

	return nil
}

// joinRoom adds a connection to its room and announces it to the other
// members. Idempotent: re-adding the same connection has no effect.
func (cm *ConnectionManager) joinRoom(conn *Connection) {
	cm.mu.Lock()
	if cm.roomConnections[conn.RoomID] == nil {
		cm.roomConnections[conn.RoomID] = make(map[*Connection]bool)
	}
	if cm.roomConnections[conn.RoomID][conn] {
		cm.mu.Unlock()
		return
	}
	cm.roomConnections[conn.RoomID][conn] = true
	total := len(cm.roomConnections[conn.RoomID])
	cm.mu.Unlock()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", conn.RoomID.String()).
		Int("total_connections", total).
		Msg("connection joined room")

	event, err := NewEvent(conn.RoomID, conn.PlayerID, EventTypePresenceJoined, PresencePayload{PlayerID: conn.PlayerID})
	if err != nil {
		log.Error().Err(err).Msg("failed to build presence-joined event")
		return
	}
	cm.enqueue(BroadcastMessage{RoomID: conn.RoomID, Event: event, Sender: conn})
}

// leaveRoom removes a connection from its room and announces the
// departure. Safe to call from both pumps: the presence-left broadcast
// fires exactly once per connection even on abrupt network loss.
func (cm *ConnectionManager) leaveRoom(conn *Connection) {
	cm.mu.Lock()
	removed := false
	if connections, exists := cm.roomConnections[conn.RoomID]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			close(conn.done)
			removed = true

			// Clean up empty room pools
			if len(connections) == 0 {
				delete(cm.roomConnections, conn.RoomID)
			}
		}
	}
	cm.mu.Unlock()

	if !removed {
		return
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("player_id", conn.PlayerID).
		Str("room_id", conn.RoomID.String()).
		Msg("connection left room")

	conn.leftOnce.Do(func() {
		event, err := NewEvent(conn.RoomID, conn.PlayerID, EventTypePresenceLeft, PresencePayload{PlayerID: conn.PlayerID})
		if err != nil {
			log.Error().Err(err).Msg("failed to build presence-left event")
			return
		}
		cm.enqueue(BroadcastMessage{RoomID: conn.RoomID, Event: event, Sender: conn})
	})
}

// Publish fans an event out to every room member except the sender.
func (cm *ConnectionManager) Publish(roomID uuid.UUID, sender *Connection, event *RelayEvent) {
	cm.enqueue(BroadcastMessage{RoomID: roomID, Event: event, Sender: sender})
}

func (cm *ConnectionManager) enqueue(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		// Best-effort transport: dropping is acceptable, the document
		// path carries the authoritative state.
		log.Warn().Str("room_id", message.RoomID.String()).Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast processes a broadcast message.
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.roomConnections[message.RoomID]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot the targets to avoid holding the lock during sends
	var targets []*Connection
	for conn := range connections {
		if conn == message.Sender {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- eventData:
		default:
			// Connection is slow/dead, close it
			log.Warn().
				Str("connection_id", conn.ID).
				Str("player_id", conn.PlayerID).
				Msg("connection send buffer full, closing connection")
			cm.leaveRoom(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("room_id", message.RoomID.String()).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// GetConnectionStats returns statistics about active connections.
func (cm *ConnectionManager) GetConnectionStats() (totalConnections, activeRooms int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, connections := range cm.roomConnections {
		totalConnections += len(connections)
	}
	return totalConnections, len(cm.roomConnections)
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection.
// Its teardown is the transport-level disconnect hook that guarantees
// the room is informed of the departure.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.leaveRoom(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage processes a relay envelope received from the
// client and fans it out to the other room members. The sender's
// identity and room come from the connection, never from the payload.
func (c *Connection) handleClientMessage(message []byte) {
	var event RelayEvent
	if err := json.Unmarshal(message, &event); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", c.ID).
			Msg("dropping malformed relay event")
		return
	}

	event.RoomID = c.RoomID.String()
	event.PlayerID = c.PlayerID
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	switch event.Type {
	case EventTypeJoinRoom:
		// Rejoining the room this connection already belongs to is a
		// no-op; the join happened at upgrade time.
		c.Manager.joinRoom(c)

	case EventTypeGuess, EventTypeStartMatch:
		c.Manager.Publish(c.RoomID, c, &event)

	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("player_id", c.PlayerID).
			Str("type", string(event.Type)).
			Msg("ignoring client event type")
	}
}

package relay

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestConnection(cm *ConnectionManager, playerID string, roomID uuid.UUID) *Connection {
	return &Connection{
		ID:          uuid.New().String(),
		PlayerID:    playerID,
		RoomID:      roomID,
		Send:        make(chan []byte, 4),
		done:        make(chan struct{}),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}
}

// A broadcast may snapshot a room member just before its disconnect
// teardown runs. The departed connection's Send channel stays open so
// that late send cannot panic the broadcast goroutine.
func TestBroadcastAfterLeaveDoesNotPanic(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	conn := newTestConnection(cm, "alice", uuid.New())

	cm.joinRoom(conn)
	cm.leaveRoom(conn)

	select {
	case <-conn.done:
	default:
		t.Fatal("leaveRoom did not signal the write pump")
	}

	require.NotPanics(t, func() {
		conn.Send <- []byte(`{"type":"guess"}`)
	})
}

func TestLeaveRoomIsIdempotent(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	conn := newTestConnection(cm, "bob", uuid.New())

	cm.joinRoom(conn)
	cm.leaveRoom(conn)
	require.NotPanics(t, func() { cm.leaveRoom(conn) })

	total, rooms := cm.GetConnectionStats()
	require.Zero(t, total)
	require.Zero(t, rooms)
}

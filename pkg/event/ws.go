package event

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/pkg/models"
)

// WSMessage is the JSON message sent over WebSocket.
type WSMessage struct {
	Event string `json:"event"`          // Event kind (room_snapshot, room_state, message, generation_log)
	Data  any    `json:"data,omitempty"` // Event payload
	TS    int64  `json:"ts"`             // Timestamp (Unix ms)
}

// SnapshotProvider hands a consistent full room view to a new observer.
type SnapshotProvider interface {
	Snapshot(roomID string) (*models.RoomSnapshot, error)
}

// payloadEvent is implemented by all event types in this package; it
// exposes the JSON payload sent over the wire.
type payloadEvent interface {
	Payload() any
}

// WSHandler streams one room's events to a WebSocket client.
type WSHandler struct {
	emitter   *Emitter
	snapshots SnapshotProvider
	upgrader  websocket.Upgrader
}

// NewWSHandler creates a WebSocket handler backed by the given emitter.
func NewWSHandler(emitter *Emitter, snapshots SnapshotProvider) *WSHandler {
	return &WSHandler{
		emitter:   emitter,
		snapshots: snapshots,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle is the Gin handler for room WebSocket connections.
//
// The client receives a room_snapshot message first, then a live stream of
// room_state / message / generation_log events for that room.
// Route: GET /api/v1/rooms/:id/ws
func (h *WSHandler) Handle(c *gin.Context) {
	roomID := c.Param("id")

	snapshot, err := h.snapshots.Snapshot(roomID)
	if err != nil {
		if errors.Is(err, models.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Channel for sending events to this client
	sendCh := make(chan WSMessage, 64)
	done := make(chan struct{})

	// Subscribe before sending the snapshot so no transition is lost
	// between the snapshot read and the live stream.
	unsubscribe := h.emitter.OnAny(func(ev Event) {
		if ev.RoomID() != roomID {
			return
		}
		var data any = ev
		if pe, ok := ev.(payloadEvent); ok {
			data = pe.Payload()
		}
		msg := WSMessage{
			Event: ev.EventName(),
			Data:  data,
			TS:    time.Now().UnixMilli(),
		}
		select {
		case sendCh <- msg:
		default:
			// Drop if buffer is full; the client can re-attach for a snapshot
		}
	})
	defer unsubscribe()

	var writeMu sync.Mutex

	writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	err = conn.WriteJSON(WSMessage{
		Event: RoomSnapshot,
		Data:  snapshot,
		TS:    time.Now().UnixMilli(),
	})
	writeMu.Unlock()
	if err != nil {
		return
	}

	// Reader goroutine - keeps connection alive
	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-done:
			return
		case <-ticker.C:
			writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case msg := <-sendCh:
			writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := conn.WriteJSON(msg)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

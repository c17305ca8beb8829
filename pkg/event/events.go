package event

import (
	"github.com/parleyhq/parley/pkg/models"
)

// ============================================================================
// Event Names (constants)
// ============================================================================

// These are the four event kinds of the outward stream. The names are the
// wire protocol; attached clients switch on them.
const (
	RoomSnapshot  = "room_snapshot"
	RoomState     = "room_state"
	Message       = "message"
	GenerationLog = "generation_log"
)

// ============================================================================
// Room Events
// ============================================================================

// RoomSnapshotEvent carries the full room view. It is sent directly to a
// newly attached observer, never broadcast.
type RoomSnapshotEvent struct {
	Snapshot models.RoomSnapshot
}

func (e RoomSnapshotEvent) EventName() string { return RoomSnapshot }
func (e RoomSnapshotEvent) RoomID() string    { return e.Snapshot.RoomID }
func (e RoomSnapshotEvent) Payload() any      { return e.Snapshot }

// RoomStateEvent is emitted on any state transition: start, pause, resume,
// act advancement, round completion and conclusion.
type RoomStateEvent struct {
	State models.RoomState
}

func (e RoomStateEvent) EventName() string { return RoomState }
func (e RoomStateEvent) RoomID() string    { return e.State.RoomID }
func (e RoomStateEvent) Payload() any      { return e.State }

// MessageEvent is emitted for every new transcript entry.
type MessageEvent struct {
	Room    string
	Message models.ChatMessage
}

func (e MessageEvent) EventName() string { return Message }
func (e MessageEvent) RoomID() string    { return e.Room }
func (e MessageEvent) Payload() any      { return e.Message }

// GenerationLogEvent is emitted for every generation-log entry: one
// requesting entry per model call, then exactly one terminal entry.
type GenerationLogEvent struct {
	Room  string
	Entry models.GenerationLog
}

func (e GenerationLogEvent) EventName() string { return GenerationLog }
func (e GenerationLogEvent) RoomID() string    { return e.Room }
func (e GenerationLogEvent) Payload() any      { return e.Entry }

// Domain types for roundtable rooms
package models

import (
	"errors"
	"fmt"
	"time"
)

var ErrRoomNotFound = errors.New("room not found")

// ValidationError reports bad room-creation or setup input. The request is
// rejected synchronously and no state changes.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Message
}

func Validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// InvalidStateError reports a control command that is illegal for the room's
// current running/paused state. No state changes.
type InvalidStateError struct {
	Message string
}

func (e *InvalidStateError) Error() string {
	return "invalid state: " + e.Message
}

func InvalidStatef(format string, args ...any) error {
	return &InvalidStateError{Message: fmt.Sprintf(format, args...)}
}

// ========== Enumerations ==========

// ConversationMode steers how all agents in a room frame the discussion.
type ConversationMode string

const (
	ModePhilosophyDebate ConversationMode = "philosophy_debate"
	ModeDevilsAdvocate   ConversationMode = "devils_advocate"
	ModeConsensusLab     ConversationMode = "consensus_lab"
)

var SupportedConversationModes = map[ConversationMode]struct{}{
	ModePhilosophyDebate: {},
	ModeDevilsAdvocate:   {},
	ModeConsensusLab:     {},
}

// Act is one of the four ordered narrative phases of a conversation.
type Act string

const (
	ActIntro      Act = "intro"
	ActConflict   Act = "conflict"
	ActConcretize Act = "concretize"
	ActClosing    Act = "closing"
)

// ActOrder is the fixed forward-only progression of acts.
var ActOrder = []Act{ActIntro, ActConflict, ActConcretize, ActClosing}

// ActGoals describes what each act is trying to accomplish; the text is fed
// into the prompt so the speaking agent knows the current phase.
var ActGoals = map[Act]string{
	ActIntro:      "Establish shared premises and state each position briefly.",
	ActConflict:   "Surface the disagreements and make the points of tension explicit.",
	ActConcretize: "Turn the debate into actionable proposals, steps and conditions.",
	ActClosing:    "Collect the points of agreement and the open questions, then land the discussion.",
}

// NextAct returns the act that follows a, or a itself when already at the
// last act. Acts never skip and never regress.
func NextAct(a Act) Act {
	for i, act := range ActOrder {
		if act == a && i < len(ActOrder)-1 {
			return ActOrder[i+1]
		}
	}
	return a
}

// EndReason is the closed set of causes for a room transitioning to
// not-running. It is empty while a room has never finished a run.
type EndReason string

const (
	EndMaxRounds     EndReason = "max_rounds"
	EndManualStop    EndReason = "manual_stop"
	EndUserConcluded EndReason = "user_concluded"
	EndFailures      EndReason = "failures"
)

// RoleType distinguishes the single facilitator from the characters.
type RoleType string

const (
	RoleFacilitator RoleType = "facilitator"
	RoleCharacter   RoleType = "character"
)

// MessageRole is the transcript-level author kind.
type MessageRole string

const (
	MessageRoleUser  MessageRole = "user"
	MessageRoleAgent MessageRole = "agent"
)

// Sentinel speaker IDs used for messages not authored by a registered agent.
const (
	SpeakerUser      = "user"
	SpeakerTopicCard = "topic-card"
	SpeakerSummary   = "summary"
	SpeakerAct       = "act"
)

// GenerationStatus is the lifecycle of one outbound model call.
type GenerationStatus string

const (
	GenerationRequesting GenerationStatus = "requesting"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// ========== Core records ==========

// Agent is one configured participant: a model identifier plus the persona
// it speaks through. Exactly one agent per room carries RoleFacilitator.
type Agent struct {
	AgentID          string   `json:"agent_id"`
	Model            string   `json:"model"`
	DisplayName      string   `json:"display_name"`
	RoleType         RoleType `json:"role_type"`
	CharacterProfile string   `json:"character_profile"` // empty for the facilitator
}

// ChatMessage is one immutable transcript entry. Timestamps are strictly
// increasing; transcript order equals timestamp order.
type ChatMessage struct {
	Role      MessageRole `json:"role"`
	SpeakerID string      `json:"speaker_id"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// GenerationLog is one audit entry for an outbound model call. Every
// requesting entry is followed by exactly one terminal entry (completed or
// failed) with the same round index.
type GenerationLog struct {
	RoundIndex  int              `json:"round_index"`
	Model       string           `json:"model"`
	DisplayName string           `json:"display_name"`
	Act         Act              `json:"act"`
	Status      GenerationStatus `json:"status"`
	Detail      string           `json:"detail,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// RoomState is the compact state view published on every state transition.
type RoomState struct {
	RoomID          string    `json:"room_id"`
	Running         bool      `json:"running"`
	Paused          bool      `json:"paused"`
	CurrentAct      Act       `json:"current_act"`
	RoundsCompleted int       `json:"rounds_completed"`
	EndReason       EndReason `json:"end_reason,omitempty"`
}

// RoomSnapshot is the consistent full view handed to a newly attached
// observer: room configuration, state, roster, transcript and the bounded
// tail of generation logs.
type RoomSnapshot struct {
	RoomID              string           `json:"room_id"`
	Subject             string           `json:"subject"`
	ConversationMode    ConversationMode `json:"conversation_mode"`
	GlobalInstruction   string           `json:"global_instruction"`
	TurnIntervalSeconds float64          `json:"turn_interval_seconds"`
	MaxRounds           int              `json:"max_rounds"`
	Running             bool             `json:"running"`
	Paused              bool             `json:"paused"`
	CurrentAct          Act              `json:"current_act"`
	RoundsCompleted     int              `json:"rounds_completed"`
	EndReason           EndReason        `json:"end_reason,omitempty"`
	Agents              []Agent          `json:"agents"`
	Messages            []ChatMessage    `json:"messages"`
	GenerationLogs      []GenerationLog  `json:"generation_logs"`
}

// ========== Request payloads ==========

// CreateRoomRequest is the room-creation payload. Bounds mirror the HTTP
// surface: subject 1..2000 chars, 1..8 models, interval 0..5s.
type CreateRoomRequest struct {
	Subject             string           `json:"subject"`
	Models              []string         `json:"models"`
	ConversationMode    ConversationMode `json:"conversation_mode"`
	GlobalInstruction   string           `json:"global_instruction"`
	TurnIntervalSeconds float64          `json:"turn_interval_seconds"`
	Seed                *int64           `json:"seed,omitempty"`
}

// AgentSetup is one roster edit entry, matched to an existing agent by ID.
type AgentSetup struct {
	AgentID          string   `json:"agent_id"`
	DisplayName      string   `json:"display_name,omitempty"`
	RoleType         RoleType `json:"role_type,omitempty"`
	CharacterProfile string   `json:"character_profile,omitempty"`
}

// UpdateSetupRequest edits the pre-start setup. Only legal while the room
// is not running.
type UpdateSetupRequest struct {
	Subject string       `json:"subject,omitempty"`
	Agents  []AgentSetup `json:"agents,omitempty"`
}

// StartRoomRequest optionally overrides the configured round ceiling.
type StartRoomRequest struct {
	MaxRounds *int `json:"max_rounds,omitempty"`
}

// UpdateConfigRequest mutates live room configuration. The turn interval may
// change anytime; mode and instruction only while stopped.
type UpdateConfigRequest struct {
	ConversationMode    *ConversationMode `json:"conversation_mode,omitempty"`
	GlobalInstruction   *string           `json:"global_instruction,omitempty"`
	TurnIntervalSeconds *float64          `json:"turn_interval_seconds,omitempty"`
}

// UserMessageRequest posts one user interruption into the transcript.
type UserMessageRequest struct {
	Content string `json:"content"`
}

// Room Coordinator - the externally addressable facade for one room
package service

import (
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/event"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/utils"
)

// Creation bounds enforced on the control surface.
const (
	maxSubjectChars     = 2000
	maxInstructionChars = 1200
	maxParticipants     = 8
	maxTurnInterval     = 5 * time.Second
	maxRoundsCeiling    = 500
	generationLogCap    = 120
)

// room is the single owned state object for one conversation. All mutable
// fields are guarded by mu; the scheduler goroutine and the coordinator
// methods are the only writers.
type room struct {
	mu sync.Mutex

	id          string
	subject     string
	mode        models.ConversationMode
	instruction string
	seed        int64

	turnInterval time.Duration
	maxRounds    int

	agents   []models.Agent
	messages []models.ChatMessage
	logs     []models.GenerationLog

	started           bool
	running           bool
	paused            bool
	currentAct        models.Act
	roundsCompleted   int
	roundsInAct       int
	endReason         models.EndReason
	failStreak        int
	lastSpeakerID     string
	lastTimestamp     time.Time
	pendingPriority   *models.ChatMessage
	topicCardUsed     bool
	concludeRequested bool
	stopReason        models.EndReason

	selector SpeakerSelector
	cardRNG  *rand.Rand

	// cancel stops the scheduler goroutine; wake interrupts the pause
	// gate and the inter-turn sleep; done closes when the loop exits.
	cancel func()
	wake   chan struct{}
	done   chan struct{}
}

// RoomService owns all rooms in the process and guarantees at most one
// scheduler loop per room. Rooms never share locks; each is isolated.
type RoomService struct {
	mu    sync.RWMutex
	rooms map[string]*room

	gateway TurnGenerator
	emitter *event.Emitter
	cfg     *config.AppConfig
	logger  *slog.Logger

	// newSelector is a seam for tests to inject deterministic selection.
	newSelector func(seed int64) SpeakerSelector
}

// NewRoomService creates the coordinator for all rooms.
func NewRoomService(gateway TurnGenerator, emitter *event.Emitter, cfg *config.AppConfig) *RoomService {
	return &RoomService{
		rooms:       make(map[string]*room),
		gateway:     gateway,
		emitter:     emitter,
		cfg:         cfg,
		logger:      utils.GetLogger(),
		newSelector: NewWeightedRandomSelector,
	}
}

// ========== Room lifecycle ==========

// CreateRoom validates the request, generates the agent roster and
// registers an idle room.
func (s *RoomService) CreateRoom(req *models.CreateRoomRequest) (*models.RoomSnapshot, error) {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return nil, models.Validationf("subject must not be empty")
	}
	if len(subject) > maxSubjectChars {
		return nil, models.Validationf("subject exceeds %d characters", maxSubjectChars)
	}
	if len(req.Models) == 0 {
		return nil, models.Validationf("at least one model is required")
	}
	if len(req.Models) > maxParticipants {
		return nil, models.Validationf("at most %d participants are allowed", maxParticipants)
	}
	for _, name := range req.Models {
		if strings.TrimSpace(name) == "" {
			return nil, models.Validationf("model names must not be empty")
		}
	}
	mode := req.ConversationMode
	if mode == "" {
		mode = models.ModePhilosophyDebate
	}
	if _, ok := models.SupportedConversationModes[mode]; !ok {
		return nil, models.Validationf("unknown conversation mode %q", mode)
	}
	if len(req.GlobalInstruction) > maxInstructionChars {
		return nil, models.Validationf("global instruction exceeds %d characters", maxInstructionChars)
	}
	interval, err := intervalFromSeconds(req.TurnIntervalSeconds)
	if err != nil {
		return nil, err
	}

	seed := time.Now().UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}

	r := &room{
		id:           uuid.New().String(),
		subject:      subject,
		mode:         mode,
		instruction:  strings.TrimSpace(req.GlobalInstruction),
		seed:         seed,
		turnInterval: interval,
		maxRounds:    s.cfg.DefaultMaxRounds(),
		agents:       GeneratePersonas(req.Models, subject, seed),
		currentAct:   models.ActIntro,
		selector:     s.newSelector(seed),
		cardRNG:      rand.New(rand.NewSource(seed + 1)),
		wake:         make(chan struct{}, 1),
	}

	s.mu.Lock()
	s.rooms[r.id] = r
	s.mu.Unlock()

	s.logger.Info("room created", "room", r.id, "subject", subject, "agents", len(r.agents))

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(), nil
}

func (s *RoomService) getRoom(roomID string) (*room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, models.ErrRoomNotFound
	}
	return r, nil
}

// Snapshot returns a consistent full view of a room for a newly attached
// observer. It may be called concurrently with a running scheduler.
func (s *RoomService) Snapshot(roomID string) (*models.RoomSnapshot, error) {
	r, err := s.getRoom(roomID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(), nil
}

// UpdateSetup edits the pre-start setup: subject and per-agent role type,
// display name and character profile. Rejected while running; the
// single-facilitator invariant is re-validated.
func (s *RoomService) UpdateSetup(roomID string, req *models.UpdateSetupRequest) (*models.RoomSnapshot, error) {
	r, err := s.getRoom(roomID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil, models.InvalidStatef("setup cannot change while the room is running")
	}

	subject := r.subject
	if req.Subject != "" {
		subject = strings.TrimSpace(req.Subject)
		if subject == "" || len(subject) > maxSubjectChars {
			return nil, models.Validationf("subject must be 1..%d characters", maxSubjectChars)
		}
	}

	// Apply edits to a copy first so a failed validation leaves the room
	// untouched.
	edited := make([]models.Agent, len(r.agents))
	copy(edited, r.agents)
	for _, patch := range req.Agents {
		idx := -1
		for i := range edited {
			if edited[i].AgentID == patch.AgentID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, models.Validationf("unknown agent %q", patch.AgentID)
		}
		if patch.DisplayName != "" {
			edited[idx].DisplayName = patch.DisplayName
		}
		if patch.RoleType != "" {
			edited[idx].RoleType = patch.RoleType
		}
		if patch.CharacterProfile != "" {
			edited[idx].CharacterProfile = patch.CharacterProfile
		}
	}
	if err := ValidateRoster(edited); err != nil {
		return nil, err
	}
	for i := range edited {
		if edited[i].RoleType == models.RoleFacilitator {
			edited[i].CharacterProfile = ""
		} else if edited[i].CharacterProfile == "" {
			return nil, models.Validationf("character %q needs a non-empty profile", edited[i].AgentID)
		}
	}

	r.subject = subject
	r.agents = edited
	return r.snapshotLocked(), nil
}

// ========== Control commands ==========

// Start transitions idle -> running and launches the scheduler loop.
// Exactly one loop per room: a second Start while running is rejected.
func (s *RoomService) Start(roomID string, override *models.StartRoomRequest) error {
	r, err := s.getRoom(roomID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return models.InvalidStatef("room is already running")
	}
	if err := ValidateRoster(r.agents); err != nil {
		r.mu.Unlock()
		return err
	}
	if override != nil && override.MaxRounds != nil {
		if *override.MaxRounds < 1 || *override.MaxRounds > maxRoundsCeiling {
			r.mu.Unlock()
			return models.Validationf("max_rounds must be 1..%d", maxRoundsCeiling)
		}
		r.maxRounds = *override.MaxRounds
	}

	ctx, cancel := newSchedulerContext()
	r.started = true
	r.running = true
	r.paused = false
	r.currentAct = models.ActIntro
	r.roundsCompleted = 0
	r.roundsInAct = 0
	r.endReason = ""
	r.failStreak = 0
	r.lastSpeakerID = ""
	r.topicCardUsed = false
	r.concludeRequested = false
	r.stopReason = ""
	r.cancel = cancel
	r.done = make(chan struct{})
	state := r.stateLocked()
	r.mu.Unlock()

	s.logger.Info("room started", "room", roomID, "max_rounds", r.maxRounds)
	go s.runLoop(ctx, r)

	s.emitter.Emit(event.RoomStateEvent{State: state})
	return nil
}

// Pause freezes turn advancement between turns. An in-flight model call is
// allowed to finish first.
func (s *RoomService) Pause(roomID string) error {
	r, err := s.getRoom(roomID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return models.InvalidStatef("room is not running")
	}
	if r.paused {
		r.mu.Unlock()
		return models.InvalidStatef("room is already paused")
	}
	r.paused = true
	state := r.stateLocked()
	r.mu.Unlock()

	s.emitter.Emit(event.RoomStateEvent{State: state})
	return nil
}

// Resume clears the paused flag and wakes the scheduler.
func (s *RoomService) Resume(roomID string) error {
	r, err := s.getRoom(roomID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return models.InvalidStatef("room is not running")
	}
	if !r.paused {
		r.mu.Unlock()
		return models.InvalidStatef("room is not paused")
	}
	r.paused = false
	state := r.stateLocked()
	r.mu.Unlock()

	r.wakeUp()
	s.emitter.Emit(event.RoomStateEvent{State: state})
	return nil
}

// Stop forces end_reason=manual_stop regardless of the current act. It
// cancels an in-flight model call and waits for the loop to wind down.
func (s *RoomService) Stop(roomID string) error {
	r, err := s.getRoom(roomID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return models.InvalidStatef("room is not running")
	}
	r.stopReason = models.EndManualStop
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wakeUp()
	if done != nil {
		<-done
	}
	return nil
}

// Conclude requests early conclusion: the scheduler short-circuits into
// the closing summaries at its next checkpoint, even while paused.
func (s *RoomService) Conclude(roomID string) error {
	r, err := s.getRoom(roomID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return models.InvalidStatef("room is not running")
	}
	r.concludeRequested = true
	r.mu.Unlock()

	r.wakeUp()
	return nil
}

// PostUserMessage appends a user interruption. Allowed anytime; the
// message becomes part of the next turn's context, never an in-flight one.
func (s *RoomService) PostUserMessage(roomID, content string) (*models.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, models.Validationf("message content must not be empty")
	}

	r, err := s.getRoom(roomID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	msg := r.appendMessageLocked(models.MessageRoleUser, models.SpeakerUser, content)
	r.pendingPriority = &msg
	r.mu.Unlock()

	s.emitter.Emit(event.MessageEvent{Room: roomID, Message: msg})
	return &msg, nil
}

// UpdateConfig mutates live configuration. The turn interval may change
// anytime and takes effect at the next inter-turn pause; mode and
// instruction changes are rejected while running and regenerate the
// character profiles when applied.
func (s *RoomService) UpdateConfig(roomID string, req *models.UpdateConfigRequest) (*models.RoomSnapshot, error) {
	r, err := s.getRoom(roomID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if req.ConversationMode != nil && *req.ConversationMode != r.mode {
		if r.running {
			return nil, models.InvalidStatef("conversation mode cannot change while running")
		}
		if _, ok := models.SupportedConversationModes[*req.ConversationMode]; !ok {
			return nil, models.Validationf("unknown conversation mode %q", *req.ConversationMode)
		}
		r.mode = *req.ConversationMode
		RegenerateCharacterProfiles(r.agents, r.subject, r.seed)
	}

	if req.GlobalInstruction != nil {
		normalized := strings.TrimSpace(*req.GlobalInstruction)
		if normalized != r.instruction {
			if r.running {
				return nil, models.InvalidStatef("global instruction cannot change while running")
			}
			if len(normalized) > maxInstructionChars {
				return nil, models.Validationf("global instruction exceeds %d characters", maxInstructionChars)
			}
			r.instruction = normalized
			RegenerateCharacterProfiles(r.agents, r.subject, r.seed)
		}
	}

	if req.TurnIntervalSeconds != nil {
		interval, err := intervalFromSeconds(*req.TurnIntervalSeconds)
		if err != nil {
			return nil, err
		}
		r.turnInterval = interval
	}

	return r.snapshotLocked(), nil
}

func intervalFromSeconds(seconds float64) (time.Duration, error) {
	if seconds < 0 || seconds > maxTurnInterval.Seconds() {
		return 0, models.Validationf("turn_interval_seconds must be within 0..%v", maxTurnInterval.Seconds())
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// ========== Room helpers (callers hold r.mu) ==========

// appendMessageLocked appends one immutable transcript entry with a
// strictly increasing timestamp.
func (r *room) appendMessageLocked(role models.MessageRole, speakerID, content string) models.ChatMessage {
	now := time.Now()
	if !now.After(r.lastTimestamp) {
		now = r.lastTimestamp.Add(time.Nanosecond)
	}
	r.lastTimestamp = now

	msg := models.ChatMessage{
		Role:      role,
		SpeakerID: speakerID,
		Content:   content,
		Timestamp: now,
	}
	r.messages = append(r.messages, msg)
	return msg
}

// appendLogLocked appends one generation-log entry, keeping only the most
// recent generationLogCap entries.
func (r *room) appendLogLocked(entry models.GenerationLog) models.GenerationLog {
	entry.Timestamp = time.Now()
	r.logs = append(r.logs, entry)
	if len(r.logs) > generationLogCap {
		r.logs = r.logs[len(r.logs)-generationLogCap:]
	}
	return entry
}

func (r *room) stateLocked() models.RoomState {
	return models.RoomState{
		RoomID:          r.id,
		Running:         r.running,
		Paused:          r.paused,
		CurrentAct:      r.currentAct,
		RoundsCompleted: r.roundsCompleted,
		EndReason:       r.endReason,
	}
}

func (r *room) snapshotLocked() *models.RoomSnapshot {
	agents := make([]models.Agent, len(r.agents))
	copy(agents, r.agents)
	messages := make([]models.ChatMessage, len(r.messages))
	copy(messages, r.messages)
	logs := make([]models.GenerationLog, len(r.logs))
	copy(logs, r.logs)

	return &models.RoomSnapshot{
		RoomID:              r.id,
		Subject:             r.subject,
		ConversationMode:    r.mode,
		GlobalInstruction:   r.instruction,
		TurnIntervalSeconds: r.turnInterval.Seconds(),
		MaxRounds:           r.maxRounds,
		Running:             r.running,
		Paused:              r.paused,
		CurrentAct:          r.currentAct,
		RoundsCompleted:     r.roundsCompleted,
		EndReason:           r.endReason,
		Agents:              agents,
		Messages:            messages,
		GenerationLogs:      logs,
	}
}

// wakeUp nudges the scheduler out of a pause wait or inter-turn sleep.
func (r *room) wakeUp() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

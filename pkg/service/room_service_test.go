package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/parleyhq/parley/pkg/models"
)

func fptr(v float64) *float64 { return &v }

func TestCreateRoom_Validation(t *testing.T) {
	s, _ := newTestRoomService(nil, testEngineConfig())

	tooMany := make([]string, 9)
	for i := range tooMany {
		tooMany[i] = "m"
	}

	tests := []struct {
		name string
		req  models.CreateRoomRequest
	}{
		{"empty subject", models.CreateRoomRequest{Subject: "  ", Models: []string{"m"}}},
		{"subject too long", models.CreateRoomRequest{Subject: strings.Repeat("x", 2001), Models: []string{"m"}}},
		{"no models", models.CreateRoomRequest{Subject: "s"}},
		{"too many models", models.CreateRoomRequest{Subject: "s", Models: tooMany}},
		{"blank model name", models.CreateRoomRequest{Subject: "s", Models: []string{"m", " "}}},
		{"unknown mode", models.CreateRoomRequest{Subject: "s", Models: []string{"m"}, ConversationMode: "speed_dating"}},
		{"instruction too long", models.CreateRoomRequest{Subject: "s", Models: []string{"m"}, GlobalInstruction: strings.Repeat("x", 1201)}},
		{"interval negative", models.CreateRoomRequest{Subject: "s", Models: []string{"m"}, TurnIntervalSeconds: -1}},
		{"interval too large", models.CreateRoomRequest{Subject: "s", Models: []string{"m"}, TurnIntervalSeconds: 5.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateRoom(&tt.req)
			var ve *models.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("CreateRoom() error = %v, want *models.ValidationError", err)
			}
		})
	}
}

func TestCreateRoom_DefaultsApplied(t *testing.T) {
	s, _ := newTestRoomService(nil, testEngineConfig())

	snapshot, err := s.CreateRoom(&models.CreateRoomRequest{
		Subject: "  left-pad as a service  ",
		Models:  []string{"m1", "m2"},
	})
	if err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}
	if snapshot.Subject != "left-pad as a service" {
		t.Fatalf("Subject = %q, want trimmed", snapshot.Subject)
	}
	if snapshot.ConversationMode != models.ModePhilosophyDebate {
		t.Fatalf("ConversationMode = %q, want default philosophy_debate", snapshot.ConversationMode)
	}
	if snapshot.CurrentAct != models.ActIntro {
		t.Fatalf("CurrentAct = %q, want intro", snapshot.CurrentAct)
	}
	if snapshot.MaxRounds != 40 {
		t.Fatalf("MaxRounds = %d, want engine default 40", snapshot.MaxRounds)
	}
	if snapshot.Running || snapshot.EndReason != "" {
		t.Fatalf("new room must be idle, got %+v", snapshot)
	}
	if len(snapshot.Agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(snapshot.Agents))
	}
}

func TestSnapshot_UnknownRoom(t *testing.T) {
	s, _ := newTestRoomService(nil, testEngineConfig())
	if _, err := s.Snapshot("nope"); !errors.Is(err, models.ErrRoomNotFound) {
		t.Fatalf("Snapshot() error = %v, want ErrRoomNotFound", err)
	}
}

func TestControlCommands_RequireRunningRoom(t *testing.T) {
	s, _ := newTestRoomService(nil, testEngineConfig())
	roomID := createTestRoom(t, s)

	var ise *models.InvalidStateError
	if err := s.Pause(roomID); !errors.As(err, &ise) {
		t.Fatalf("Pause() on idle room error = %v, want *models.InvalidStateError", err)
	}
	if err := s.Resume(roomID); !errors.As(err, &ise) {
		t.Fatalf("Resume() on idle room error = %v", err)
	}
	if err := s.Stop(roomID); !errors.As(err, &ise) {
		t.Fatalf("Stop() on idle room error = %v", err)
	}
	if err := s.Conclude(roomID); !errors.As(err, &ise) {
		t.Fatalf("Conclude() on idle room error = %v", err)
	}
}

func TestStart_RejectsSecondStart(t *testing.T) {
	g := newStepGateway()
	s, _ := newTestRoomService(g, testEngineConfig())
	roomID := createTestRoom(t, s)
	startRoom(t, s, roomID, 40)

	var ise *models.InvalidStateError
	if err := s.Start(roomID, nil); !errors.As(err, &ise) {
		t.Fatalf("second Start() error = %v, want *models.InvalidStateError", err)
	}

	if err := s.Stop(roomID); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	waitRoomDone(t, s, roomID)
}

func TestStart_MaxRoundsOverrideBounds(t *testing.T) {
	s, _ := newTestRoomService(nil, testEngineConfig())
	roomID := createTestRoom(t, s)

	var ve *models.ValidationError
	zero := 0
	if err := s.Start(roomID, &models.StartRoomRequest{MaxRounds: &zero}); !errors.As(err, &ve) {
		t.Fatalf("Start(max_rounds=0) error = %v, want *models.ValidationError", err)
	}
	huge := 501
	if err := s.Start(roomID, &models.StartRoomRequest{MaxRounds: &huge}); !errors.As(err, &ve) {
		t.Fatalf("Start(max_rounds=501) error = %v, want *models.ValidationError", err)
	}
}

func TestUpdateSetup_EditsAndValidates(t *testing.T) {
	s, _ := newTestRoomService(nil, testEngineConfig())
	roomID := createTestRoom(t, s)

	snapshot, err := s.UpdateSetup(roomID, &models.UpdateSetupRequest{
		Subject: "a sharper subject",
		Agents: []models.AgentSetup{
			{AgentID: "agent-1", DisplayName: "The Contrarian", CharacterProfile: "Argue against everything."},
		},
	})
	if err != nil {
		t.Fatalf("UpdateSetup() error = %v", err)
	}
	if snapshot.Subject != "a sharper subject" {
		t.Fatalf("Subject = %q", snapshot.Subject)
	}
	found := false
	for _, a := range snapshot.Agents {
		if a.AgentID == "agent-1" {
			found = true
			if a.DisplayName != "The Contrarian" || a.CharacterProfile != "Argue against everything." {
				t.Fatalf("agent-1 edit not applied: %+v", a)
			}
		}
	}
	if !found {
		t.Fatalf("agent-1 missing from roster")
	}

	// A second facilitator violates the roster invariant.
	var ve *models.ValidationError
	_, err = s.UpdateSetup(roomID, &models.UpdateSetupRequest{
		Agents: []models.AgentSetup{{AgentID: "agent-1", RoleType: models.RoleFacilitator}},
	})
	if !errors.As(err, &ve) {
		t.Fatalf("two-facilitator setup error = %v, want *models.ValidationError", err)
	}

	// Unknown agent IDs are rejected.
	_, err = s.UpdateSetup(roomID, &models.UpdateSetupRequest{
		Agents: []models.AgentSetup{{AgentID: "agent-99", DisplayName: "Ghost"}},
	})
	if !errors.As(err, &ve) {
		t.Fatalf("unknown-agent setup error = %v, want *models.ValidationError", err)
	}
}

func TestUpdateSetup_RejectedWhileRunning(t *testing.T) {
	g := newStepGateway()
	s, _ := newTestRoomService(g, testEngineConfig())
	roomID := createTestRoom(t, s)
	startRoom(t, s, roomID, 40)

	var ise *models.InvalidStateError
	_, err := s.UpdateSetup(roomID, &models.UpdateSetupRequest{Subject: "new"})
	if !errors.As(err, &ise) {
		t.Fatalf("UpdateSetup() while running error = %v, want *models.InvalidStateError", err)
	}

	if err := s.Stop(roomID); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	waitRoomDone(t, s, roomID)
}

func TestUpdateConfig_IntervalChangesAnytime(t *testing.T) {
	g := newStepGateway()
	s, _ := newTestRoomService(g, testEngineConfig())
	roomID := createTestRoom(t, s)
	startRoom(t, s, roomID, 40)

	snapshot, err := s.UpdateConfig(roomID, &models.UpdateConfigRequest{TurnIntervalSeconds: fptr(2.5)})
	if err != nil {
		t.Fatalf("UpdateConfig(interval) while running error = %v", err)
	}
	if snapshot.TurnIntervalSeconds != 2.5 {
		t.Fatalf("TurnIntervalSeconds = %v, want 2.5", snapshot.TurnIntervalSeconds)
	}

	// Mode and instruction are frozen while running.
	mode := models.ModeConsensusLab
	var ise *models.InvalidStateError
	if _, err := s.UpdateConfig(roomID, &models.UpdateConfigRequest{ConversationMode: &mode}); !errors.As(err, &ise) {
		t.Fatalf("UpdateConfig(mode) while running error = %v, want *models.InvalidStateError", err)
	}
	instruction := "be brief"
	if _, err := s.UpdateConfig(roomID, &models.UpdateConfigRequest{GlobalInstruction: &instruction}); !errors.As(err, &ise) {
		t.Fatalf("UpdateConfig(instruction) while running error = %v, want *models.InvalidStateError", err)
	}

	if err := s.Stop(roomID); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	waitRoomDone(t, s, roomID)
}

func TestUpdateConfig_ModeChangeRegeneratesProfiles(t *testing.T) {
	s, _ := newTestRoomService(nil, testEngineConfig())
	roomID := createTestRoom(t, s)

	before, err := s.Snapshot(roomID)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	mode := models.ModeDevilsAdvocate
	after, err := s.UpdateConfig(roomID, &models.UpdateConfigRequest{ConversationMode: &mode})
	if err != nil {
		t.Fatalf("UpdateConfig(mode) error = %v", err)
	}
	if after.ConversationMode != models.ModeDevilsAdvocate {
		t.Fatalf("ConversationMode = %q", after.ConversationMode)
	}
	for i := range after.Agents {
		if after.Agents[i].AgentID != before.Agents[i].AgentID {
			t.Fatalf("agent identity changed on mode switch")
		}
		if after.Agents[i].RoleType == models.RoleCharacter && after.Agents[i].CharacterProfile == "" {
			t.Fatalf("character %q lost its profile", after.Agents[i].AgentID)
		}
	}

	var ve *models.ValidationError
	bad := models.ConversationMode("duel")
	if _, err := s.UpdateConfig(roomID, &models.UpdateConfigRequest{ConversationMode: &bad}); !errors.As(err, &ve) {
		t.Fatalf("UpdateConfig(bad mode) error = %v, want *models.ValidationError", err)
	}
}

func TestUpdateConfig_IntervalBounds(t *testing.T) {
	s, _ := newTestRoomService(nil, testEngineConfig())
	roomID := createTestRoom(t, s)

	var ve *models.ValidationError
	if _, err := s.UpdateConfig(roomID, &models.UpdateConfigRequest{TurnIntervalSeconds: fptr(6)}); !errors.As(err, &ve) {
		t.Fatalf("UpdateConfig(interval=6) error = %v, want *models.ValidationError", err)
	}
	if _, err := s.UpdateConfig(roomID, &models.UpdateConfigRequest{TurnIntervalSeconds: fptr(-0.5)}); !errors.As(err, &ve) {
		t.Fatalf("UpdateConfig(interval=-0.5) error = %v, want *models.ValidationError", err)
	}
}

func TestPostUserMessage(t *testing.T) {
	s, _ := newTestRoomService(nil, testEngineConfig())
	roomID := createTestRoom(t, s)

	msg, err := s.PostUserMessage(roomID, "  consider winter  ")
	if err != nil {
		t.Fatalf("PostUserMessage() error = %v", err)
	}
	if msg.Role != models.MessageRoleUser || msg.SpeakerID != models.SpeakerUser {
		t.Fatalf("message = %+v", msg)
	}
	if msg.Content != "consider winter" {
		t.Fatalf("Content = %q, want trimmed", msg.Content)
	}

	snapshot, err := s.Snapshot(roomID)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snapshot.Messages) != 1 || snapshot.Messages[0].Content != "consider winter" {
		t.Fatalf("message not in transcript: %+v", snapshot.Messages)
	}

	var ve *models.ValidationError
	if _, err := s.PostUserMessage(roomID, "   "); !errors.As(err, &ve) {
		t.Fatalf("empty message error = %v, want *models.ValidationError", err)
	}
}

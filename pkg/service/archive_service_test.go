package service

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/parleyhq/parley/pkg/db"
	"github.com/parleyhq/parley/pkg/event"
	"github.com/parleyhq/parley/pkg/models"
)

func newTestArchiveService(t *testing.T, snapshots event.SnapshotProvider) *ArchiveService {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s := NewArchiveService(gdb, snapshots)
	if err := s.AutoMigrate(); err != nil {
		t.Fatalf("AutoMigrate() error = %v", err)
	}
	return s
}

func concludedSnapshot(roomID string) *models.RoomSnapshot {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	return &models.RoomSnapshot{
		RoomID:           roomID,
		Subject:          "a pocket park on every block",
		ConversationMode: models.ModePhilosophyDebate,
		CurrentAct:       models.ActClosing,
		RoundsCompleted:  7,
		EndReason:        models.EndUserConcluded,
		Messages: []models.ChatMessage{
			{Role: models.MessageRoleAgent, SpeakerID: "agent-1", Content: "first turn", Timestamp: base},
			{Role: models.MessageRoleUser, SpeakerID: models.SpeakerUser, Content: "what about winter?", Timestamp: base.Add(time.Second)},
			{Role: models.MessageRoleAgent, SpeakerID: models.SpeakerSummary, Content: "Today's conclusion: parks win.", Timestamp: base.Add(2 * time.Second)},
			{Role: models.MessageRoleAgent, SpeakerID: models.SpeakerSummary, Content: "Next action: plant one tree.", Timestamp: base.Add(3 * time.Second)},
		},
	}
}

func TestArchiveRoom_PersistsSummariesAndTranscript(t *testing.T) {
	s := newTestArchiveService(t, nil)

	if err := s.ArchiveRoom(concludedSnapshot("room-1")); err != nil {
		t.Fatalf("ArchiveRoom() error = %v", err)
	}

	archive, messages, err := s.GetArchive("room-1")
	if err != nil {
		t.Fatalf("GetArchive() error = %v", err)
	}
	if archive.Subject != "a pocket park on every block" {
		t.Fatalf("Subject = %q", archive.Subject)
	}
	if archive.EndReason != string(models.EndUserConcluded) || archive.FinalAct != string(models.ActClosing) {
		t.Fatalf("archive = %+v", archive)
	}
	if archive.RoundsCompleted != 7 {
		t.Fatalf("RoundsCompleted = %d, want 7", archive.RoundsCompleted)
	}
	if archive.Conclusion != "parks win." {
		t.Fatalf("Conclusion = %q", archive.Conclusion)
	}
	if archive.NextAction != "plant one tree." {
		t.Fatalf("NextAction = %q", archive.NextAction)
	}
	if len(messages) != 4 {
		t.Fatalf("archived messages = %d, want 4", len(messages))
	}
	if messages[0].Content != "first turn" || messages[1].SpeakerID != models.SpeakerUser {
		t.Fatalf("transcript order wrong: %+v", messages)
	}
}

func TestArchiveRoom_ReplacesPreviousRecord(t *testing.T) {
	s := newTestArchiveService(t, nil)

	if err := s.ArchiveRoom(concludedSnapshot("room-1")); err != nil {
		t.Fatalf("first ArchiveRoom() error = %v", err)
	}

	again := concludedSnapshot("room-1")
	again.EndReason = models.EndMaxRounds
	again.Messages = again.Messages[:2]
	if err := s.ArchiveRoom(again); err != nil {
		t.Fatalf("second ArchiveRoom() error = %v", err)
	}

	archives, err := s.ListArchives()
	if err != nil {
		t.Fatalf("ListArchives() error = %v", err)
	}
	if len(archives) != 1 {
		t.Fatalf("archives = %d, want 1", len(archives))
	}
	archive, messages, err := s.GetArchive("room-1")
	if err != nil {
		t.Fatalf("GetArchive() error = %v", err)
	}
	if archive.EndReason != string(models.EndMaxRounds) {
		t.Fatalf("EndReason = %q, want max_rounds", archive.EndReason)
	}
	if len(messages) != 2 {
		t.Fatalf("archived messages = %d, want the replaced transcript", len(messages))
	}
}

func TestListArchives_MostRecentFirst(t *testing.T) {
	s := newTestArchiveService(t, nil)

	for _, id := range []string{"room-old", "room-new"} {
		if err := s.ArchiveRoom(concludedSnapshot(id)); err != nil {
			t.Fatalf("ArchiveRoom(%s) error = %v", id, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	archives, err := s.ListArchives()
	if err != nil {
		t.Fatalf("ListArchives() error = %v", err)
	}
	if len(archives) != 2 {
		t.Fatalf("archives = %d, want 2", len(archives))
	}
	if archives[0].ID != "room-new" || archives[1].ID != "room-old" {
		t.Fatalf("order = [%s, %s], want most recent first", archives[0].ID, archives[1].ID)
	}
}

func TestGetArchive_NotFound(t *testing.T) {
	s := newTestArchiveService(t, nil)

	if _, _, err := s.GetArchive("missing"); !errors.Is(err, ErrArchiveNotFound) {
		t.Fatalf("GetArchive() error = %v, want ErrArchiveNotFound", err)
	}
	if err := s.DeleteArchive("missing"); !errors.Is(err, ErrArchiveNotFound) {
		t.Fatalf("DeleteArchive() error = %v, want ErrArchiveNotFound", err)
	}
}

func TestDeleteArchive_RemovesTranscript(t *testing.T) {
	s := newTestArchiveService(t, nil)

	if err := s.ArchiveRoom(concludedSnapshot("room-1")); err != nil {
		t.Fatalf("ArchiveRoom() error = %v", err)
	}
	if err := s.DeleteArchive("room-1"); err != nil {
		t.Fatalf("DeleteArchive() error = %v", err)
	}
	if _, _, err := s.GetArchive("room-1"); !errors.Is(err, ErrArchiveNotFound) {
		t.Fatalf("GetArchive() after delete error = %v, want ErrArchiveNotFound", err)
	}

	var count int64
	if err := s.db.Model(&db.ArchivedMessage{}).Where("room_id = ?", "room-1").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("orphaned archived messages = %d, want 0", count)
	}
}

type snapshotProviderFunc func(roomID string) (*models.RoomSnapshot, error)

func (f snapshotProviderFunc) Snapshot(roomID string) (*models.RoomSnapshot, error) {
	return f(roomID)
}

func TestSubscribe_ArchivesOnTerminalStateOnly(t *testing.T) {
	snapshot := concludedSnapshot("room-1")
	s := newTestArchiveService(t, snapshotProviderFunc(func(roomID string) (*models.RoomSnapshot, error) {
		if roomID != "room-1" {
			return nil, models.ErrRoomNotFound
		}
		return snapshot, nil
	}))

	emitter := event.NewEmitter()
	unsubscribe := s.Subscribe(emitter)
	defer unsubscribe()

	// A running room and a paused room must not be archived.
	emitter.Emit(event.RoomStateEvent{State: models.RoomState{RoomID: "room-1", Running: true}})
	emitter.Emit(event.RoomStateEvent{State: models.RoomState{RoomID: "room-1", Running: false}})
	if archives, _ := s.ListArchives(); len(archives) != 0 {
		t.Fatalf("archives = %d before terminal state, want 0", len(archives))
	}

	emitter.Emit(event.RoomStateEvent{State: models.RoomState{
		RoomID:    "room-1",
		Running:   false,
		EndReason: models.EndUserConcluded,
	}})

	archive, _, err := s.GetArchive("room-1")
	if err != nil {
		t.Fatalf("GetArchive() after terminal state error = %v", err)
	}
	if archive.Conclusion != "parks win." {
		t.Fatalf("Conclusion = %q", archive.Conclusion)
	}
}

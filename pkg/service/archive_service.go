// Archive Service - durable records of concluded rooms
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/parleyhq/parley/pkg/db"
	"github.com/parleyhq/parley/pkg/event"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/utils"
)

var ErrArchiveNotFound = errors.New("archive not found")

// ArchiveService persists concluded rooms. It listens for room_state
// events and writes a RoomArchive plus the full transcript once a room
// reaches the concluded phase.
type ArchiveService struct {
	db        *gorm.DB
	snapshots event.SnapshotProvider
	logger    *slog.Logger
}

// NewArchiveService creates an archive service on the given database.
func NewArchiveService(gdb *gorm.DB, snapshots event.SnapshotProvider) *ArchiveService {
	return &ArchiveService{
		db:        gdb,
		snapshots: snapshots,
		logger:    utils.GetLogger(),
	}
}

// AutoMigrate creates database tables
func (s *ArchiveService) AutoMigrate() error {
	return s.db.AutoMigrate(&db.RoomArchive{}, &db.ArchivedMessage{})
}

// Subscribe wires the service to room_state events. A room is archived
// when it transitions out of running with an end reason set.
func (s *ArchiveService) Subscribe(emitter *event.Emitter) func() {
	return emitter.On(event.RoomState, func(ev event.Event) {
		state, ok := ev.(event.RoomStateEvent)
		if !ok {
			return
		}
		if state.State.Running || state.State.EndReason == "" {
			return
		}
		snapshot, err := s.snapshots.Snapshot(state.State.RoomID)
		if err != nil {
			s.logger.Error("archive: snapshot failed", "room", state.State.RoomID, "error", err)
			return
		}
		if err := s.ArchiveRoom(snapshot); err != nil {
			s.logger.Error("archive: persist failed", "room", snapshot.RoomID, "error", err)
		}
	})
}

// ArchiveRoom writes the snapshot of a concluded room. Re-archiving the
// same room (a room can be restarted and conclude again) replaces the
// previous record.
func (s *ArchiveService) ArchiveRoom(snapshot *models.RoomSnapshot) error {
	conclusion, nextAction := extractSummaries(snapshot.Messages)

	archive := db.RoomArchive{
		ID:              snapshot.RoomID,
		Subject:         snapshot.Subject,
		Mode:            string(snapshot.ConversationMode),
		EndReason:       string(snapshot.EndReason),
		RoundsCompleted: snapshot.RoundsCompleted,
		FinalAct:        string(snapshot.CurrentAct),
		Conclusion:      conclusion,
		NextAction:      nextAction,
		ArchivedAt:      time.Now(),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", snapshot.RoomID).Delete(&db.ArchivedMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Save(&archive).Error; err != nil {
			return err
		}
		for _, m := range snapshot.Messages {
			row := db.ArchivedMessage{
				RoomID:    snapshot.RoomID,
				Role:      string(m.Role),
				SpeakerID: m.SpeakerID,
				Content:   m.Content,
				SpokenAt:  m.Timestamp,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to archive room %s: %w", snapshot.RoomID, err)
	}

	s.logger.Info("room archived", "room", snapshot.RoomID,
		"end_reason", snapshot.EndReason, "messages", len(snapshot.Messages))
	return nil
}

// ListArchives returns all archived rooms, most recent first.
func (s *ArchiveService) ListArchives() ([]db.RoomArchive, error) {
	var archives []db.RoomArchive
	if err := s.db.Order("archived_at DESC").Find(&archives).Error; err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	return archives, nil
}

// GetArchive returns one archived room with its transcript.
func (s *ArchiveService) GetArchive(roomID string) (*db.RoomArchive, []db.ArchivedMessage, error) {
	var archive db.RoomArchive
	if err := s.db.Where("id = ?", roomID).First(&archive).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrArchiveNotFound
		}
		return nil, nil, fmt.Errorf("failed to get archive: %w", err)
	}

	var messages []db.ArchivedMessage
	if err := s.db.Where("room_id = ?", roomID).Order("spoken_at ASC, id ASC").Find(&messages).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to get archived messages: %w", err)
	}
	return &archive, messages, nil
}

// DeleteArchive removes an archived room and its transcript.
func (s *ArchiveService) DeleteArchive(roomID string) error {
	var archive db.RoomArchive
	if err := s.db.Where("id = ?", roomID).First(&archive).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrArchiveNotFound
		}
		return fmt.Errorf("failed to get archive: %w", err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&db.ArchivedMessage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&archive).Error
	})
}

// extractSummaries pulls the conclusion and next action out of the
// transcript's closing summary messages.
func extractSummaries(messages []models.ChatMessage) (conclusion, nextAction string) {
	for _, m := range messages {
		if m.SpeakerID != models.SpeakerSummary {
			continue
		}
		if text, ok := strings.CutPrefix(m.Content, "Today's conclusion: "); ok {
			conclusion = text
		} else if text, ok := strings.CutPrefix(m.Content, "Next action: "); ok {
			nextAction = text
		}
	}
	return conclusion, nextAction
}

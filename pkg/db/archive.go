// Database models for archived rooms
package db

import "time"

// RoomArchive is the durable record of a concluded room.
type RoomArchive struct {
	ID              string    `json:"id" gorm:"primaryKey;size:36"`
	Subject         string    `json:"subject" gorm:"size:2000;not null"`
	Mode            string    `json:"mode" gorm:"size:40;not null"`
	EndReason       string    `json:"end_reason" gorm:"size:20;not null"`
	RoundsCompleted int       `json:"rounds_completed"`
	FinalAct        string    `json:"final_act" gorm:"size:20"`
	Conclusion      string    `json:"conclusion" gorm:"type:text"`
	NextAction      string    `json:"next_action" gorm:"type:text"`
	ArchivedAt      time.Time `json:"archived_at"`
}

func (RoomArchive) TableName() string {
	return "room_archives"
}

// ArchivedMessage is one transcript entry of an archived room.
type ArchivedMessage struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomID    string    `json:"room_id" gorm:"index;size:36;not null"`
	Role      string    `json:"role" gorm:"size:10;not null"`
	SpeakerID string    `json:"speaker_id" gorm:"size:40;not null"`
	Content   string    `json:"content" gorm:"type:text"`
	SpokenAt  time.Time `json:"spoken_at"`
}

func (ArchivedMessage) TableName() string {
	return "archived_messages"
}

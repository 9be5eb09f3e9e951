package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message rows are ordered by (timestamp, seq); seq is the per-conversation
// insertion counter that breaks timestamp ties.
type Message struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID `json:"conversation_id" gorm:"type:uuid;not null;uniqueIndex:idx_messages_conversation_seq,priority:1"`
	Seq            int64     `json:"seq" gorm:"not null;uniqueIndex:idx_messages_conversation_seq,priority:2"`
	Role           string    `json:"role" gorm:"type:varchar(20);not null"`
	Content        string    `json:"content" gorm:"type:text;not null"`
	Timestamp      time.Time `json:"timestamp" gorm:"not null"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

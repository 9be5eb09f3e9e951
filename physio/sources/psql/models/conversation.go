package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Conversation struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	PatientID uuid.UUID      `json:"patient_id" gorm:"type:uuid;not null;index"`
	Patient   PatientProfile `json:"-" gorm:"foreignKey:PatientID;references:ID;constraint:OnDelete:CASCADE"`
	Title     string         `json:"title" gorm:"type:varchar(255);default:''"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime;index"`
	Messages  []Message      `json:"messages,omitempty" gorm:"constraint:OnDelete:CASCADE"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// ids are minted in Go so the schema works on postgres and sqlite alike
func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

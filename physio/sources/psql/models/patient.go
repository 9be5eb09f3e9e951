package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Patient profile tables are owned by the profile form; this service only reads them.

type PatientProfile struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID         int       `json:"user_id" gorm:"not null;uniqueIndex"`
	User           User      `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
	Name           string    `json:"name" gorm:"type:varchar(255)"`
	Age            int       `json:"age"`
	Gender         string    `json:"gender" gorm:"type:varchar(50)"`
	Height         float64   `json:"height"`
	Weight         float64   `json:"weight"`
	Notes          string    `json:"notes" gorm:"type:text"`
	ActivityLevel  string    `json:"activity_level" gorm:"type:varchar(100)"`
	MedicalHistory string    `json:"medical_history" gorm:"type:text"`
	Goals          string    `json:"goals" gorm:"type:text"`
	Restrictions   string    `json:"restrictions" gorm:"type:text"`
	PastBehavior   string    `json:"past_behavior" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (PatientProfile) TableName() string {
	return "patient_profiles"
}

func (p *PatientProfile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

type Condition struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	PatientID   uuid.UUID `json:"patient_id" gorm:"type:uuid;not null;index"`
	Name        string    `json:"name" gorm:"type:varchar(255);not null"`
	Description string    `json:"description" gorm:"type:text"`
}

type Medication struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	PatientID uuid.UUID `json:"patient_id" gorm:"type:uuid;not null;index"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	Dosage    string    `json:"dosage" gorm:"type:varchar(255)"`
	Frequency string    `json:"frequency" gorm:"type:varchar(255)"`
}

type Exercise struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	PatientID   uuid.UUID `json:"patient_id" gorm:"type:uuid;not null;index"`
	Name        string    `json:"name" gorm:"type:varchar(255);not null"`
	Description string    `json:"description" gorm:"type:text"`
	Frequency   string    `json:"frequency" gorm:"type:varchar(255)"`
	Duration    string    `json:"duration" gorm:"type:varchar(255)"`
}

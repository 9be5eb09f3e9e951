package types

import (
	"errors"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Store-level failures shared by every ConversationStore implementation.
var (
	ErrNotFound  = errors.New("conversation not found")
	ErrForbidden = errors.New("conversation belongs to another patient")
	ErrConflict  = errors.New("message id already used by another conversation")
)

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

type Conversation struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patientId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages,omitempty"`
}

// ConversationSummary is one row of a patient's conversation list.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int64     `json:"messageCount"`
}

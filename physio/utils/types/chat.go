package types

import (
	"encoding/json"
	"time"
)

// ChatMessage is one history entry on the completion wire.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the body of POST /api/chat.
type CompletionRequest struct {
	Messages       []ChatMessage `json:"messages"`
	CustomPrompt   string        `json:"customPrompt,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type CreateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

type UpdateTitleRequest struct {
	Title string `json:"title"`
}

type AppendMessageRequest struct {
	ID        string     `json:"id,omitempty"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type PatientResponse struct {
	PatientID string `json:"patientId"`
	Name      string `json:"name"`
}

// Socket frames for /ws/session.

const (
	FrameSubmit  = "submit"
	FrameRetry   = "retry"
	FrameDismiss = "dismiss"
	FrameCancel  = "cancel"
	FrameSelect  = "select"
	FrameNew     = "new"
	FramePrompt  = "prompt"
	FrameList    = "list"
	FrameDelete  = "delete"
	FrameRename  = "rename"

	FrameState         = "state"
	FrameConversations = "conversations"
	FrameError         = "error"
)

// SessionHello is the first client frame: credentials plus an optional conversation to open.
type SessionHello struct {
	Token          string `json:"token"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type ClientFrame struct {
	Type           string `json:"type"`
	Content        string `json:"content,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type ServerFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

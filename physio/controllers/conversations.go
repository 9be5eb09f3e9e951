package controllers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"physio/physio/config"
	"physio/physio/services/session"
	"physio/physio/types"
	"physio/physio/utils/logging"
	utiltypes "physio/physio/utils/types"

	"go.uber.org/zap"
)

// Archive keeps a copy of deleted conversations. It is optional.
type Archive interface {
	UploadTranscript(ctx context.Context, conv types.Conversation) (string, error)
	GetTranscript(ctx context.Context, patientID, conversationID string) ([]byte, error)
}

// ConversationController scopes every store operation to the calling patient.
// Conversations of other patients are reported as not found.
type ConversationController struct {
	store   session.Store
	archive Archive
	prompts *config.Prompts
	now     func() time.Time
}

func NewConversationController(store session.Store, archive Archive, prompts *config.Prompts) *ConversationController {
	return &ConversationController{
		store:   store,
		archive: archive,
		prompts: prompts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (c *ConversationController) List(ctx context.Context, patientID string) ([]types.ConversationSummary, error) {
	list, err := c.store.ListConversations(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []types.ConversationSummary{}
	}
	return list, nil
}

func (c *ConversationController) Create(ctx context.Context, patientID, title string) (*types.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = c.prompts.Title(c.now())
	}
	return c.store.CreateConversation(ctx, patientID, title)
}

func (c *ConversationController) Get(ctx context.Context, patientID, id string) (*types.Conversation, error) {
	conv, err := c.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.PatientID != patientID {
		return nil, fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
	}
	if conv.Messages == nil {
		conv.Messages = []types.Message{}
	}
	return conv, nil
}

func (c *ConversationController) Messages(ctx context.Context, patientID, id string) ([]types.Message, error) {
	conv, err := c.Get(ctx, patientID, id)
	if err != nil {
		return nil, err
	}
	return conv.Messages, nil
}

func (c *ConversationController) Rename(ctx context.Context, patientID, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if _, err := c.Get(ctx, patientID, id); err != nil {
		return err
	}
	return c.store.UpdateTitle(ctx, id, title)
}

// Append stores a message. Re-sending a known message id returns the stored row.
func (c *ConversationController) Append(ctx context.Context, patientID, id string, req utiltypes.AppendMessageRequest) (*types.Message, error) {
	role := types.Role(req.Role)
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, req.Role)
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if _, err := c.Get(ctx, patientID, id); err != nil {
		return nil, err
	}
	msg := types.Message{ID: req.ID, ConversationID: id, Role: role, Content: req.Content, Timestamp: c.now()}
	if req.Timestamp != nil {
		msg.Timestamp = req.Timestamp.UTC()
	}
	return c.store.AppendMessage(ctx, msg)
}

func (c *ConversationController) Touch(ctx context.Context, patientID, id string) error {
	if _, err := c.Get(ctx, patientID, id); err != nil {
		return err
	}
	return c.store.TouchConversation(ctx, id)
}

// Delete archives the transcript when an archive is configured, then removes the
// conversation with its messages. A failed upload keeps the conversation.
func (c *ConversationController) Delete(ctx context.Context, patientID, id string) error {
	conv, err := c.Get(ctx, patientID, id)
	if err != nil {
		return err
	}
	if c.archive != nil {
		key, err := c.archive.UploadTranscript(ctx, *conv)
		if err != nil {
			return fmt.Errorf("archive conversation %s: %w", id, err)
		}
		logging.AppLogger.Info("conversation archived",
			zap.String("conversation_id", id), zap.String("key", key))
	}
	return c.store.DeleteConversation(ctx, id)
}

func (c *ConversationController) Archived(ctx context.Context, patientID, id string) ([]byte, error) {
	if c.archive == nil {
		return nil, ErrArchiveDisabled
	}
	return c.archive.GetTranscript(ctx, patientID, id)
}

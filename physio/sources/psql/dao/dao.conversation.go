package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"physio/physio/sources/psql/models"
	"physio/physio/types"
	"physio/physio/utils/logging"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationDAO is the relational ConversationStore.
type ConversationDAO struct {
	DB  *gorm.DB
	now func() time.Time
}

func NewConversationDAO(db *gorm.DB) *ConversationDAO {
	return &ConversationDAO{DB: db, now: func() time.Time { return time.Now().UTC() }}
}

func parseID(kind, id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s %q: %w", kind, id, types.ErrNotFound)
	}
	return u, nil
}

func toConversation(c models.Conversation) *types.Conversation {
	out := &types.Conversation{
		ID:        c.ID.String(),
		PatientID: c.PatientID.String(),
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	for _, m := range c.Messages {
		out.Messages = append(out.Messages, toMessage(m))
	}
	return out
}

func toMessage(m models.Message) types.Message {
	return types.Message{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID.String(),
		Role:           types.Role(m.Role),
		Content:        m.Content,
		Timestamp:      m.Timestamp,
	}
}

// CreateConversation inserts a new conversation in a single statement.
func (dao *ConversationDAO) CreateConversation(ctx context.Context, patientID, title string) (*types.Conversation, error) {
	defer logging.LogDuration(ctx, "dao_create_conversation")()

	pid, err := uuid.Parse(patientID)
	if err != nil {
		return nil, fmt.Errorf("invalid patient id %q: %w", patientID, err)
	}
	now := dao.now()
	conv := models.Conversation{
		ID:        uuid.New(),
		PatientID: pid,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := dao.DB.WithContext(ctx).Omit("Patient", "Messages").Create(&conv).Error; err != nil {
		return nil, err
	}
	return toConversation(conv), nil
}

// AppendMessage persists msg and bumps the conversation's updated_at. It is
// idempotent by message id: re-sending an already stored id returns the stored
// row untouched. Timestamps older than the latest stored message are clamped so
// (timestamp, seq) order always matches insertion order.
func (dao *ConversationDAO) AppendMessage(ctx context.Context, msg types.Message) (*types.Message, error) {
	defer logging.LogDuration(ctx, "dao_append_message")()

	if !msg.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", msg.Role)
	}
	cid, err := parseID("conversation", msg.ConversationID)
	if err != nil {
		return nil, err
	}
	mid := uuid.New()
	if msg.ID != "" {
		if mid, err = uuid.Parse(msg.ID); err != nil {
			return nil, fmt.Errorf("invalid message id %q: %w", msg.ID, err)
		}
	}
	ts := msg.Timestamp.UTC()
	if msg.Timestamp.IsZero() {
		ts = dao.now()
	}

	var stored models.Message
	err = dao.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Message
		err := tx.Where("id = ?", mid).Take(&existing).Error
		switch {
		case err == nil:
			if existing.ConversationID != cid {
				return fmt.Errorf("message %s: %w", mid, types.ErrConflict)
			}
			stored = existing
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		var conv models.Conversation
		if err := tx.Select("id").Take(&conv, "id = ?", cid).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("conversation %s: %w", cid, types.ErrNotFound)
			}
			return err
		}

		var last models.Message
		if err := tx.Where("conversation_id = ?", cid).Order("seq DESC").Limit(1).Find(&last).Error; err != nil {
			return err
		}
		if last.Seq > 0 && ts.Before(last.Timestamp) {
			ts = last.Timestamp.UTC()
		}

		stored = models.Message{
			ID:             mid,
			ConversationID: cid,
			Seq:            last.Seq + 1,
			Role:           string(msg.Role),
			Content:        msg.Content,
			Timestamp:      ts,
		}
		if err := tx.Create(&stored).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", cid).
			UpdateColumn("updated_at", dao.now()).Error
	})
	if err != nil {
		return nil, err
	}
	out := toMessage(stored)
	return &out, nil
}

// GetConversation returns the conversation with its messages in display order.
func (dao *ConversationDAO) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	defer logging.LogDuration(ctx, "dao_get_conversation")()

	cid, err := parseID("conversation", id)
	if err != nil {
		return nil, err
	}
	var conv models.Conversation
	err = dao.DB.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order(`"timestamp" ASC, seq ASC`)
		}).
		Take(&conv, "id = ?", cid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return toConversation(conv), nil
}

// ListConversations returns the patient's conversations, most recently updated first.
func (dao *ConversationDAO) ListConversations(ctx context.Context, patientID string) ([]types.ConversationSummary, error) {
	defer logging.LogDuration(ctx, "dao_list_conversations")()

	pid, err := uuid.Parse(patientID)
	if err != nil {
		return []types.ConversationSummary{}, nil
	}
	var rows []struct {
		ID           uuid.UUID
		Title        string
		CreatedAt    time.Time
		UpdatedAt    time.Time
		MessageCount int64
	}
	err = dao.DB.WithContext(ctx).
		Model(&models.Conversation{}).
		Select("conversations.id, conversations.title, conversations.created_at, conversations.updated_at, COUNT(messages.id) AS message_count").
		Joins("LEFT JOIN messages ON messages.conversation_id = conversations.id").
		Where("conversations.patient_id = ?", pid).
		Group("conversations.id, conversations.title, conversations.created_at, conversations.updated_at").
		Order("conversations.updated_at DESC, conversations.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.ConversationSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.ConversationSummary{
			ID:           r.ID.String(),
			Title:        r.Title,
			CreatedAt:    r.CreatedAt,
			UpdatedAt:    r.UpdatedAt,
			MessageCount: r.MessageCount,
		})
	}
	return out, nil
}

// DeleteConversation removes the conversation and all of its messages.
func (dao *ConversationDAO) DeleteConversation(ctx context.Context, id string) error {
	defer logging.LogDuration(ctx, "dao_delete_conversation")()

	cid, err := parseID("conversation", id)
	if err != nil {
		return err
	}
	return dao.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", cid).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", cid).Delete(&models.Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
		}
		return nil
	})
}

// TouchConversation bumps updated_at without touching anything else.
func (dao *ConversationDAO) TouchConversation(ctx context.Context, id string) error {
	return dao.updateColumns(ctx, id, map[string]any{"updated_at": dao.now()})
}

// UpdateTitle renames a conversation; updated_at moves with it.
func (dao *ConversationDAO) UpdateTitle(ctx context.Context, id, title string) error {
	return dao.updateColumns(ctx, id, map[string]any{"title": title, "updated_at": dao.now()})
}

func (dao *ConversationDAO) updateColumns(ctx context.Context, id string, values map[string]any) error {
	cid, err := parseID("conversation", id)
	if err != nil {
		return err
	}
	res := dao.DB.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", cid).UpdateColumns(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
	}
	return nil
}

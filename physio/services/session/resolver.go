package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"physio/physio/types"

	"go.uber.org/zap"
)

// Policy decides what a send without an active conversation resolves to.
type Policy int

const (
	// PolicyAlwaysCreate starts a fresh conversation for every send without an id.
	PolicyAlwaysCreate Policy = iota
	// PolicyReuseMostRecent continues the patient's most recently updated conversation.
	PolicyReuseMostRecent
)

const titleRunes = 40

// Resolver maps (existing id, patient) to the conversation a send belongs to.
// Callers serialize sends per session; the resolver itself performs at most one
// CreateConversation per call.
type Resolver struct {
	store       Store
	policy      Policy
	placeholder func(time.Time) string
	now         func() time.Time
	logger      *zap.Logger
}

func NewResolver(store Store, policy Policy, placeholder func(time.Time) string, logger *zap.Logger) *Resolver {
	if placeholder == nil {
		placeholder = func(t time.Time) string { return "Conversación " + t.Format("02/01/2006") }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, policy: policy, placeholder: placeholder, now: time.Now, logger: logger}
}

// Resolve returns existingID when it names a conversation the patient owns;
// otherwise it applies the policy. firstMessage seeds the title of a new
// conversation. created reports whether a conversation was inserted.
func (r *Resolver) Resolve(ctx context.Context, existingID, patientID, firstMessage string) (id string, created bool, err error) {
	if existingID != "" {
		conv, err := r.store.GetConversation(ctx, existingID)
		switch {
		case err == nil && conv.PatientID == patientID:
			return conv.ID, false, nil
		case err == nil:
			r.logger.Warn("conversation owned by another patient, starting a new one",
				zap.String("conversation_id", existingID), zap.String("patient_id", patientID))
		case errors.Is(err, types.ErrNotFound):
			r.logger.Info("conversation no longer exists, starting a new one",
				zap.String("conversation_id", existingID))
		default:
			return "", false, newError(ErrResolution, "lookup "+existingID, errors.Join(ErrPersistence, err))
		}
	}

	if r.policy == PolicyReuseMostRecent {
		list, err := r.store.ListConversations(ctx, patientID)
		if err != nil {
			return "", false, newError(ErrResolution, "list conversations", errors.Join(ErrPersistence, err))
		}
		if len(list) > 0 {
			return list[0].ID, false, nil
		}
	}

	conv, err := r.store.CreateConversation(ctx, patientID, r.Title(firstMessage))
	if err != nil {
		return "", false, newError(ErrResolution, "create conversation", errors.Join(ErrPersistence, err))
	}
	r.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID), zap.String("patient_id", patientID))
	return conv.ID, true, nil
}

// Title derives a conversation title from its first message, or the dated
// placeholder when there is nothing usable.
func (r *Resolver) Title(firstMessage string) string {
	text := strings.Join(strings.Fields(firstMessage), " ")
	if text == "" {
		return r.placeholder(r.now())
	}
	if utf8.RuneCountInString(text) <= titleRunes {
		return text
	}
	runes := []rune(text)
	return fmt.Sprintf("%s...", strings.TrimSpace(string(runes[:titleRunes])))
}

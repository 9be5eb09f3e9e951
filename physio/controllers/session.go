package controllers

import (
	"time"

	"physio/physio/config"
	"physio/physio/services/session"
	"physio/physio/utils/logging"

	"go.uber.org/zap"
)

// SessionController builds server-hosted chat sessions for websocket clients.
type SessionController struct {
	store       session.Store
	completions *CompletionController
	prompts     *config.Prompts
	idleTimeout time.Duration
}

func NewSessionController(store session.Store, completions *CompletionController, prompts *config.Prompts, cfg config.Config) *SessionController {
	return &SessionController{store: store, completions: completions, prompts: prompts, idleTimeout: cfg.StreamIdleTimeout}
}

// NewSession starts an idle session for patientID. onChange receives every state
// snapshot in order.
func (c *SessionController) NewSession(patientID string, onChange func(session.State)) (*session.Controller, error) {
	return session.NewController(session.Options{
		PatientID:        patientID,
		Store:            c.store,
		Gateway:          c.completions.Gateway(patientID),
		Policy:           session.PolicyAlwaysCreate,
		TitlePlaceholder: c.prompts.Title,
		IdleTimeout:      c.idleTimeout,
		ErrorCopy:        c.prompts.Errors,
		OnChange:         onChange,
		Logger:           logging.AppLogger.With(zap.String("source", "ws")),
	})
}

package controllers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"physio/physio/config"
	"physio/physio/services/llm"
	"physio/physio/services/session"
	"physio/physio/types"
	"physio/physio/utils/logging"
	"physio/physio/utils/normalize"
	utiltypes "physio/physio/utils/types"

	"go.uber.org/zap"
)

// PatientSource loads the profile block appended to every system prompt.
type PatientSource interface {
	GetPatientContext(ctx context.Context, patientID string) (*types.PatientContext, error)
}

// CompletionController is the server side of the completion gateway: it turns a
// client history into a provider request and exposes the reply as a byte stream.
type CompletionController struct {
	provider     llm.Provider
	patients     PatientSource
	prompts      *config.Prompts
	model        string
	temperature  float64
	maxTokens    int
	historyLimit int
}

func NewCompletionController(provider llm.Provider, patients PatientSource, prompts *config.Prompts, cfg config.Config) *CompletionController {
	return &CompletionController{
		provider:     provider,
		patients:     patients,
		prompts:      prompts,
		model:        cfg.LLMModel,
		temperature:  cfg.LLMTemperature,
		maxTokens:    cfg.LLMMaxTokens,
		historyLimit: cfg.HistoryLimit,
	}
}

// BuildRequest resolves the system prompt (leading system entry, then
// customPrompt, then the catalogue default), appends the patient context and
// keeps the newest historyLimit turns.
func (c *CompletionController) BuildRequest(ctx context.Context, patientID string, req utiltypes.CompletionRequest) (llm.ChatRequest, error) {
	if len(req.Messages) == 0 {
		return llm.ChatRequest{}, fmt.Errorf("%w: messages are required", ErrInvalidInput)
	}

	system := ""
	if first := req.Messages[0]; first.Role == string(types.RoleSystem) {
		system = strings.TrimSpace(first.Content)
	}
	if system == "" {
		system = strings.TrimSpace(req.CustomPrompt)
	}
	if system == "" {
		system = c.prompts.DefaultSystemPrompt
	}

	turns := make([]llm.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := types.Role(m.Role)
		if !role.Valid() {
			return llm.ChatRequest{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, m.Role)
		}
		if role == types.RoleSystem {
			continue
		}
		content := normalize.Normalize(m.Content)
		if content == "" {
			continue
		}
		turns = append(turns, llm.Message{Role: m.Role, Content: content})
	}
	if len(turns) == 0 {
		return llm.ChatRequest{}, fmt.Errorf("%w: no user or assistant messages", ErrInvalidInput)
	}
	if c.historyLimit > 0 && len(turns) > c.historyLimit {
		turns = turns[len(turns)-c.historyLimit:]
	}

	pc, err := c.patients.GetPatientContext(ctx, patientID)
	if err != nil {
		return llm.ChatRequest{}, fmt.Errorf("patient context: %w", err)
	}
	block, err := c.prompts.RenderPatientContext(*pc)
	if err != nil {
		return llm.ChatRequest{}, fmt.Errorf("render patient context: %w", err)
	}
	if block != "" {
		system += "\n\n" + block
	}

	return llm.ChatRequest{
		Model:       c.model,
		Messages:    append([]llm.Message{{Role: string(types.RoleSystem), Content: system}}, turns...),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}, nil
}

type pipeStream struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (s *pipeStream) Close() error {
	s.cancel()
	return s.PipeReader.Close()
}

// Open starts the provider stream and returns its text as a reader. A provider
// failure after the first chunk surfaces as a read error; closing the reader
// stops the provider.
func (c *CompletionController) Open(ctx context.Context, patientID string, req utiltypes.CompletionRequest) (io.ReadCloser, error) {
	chatReq, err := c.BuildRequest(ctx, patientID, req)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	chunks, err := c.provider.RunStream(streamCtx, chatReq)
	if err != nil {
		cancel()
		logging.ErrorLogger.Error("provider stream failed to open",
			zap.String("provider", c.provider.Name()), zap.String("patient_id", patientID), zap.Error(err))
		return nil, errors.Join(ErrUpstream, err)
	}

	pr, pw := io.Pipe()
	go func() {
		for chunk := range chunks {
			if chunk.Err != nil {
				logging.ErrorLogger.Error("provider stream broke",
					zap.String("provider", c.provider.Name()), zap.Error(chunk.Err))
				pw.CloseWithError(errors.Join(ErrUpstream, chunk.Err))
				return
			}
			if _, err := io.WriteString(pw, chunk.Content); err != nil {
				return
			}
		}
		pw.Close()
	}()
	return &pipeStream{PipeReader: pr, cancel: cancel}, nil
}

// Gateway binds Open to one patient, for sessions hosted inside the server.
func (c *CompletionController) Gateway(patientID string) session.CompletionGateway {
	return localGateway{ctrl: c, patientID: patientID}
}

type localGateway struct {
	ctrl      *CompletionController
	patientID string
}

func (g localGateway) OpenStream(ctx context.Context, req utiltypes.CompletionRequest) (io.ReadCloser, error) {
	return g.ctrl.Open(ctx, g.patientID, req)
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"physio/physio/config"
	httputils "physio/physio/utils/http"
	"physio/physio/utils/logging"

	"go.uber.org/zap"
)

// Provider streams a chat completion. The channel closes after the last chunk; a
// chunk carrying Err is always the final one.
type Provider interface {
	Name() string
	RunStream(ctx context.Context, req ChatRequest) (<-chan Chunk, error)
}

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Chunk struct {
	Content string
	Err     error
}

var ErrProviderStream = errors.New("provider stream failed")

// NewProvider picks the client named by cfg.LLMProvider.
func NewProvider(cfg config.Config) (Provider, error) {
	switch strings.ToLower(cfg.LLMProvider) {
	case "openai", "":
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("missing OPENAI_API_KEY")
		}
		return NewGPTClient(cfg.OpenAIAPIKey, ""), nil
	case "groq":
		if cfg.GroqAPIKey == "" {
			return nil, errors.New("missing GROQ_API_KEY")
		}
		return NewGroqClient(cfg.GroqAPIKey), nil
	case "ollama":
		return NewOllamaClient(cfg.OllamaURL), nil
	}
	return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
}

// send delivers c unless ctx is done first.
func send(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

type OllamaClient struct {
	baseURL string
	http    *http.Client
}

func NewOllamaClient(baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434/api"
	}
	return &OllamaClient{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{}}
}

func (c *OllamaClient) Name() string { return "ollama" }

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChunk struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error"`
}

// RunStream reads Ollama's newline-delimited JSON stream.
func (c *OllamaClient) RunStream(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	defer logging.LogDuration(ctx, "ollama_run_stream")()

	opts := map[string]any{}
	if req.Temperature > 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	resp, err := httputils.PostStream(ctx, c.http, c.baseURL+"/chat", nil, ollamaRequest{
		Model: req.Model, Messages: req.Messages, Stream: true, Options: opts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama stream request failed: %w", err)
	}

	ch := make(chan Chunk)
	go func() {
		defer func() {
			close(ch)
			resp.Body.Close()
		}()

		decoder := json.NewDecoder(resp.Body)
		for {
			var chunk ollamaChunk
			if err := decoder.Decode(&chunk); err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				logging.ErrorLogger.Error("ollama stream decode error", zap.Error(err))
				send(ctx, ch, Chunk{Err: fmt.Errorf("%w: %v", ErrProviderStream, err)})
				return
			}
			if chunk.Error != "" {
				send(ctx, ch, Chunk{Err: fmt.Errorf("%w: %s", ErrProviderStream, chunk.Error)})
				return
			}
			if chunk.Message.Content != "" && !send(ctx, ch, Chunk{Content: chunk.Message.Content}) {
				return
			}
			if chunk.Done {
				return
			}
		}
	}()

	return ch, nil
}

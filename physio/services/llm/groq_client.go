package llm

import (
	"context"
	"fmt"
	"net/http"

	httputils "physio/physio/utils/http"
	"physio/physio/utils/logging"
)

type GroqClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewGroqClient returns a client pointing to Groq's OpenAI-compatible endpoint.
func NewGroqClient(apiKey string) *GroqClient {
	return &GroqClient{
		baseURL: "https://api.groq.com/openai/v1",
		apiKey:  apiKey,
		http:    &http.Client{},
	}
}

func (c *GroqClient) Name() string { return "groq" }

func (c *GroqClient) RunStream(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	defer logging.LogDuration(ctx, "groq_run_stream")()

	url := fmt.Sprintf("%s/chat/completions", c.baseURL)
	resp, err := httputils.PostStream(ctx, c.http, url, httputils.BearerHeader(c.apiKey),
		gptChatRequest{ChatRequest: req, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("groq stream request failed: %w", err)
	}
	return streamSSE(ctx, c.Name(), resp.Body), nil
}

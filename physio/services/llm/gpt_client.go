package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	httputils "physio/physio/utils/http"
	"physio/physio/utils/logging"

	"go.uber.org/zap"
)

const openAIChatURL = "https://api.openai.com/v1/chat/completions"

type GPTClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewGPTClient talks to the OpenAI chat completions endpoint; url overrides it
// for compatible gateways.
func NewGPTClient(apiKey, url string) *GPTClient {
	if url == "" {
		url = openAIChatURL
	}
	return &GPTClient{apiKey: apiKey, baseURL: url, http: &http.Client{}}
}

func (c *GPTClient) Name() string { return "openai" }

type gptChatRequest struct {
	ChatRequest
	Stream bool `json:"stream"`
}

type gptStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message *Message `json:"message,omitempty"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// RunStream handles streaming responses (OpenAI / Groq / compatible)
func (c *GPTClient) RunStream(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	defer logging.LogDuration(ctx, "gpt_run_stream")()

	resp, err := httputils.PostStream(ctx, c.http, c.baseURL, httputils.BearerHeader(c.apiKey),
		gptChatRequest{ChatRequest: req, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("%s stream request failed: %w", c.Name(), err)
	}
	return streamSSE(ctx, c.Name(), resp.Body), nil
}

// streamSSE turns an OpenAI style "data:" event stream into chunks.
func streamSSE(ctx context.Context, name string, body io.ReadCloser) <-chan Chunk {
	ch := make(chan Chunk)

	go func() {
		defer func() {
			close(ch)
			body.Close()
		}()

		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if line = strings.TrimSpace(line); strings.HasPrefix(line, "data:") {
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if data == "[DONE]" {
					return
				}
				var chunk gptStreamResponse
				if jerr := json.Unmarshal([]byte(data), &chunk); jerr != nil {
					logging.ErrorLogger.Error("llm stream JSON parse error",
						zap.String("provider", name), zap.Error(jerr), zap.String("raw_line", data))
				} else if chunk.Error != nil {
					send(ctx, ch, Chunk{Err: fmt.Errorf("%w: %s", ErrProviderStream, chunk.Error.Message)})
					return
				} else {
					for _, choice := range chunk.Choices {
						content := choice.Delta.Content
						if content == "" && choice.Message != nil {
							content = choice.Message.Content
						}
						if content != "" && !send(ctx, ch, Chunk{Content: content}) {
							return
						}
					}
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if ctx.Err() == nil {
					logging.ErrorLogger.Error("llm stream read error", zap.String("provider", name), zap.Error(err))
				}
				send(ctx, ch, Chunk{Err: fmt.Errorf("%w: %v", ErrProviderStream, err)})
				return
			}
		}
	}()

	return ch
}

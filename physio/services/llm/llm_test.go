package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"physio/physio/config"
)

func drain(ch <-chan Chunk) (string, error) {
	var sb strings.Builder
	for c := range ch {
		if c.Err != nil {
			return sb.String(), c.Err
		}
		sb.WriteString(c.Content)
	}
	return sb.String(), nil
}

func sseServer(t *testing.T, events ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("expected bearer auth, got %q", got)
		}
		var body struct {
			Model    string    `json:"model"`
			Stream   bool      `json:"stream"`
			Messages []Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !body.Stream || body.Model != "gpt-4" || len(body.Messages) != 2 {
			t.Errorf("unexpected request %+v", body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
			w.(http.Flusher).Flush()
		}
	}))
}

var testRequest = ChatRequest{
	Model: "gpt-4",
	Messages: []Message{
		{Role: "system", Content: "Eres PhysioBot"},
		{Role: "user", Content: "Hola"},
	},
}

func TestGPTClientStreamsDeltas(t *testing.T) {
	srv := sseServer(t,
		`{"choices":[{"delta":{"role":"assistant"}}]}`,
		`{"choices":[{"delta":{"content":"Hola, "}}]}`,
		`not json`,
		`{"choices":[{"delta":{"content":"¿qué tal?"}}]}`,
		`[DONE]`,
		`{"choices":[{"delta":{"content":"ignored"}}]}`,
	)
	defer srv.Close()

	ch, err := NewGPTClient("test-key", srv.URL).RunStream(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("RunStream: %v", err)
	}
	text, err := drain(ch)
	if err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if text != "Hola, ¿qué tal?" {
		t.Errorf("got %q", text)
	}
}

func TestGPTClientStreamErrorPayload(t *testing.T) {
	srv := sseServer(t,
		`{"choices":[{"delta":{"content":"par"}}]}`,
		`{"error":{"message":"overloaded"}}`,
	)
	defer srv.Close()

	ch, err := NewGPTClient("test-key", srv.URL).RunStream(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("RunStream: %v", err)
	}
	text, err := drain(ch)
	if !errors.Is(err, ErrProviderStream) {
		t.Fatalf("expected ErrProviderStream, got %v", err)
	}
	if text != "par" || !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("got text %q err %v", text, err)
	}
}

func TestGPTClientBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	_, err := NewGPTClient("test-key", srv.URL).RunStream(context.Background(), testRequest)
	if err == nil || !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("expected status error with message, got %v", err)
	}
}

func TestGroqClientUsesCompletionsPath(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewGroqClient("test-key")
	c.baseURL = srv.URL + "/openai/v1"
	ch, err := c.RunStream(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("RunStream: %v", err)
	}
	text, err := drain(ch)
	if err != nil || text != "ok" {
		t.Fatalf("got %q, %v", text, err)
	}
	if path != "/openai/v1/chat/completions" {
		t.Errorf("unexpected path %q", path)
	}
}

func TestOllamaClientNDJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var body ollamaRequest
		json.NewDecoder(r.Body).Decode(&body)
		if !body.Stream || body.Options["num_predict"] != float64(256) {
			t.Errorf("unexpected request %+v", body)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Estira "},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"despacio"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	req := testRequest
	req.MaxTokens = 256
	ch, err := NewOllamaClient(srv.URL+"/api/").RunStream(context.Background(), req)
	if err != nil {
		t.Fatalf("RunStream: %v", err)
	}
	text, err := drain(ch)
	if err != nil || text != "Estira despacio" {
		t.Fatalf("got %q, %v", text, err)
	}
}

func TestOllamaClientErrorLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	ch, err := NewOllamaClient(srv.URL).RunStream(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("RunStream: %v", err)
	}
	if _, err := drain(ch); !errors.Is(err, ErrProviderStream) {
		t.Fatalf("expected ErrProviderStream, got %v", err)
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		cfg     config.Config
		want    string
		wantErr bool
	}{
		{config.Config{LLMProvider: "openai", OpenAIAPIKey: "k"}, "openai", false},
		{config.Config{LLMProvider: "openai"}, "", true},
		{config.Config{LLMProvider: "GROQ", GroqAPIKey: "k"}, "groq", false},
		{config.Config{LLMProvider: "groq"}, "", true},
		{config.Config{LLMProvider: "ollama"}, "ollama", false},
		{config.Config{LLMProvider: "bard"}, "", true},
	}
	for _, tt := range tests {
		p, err := NewProvider(tt.cfg)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.cfg.LLMProvider)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.cfg.LLMProvider, err)
			continue
		}
		if p.Name() != tt.want {
			t.Errorf("%s: got provider %s", tt.cfg.LLMProvider, p.Name())
		}
	}
}

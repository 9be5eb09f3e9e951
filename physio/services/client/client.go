// Package client speaks the physio HTTP API. It implements the session Store and
// CompletionGateway so a Controller can run outside the server process.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"physio/physio/services/session"
	"physio/physio/types"
	httputils "physio/physio/utils/http"
	utiltypes "physio/physio/utils/types"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var (
	_ session.Store             = (*Client)(nil)
	_ session.CompletionGateway = (*Client)(nil)
)

// New returns a client for baseURL. The http.Client must not set a Timeout,
// replies are streamed for as long as the model writes.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

func (c *Client) url(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL + "/api/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, u string, body, resp any) error {
	err := httputils.DoJSON(ctx, c.http, method, u, httputils.BearerHeader(c.token), body, resp)
	return mapStatus(err)
}

// mapStatus turns HTTP statuses back into store sentinels.
func mapStatus(err error) error {
	var se *httputils.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", se.Message, types.ErrNotFound)
		case http.StatusForbidden:
			return fmt.Errorf("%s: %w", se.Message, types.ErrForbidden)
		case http.StatusConflict:
			return fmt.Errorf("%s: %w", se.Message, types.ErrConflict)
		}
	}
	return err
}

// Me returns the patient profile bound to the token.
func (c *Client) Me(ctx context.Context) (*utiltypes.PatientResponse, error) {
	var out utiltypes.PatientResponse
	if err := c.do(ctx, http.MethodGet, c.url("patients", "me"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateConversation ignores patientID: the server derives it from the token.
func (c *Client) CreateConversation(ctx context.Context, patientID, title string) (*types.Conversation, error) {
	var out types.Conversation
	err := c.do(ctx, http.MethodPost, c.url("conversations"), utiltypes.CreateConversationRequest{Title: title}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AppendMessage(ctx context.Context, msg types.Message) (*types.Message, error) {
	req := utiltypes.AppendMessageRequest{ID: msg.ID, Role: string(msg.Role), Content: msg.Content}
	if !msg.Timestamp.IsZero() {
		ts := msg.Timestamp
		req.Timestamp = &ts
	}
	var out types.Message
	if err := c.do(ctx, http.MethodPost, c.url("conversations", msg.ConversationID, "messages"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	var out types.Conversation
	if err := c.do(ctx, http.MethodGet, c.url("conversations", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListConversations(ctx context.Context, patientID string) ([]types.ConversationSummary, error) {
	var out []types.ConversationSummary
	if err := c.do(ctx, http.MethodGet, c.url("conversations"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.url("conversations", id), nil, nil)
}

func (c *Client) TouchConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, c.url("conversations", id, "touch"), nil, nil)
}

func (c *Client) UpdateTitle(ctx context.Context, id, title string) error {
	return c.do(ctx, http.MethodPut, c.url("conversations", id), utiltypes.UpdateTitleRequest{Title: title}, nil)
}

// OpenStream posts the completion request and returns the chunked reply body.
func (c *Client) OpenStream(ctx context.Context, req utiltypes.CompletionRequest) (io.ReadCloser, error) {
	resp, err := httputils.PostStream(ctx, c.http, c.url("chat"), httputils.BearerHeader(c.token), req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Archive fetches the transcript archived when a conversation was deleted.
func (c *Client) Archive(ctx context.Context, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("archives", id), nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("archive %s: %w", id, types.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httputils.StatusError{Code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

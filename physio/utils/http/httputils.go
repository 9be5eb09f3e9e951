package httputils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"physio/physio/utils/jsonutils"
)

// StatusError is a non-2xx answer; Message comes from the {"error"} body when present.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bad status: %d", e.Code)
	}
	return fmt.Sprintf("bad status: %d - %s", e.Code, e.Message)
}

func statusError(r *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	return &StatusError{Code: r.StatusCode, Message: jsonutils.ErrorMessage(b)}
}

func newRequest(ctx context.Context, method, url string, headers map[string]string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(jsonBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// DoJSON sends body as JSON and decodes a 2xx answer into resp (when non-nil).
func DoJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body, resp any) error {
	req, err := newRequest(ctx, method, url, headers, body)
	if err != nil {
		return err
	}
	r, err := client.Do(req)
	if err != nil {
		return err
	}
	defer r.Body.Close()
	if r.StatusCode < 200 || r.StatusCode > 299 {
		return statusError(r)
	}
	if resp != nil && r.StatusCode != http.StatusNoContent {
		return json.NewDecoder(r.Body).Decode(resp)
	}
	return nil
}

// PostStream posts body as JSON and hands back the open response body for
// incremental reading. The caller closes the response body.
func PostStream(ctx context.Context, client *http.Client, url string, headers map[string]string, body any) (*http.Response, error) {
	req, err := newRequest(ctx, http.MethodPost, url, headers, body)
	if err != nil {
		return nil, err
	}
	r, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if r.StatusCode < 200 || r.StatusCode > 299 {
		defer r.Body.Close()
		return nil, statusError(r)
	}
	return r, nil
}

func BearerHeader(token string) map[string]string {
	if token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

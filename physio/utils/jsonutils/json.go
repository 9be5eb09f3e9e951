package jsonutils

import (
	"encoding/json"
	"strings"
)

// ErrorMessage extracts a human readable message from an error body. It understands
// {"error": "..."} and the provider shape {"error": {"message": "..."}}, and falls
// back to the trimmed raw body.
func ErrorMessage(body []byte) string {
	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.Error != "" {
		return flat.Error
	}
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// ToJSON serializes a Go value to a JSON string with indentation.
// Returns an empty string if serialization fails.
func ToJSON(v interface{}) string {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(bytes))
}

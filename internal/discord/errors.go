package discord

import (
	"encoding/json"
	"fmt"
	"io"
)

// APIError is what Discord answers with on a non-2xx response
type APIError struct {
	StatusCode int             `json:"-"`
	Code       int             `json:"code"`
	Message    string          `json:"message"`
	Errors     json.RawMessage `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("discord api error %d (status %d): %s: %s", e.Code, e.StatusCode, e.Message, e.Errors)
	}
	return fmt.Sprintf("discord api error %d (status %d): %s", e.Code, e.StatusCode, e.Message)
}

func readErr(status int, r io.Reader) error {
	er := &APIError{StatusCode: status}
	if err := json.NewDecoder(r).Decode(er); err != nil {
		return fmt.Errorf("error decoding error with status %d: %w", status, err)
	}

	return er
}

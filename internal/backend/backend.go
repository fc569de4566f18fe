package backend

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrInvalidConversationID indicates conversation creation failed or returned
// an unusable id. Resolution must not proceed to open a channel.
var ErrInvalidConversationID = errors.New("invalid conversation id")

// HistoryError is returned when the server refuses to serve a conversation's
// history. The conversation is authoritatively gone or inaccessible; the
// client must not keep operating on stale local state.
type HistoryError struct {
	Status int
}

func (e *HistoryError) Error() string {
	switch e.Status {
	case http.StatusGone:
		return "conversation history expired"
	case http.StatusNotFound:
		return "conversation not found"
	case http.StatusForbidden:
		return "conversation access forbidden"
	case http.StatusUnauthorized:
		return "conversation access unauthorized"
	default:
		return fmt.Sprintf("history fetch failed with status %d", e.Status)
	}
}

// Fatal reports whether the failure requires a full session reset.
func (e *HistoryError) Fatal() bool {
	switch e.Status {
	case http.StatusGone, http.StatusNotFound, http.StatusForbidden, http.StatusUnauthorized:
		return true
	}
	return false
}

const defaultRequestTimeout = 15 * time.Second

// Client holds the shared HTTP plumbing for the REST collaborators.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client for the given API base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}
}

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HistoryService loads the authoritative message history for a conversation.
type HistoryService interface {
	Fetch(ctx context.Context, conversationID int) ([]map[string]any, error)
}

// historyResponse is the wire shape of the history endpoint.
type historyResponse struct {
	History []map[string]any `json:"history"`
}

// Fetch retrieves the raw history for conversationID. Messages come back in
// their wire shapes; the caller normalizes them.
func (c *Client) Fetch(ctx context.Context, conversationID int) ([]map[string]any, error) {
	url := fmt.Sprintf("%s/conversations/%d/history", c.baseURL, conversationID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build history request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusGone, http.StatusNotFound, http.StatusForbidden, http.StatusUnauthorized:
		return nil, &HistoryError{Status: resp.StatusCode}
	default:
		return nil, fmt.Errorf("history fetch returned unexpected status %d", resp.StatusCode)
	}

	var body historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode history response: %w", err)
	}

	return body.History, nil
}

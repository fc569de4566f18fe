package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// ConversationService creates new server-side conversations.
type ConversationService interface {
	Create(ctx context.Context, userID, botID, secret string, freshSession bool) (int, error)
}

type createRequest struct {
	UserID       string `json:"userId"`
	BotID        string `json:"botId"`
	Secret       string `json:"secret"`
	FreshSession bool   `json:"freshSession"`
}

type createResponse struct {
	ConversationID json.Number `json:"conversationId"`
}

// Create asks the backend for a fresh conversation id. Any transport failure,
// non-2xx status, or non-positive id maps to ErrInvalidConversationID: the
// session must not start on a broken identifier.
func (c *Client) Create(ctx context.Context, userID, botID, secret string, freshSession bool) (int, error) {
	payload, err := json.Marshal(createRequest{
		UserID:       userID,
		BotID:        botID,
		Secret:       secret,
		FreshSession: freshSession,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode create request: %w", err)
	}

	url := c.baseURL + "/conversations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to build create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidConversationID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return 0, fmt.Errorf("%w: create returned status %d", ErrInvalidConversationID, resp.StatusCode)
	}

	var body createResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidConversationID, err)
	}

	id, err := strconv.Atoi(body.ConversationID.String())
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: got %q", ErrInvalidConversationID, body.ConversationID.String())
	}

	return id, nil
}

// Package notify delivers outbound notices through the chat platform's bot
// API. The core only depends on the services.Notifier interface; this is the
// production implementation, a thin JSON-over-HTTP client for the relay's
// sendMessage endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client posts notices to the platform relay.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a Client for the relay at baseURL, authenticating with token
// when one is configured.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client (tests).
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// sendMessage is the wire payload for both direct and group messages; the
// platform uses one endpoint with positive ids for users and negative ids
// for group chats.
type sendMessage struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// SendDM delivers a direct message to a user.
func (c *Client) SendDM(ctx context.Context, userID int64, text string) error {
	return c.post(ctx, sendMessage{ChatID: userID, Text: text})
}

// SendChat posts a notice into a group chat.
func (c *Client) SendChat(ctx context.Context, chatID int64, text string) error {
	return c.post(ctx, sendMessage{ChatID: chatID, Text: text})
}

func (c *Client) post(ctx context.Context, msg sendMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notice request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notice: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("deliver notice: status %d", resp.StatusCode)
	}
	return nil
}

// Package agents is a small REST client for the relay's agent directory.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Agent describes one configured voice agent on the relay.
type Agent struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Voice        string `json:"voice"`
	PhoneNumber  string `json:"phone_number"`
	SystemPrompt string `json:"system_prompt"`
}

// Client fetches agent metadata over HTTP. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// NewClient creates a Client for the given API base URL, e.g.
// "https://relay.example.com".
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

// List returns all agents visible to the caller.
func (c *Client) List(ctx context.Context) ([]Agent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/agents", nil)
	if err != nil {
		return nil, fmt.Errorf("agents: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agents: list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("agents: list: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Agents []Agent `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("agents: decode response: %w", err)
	}
	return payload.Agents, nil
}

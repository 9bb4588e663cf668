// Package apiclient is the HTTP client for the challenge API, used by
// match sessions running on player devices.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mapclash/mapclash/go/internal/models"
)

// Client calls the challenge JSON API. It mirrors the server handler
// surface one method per route.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the challenge API at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Create issues a new challenge from challengerID to challengedID.
func (c *Client) Create(ctx context.Context, challengerID, challengedID string) (*models.Challenge, error) {
	body := map[string]string{
		"challengerId": challengerID,
		"challengedId": challengedID,
	}
	return c.do(ctx, http.MethodPost, "/api/challenges", body)
}

// Get reads the current challenge document.
func (c *Client) Get(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	return c.do(ctx, http.MethodGet, fmt.Sprintf("/api/challenges/%s", id), nil)
}

// SetPresence writes the caller's presence flag.
func (c *Client) SetPresence(ctx context.Context, id uuid.UUID, callerID string, joined bool) (*models.Challenge, error) {
	body := map[string]any{
		"playerId": callerID,
		"joined":   joined,
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/challenges/%s/presence", id), body)
}

// Accept accepts the challenge as the challenged player.
func (c *Client) Accept(ctx context.Context, id uuid.UUID, callerID string) (*models.Challenge, error) {
	return c.playerAction(ctx, id, callerID, "accept")
}

// Start begins the match once both players have joined.
func (c *Client) Start(ctx context.Context, id uuid.UUID, callerID string) (*models.Challenge, error) {
	return c.playerAction(ctx, id, callerID, "start")
}

// Cancel cancels the challenge.
func (c *Client) Cancel(ctx context.Context, id uuid.UUID, callerID string) (*models.Challenge, error) {
	return c.playerAction(ctx, id, callerID, "cancel")
}

// Complete marks the match finished.
func (c *Client) Complete(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/challenges/%s/complete", id), map[string]string{})
}

// RecordGuess submits a guess for scoring.
func (c *Client) RecordGuess(ctx context.Context, id uuid.UUID, callerID, item string) (*models.Challenge, error) {
	body := map[string]string{
		"playerId": callerID,
		"item":     item,
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/challenges/%s/guesses", id), body)
}

func (c *Client) playerAction(ctx context.Context, id uuid.UUID, callerID, action string) (*models.Challenge, error) {
	body := map[string]string{"playerId": callerID}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/challenges/%s/%s", id, action), body)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*models.Challenge, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("challenge API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("challenge API returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var ch models.Challenge
	if err := json.NewDecoder(resp.Body).Decode(&ch); err != nil {
		return nil, fmt.Errorf("failed to decode challenge response: %w", err)
	}
	return &ch, nil
}

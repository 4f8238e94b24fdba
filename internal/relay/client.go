package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Turn is one prior message of the conversation, oldest first.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Item is a queued message handed to the relay by a poll.
type Item struct {
	QueueItemID    string `json:"queueItemId"`
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	History        []Turn `json:"history"`
}

// StatusError is a non-2xx answer from the hub or the executor.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Body)
}

// ClientError reports whether the status is in the 4xx range.
func (e *StatusError) ClientError() bool {
	return e.Code >= 400 && e.Code < 500
}

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4096

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// HubClient talks to the hub's relay endpoints for one agent.
type HubClient struct {
	baseURL string
	agentID string
	token   string
	http    *http.Client
}

// HubClientOpts holds parameters for creating a HubClient.
type HubClientOpts struct {
	BaseURL    string
	AgentID    string
	Token      string
	HTTPClient *http.Client // defaults to a client with a 30s timeout
}

// NewHubClient creates a HubClient.
func NewHubClient(opts HubClientOpts) (*HubClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("relay: hub url is required")
	}
	if opts.AgentID == "" {
		return nil, fmt.Errorf("relay: agent id is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HubClient{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		agentID: opts.AgentID,
		token:   opts.Token,
		http:    client,
	}, nil
}

func (c *HubClient) endpoint(action string) string {
	return c.baseURL + "/api/agents/" + url.PathEscape(c.agentID) + "/" + action
}

func (c *HubClient) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Poll claims the agent's next batch of queued messages.
func (c *HubClient) Poll(ctx context.Context) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("poll"), nil)
	if err != nil {
		return nil, fmt.Errorf("relay: poll: %w", err)
	}
	var body struct {
		Items []Item `json:"items"`
	}
	if err := c.do(req, &body); err != nil {
		return nil, fmt.Errorf("relay: poll: %w", err)
	}
	return body.Items, nil
}

// Respond reports the answer for a claimed queue item.
func (c *HubClient) Respond(ctx context.Context, queueItemID, content string) error {
	payload, err := json.Marshal(map[string]string{"queueItemId": queueItemID, "content": content})
	if err != nil {
		return fmt.Errorf("relay: respond: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("respond"), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("relay: respond: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("relay: respond %s: %w", queueItemID, err)
	}
	return nil
}

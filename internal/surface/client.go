package surface

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

	"github.com/sebastian-lehto/micromanager-agent/internal/conversation"
	"github.com/sebastian-lehto/micromanager-agent/internal/workflow"
	"github.com/sebastian-lehto/micromanager-agent/internal/workplan"
)

// ChatReply is the ingress endpoint's response body.
type ChatReply struct {
	Response string `json:"response"`
	Error    bool   `json:"error"`
}

// Profile is the subset of the user profile the surface shows.
type Profile struct {
	UserID   string `json:"userId"`
	Tier     string `json:"tier"`
	Tokens   int64  `json:"tokens"`
	Messages int64  `json:"messages"`
}

// API is what the surface needs from the service. *Client is the HTTP
// implementation; tests substitute their own.
type API interface {
	SendChat(ctx context.Context, userID, message string) (ChatReply, error)
	History(ctx context.Context, userID string) ([]conversation.Message, error)
	Profile(ctx context.Context, userID string) (Profile, error)
	WorkflowRuns(ctx context.Context) (workflow.RunSnapshot, error)
	ReportUsage(ctx context.Context, userID string, tokens, messages int) error
}

// Client talks to the micromanager API. Every request carries the bearer
// token from the injected TokenSource.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

func NewClient(baseURL string, tokens TokenSource) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (c *Client) SendChat(ctx context.Context, userID, message string) (ChatReply, error) {
	var out ChatReply
	err := c.do(ctx, http.MethodPost, "/api/telegram/chat", map[string]string{
		"message": message,
		"userId":  userID,
	}, &out)
	if err != nil {
		return ChatReply{}, err
	}
	return out, nil
}

func (c *Client) History(ctx context.Context, userID string) ([]conversation.Message, error) {
	var out struct {
		Messages []conversation.Message `json:"messages"`
	}
	path := "/api/telegram/chat/history?userId=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) Profile(ctx context.Context, userID string) (Profile, error) {
	var out Profile
	path := "/api/user/profile?userId=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return Profile{}, err
	}
	return out, nil
}

func (c *Client) WorkflowRuns(ctx context.Context) (workflow.RunSnapshot, error) {
	var out workflow.RunSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/user/workflow-runs", nil, &out); err != nil {
		return workflow.RunSnapshot{}, err
	}
	return out, nil
}

func (c *Client) ReportUsage(ctx context.Context, userID string, tokens, messages int) error {
	path := "/api/user/usage?userId=" + url.QueryEscape(userID)
	return c.do(ctx, http.MethodPost, path, map[string]int{
		"tokens":   tokens,
		"messages": messages,
	}, nil)
}

// Workplans implements workplan.Client.
func (c *Client) Workplans(ctx context.Context, days, limit int) ([]workplan.Entry, error) {
	var out struct {
		Workplans []workplan.Entry `json:"workplans"`
	}
	path := fmt.Sprintf("/api/workplan?days=%d&limit=%d", days, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Workplans, nil
}

// RegenerateWorkplan implements workplan.Client.
func (c *Client) RegenerateWorkplan(ctx context.Context, ev workplan.Event, userRole string) (workplan.Entry, error) {
	var out workplan.Entry
	err := c.do(ctx, http.MethodPost, "/api/workplan/regenerate", map[string]any{
		"event":    ev,
		"userRole": userRole,
	}, &out)
	if err != nil {
		return workplan.Entry{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	// Fixed tags attached to every delegated chat task.
	TaskSource = "telegram"
	TaskType   = "chat"
)

// Request is the unit of work handed to the workflow executor.
type Request struct {
	Message  string `json:"message"`
	UserID   string `json:"userId"`
	Source   string `json:"source"`
	TaskType string `json:"taskType"`
}

// Result is what the executor reports back. Error is a flag, not a transport
// failure: a flagged result is still a response worth persisting.
type Result struct {
	OutputText string                    `json:"output_text"`
	Error      bool                      `json:"error"`
	Tokens     int                       `json:"tokens,omitempty"`
	Reasoning  string                    `json:"reasoning,omitempty"`
	ToolCalls  map[string]ToolCallRecord `json:"tool_calls,omitempty"`
}

// Executor turns a user message into an assistant response. The real planning
// engine lives outside this repository; this interface is its boundary.
type Executor interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// HTTPExecutor reaches the external workflow engine over HTTP.
type HTTPExecutor struct {
	Endpoint string
	Client   *http.Client
	Logger   *slog.Logger
}

func NewHTTPExecutor(endpoint string, logger *slog.Logger) *HTTPExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPExecutor{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 60 * time.Second},
		Logger:   logger,
	}
}

func (e *HTTPExecutor) Run(ctx context.Context, req Request) (Result, error) {
	if req.Source == "" {
		req.Source = TaskSource
	}
	if req.TaskType == "" {
		req.TaskType = TaskType
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode workflow request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build workflow request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := e.Client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("workflow request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("workflow returned status %d", resp.StatusCode)
	}
	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode workflow response: %w", err)
	}
	e.Logger.Debug("workflow_run_done",
		"duration", time.Since(started).String(),
		"error_flag", out.Error,
		"tool_calls", len(out.ToolCalls),
	)
	return out, nil
}

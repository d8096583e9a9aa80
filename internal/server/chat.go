package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/sebastian-lehto/micromanager-agent/internal/conversation"
	"github.com/sebastian-lehto/micromanager-agent/internal/msgstore"
	"github.com/sebastian-lehto/micromanager-agent/internal/workflow"
)

type chatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type chatResponse struct {
	Response string `json:"response"`
	Error    bool   `json:"error"`
}

// handleChat is the chat ingress: authenticate, validate, persist the inbound
// message, run the workflow, persist the outbound reply. The inbound message
// is kept even when the workflow fails so the audit trail shows what the user
// sent.
func (s *Service) handleChat(c *echo.Context) error {
	id, err := s.requireAuth(c)
	if err != nil {
		return err
	}

	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Message = strings.TrimSpace(req.Message)
	if id.UserID != "" {
		req.UserID = id.UserID
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId required")
	}

	ctx := c.Request().Context()
	now := time.Now().UTC()

	inbound := msgstore.FromConversation(conversation.Message{
		UserID:    req.UserID,
		Role:      conversation.RoleUser,
		Content:   req.Message,
		Type:      conversation.TypeText,
		Source:    conversation.SourceTelegramUser,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err := s.store.CreateMessage(ctx, &inbound); err != nil {
		s.logger.Error("chat_persist_inbound_error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	runID := s.recorder.Begin(req.Message, now)
	result, runErr := s.executor.Run(ctx, workflow.Request{
		Message:  req.Message,
		UserID:   req.UserID,
		Source:   workflow.TaskSource,
		TaskType: workflow.TaskType,
	})
	s.recorder.Finish(result.ToolCalls)

	if runErr != nil {
		s.logger.Error("workflow_run_error", "run_id", runID, "error", runErr)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	outNow := time.Now().UTC()
	outbound := msgstore.FromConversation(conversation.Message{
		UserID:    req.UserID,
		Role:      conversation.RoleAssistant,
		Content:   result.OutputText,
		Type:      conversation.TypeText,
		Source:    conversation.SourceMicromanager,
		CreatedAt: outNow,
		UpdatedAt: outNow,
		Metadata: &conversation.Metadata{
			Tokens:    result.Tokens,
			Reasoning: result.Reasoning,
			Error:     result.Error,
		},
	})
	if err := s.store.CreateMessage(ctx, &outbound); err != nil {
		s.logger.Error("chat_persist_outbound_error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	// Usage accounting is the surface's job (POST /api/user/usage); recording
	// it here as well would double-count every exchange.
	return c.JSON(http.StatusOK, chatResponse{Response: result.OutputText, Error: result.Error})
}

// handleHistory returns the acting user's messages ascending by creation time.
func (s *Service) handleHistory(c *echo.Context) error {
	id, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	userID := resolveUser(c, id)
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId required")
	}

	rows, err := s.store.ListMessages(c.Request().Context(), userID)
	if err != nil {
		s.logger.Error("history_list_error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	out := make([]conversation.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToConversation())
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": out})
}

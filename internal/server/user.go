package server

import (
	"net/http"

	"github.com/labstack/echo/v5"
)

type profileResponse struct {
	UserID   string `json:"userId"`
	Tier     string `json:"tier"`
	Tokens   int64  `json:"tokens"`
	Messages int64  `json:"messages"`
}

type usageRequest struct {
	Tokens   int `json:"tokens"`
	Messages int `json:"messages"`
}

func (s *Service) handleProfile(c *echo.Context) error {
	id, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	userID := resolveUser(c, id)
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId required")
	}

	tier := s.cfg.ProfileTier
	if tier == "" {
		tier = "free"
	}
	tokens, messages, err := s.store.UsageTotals(c.Request().Context(), userID)
	if err != nil {
		s.logger.Error("profile_usage_error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, profileResponse{
		UserID:   userID,
		Tier:     tier,
		Tokens:   tokens,
		Messages: messages,
	})
}

func (s *Service) handleUsage(c *echo.Context) error {
	id, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	userID := resolveUser(c, id)
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId required")
	}

	var req usageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Tokens < 0 || req.Messages < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "counts must be non-negative")
	}
	if err := s.store.AddUsage(c.Request().Context(), userID, req.Tokens, req.Messages); err != nil {
		s.logger.Error("usage_add_error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Service) handleWorkflowRuns(c *echo.Context) error {
	if _, err := s.requireAuth(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.recorder.Snapshot())
}

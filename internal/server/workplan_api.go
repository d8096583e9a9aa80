package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/sebastian-lehto/micromanager-agent/internal/workplan"
)

type workplansResponse struct {
	Workplans []workplan.Entry `json:"workplans"`
}

type regenerateRequest struct {
	Event    workplan.Event `json:"event"`
	UserRole string         `json:"userRole"`
}

func (s *Service) handleWorkplans(c *echo.Context) error {
	if _, err := s.requireAuth(c); err != nil {
		return err
	}
	if s.planner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "workplans not configured")
	}

	days := intQueryParam(c, "days", workplan.DefaultDays)
	limit := intQueryParam(c, "limit", workplan.DefaultLimit)

	entries, err := s.planner.Plans(c.Request().Context(), days, limit)
	if err != nil {
		s.logger.Error("workplan_list_error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	if entries == nil {
		entries = []workplan.Entry{}
	}
	return c.JSON(http.StatusOK, workplansResponse{Workplans: entries})
}

func (s *Service) handleRegenerateWorkplan(c *echo.Context) error {
	if _, err := s.requireAuth(c); err != nil {
		return err
	}
	if s.planner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "workplans not configured")
	}

	var req regenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Event.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event id required")
	}

	entry, err := s.planner.Regenerate(c.Request().Context(), req.Event, req.UserRole)
	if err != nil {
		s.logger.Error("workplan_regenerate_error", "event_id", req.Event.ID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, entry)
}

func intQueryParam(c *echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

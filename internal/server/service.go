// Package server hosts the authenticated HTTP API: chat ingress, history,
// workplans, workflow runs, profile and usage. Routes sit behind a bearer
// check that accepts either the shared server token or a user JWT.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/sebastian-lehto/micromanager-agent/internal/msgstore"
	"github.com/sebastian-lehto/micromanager-agent/internal/workflow"
)

type Config struct {
	Bind        string
	Port        int
	ServerToken string
	JWTSecret   string
	ProfileTier string
}

type Service struct {
	cfg       Config
	store     *msgstore.Store
	executor  workflow.Executor
	recorder  *workflow.Recorder
	planner   *Planner
	verifiers verifierChain
	logger    *slog.Logger

	echo *echo.Echo
	srv  *http.Server
}

func New(cfg Config, store *msgstore.Store, executor workflow.Executor, planner *Planner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:      cfg,
		store:    store,
		executor: executor,
		recorder: workflow.NewRecorder(),
		planner:  planner,
		logger:   logger,
		verifiers: verifierChain{
			serverTokenVerifier{token: cfg.ServerToken},
			userJWTVerifier{secret: []byte(cfg.JWTSecret)},
		},
	}
	s.echo = echo.New()
	s.registerRoutes(s.echo)
	return s
}

func (s *Service) registerRoutes(e *echo.Echo) {
	e.GET("/healthz", s.handleHealthz)

	tg := e.Group("/api/telegram")
	tg.POST("/chat", s.handleChat)
	tg.GET("/chat/history", s.handleHistory)

	user := e.Group("/api/user")
	user.GET("/workflow-runs", s.handleWorkflowRuns)
	user.GET("/profile", s.handleProfile)
	user.POST("/usage", s.handleUsage)

	wp := e.Group("/api/workplan")
	wp.GET("", s.handleWorkplans)
	wp.POST("/regenerate", s.handleRegenerateWorkplan)
}

// Handler exposes the routed mux, mostly for tests.
func (s *Service) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Service) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server_start", "addr", addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info("server_stop")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Service) handleHealthz(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

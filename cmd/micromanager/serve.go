package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sebastian-lehto/micromanager-agent/internal/logutil"
	"github.com/sebastian-lehto/micromanager-agent/internal/msgstore"
	"github.com/sebastian-lehto/micromanager-agent/internal/server"
	"github.com/sebastian-lehto/micromanager-agent/internal/workflow"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the micromanager API service",
		RunE: func(cmd *cobra.Command, args []string) error {
			bind := strings.TrimSpace(flagOrViperString(cmd, "server-bind", "server.bind"))
			if bind == "" {
				bind = "127.0.0.1"
			}
			port := flagOrViperInt(cmd, "server-port", "server.port")
			if port <= 0 {
				port = 8787
			}
			token := strings.TrimSpace(flagOrViperString(cmd, "server-token", "server.token"))
			if token == "" {
				return fmt.Errorf("missing server.token (set via --server-token or MICROMANAGER_SERVER_TOKEN)")
			}
			jwtSecret := strings.TrimSpace(viper.GetString("server.jwt_secret"))

			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			storeCfg := msgstore.DefaultConfig()
			storeCfg.DSN = viper.GetString("db.dsn")
			store, err := msgstore.Open(storeCfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			workflowEndpoint := strings.TrimSpace(viper.GetString("workflow.endpoint"))
			if workflowEndpoint == "" {
				return fmt.Errorf("missing workflow.endpoint (set via MICROMANAGER_WORKFLOW_ENDPOINT)")
			}
			executor := workflow.NewHTTPExecutor(workflowEndpoint, logger)

			svc := server.New(server.Config{
				Bind:        bind,
				Port:        port,
				ServerToken: token,
				JWTSecret:   jwtSecret,
				ProfileTier: viper.GetString("server.profile_tier"),
			}, store, executor, server.NewPlanner(server.NewSampleEventSource()), logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return svc.Start(ctx)
		},
	}

	cmd.Flags().String("server-bind", "", "Bind address (default 127.0.0.1).")
	cmd.Flags().Int("server-port", 0, "Listen port (default 8787).")
	cmd.Flags().String("server-token", "", "Shared bearer token clients authenticate with.")

	return cmd
}

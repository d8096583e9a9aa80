package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sebastian-lehto/micromanager-agent/internal/logutil"
	"github.com/sebastian-lehto/micromanager-agent/internal/realtime"
	"github.com/sebastian-lehto/micromanager-agent/internal/statepaths"
	"github.com/sebastian-lehto/micromanager-agent/internal/surface"
	"github.com/sebastian-lehto/micromanager-agent/internal/workflow"
	"github.com/sebastian-lehto/micromanager-agent/internal/workplan"
)

func newSurfaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "surface",
		Short: "Run the interactive chat surface against a micromanager API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			baseURL := strings.TrimSpace(flagOrViperString(cmd, "api-base-url", "api.base_url"))
			userID := strings.TrimSpace(flagOrViperString(cmd, "user-id", "api.user_id"))
			if userID == "" {
				return fmt.Errorf("missing api.user_id (set via --user-id or MICROMANAGER_API_USER_ID)")
			}
			tokens, err := surface.NewStaticTokenSource(viper.GetString("api.token"))
			if err != nil {
				return fmt.Errorf("missing api.token (set via MICROMANAGER_API_TOKEN)")
			}
			client, err := surface.NewClient(baseURL, tokens)
			if err != nil {
				return err
			}

			mocks, err := workplan.LoadMockSet(viper.GetString("workplan.mock_path"), time.Now().UTC())
			if err != nil {
				return err
			}
			plans := workplan.NewStore(client, workplan.Options{
				Days:      viper.GetInt("workplan.days"),
				Limit:     viper.GetInt("workplan.limit"),
				Mocks:     mocks,
				CachePath: statepaths.WorkplanCachePath(),
				Logger:    logger,
			})

			var stream *realtime.Stream
			if endpoint := strings.TrimSpace(viper.GetString("realtime.endpoint")); endpoint != "" {
				stream = realtime.NewStream(endpoint, viper.GetString("api.token"), logger)
			}

			surf, err := surface.New(client, surface.Options{
				UserID:    userID,
				Workplans: plans,
				Stream:    stream,
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				if err := surf.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error("surface_run_error", "error", err)
				}
			}()

			return interactiveLoop(ctx, cmd, surf)
		},
	}

	cmd.Flags().String("api-base-url", "", "API base URL (default http://127.0.0.1:8787).")
	cmd.Flags().String("user-id", "", "User identity messages are sent as.")

	return cmd
}

// interactiveLoop reads lines from stdin. Slash commands inspect state;
// anything else is sent as a chat message.
func interactiveLoop(ctx context.Context, cmd *cobra.Command, surf *surface.Surface) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "micromanager surface. /help for commands, /quit to exit.")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := runSlashCommand(ctx, out, surf, line); quit {
				return nil
			}
			continue
		}

		if err := surf.Submit(ctx, line); err != nil {
			fmt.Fprintf(out, "!! %s (use /retry)\n", surf.Banner())
			continue
		}
		printRows(out, surf.ActivityRows())
	}
}

func runSlashCommand(ctx context.Context, out io.Writer, surf *surface.Surface, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(out, "/plans /select <event-id> /role <text> /regen /runs /retry /profile /quit")
	case "/retry":
		if err := surf.Retry(ctx); err != nil {
			fmt.Fprintf(out, "retry: %v\n", err)
		} else {
			printRows(out, surf.ActivityRows())
		}
	case "/profile":
		p := surf.CurrentProfile()
		fmt.Fprintf(out, "%s (%s): %d tokens over %d messages\n", p.UserID, p.Tier, p.Tokens, p.Messages)
	case "/runs":
		for _, rec := range surf.Tracker().History() {
			fmt.Fprint(out, workflow.FormatRecord(rec))
		}
	case "/plans":
		printWorkplans(ctx, out, surf)
	case "/select":
		if len(fields) < 2 {
			fmt.Fprintln(out, "usage: /select <event-id>")
			break
		}
		if plans := surf.Workplans(); plans != nil && !plans.Select(fields[1]) {
			fmt.Fprintf(out, "unknown event %q\n", fields[1])
		}
	case "/role":
		plans := surf.Workplans()
		if plans == nil {
			break
		}
		if sel, ok := plans.Selected(); ok {
			plans.SetDraft(sel.Event.ID, strings.TrimSpace(strings.TrimPrefix(line, "/role")))
		}
	case "/regen":
		plans := surf.Workplans()
		if plans == nil {
			break
		}
		if err := plans.Regenerate(ctx); err != nil {
			fmt.Fprintf(out, "regenerate: %v\n", err)
			break
		}
		printWorkplans(ctx, out, surf)
	default:
		fmt.Fprintf(out, "unknown command %s\n", fields[0])
	}
	return false
}

func printWorkplans(ctx context.Context, out io.Writer, surf *surface.Surface) {
	plans := surf.Workplans()
	if plans == nil {
		return
	}
	plans.Refresh(ctx)
	if w := plans.Warning(); w != "" {
		fmt.Fprintf(out, "!! %s\n", w)
		plans.DismissWarning()
	}
	selected, _ := plans.Selected()
	for _, entry := range plans.Entries() {
		marker := "  "
		if entry.Event.ID == selected.Event.ID {
			marker = "* "
		}
		fmt.Fprint(out, marker+surface.RenderWorkplan(entry))
	}
}

func printRows(out io.Writer, rows []string) {
	for _, row := range rows {
		fmt.Fprintln(out, row)
	}
}

// Package surface is the interactive chat loop: it reconciles the timeline,
// mirrors workflow tool calls, shows workplans, and submits user messages to
// the API.
package surface

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sebastian-lehto/micromanager-agent/internal/conversation"
	"github.com/sebastian-lehto/micromanager-agent/internal/realtime"
	"github.com/sebastian-lehto/micromanager-agent/internal/retryutil"
	"github.com/sebastian-lehto/micromanager-agent/internal/workflow"
	"github.com/sebastian-lehto/micromanager-agent/internal/workplan"
)

const profileRefreshInterval = 60 * time.Second

type Options struct {
	UserID    string
	Workplans *workplan.Store
	Stream    *realtime.Stream
	Logger    *slog.Logger
	Now       func() time.Time
}

type Surface struct {
	api       API
	userID    string
	timeline  *conversation.Timeline
	tracker   *workflow.Tracker
	workplans *workplan.Store
	stream    *realtime.Stream
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	inFlight bool
	banner   string
	lastSent string
	profile  Profile
}

func New(api API, opts Options) (*Surface, error) {
	if api == nil {
		return nil, fmt.Errorf("api client is required")
	}
	if opts.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Surface{
		api:       api,
		userID:    opts.UserID,
		timeline:  conversation.NewTimeline(),
		workplans: opts.Workplans,
		stream:    opts.Stream,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	s.tracker = workflow.NewTracker(api.WorkflowRuns, s.InFlight, opts.Logger)
	return s, nil
}

// Run loads initial state and drives the background loops until ctx is
// cancelled: tool-call polling, the realtime stream, and the periodic profile
// refresh.
func (s *Surface) Run(ctx context.Context) error {
	if history, err := s.api.History(ctx, s.userID); err != nil {
		s.logger.Warn("history_fetch_error", "error", err.Error())
	} else {
		s.timeline.Merge(history)
	}
	if prof, err := s.api.Profile(ctx, s.userID); err != nil {
		s.logger.Warn("profile_fetch_error", "error", err.Error())
	} else {
		s.setProfile(prof)
	}
	if s.workplans != nil {
		s.workplans.RestoreCache()
		s.workplans.Refresh(ctx)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.tracker.Run(ctx)
	}()

	if s.stream != nil {
		ch, err := s.stream.Subscribe(ctx)
		if err != nil {
			s.logger.Warn("realtime_subscribe_error", "error", err.Error())
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.consumeRealtime(ctx, ch)
			}()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.profileLoop(ctx)
	}()

	wg.Wait()
	return ctx.Err()
}

func (s *Surface) consumeRealtime(ctx context.Context, ch <-chan conversation.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.timeline.Merge([]conversation.Message{msg})
			s.logger.Debug("realtime_message_merged", "id", msg.ID)
		}
	}
}

func (s *Surface) profileLoop(ctx context.Context) {
	ticker := time.NewTicker(profileRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		prof, err := s.api.Profile(ctx, s.userID)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("profile_fetch_error", "error", err.Error())
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}
		s.setProfile(prof)
	}
}

// Submit sends one user message: optimistic append, POST, merge the reply.
// On transport failure the optimistic entry stays, an error banner is raised
// and the text is kept for Retry.
func (s *Surface) Submit(ctx context.Context, text string) error {
	if text == "" {
		return fmt.Errorf("message is empty")
	}

	now := s.now().UTC()
	s.timeline.Append(conversation.NewLocal(s.userID, text, now))
	s.setInFlight(true)
	defer s.setInFlight(false)

	reply, err := s.api.SendChat(ctx, s.userID, text)
	if err != nil {
		s.mu.Lock()
		s.banner = "message failed to send"
		s.lastSent = text
		s.mu.Unlock()
		s.logger.Warn("chat_send_error", "error", err.Error())
		return fmt.Errorf("send chat: %w", err)
	}

	s.mu.Lock()
	s.banner = ""
	s.lastSent = ""
	s.mu.Unlock()

	replyAt := s.now().UTC()
	replyID := conversation.AssistantID(replyAt)
	s.timeline.Merge([]conversation.Message{{
		ID:        replyID,
		UserID:    s.userID,
		Role:      conversation.RoleAssistant,
		Content:   reply.Response,
		Type:      conversation.TypeText,
		Source:    conversation.SourceMicromanager,
		CreatedAt: replyAt,
		UpdatedAt: replyAt,
	}})
	s.timeline.BackfillMetadata(replyID, conversation.Metadata{Error: reply.Error}, replyAt)

	s.reportUsage(ctx, estimateTokens(text, reply.Response), 2)
	return nil
}

// Retry re-submits the last failed message, if any.
func (s *Surface) Retry(ctx context.Context) error {
	s.mu.Lock()
	text := s.lastSent
	s.mu.Unlock()
	if text == "" {
		return fmt.Errorf("nothing to retry")
	}
	return s.Submit(ctx, text)
}

func (s *Surface) reportUsage(ctx context.Context, tokens, messages int) {
	if err := s.api.ReportUsage(ctx, s.userID, tokens, messages); err != nil {
		s.logger.Warn("usage_report_error", "error", err.Error())
		retryutil.AsyncRetry(s.logger, "usage_report", 0, 0, func(ctx context.Context) error {
			return s.api.ReportUsage(ctx, s.userID, tokens, messages)
		})
	}
}

// estimateTokens approximates token usage from character counts, four
// characters per token.
func estimateTokens(parts ...string) int {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	return total / 4
}

func (s *Surface) setInFlight(v bool) {
	s.mu.Lock()
	s.inFlight = v
	s.mu.Unlock()
}

func (s *Surface) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *Surface) Banner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banner
}

func (s *Surface) LastSent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSent
}

func (s *Surface) setProfile(p Profile) {
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
}

func (s *Surface) CurrentProfile() Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

func (s *Surface) Timeline() *conversation.Timeline {
	return s.timeline
}

func (s *Surface) Tracker() *workflow.Tracker {
	return s.tracker
}

func (s *Surface) Workplans() *workplan.Store {
	return s.workplans
}

package surface

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sebastian-lehto/micromanager-agent/internal/conversation"
	"github.com/sebastian-lehto/micromanager-agent/internal/workflow"
)

type fakeAPI struct {
	mu         sync.Mutex
	reply      ChatReply
	sendErr    error
	history    []conversation.Message
	profile    Profile
	snapshot   workflow.RunSnapshot
	sent       []string
	usageCalls int
}

func (f *fakeAPI) SendChat(ctx context.Context, userID, message string) (ChatReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return ChatReply{}, f.sendErr
	}
	f.sent = append(f.sent, message)
	return f.reply, nil
}

func (f *fakeAPI) History(ctx context.Context, userID string) ([]conversation.Message, error) {
	return f.history, nil
}

func (f *fakeAPI) Profile(ctx context.Context, userID string) (Profile, error) {
	return f.profile, nil
}

func (f *fakeAPI) WorkflowRuns(ctx context.Context) (workflow.RunSnapshot, error) {
	return f.snapshot, nil
}

func (f *fakeAPI) ReportUsage(ctx context.Context, userID string, tokens, messages int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usageCalls++
	return nil
}

func (f *fakeAPI) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func testSurface(t *testing.T, api API) *Surface {
	t.Helper()
	s, err := New(api, Options{UserID: "u1"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestSubmit_OptimisticThenAssistantReply(t *testing.T) {
	api := &fakeAPI{reply: ChatReply{Response: "hello there"}}
	s := testSurface(t, api)

	if err := s.Submit(context.Background(), "hi"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	msgs := s.Timeline().Messages()
	if len(msgs) != 2 {
		t.Fatalf("timeline len = %d, want 2", len(msgs))
	}
	if msgs[0].Role != conversation.RoleUser || msgs[0].ID != "" {
		t.Fatalf("first entry = %+v, want ID-less optimistic user message", msgs[0])
	}
	if msgs[1].Role != conversation.RoleAssistant || msgs[1].Content != "hello there" {
		t.Fatalf("second entry = %+v, want assistant reply", msgs[1])
	}
	if !strings.HasSuffix(msgs[1].ID, "-assistant") {
		t.Fatalf("assistant ID = %q, want -assistant suffix", msgs[1].ID)
	}
	if msgs[1].Metadata == nil || msgs[1].Metadata.Error {
		t.Fatalf("assistant metadata = %+v, want backfilled with error=false", msgs[1].Metadata)
	}
	if s.Banner() != "" {
		t.Fatalf("Banner() = %q, want empty after success", s.Banner())
	}
}

func TestSubmit_FailureKeepsOptimisticEntryAndEnablesRetry(t *testing.T) {
	api := &fakeAPI{sendErr: fmt.Errorf("connection refused")}
	s := testSurface(t, api)

	if err := s.Submit(context.Background(), "hi"); err == nil {
		t.Fatalf("Submit() error = nil, want transport error")
	}
	msgs := s.Timeline().Messages()
	if len(msgs) != 1 || msgs[0].Role != conversation.RoleUser {
		t.Fatalf("timeline = %+v, want only the optimistic entry", msgs)
	}
	if s.Banner() == "" {
		t.Fatalf("Banner() empty, want failure banner")
	}
	if s.LastSent() != "hi" {
		t.Fatalf("LastSent() = %q, want hi", s.LastSent())
	}

	// Retry re-submits the same text once the API recovers.
	api.mu.Lock()
	api.sendErr = nil
	api.reply = ChatReply{Response: "recovered"}
	api.mu.Unlock()

	if err := s.Retry(context.Background()); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if got := api.sentMessages(); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("sent messages = %v, want [hi]", got)
	}
	if s.LastSent() != "" {
		t.Fatalf("LastSent() = %q, want cleared after retry success", s.LastSent())
	}
}

func TestRetry_NothingPending(t *testing.T) {
	s := testSurface(t, &fakeAPI{})
	if err := s.Retry(context.Background()); err == nil {
		t.Fatalf("Retry() error = nil, want nothing-to-retry error")
	}
}

func TestSubmit_ReportsUsage(t *testing.T) {
	api := &fakeAPI{reply: ChatReply{Response: "ok"}}
	s := testSurface(t, api)
	if err := s.Submit(context.Background(), "count my tokens please"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.usageCalls != 1 {
		t.Fatalf("usage calls = %d, want 1", api.usageCalls)
	}
}

func TestSubmit_MergedHistoryDoesNotDropOptimisticEntry(t *testing.T) {
	api := &fakeAPI{reply: ChatReply{Response: "r"}}
	s := testSurface(t, api)

	if err := s.Submit(context.Background(), "hi"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// A later history fetch returns the server's persisted copy of the same
	// text under its own ID. The ID-less optimistic entry is never
	// deduplicated against, so both remain.
	now := time.Now().UTC()
	s.Timeline().Merge([]conversation.Message{{
		ID: "srv-1", UserID: "u1", Role: conversation.RoleUser,
		Content: "hi", Type: conversation.TypeText,
		Source: conversation.SourceTelegramUser, CreatedAt: now, UpdatedAt: now,
	}})
	if got := s.Timeline().Len(); got != 3 {
		t.Fatalf("timeline len = %d, want 3", got)
	}
}

func TestActivityRows_RendersMessagesAndToolCalls(t *testing.T) {
	api := &fakeAPI{reply: ChatReply{Response: "done", Error: true}}
	s := testSurface(t, api)
	if err := s.Submit(context.Background(), "do the thing"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	s.Tracker().Apply(workflow.RunSnapshot{Previous: &workflow.Run{
		ID: "r1",
		ToolCalls: map[string]workflow.ToolCallRecord{
			"c1": {Name: "calendar_lookup", Status: workflow.ToolCallSuccess, DurationMS: 42},
			"c2": {Name: "email_draft", Status: workflow.ToolCallError, Error: "smtp timeout", CreatedAt: time.Now()},
		},
	}})

	rows := s.ActivityRows()
	joined := strings.Join(rows, "\n")
	for _, want := range []string{
		"you> do the thing",
		"agent> done [failed]",
		"[ok] calendar_lookup (42ms)",
		"[er] email_draft: smtp timeout",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("ActivityRows() missing %q in:\n%s", want, joined)
		}
	}
}

func TestActivityRows_BannerFirstOnFailure(t *testing.T) {
	api := &fakeAPI{sendErr: fmt.Errorf("down")}
	s := testSurface(t, api)
	_ = s.Submit(context.Background(), "hi")

	rows := s.ActivityRows()
	if len(rows) == 0 || !strings.HasPrefix(rows[0], "!!") {
		t.Fatalf("ActivityRows() = %v, want banner row first", rows)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens("abcd", "efgh"); got != 2 {
		t.Fatalf("estimateTokens() = %d, want 2", got)
	}
}

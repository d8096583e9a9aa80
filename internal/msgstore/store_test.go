package msgstore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebastian-lehto/micromanager-agent/internal/conversation"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "test.sqlite")
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndListMessages_AscendingOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	for i, content := range []string{"first", "second", "third"} {
		err := s.CreateMessage(ctx, &Message{
			UserID:    "u1",
			Role:      "user",
			Content:   content,
			Source:    "telegram-user",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("CreateMessage(%q) error = %v", content, err)
		}
	}

	got, err := s.ListMessages(ctx, "u1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListMessages() len = %d, want 3", len(got))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Content != want {
			t.Fatalf("ListMessages()[%d].Content = %q, want %q", i, got[i].Content, want)
		}
		if got[i].ID == "" {
			t.Fatalf("ListMessages()[%d].ID empty, want assigned uuid", i)
		}
	}
}

func TestListMessages_ScopedToUser(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_ = s.CreateMessage(ctx, &Message{UserID: "u1", Role: "user", Content: "mine", Source: "telegram-user"})
	_ = s.CreateMessage(ctx, &Message{UserID: "u2", Role: "user", Content: "theirs", Source: "telegram-user"})

	got, err := s.ListMessages(ctx, "u1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(got) != 1 || got[0].Content != "mine" {
		t.Fatalf("ListMessages(u1) = %+v, want only u1's message", got)
	}
}

func TestUsageTotals(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.AddUsage(ctx, "u1", 120, 2); err != nil {
		t.Fatalf("AddUsage() error = %v", err)
	}
	if err := s.AddUsage(ctx, "u1", 80, 1); err != nil {
		t.Fatalf("AddUsage() error = %v", err)
	}
	if err := s.AddUsage(ctx, "u2", 999, 9); err != nil {
		t.Fatalf("AddUsage() error = %v", err)
	}

	tokens, messages, err := s.UsageTotals(ctx, "u1")
	if err != nil {
		t.Fatalf("UsageTotals() error = %v", err)
	}
	if tokens != 200 || messages != 3 {
		t.Fatalf("UsageTotals() = (%d, %d), want (200, 3)", tokens, messages)
	}
}

func TestConversionRoundTrip(t *testing.T) {
	created := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	in := conversation.Message{
		ID:        "m1",
		UserID:    "u1",
		Role:      conversation.RoleAssistant,
		Content:   "hello",
		Type:      conversation.TypeText,
		Source:    conversation.SourceMicromanager,
		CreatedAt: created,
		UpdatedAt: created,
		Metadata:  &conversation.Metadata{Tokens: 42, Error: true},
	}
	got := FromConversation(in).ToConversation()
	if got.ID != in.ID || got.Role != in.Role || got.Source != in.Source {
		t.Fatalf("round trip = %+v, want %+v", got, in)
	}
	if got.Metadata == nil || got.Metadata.Tokens != 42 || !got.Metadata.Error {
		t.Fatalf("round trip metadata = %+v, want tokens=42 error=true", got.Metadata)
	}
}

func TestResolveDSN_ExplicitWins(t *testing.T) {
	got, err := ResolveDSN("  /tmp/custom.sqlite ")
	if err != nil {
		t.Fatalf("ResolveDSN() error = %v", err)
	}
	if got != "/tmp/custom.sqlite" {
		t.Fatalf("ResolveDSN() = %q, want trimmed explicit path", got)
	}
}

func TestDSNWithPragmas(t *testing.T) {
	got := dsnWithPragmas("db.sqlite", SQLiteConfig{BusyTimeoutMs: 5000, WAL: true, ForeignKeys: true})
	for _, want := range []string{"busy_timeout(5000)", "journal_mode(WAL)", "foreign_keys(1)"} {
		if !strings.Contains(got, want) {
			t.Fatalf("dsnWithPragmas() = %q, missing %q", got, want)
		}
	}
	if got := dsnWithPragmas("db.sqlite", SQLiteConfig{}); got != "db.sqlite" {
		t.Fatalf("dsnWithPragmas(no pragmas) = %q, want unchanged", got)
	}
}

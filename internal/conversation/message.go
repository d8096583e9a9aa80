package conversation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Source string

const (
	SourceTelegramUser  Source = "telegram-user"
	SourceMicromanager  Source = "micromanager"
	SourceRealtimeAgent Source = "realtime-agent"
)

const TypeText = "text"

// Metadata is backfilled on assistant replies; inbound user messages carry none.
type Metadata struct {
	Tokens    int    `json:"tokens,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	Error     bool   `json:"error,omitempty"`
}

// Message is one entry of a conversation. Entries sharing a non-empty ID are
// the same logical message. Optimistic local sends have an empty ID until the
// server echoes them back through the history fetch.
type Message struct {
	ID        string    `json:"id,omitempty"`
	UserID    string    `json:"userId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleTool:
	default:
		return fmt.Errorf("role must be user|assistant|tool")
	}
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("userId is required")
	}
	if m.Content == "" {
		return fmt.Errorf("content is required")
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("createdAt is required")
	}
	return nil
}

// NewLocal builds an optimistic user message. It deliberately has no ID: the
// reconciler never deduplicates against ID-less entries, so a later history
// fetch returning the persisted copy cannot drop it by accident.
func NewLocal(userID, content string, now time.Time) Message {
	return Message{
		UserID:    userID,
		Role:      RoleUser,
		Content:   content,
		Type:      TypeText,
		Source:    SourceTelegramUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

const assistantIDSuffix = "-assistant"

// AssistantID derives a local identity for an assistant reply from the wall
// clock. The fixed suffix guarantees it never collides with the preceding
// optimistic user entry, which has no ID at all.
func AssistantID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + assistantIDSuffix
}

package surface

import (
	"fmt"
	"strings"

	"github.com/sebastian-lehto/micromanager-agent/internal/conversation"
	"github.com/sebastian-lehto/micromanager-agent/internal/workflow"
	"github.com/sebastian-lehto/micromanager-agent/internal/workplan"
)

// ActivityRows renders the current state as plain text lines: the reconciled
// conversation followed by the mirrored tool calls, with an error banner on
// top when the last send failed.
func (s *Surface) ActivityRows() []string {
	var rows []string
	if banner := s.Banner(); banner != "" {
		rows = append(rows, "!! "+banner+" (retry available)")
	}
	for _, msg := range s.timeline.Messages() {
		rows = append(rows, renderMessage(msg))
	}
	for _, call := range s.tracker.History() {
		rows = append(rows, renderToolCall(call))
	}
	return rows
}

func renderMessage(m conversation.Message) string {
	speaker := "agent"
	switch {
	case m.Role == conversation.RoleUser:
		speaker = "you"
	case m.Role == conversation.RoleTool:
		speaker = "tool"
	case m.Source == conversation.SourceRealtimeAgent:
		speaker = "agent/voice"
	}
	line := fmt.Sprintf("%s> %s", speaker, m.Content)
	if m.Metadata != nil && m.Metadata.Error {
		line += " [failed]"
	}
	return line
}

func renderToolCall(c workflow.ToolCallRecord) string {
	marker := "  "
	switch c.Status {
	case workflow.ToolCallPending:
		marker = ".."
	case workflow.ToolCallSuccess:
		marker = "ok"
	case workflow.ToolCallError:
		marker = "er"
	}
	label := c.Title
	if label == "" {
		label = c.Name
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", marker, label)
	if c.DurationMS > 0 {
		fmt.Fprintf(&b, " (%dms)", c.DurationMS)
	}
	if c.Status == workflow.ToolCallError && c.Error != "" {
		fmt.Fprintf(&b, ": %s", c.Error)
	}
	return b.String()
}

// RenderWorkplan writes one workplan entry as indented plain text.
func RenderWorkplan(entry workplan.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", entry.Event.Title)
	if entry.Role != "" {
		fmt.Fprintf(&b, " (as %s)", entry.Role)
	}
	b.WriteString("\n")
	for i, step := range entry.Steps {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, step)
	}
	if entry.Error != "" {
		fmt.Fprintf(&b, "  error: %s\n", entry.Error)
	}
	return b.String()
}

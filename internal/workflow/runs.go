package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type ToolCallStatus string

const (
	ToolCallPending ToolCallStatus = "pending"
	ToolCallSuccess ToolCallStatus = "success"
	ToolCallError   ToolCallStatus = "error"
)

// ToolCallRecord is one observed invocation of an external capability by the
// workflow executor. Records are only ever seen through polling; a new run's
// records fully supersede the previous run's.
type ToolCallRecord struct {
	Name        string         `json:"name"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Args        map[string]any `json:"args,omitempty"`
	Result      any            `json:"result,omitempty"`
	Status      ToolCallStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	DurationMS  int64          `json:"durationMs,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Run is one workflow execution with its tool invocations keyed by call ID.
type Run struct {
	ID        string                    `json:"id"`
	Task      string                    `json:"task,omitempty"`
	StartedAt time.Time                 `json:"startedAt"`
	ToolCalls map[string]ToolCallRecord `json:"toolCalls,omitempty"`
}

// RunSnapshot is the shape served by GET /api/user/workflow-runs.
type RunSnapshot struct {
	Current  *Run `json:"current"`
	Previous *Run `json:"previous"`
}

// SortedToolCalls flattens a run's tool-call map into a slice ordered
// ascending by creation time, ties broken by call ID for determinism.
func SortedToolCalls(run *Run) []ToolCallRecord {
	if run == nil || len(run.ToolCalls) == 0 {
		return nil
	}
	type keyed struct {
		id  string
		rec ToolCallRecord
	}
	flat := make([]keyed, 0, len(run.ToolCalls))
	for id, rec := range run.ToolCalls {
		flat = append(flat, keyed{id: id, rec: rec})
	}
	sort.Slice(flat, func(i, j int) bool {
		a, b := flat[i], flat[j]
		if a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.id < b.id
		}
		return a.rec.CreatedAt.Before(b.rec.CreatedAt)
	})
	out := make([]ToolCallRecord, 0, len(flat))
	for _, k := range flat {
		out = append(out, k.rec)
	}
	return out
}

// FormatRecord renders a record for the detail-inspection view: arguments,
// result, error and duration as indented JSON-ish text.
func FormatRecord(rec ToolCallRecord) string {
	var sb strings.Builder
	title := rec.Title
	if title == "" {
		title = rec.Name
	}
	fmt.Fprintf(&sb, "%s [%s]\n", title, rec.Status)
	if len(rec.Args) > 0 {
		sb.WriteString("args:\n")
		sb.WriteString(indentJSON(rec.Args))
	}
	if rec.Result != nil {
		sb.WriteString("result:\n")
		sb.WriteString(indentJSON(rec.Result))
	}
	if rec.Error != "" {
		fmt.Fprintf(&sb, "error: %s\n", rec.Error)
	}
	if rec.DurationMS > 0 {
		fmt.Fprintf(&sb, "duration: %dms\n", rec.DurationMS)
	}
	return sb.String()
}

func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "  ", "  ")
	if err != nil {
		return fmt.Sprintf("  %v\n", v)
	}
	return "  " + string(data) + "\n"
}

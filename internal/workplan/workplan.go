package workplan

import (
	"strings"
	"time"
)

type Status string

const (
	StatusReady   Status = "ready"
	StatusPending Status = "pending"
	StatusError   Status = "error"
)

// Event is the calendar-linked anchor of a workplan.
type Event struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	Location    string     `json:"location,omitempty"`
	Description string     `json:"description,omitempty"`
}

// Entry is a cached, regenerable, ordered list of textual steps for one
// event. The displayed set holds at most one entry per event identity.
type Entry struct {
	Event           Event      `json:"event"`
	Status          Status     `json:"status"`
	Steps           []string   `json:"steps"`
	LastGeneratedAt *time.Time `json:"lastGeneratedAt,omitempty"`
	Role            string     `json:"role,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// NormalizeRole trims role text; whitespace-only input collapses to the empty
// string, which callers treat as "no role".
func NormalizeRole(role string) string {
	return strings.TrimSpace(role)
}

// InferRole guesses a role from event content when neither a draft nor a
// stored role exists. Display fallback of last resort.
func InferRole(ev Event) string {
	title := strings.ToLower(ev.Title + " " + ev.Description)
	switch {
	case strings.Contains(title, "interview"):
		return "Interviewer"
	case strings.Contains(title, "standup"), strings.Contains(title, "stand-up"):
		return "Contributor"
	case strings.Contains(title, "review"):
		return "Reviewer"
	case strings.Contains(title, "1:1"), strings.Contains(title, "one-on-one"):
		return "Participant"
	case strings.Contains(title, "planning"), strings.Contains(title, "kickoff"):
		return "Organizer"
	default:
		return "Attendee"
	}
}

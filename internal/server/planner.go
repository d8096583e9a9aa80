package server

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/sebastian-lehto/micromanager-agent/internal/workplan"
)

// EventSource lists the upcoming calendar events the planner builds plans
// for. The sample source below stands in until a calendar integration is
// configured.
type EventSource interface {
	UpcomingEvents(ctx context.Context, days int) ([]workplan.Event, error)
}

// Planner turns events into workplan entries and regenerates them on demand.
type Planner struct {
	source EventSource
	now    func() time.Time

	mu    sync.Mutex
	plans map[string]workplan.Entry
}

func NewPlanner(source EventSource) *Planner {
	return &Planner{
		source: source,
		now:    time.Now,
		plans:  make(map[string]workplan.Entry),
	}
}

// Plans returns one entry per upcoming event, bounded by days and limit.
// Previously regenerated entries are reused so a regenerate survives the next
// listing.
func (p *Planner) Plans(ctx context.Context, days, limit int) ([]workplan.Entry, error) {
	if days <= 0 {
		days = workplan.DefaultDays
	}
	if limit <= 0 {
		limit = workplan.DefaultLimit
	}
	events, err := p.source.UpcomingEvents(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if len(events) > limit {
		events = events[:limit]
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]workplan.Entry, 0, len(events))
	for _, ev := range events {
		if cached, ok := p.plans[ev.ID]; ok {
			cached.Event = ev
			out = append(out, cached)
			continue
		}
		entry := p.buildEntry(ev, workplan.InferRole(ev))
		p.plans[ev.ID] = entry
		out = append(out, entry)
	}
	return out, nil
}

// Regenerate rebuilds the plan for one event using the caller's role when
// given, applying the same trim rule as the surface.
func (p *Planner) Regenerate(ctx context.Context, ev workplan.Event, userRole string) (workplan.Entry, error) {
	if strings.TrimSpace(ev.ID) == "" {
		return workplan.Entry{}, fmt.Errorf("event id required")
	}
	role := workplan.NormalizeRole(userRole)
	if role == "" {
		role = workplan.InferRole(ev)
	}
	entry := p.buildEntry(ev, role)

	p.mu.Lock()
	p.plans[ev.ID] = entry
	p.mu.Unlock()
	return entry, nil
}

func (p *Planner) buildEntry(ev workplan.Event, role string) workplan.Entry {
	gen := p.now().UTC()
	return workplan.Entry{
		Event:           ev,
		Status:          workplan.StatusReady,
		Steps:           stepsFor(ev, role),
		LastGeneratedAt: &gen,
		Role:            role,
	}
}

// stepsFor writes a short preparation checklist shaped by the event kind and
// the attendee's role.
func stepsFor(ev workplan.Event, role string) []string {
	title := strings.ToLower(ev.Title)
	var steps []string
	switch {
	case strings.Contains(title, "standup"):
		steps = []string{
			"Review yesterday's completed items",
			"Note blockers to raise",
			"Check the sprint board for stale tickets",
		}
	case strings.Contains(title, "review"):
		steps = []string{
			"Re-read the material under review",
			"Collect open questions and concerns",
			"Prepare a written summary of feedback",
		}
	case strings.Contains(title, "interview"):
		steps = []string{
			"Read the candidate's background",
			"Pick two focus areas for questions",
			"Reserve five minutes for candidate questions",
		}
	case strings.Contains(title, "1:1"), strings.Contains(title, "one-on-one"):
		steps = []string{
			"Review notes from the previous conversation",
			"List topics to raise",
			"Note any feedback to deliver",
		}
	default:
		steps = []string{
			"Skim the agenda and attached documents",
			"Write down the outcome you want",
			"Block ten minutes before the meeting to prepare",
		}
	}
	if role != "" {
		steps = append(steps, fmt.Sprintf("Prepare talking points expected of the %s", role))
	}
	return steps
}

// sampleEventSource serves a fixed set of events starting relative to its
// creation time. It backs the planner when no calendar integration is
// configured. Events keep stable IDs across listings so regenerated plans
// stick.
type sampleEventSource struct {
	once   sync.Once
	now    func() time.Time
	events []workplan.Event
}

func NewSampleEventSource() EventSource {
	return &sampleEventSource{now: time.Now}
}

func (s *sampleEventSource) UpcomingEvents(ctx context.Context, days int) ([]workplan.Event, error) {
	s.once.Do(func() {
		now := s.now().UTC()
		s.events = []workplan.Event{
			eventAt("Daily standup", now.Add(18*time.Hour), 15*time.Minute, "Team channel"),
			eventAt("Quarterly review", now.Add(2*24*time.Hour), time.Hour, "Room 4A"),
			eventAt("1:1 with manager", now.Add(3*24*time.Hour), 30*time.Minute, ""),
			eventAt("Sprint planning", now.Add(8*24*time.Hour), time.Hour, "Room 2B"),
		}
	})
	horizon := s.now().UTC().Add(time.Duration(days) * 24 * time.Hour)
	out := make([]workplan.Event, 0, len(s.events))
	for _, ev := range s.events {
		if ev.Start != nil && ev.Start.Before(horizon) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func eventAt(title string, start time.Time, d time.Duration, location string) workplan.Event {
	end := start.Add(d)
	return workplan.Event{
		ID:       shortuuid.New(),
		Title:    title,
		Start:    &start,
		End:      &end,
		Location: location,
	}
}

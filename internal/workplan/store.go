package workplan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sebastian-lehto/micromanager-agent/internal/snapshot"
)

const (
	DefaultDays  = 7
	DefaultLimit = 5
)

// Client is the API surface the store talks to.
type Client interface {
	Workplans(ctx context.Context, days, limit int) ([]Entry, error)
	RegenerateWorkplan(ctx context.Context, ev Event, userRole string) (Entry, error)
}

// Store holds the displayed workplan entries, the per-event role drafts, and
// the current selection. All mutations are last-write-wins over wholesale
// replaced state; drafts are the one piece preserved across refreshes.
type Store struct {
	client    Client
	days      int
	limit     int
	mocks     []Entry
	cachePath string
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	entries  []Entry
	selected string
	drafts   map[string]string
	warning  string
}

type Options struct {
	Days      int
	Limit     int
	Mocks     []Entry
	CachePath string
	Logger    *slog.Logger
}

func NewStore(client Client, opts Options) *Store {
	if opts.Days <= 0 {
		opts.Days = DefaultDays
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Store{
		client:    client,
		days:      opts.Days,
		limit:     opts.Limit,
		mocks:     opts.Mocks,
		cachePath: opts.CachePath,
		logger:    opts.Logger,
		now:       time.Now,
		drafts:    make(map[string]string),
	}
	if len(s.mocks) == 0 {
		s.mocks = MockSet(s.now())
	}
	return s
}

// RestoreCache re-renders the last persisted entries before the first fetch
// completes. Missing cache is fine.
func (s *Store) RestoreCache() {
	if s.cachePath == "" {
		return
	}
	var cached []Entry
	ok, err := snapshot.Load(s.cachePath, &cached)
	if err != nil {
		s.logger.Warn("workplan_cache_load_error", "path", s.cachePath, "error", err.Error())
		return
	}
	if !ok || len(cached) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyEntriesLocked(cached)
	s.logger.Debug("workplan_cache_restored", "entries", len(cached))
}

// Refresh fetches upcoming entries. On failure or zero results the fixed mock
// set is substituted and a non-fatal warning surfaced; the UI is never left
// empty. Returns the displayed entry count.
func (s *Store) Refresh(ctx context.Context) int {
	entries, err := s.client.Workplans(ctx, s.days, s.limit)
	if ctx.Err() != nil {
		// Teardown raced the fetch; never apply a late result.
		return s.Len()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil:
		s.logger.Warn("workplan_fetch_error", "error", err.Error())
		s.warning = "Couldn't load workplans; showing sample data."
		s.applyEntriesLocked(s.mocks)
	case len(entries) == 0:
		s.logger.Debug("workplan_fetch_empty")
		s.warning = "No upcoming workplans; showing sample data."
		s.applyEntriesLocked(s.mocks)
	default:
		s.warning = ""
		s.applyEntriesLocked(entries)
		s.saveCacheLocked()
	}
	return len(s.entries)
}

// applyEntriesLocked replaces the displayed set, collapses duplicate event
// identities (first wins), seeds drafts for newly seen events, and keeps the
// selection valid (first entry when the old selection is gone).
func (s *Store) applyEntriesLocked(entries []Entry) {
	seen := make(map[string]bool, len(entries))
	deduped := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Event.ID == "" || seen[e.Event.ID] {
			continue
		}
		seen[e.Event.ID] = true
		deduped = append(deduped, e)
	}
	s.entries = deduped

	for _, e := range s.entries {
		if _, ok := s.drafts[e.Event.ID]; ok {
			continue
		}
		s.drafts[e.Event.ID] = NormalizeRole(e.Role)
	}

	if s.selected == "" || !seen[s.selected] {
		if len(s.entries) > 0 {
			s.selected = s.entries[0].Event.ID
		} else {
			s.selected = ""
		}
	}
}

func (s *Store) saveCacheLocked() {
	if s.cachePath == "" {
		return
	}
	if err := snapshot.Save(s.cachePath, s.entries); err != nil {
		s.logger.Warn("workplan_cache_save_error", "path", s.cachePath, "error", err.Error())
	}
}

// Regenerate posts the selected event with the normalized draft role and
// replaces the entry in place on success. The draft then becomes its own
// trimmed value if non-empty, else the server-returned role.
func (s *Store) Regenerate(ctx context.Context) error {
	s.mu.Lock()
	entry, ok := s.selectedEntryLocked()
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no workplan selected")
	}
	draft := NormalizeRole(s.drafts[entry.Event.ID])
	s.mu.Unlock()

	regenerated, err := s.client.RegenerateWorkplan(ctx, entry.Event, draft)
	if err != nil {
		s.logger.Warn("workplan_regenerate_error", "event_id", entry.Event.ID, "error", err.Error())
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].Event.ID != entry.Event.ID {
			continue
		}
		s.entries[i].Steps = regenerated.Steps
		s.entries[i].Status = regenerated.Status
		s.entries[i].LastGeneratedAt = regenerated.LastGeneratedAt
		s.entries[i].Role = regenerated.Role
		s.entries[i].Error = ""
		if draft != "" {
			s.drafts[entry.Event.ID] = draft
		} else {
			s.drafts[entry.Event.ID] = NormalizeRole(regenerated.Role)
		}
		s.saveCacheLocked()
		s.logger.Info("workplan_regenerated", "event_id", entry.Event.ID, "steps", len(regenerated.Steps))
		return nil
	}
	return fmt.Errorf("regenerated event %s is no longer displayed", entry.Event.ID)
}

func (s *Store) selectedEntryLocked() (Entry, bool) {
	for _, e := range s.entries {
		if e.Event.ID == s.selected {
			return e, true
		}
	}
	return Entry{}, false
}

func (s *Store) Select(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Event.ID == eventID {
			s.selected = eventID
			return true
		}
	}
	return false
}

func (s *Store) Selected() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedEntryLocked()
}

func (s *Store) SetDraft(eventID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[eventID] = role
}

func (s *Store) Draft(eventID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[eventID]
}

// DisplayRole resolves what the role field shows for an event: the draft if
// non-blank, else the stored role, else a role inferred from event content.
func (s *Store) DisplayRole(eventID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if draft := NormalizeRole(s.drafts[eventID]); draft != "" {
		return draft
	}
	for _, e := range s.entries {
		if e.Event.ID == eventID {
			if role := NormalizeRole(e.Role); role != "" {
				return role
			}
			return InferRole(e.Event)
		}
	}
	return ""
}

func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Warning returns the current non-fatal banner text, empty when healthy.
func (s *Store) Warning() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.warning
}

func (s *Store) DismissWarning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warning = ""
}

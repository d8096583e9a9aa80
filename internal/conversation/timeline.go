package conversation

import (
	"sort"
	"sync"
	"time"
)

// Timeline reconciles messages arriving from three sources (history fetch,
// realtime stream, optimistic local sends) into one ordered, deduplicated
// list. Ordering is ascending CreatedAt; entries with equal timestamps keep
// their insertion order.
type Timeline struct {
	mu      sync.Mutex
	entries []timelineEntry
	seen    map[string]bool
	seq     uint64
}

type timelineEntry struct {
	msg Message
	seq uint64
}

func NewTimeline() *Timeline {
	return &Timeline{seen: make(map[string]bool)}
}

// Merge folds a batch of newly observed messages into the timeline. An
// incoming message with a non-empty ID already present is dropped; messages
// without an ID are always accepted. Returns the number of messages added.
func (t *Timeline) Merge(batch []Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	added := 0
	for _, m := range batch {
		if m.ID != "" && t.seen[m.ID] {
			continue
		}
		t.appendLocked(m)
		added++
	}
	if added > 0 {
		t.sortLocked()
	}
	return added
}

// Append inserts a single message and resorts, for the optimistic local send
// that must slot into display order immediately.
func (t *Timeline) Append(m Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(m)
	t.sortLocked()
}

func (t *Timeline) appendLocked(m Message) {
	if m.ID != "" {
		t.seen[m.ID] = true
	}
	t.seq++
	t.entries = append(t.entries, timelineEntry{msg: m, seq: t.seq})
}

func (t *Timeline) sortLocked() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		a, b := t.entries[i], t.entries[j]
		if a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
			return a.seq < b.seq
		}
		return a.msg.CreatedAt.Before(b.msg.CreatedAt)
	})
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Messages returns a copy of the reconciled list in display order.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.msg)
	}
	return out
}

// BackfillMetadata attaches metadata to the message with the given ID. Used
// once per exchange, on the assistant reply.
func (t *Timeline) BackfillMetadata(id string, meta Metadata, now time.Time) bool {
	if id == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].msg.ID == id {
			m := meta
			t.entries[i].msg.Metadata = &m
			t.entries[i].msg.UpdatedAt = now
			return true
		}
	}
	return false
}

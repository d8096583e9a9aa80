package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultPollInterval = 2 * time.Second

// SnapshotFetcher retrieves the current/previous workflow runs.
type SnapshotFetcher func(ctx context.Context) (RunSnapshot, error)

// Tracker polls the workflow-run endpoint while a request is in flight and
// mirrors the selected run's tool calls. The displayed history is replaced
// wholesale on every applied poll; there is no incremental merge.
type Tracker struct {
	fetch    SnapshotFetcher
	inFlight func() bool
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	history []ToolCallRecord
	runID   string
}

func NewTracker(fetch SnapshotFetcher, inFlight func() bool, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if inFlight == nil {
		inFlight = func() bool { return false }
	}
	return &Tracker{
		fetch:    fetch,
		inFlight: inFlight,
		interval: defaultPollInterval,
		logger:   logger,
	}
}

// Run drives the polling loop until ctx is cancelled. One fetch happens
// immediately; afterwards the tracker ticks every interval while a request is
// in flight and performs exactly one final fetch when it goes idle.
func (t *Tracker) Run(ctx context.Context) {
	t.poll(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	active := t.inFlight()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		switch {
		case t.inFlight():
			active = true
			t.poll(ctx)
		case active:
			// Transition to idle: one final fetch, then stay quiet.
			active = false
			t.poll(ctx)
		}
	}
}

func (t *Tracker) poll(ctx context.Context) {
	snap, err := t.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.logger.Warn("workflow_runs_fetch_error", "error", err.Error())
		return
	}
	// Never apply a late result after teardown.
	if ctx.Err() != nil {
		return
	}
	t.Apply(snap)
}

// Apply selects the relevant run from a snapshot (current while in flight,
// previous otherwise) and overwrites the tool-call history with it.
func (t *Tracker) Apply(snap RunSnapshot) {
	run := snap.Previous
	if t.inFlight() && snap.Current != nil {
		run = snap.Current
	}
	if run == nil {
		return
	}
	calls := SortedToolCalls(run)

	t.mu.Lock()
	defer t.mu.Unlock()
	if run.ID != t.runID {
		t.logger.Debug("workflow_run_switched", "run_id", run.ID, "tool_calls", len(calls))
	}
	t.runID = run.ID
	t.history = calls
}

// History returns a copy of the currently displayed tool calls.
func (t *Tracker) History() []ToolCallRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ToolCallRecord, len(t.history))
	copy(out, t.history)
	return out
}

// RunID reports which run the displayed history belongs to.
func (t *Tracker) RunID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runID
}

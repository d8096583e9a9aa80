package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder keeps the current/previous run pair the polling endpoint serves.
// Begin marks a run current; Finish attaches the executor's tool calls and
// rotates it into the previous slot. Only one run is current at a time.
type Recorder struct {
	mu       sync.Mutex
	current  *Run
	previous *Run
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Begin(task string, now time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = &Run{
		ID:        uuid.NewString(),
		Task:      task,
		StartedAt: now,
	}
	return r.current.ID
}

func (r *Recorder) Finish(calls map[string]ToolCallRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return
	}
	if calls != nil {
		r.current.ToolCalls = calls
	}
	r.previous = r.current
	r.current = nil
}

// Snapshot returns copies safe to serialize concurrently with run rotation.
func (r *Recorder) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunSnapshot{
		Current:  copyRun(r.current),
		Previous: copyRun(r.previous),
	}
}

func copyRun(run *Run) *Run {
	if run == nil {
		return nil
	}
	out := *run
	if run.ToolCalls != nil {
		out.ToolCalls = make(map[string]ToolCallRecord, len(run.ToolCalls))
		for k, v := range run.ToolCalls {
			out.ToolCalls[k] = v
		}
	}
	return &out
}

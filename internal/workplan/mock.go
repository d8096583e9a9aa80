package workplan

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MockSet returns the fixed fallback entries shown when the workplan fetch
// fails or comes back empty. The UI must never render an empty list.
func MockSet(now time.Time) []Entry {
	gen := now.Add(-2 * time.Hour)
	mk := func(id, title, role string, startIn time.Duration, steps ...string) Entry {
		start := now.Add(startIn)
		end := start.Add(time.Hour)
		return Entry{
			Event: Event{
				ID:    id,
				Title: title,
				Start: &start,
				End:   &end,
			},
			Status:          StatusReady,
			Steps:           steps,
			LastGeneratedAt: &gen,
			Role:            role,
		}
	}
	return []Entry{
		mk("mock-standup", "Team standup", "Contributor", 18*time.Hour,
			"Review yesterday's progress notes",
			"List blockers worth raising",
			"Prepare a one-line status update",
		),
		mk("mock-client-review", "Client quarterly review", "Presenter", 2*24*time.Hour,
			"Collect usage metrics for the quarter",
			"Draft three talking points",
			"Rehearse the closing ask",
		),
		mk("mock-one-on-one", "1:1 with manager", "Participant", 4*24*time.Hour,
			"Gather topics from the week's notes",
			"Note one growth-area question",
		),
	}
}

type mockFixture struct {
	Workplans []Entry `yaml:"workplans"`
}

// LoadMockSet reads a YAML fixture overriding the built-in mock entries.
// An empty path or empty fixture falls back to MockSet.
func LoadMockSet(path string, now time.Time) ([]Entry, error) {
	if path == "" {
		return MockSet(now), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mock workplans %s: %w", path, err)
	}
	var fx mockFixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("decode mock workplans %s: %w", path, err)
	}
	if len(fx.Workplans) == 0 {
		return MockSet(now), nil
	}
	return fx.Workplans, nil
}

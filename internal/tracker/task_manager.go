package tracker

import (
	"context"
	"sort"

	"github.com/ralphtui/ralph-tui/internal/task"
)

// BeadTracker adapts the bd/br/bv command surface to
// contracts.TrackerAdapter, sharing one lifecycleStrategy-driven
// Adapter across all three bead-family plugin ids.
type BeadTracker struct {
	adapter *Adapter
}

func NewBeadTracker(runner Runner) *BeadTracker {
	return &BeadTracker{adapter: New(runner)}
}

// Adapter exposes the low-level command surface underneath this
// tracker, for callers that need to pass it on (the Worktree Manager's
// tracker-data seeding step takes the same *Adapter directly).
func (b *BeadTracker) Adapter() *Adapter {
	return b.adapter
}

// NewBeadTrackerWithCapabilityProbe builds a beads tracker by probing
// for `bd` then `br` on PATH, the plugin id "beads" entry point.
func NewBeadTrackerWithCapabilityProbe(runner Runner) (*BeadTracker, error) {
	adapter, err := NewWithCapabilityProbe(runner)
	if err != nil {
		return nil, err
	}
	return &BeadTracker{adapter: adapter}, nil
}

// NewBeadsRustTracker pins the adapter to the `br` binary, the plugin
// id "beads-rust" entry point.
func NewBeadsRustTracker(runner Runner) *BeadTracker {
	return &BeadTracker{adapter: NewWithBackend(runner, backendBR)}
}

// NewBeadsBVTracker pins the adapter to the `bv` binary, the plugin id
// "beads-bv" entry point.
func NewBeadsBVTracker(runner Runner) *BeadTracker {
	return &BeadTracker{adapter: NewWithBackend(runner, backendBV)}
}

func (b *BeadTracker) ListOpenTasks(_ context.Context, rootID string) ([]task.Task, error) {
	ready, err := b.adapter.Ready(rootID)
	if err != nil {
		return nil, err
	}

	var issues []Issue
	if len(ready.Children) > 0 {
		issues = ready.Children
	} else if ready.ID != "" {
		issues = []Issue{ready}
	}

	tasks := make([]task.Task, 0, len(issues))
	for _, issue := range issues {
		if issue.Status != "" && issue.Status != "open" && issue.Status != "in_progress" {
			continue
		}
		tasks = append(tasks, issueToTask(issue))
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority < tasks[j].Priority
	})
	return tasks, nil
}

func issueToTask(issue Issue) task.Task {
	return task.Task{
		ID:       issue.ID,
		Title:    issue.Title,
		Status:   task.Status(normalizeStatus(issue.Status)),
		Priority: issue.Priority,
		Model:    issue.Metadata.modelString(),
	}
}

func normalizeStatus(raw string) string {
	if raw == "" {
		return string(task.StatusOpen)
	}
	return raw
}

func (b *BeadTracker) GetTask(_ context.Context, id string) (task.Task, bool, error) {
	bead, err := b.adapter.Show(id)
	if err != nil {
		return task.Task{}, false, err
	}
	if bead.ID == "" {
		return task.Task{}, false, nil
	}
	return task.Task{
		ID:                 bead.ID,
		Title:              bead.Title,
		Description:        bead.Description,
		AcceptanceCriteria: bead.AcceptanceCriteria,
		Status:             task.Status(normalizeStatus(bead.Status)),
		Model:              bead.Model,
	}, true, nil
}

func (b *BeadTracker) CloseTask(_ context.Context, id string, reason string) error {
	return b.adapter.Close(id, reason)
}

func (b *BeadTracker) UpdateTaskStatus(_ context.Context, id string, status task.Status) error {
	return b.adapter.UpdateStatus(id, string(status))
}

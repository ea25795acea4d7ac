package scheduler

import (
	"testing"

	"github.com/ralphtui/ralph-tui/internal/task"
)

func TestSelectOrdersByPriorityThenDottedPosition(t *testing.T) {
	tasks := []task.Task{
		{ID: "2", Status: task.StatusOpen, Priority: 1},
		{ID: "1", Status: task.StatusOpen, Priority: 0},
		{ID: "1.2", Status: task.StatusOpen, Priority: 0},
		{ID: "1.1", Status: task.StatusOpen, Priority: 0},
	}

	result := Select(tasks, SelectOptions{Limit: 4})
	got := result.Selection.IDs()
	want := []string{"1", "1.1", "1.2", "2"}
	if len(got) != len(want) {
		t.Fatalf("unexpected selection: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order: %v", got)
		}
	}
}

func TestSelectSkipsTasksWithOpenDependencies(t *testing.T) {
	tasks := []task.Task{
		{ID: "a", Status: task.StatusOpen},
		{ID: "b", Status: task.StatusOpen, Dependencies: []string{"a"}},
	}

	result := Select(tasks, SelectOptions{Limit: 4})
	got := result.Selection.IDs()
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected only a to be selected, got %v", got)
	}
}

func TestSelectAppliesLabelFilter(t *testing.T) {
	tasks := []task.Task{
		{ID: "a", Status: task.StatusOpen, Labels: []string{"backend"}},
		{ID: "b", Status: task.StatusOpen, Labels: []string{"frontend"}},
	}

	result := Select(tasks, SelectOptions{Limit: 4, LabelFilter: "backend"})
	got := result.Selection.IDs()
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected only a to be selected, got %v", got)
	}
}

func TestSelectBlocksCyclicTasksWithoutFailing(t *testing.T) {
	tasks := []task.Task{
		{ID: "a", Status: task.StatusOpen, Dependencies: []string{"b"}},
		{ID: "b", Status: task.StatusOpen, Dependencies: []string{"a"}},
		{ID: "c", Status: task.StatusOpen},
	}

	result := Select(tasks, SelectOptions{Limit: 4})
	if !result.CycleDetected {
		t.Fatalf("expected cycle to be detected")
	}
	if len(result.Blocked) != 2 {
		t.Fatalf("expected 2 blocked task ids, got %v", result.Blocked)
	}
	got := result.Selection.IDs()
	if len(got) != 1 || got[0] != "c" {
		t.Fatalf("expected only c to be selected, got %v", got)
	}
}

func TestSelectRejectsCandidateDependingOnInFlightTaskTransitively(t *testing.T) {
	tasks := []task.Task{
		{ID: "a", Status: task.StatusClosed},
		{ID: "m", Status: task.StatusClosed, Dependencies: []string{"a"}},
		{ID: "b", Status: task.StatusOpen, Dependencies: []string{"m"}},
		{ID: "c", Status: task.StatusOpen, Dependencies: []string{"a"}},
		{ID: "d", Status: task.StatusOpen},
	}

	result := Select(tasks, SelectOptions{Limit: 4, InFlight: map[string]bool{"a": true}})
	got := result.Selection.IDs()
	if len(got) != 1 || got[0] != "d" {
		t.Fatalf("expected only d to be admitted (b and c transitively depend on in-flight a), got %v", got)
	}
}

func TestSelectRespectsLimit(t *testing.T) {
	tasks := []task.Task{
		{ID: "a", Status: task.StatusOpen},
		{ID: "b", Status: task.StatusOpen},
		{ID: "c", Status: task.StatusOpen},
	}

	result := Select(tasks, SelectOptions{Limit: 2})
	if len(result.Selection) != 2 {
		t.Fatalf("expected 2 tasks selected, got %d", len(result.Selection))
	}
}

package scheduler

import "testing"

func TestNewTaskGraphRejectsUnknownDependency(t *testing.T) {
	_, _, err := NewTaskGraph([]TaskNode{
		{ID: "a", DependsOn: []string{"missing"}},
	})
	if err == nil {
		t.Fatalf("expected error for unknown dependency")
	}
}

func TestNewTaskGraphRejectsDuplicateID(t *testing.T) {
	_, _, err := NewTaskGraph([]TaskNode{
		{ID: "a"},
		{ID: "a"},
	})
	if err == nil {
		t.Fatalf("expected error for duplicate task id")
	}
}

func TestNewTaskGraphBlocksCycleMembersWithoutFailingConstruction(t *testing.T) {
	graph, notices, err := NewTaskGraph([]TaskNode{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c"},
	})
	if err != nil {
		t.Fatalf("expected construction to succeed despite cycle, got %v", err)
	}
	if len(notices) != 1 {
		t.Fatalf("expected exactly one cycle notice, got %d", len(notices))
	}
	if len(notices[0].Members) != 2 {
		t.Fatalf("expected cycle to report 2 members, got %v", notices[0].Members)
	}

	for _, id := range []string{"a", "b"} {
		inspection, err := graph.InspectNode(id)
		if err != nil {
			t.Fatalf("inspect %s: %v", id, err)
		}
		if inspection.State != TaskStateBlocked {
			t.Fatalf("expected %s to be blocked, got %s", id, inspection.State)
		}
		if inspection.Ready {
			t.Fatalf("expected %s to never be ready", id)
		}
	}

	ready := graph.ReadySet()
	if len(ready) != 1 || ready[0] != "c" {
		t.Fatalf("expected only c to be ready, got %v", ready)
	}
}

func TestNewTaskGraphBlocksMultipleDisjointCycles(t *testing.T) {
	_, notices, err := NewTaskGraph([]TaskNode{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "x", DependsOn: []string{"y"}},
		{ID: "y", DependsOn: []string{"x"}},
	})
	if err != nil {
		t.Fatalf("expected construction to succeed, got %v", err)
	}
	if len(notices) != 2 {
		t.Fatalf("expected two independent cycle notices, got %d", len(notices))
	}
}

func TestCalculateConcurrencyReflectsWidestFrontier(t *testing.T) {
	graph, _, err := NewTaskGraph([]TaskNode{
		{ID: "root"},
		{ID: "a", DependsOn: []string{"root"}},
		{ID: "b", DependsOn: []string{"root"}},
		{ID: "c", DependsOn: []string{"a", "b"}},
	})
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	if got := graph.CalculateConcurrency(); got != 2 {
		t.Fatalf("expected max concurrency 2, got %d", got)
	}
}

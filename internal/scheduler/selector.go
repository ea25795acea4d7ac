// Package scheduler implements the Scheduler component (spec §4.5):
// selecting the next task or task batch from the Tracker's open-task
// list, honoring dependencies, priority, label filters, dotted-child
// ordering, and — for parallel mode — a dependency-intersection
// admission rule that keeps two workers from racing on the same
// dependency edge.
package scheduler

import (
	"sort"

	"github.com/ralphtui/ralph-tui/internal/task"
)

// SelectOptions parameterizes one selection pass.
type SelectOptions struct {
	// Limit is the maximum number of tasks to admit (1 in serial mode).
	Limit int
	// LabelFilter, when non-empty, restricts eligibility to tasks
	// carrying this label.
	LabelFilter string
	// InFlight is the set of task ids currently claimed by another
	// worker; used for the dependency-intersection admission rule.
	InFlight map[string]bool
}

// Result is the outcome of one selection pass.
type Result struct {
	Selection task.Selection
	// Blocked lists task ids that belong to a dependency cycle and can
	// never be selected.
	Blocked []string
	// CycleDetected is true the first time this pass finds a new
	// cycle, so the caller can log it once per session.
	CycleDetected bool
}

// Select applies spec §4.5's full pipeline: eligibility, dotted-child
// ordering, priority ordering, cycle detection, and parallel
// admission.
func Select(tasks []task.Task, opts SelectOptions) Result {
	byID := make(map[string]task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	cycleIDs := findCycleMembers(tasks, byID)
	inCycle := make(map[string]bool, len(cycleIDs))
	for _, id := range cycleIDs {
		inCycle[id] = true
	}

	eligible := make([]task.Task, 0, len(tasks))
	for _, t := range tasks {
		if inCycle[t.ID] {
			continue
		}
		if !t.Status.IsOpenForWork() {
			continue
		}
		if !task.DependencyClosed(t, byID) {
			continue
		}
		if opts.LabelFilter != "" && !t.HasLabel(opts.LabelFilter) {
			continue
		}
		eligible = append(eligible, t)
	}

	ordered := task.OrderTasksByDottedChildren(eligible)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 1
	}

	inFlight := make(map[string]bool, len(opts.InFlight))
	for id, v := range opts.InFlight {
		if v {
			inFlight[id] = true
		}
	}

	selection := make(task.Selection, 0, limit)
	for _, candidate := range ordered {
		if len(selection) >= limit {
			break
		}
		if dependsOnAny(candidate, byID, inFlight) {
			continue
		}
		selection = append(selection, candidate)
		inFlight[candidate.ID] = true
	}

	return Result{Selection: selection, Blocked: cycleIDs, CycleDetected: len(cycleIDs) > 0}
}

// dependsOnAny reports whether candidate's transitive dependency
// closure intersects the in-flight set.
func dependsOnAny(candidate task.Task, byID map[string]task.Task, inFlight map[string]bool) bool {
	visited := map[string]bool{}
	var walk func(id string) bool
	walk = func(id string) bool {
		if visited[id] {
			return false
		}
		visited[id] = true
		if inFlight[id] {
			return true
		}
		dep, ok := byID[id]
		if !ok {
			return false
		}
		for _, depID := range dep.Dependencies {
			if walk(depID) {
				return true
			}
		}
		return false
	}
	for _, depID := range candidate.Dependencies {
		if walk(depID) {
			return true
		}
	}
	return false
}

// findCycleMembers returns every task id that participates in a
// dependency cycle, via DFS coloring. Cyclic tasks are reported
// blocked and excluded from selection but do not abort scheduling for
// the rest of the graph.
func findCycleMembers(tasks []task.Task, byID map[string]task.Task) []string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(tasks))
	inCycle := map[string]bool{}
	var stack []string

	var dfs func(id string)
	dfs = func(id string) {
		if color[id] == black {
			return
		}
		if color[id] == gray {
			start := 0
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i] == id {
					start = i
					break
				}
			}
			for _, member := range stack[start:] {
				inCycle[member] = true
			}
			return
		}
		color[id] = gray
		stack = append(stack, id)
		t, ok := byID[id]
		if ok {
			for _, depID := range t.Dependencies {
				if _, known := byID[depID]; known {
					dfs(depID)
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			dfs(id)
		}
	}

	result := make([]string, 0, len(inCycle))
	for id := range inCycle {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

package logging

import (
	"strings"
	"testing"
)

func TestComponentStringMatchesEveryOrchestratorSubsystem(t *testing.T) {
	want := map[Component]string{
		ComponentScheduler: "scheduler",
		ComponentEngine:    "engine",
		ComponentWorktree:  "worktree",
		ComponentConflict:  "conflict",
		ComponentSession:   "session",
	}
	for component, expected := range want {
		if component.String() != expected {
			t.Fatalf("expected %q, got %q", expected, component.String())
		}
	}
}

func TestPopulateRequiredLogFieldsDefaultsComponentWhenUnset(t *testing.T) {
	fields := populateRequiredLogFields(LoggingSchemaFields{}, "task-1")
	if fields.Component != "ralph-tui" {
		t.Fatalf("expected default component ralph-tui, got %q", fields.Component)
	}
	if fields.TaskID != "task-1" {
		t.Fatalf("expected task id to fall back to the supplied default, got %q", fields.TaskID)
	}
	if fields.RunID != "task-1" {
		t.Fatalf("expected run id to fall back to task id when unset, got %q", fields.RunID)
	}
}

func TestValidateStructuredLogLineAcceptsEveryComponent(t *testing.T) {
	samples := []string{
		`{"timestamp":"2026-02-22T10:00:00Z","level":"info","component":"scheduler","task_id":"task-99","run_id":"run-99","message":"selected next-ready task"}`,
		`{"timestamp":"2026-02-22T10:01:00Z","level":"debug","component":"engine","task_id":"task-101","run_id":"run-101","message":"iteration started"}`,
		`{"timestamp":"2026-02-22T10:02:00Z","level":"info","component":"worktree","task_id":"task-102","run_id":"run-102","message":"worktree created"}`,
		`{"timestamp":"2026-02-22T10:03:00Z","level":"warn","component":"conflict","task_id":"task-103","run_id":"run-103","issue_id":"task-103","request_type":"conflict-resolution","decision":"ai"}`,
		`{"timestamp":"2026-02-22T10:04:00Z","level":"info","component":"session","task_id":"task-104","run_id":"run-104","message":"lock acquired"}`,
	}

	for _, line := range samples {
		if err := ValidateStructuredLogLine([]byte(line)); err != nil {
			t.Fatalf("expected valid schema line, got: %v", err)
		}
	}
}

func TestValidateStructuredLogLineRejectsMissingRequiredField(t *testing.T) {
	line := `{"timestamp":"2026-02-22T10:00:00Z","level":"info","component":"engine","task_id":"task-99","message":"missing run_id"}`
	if err := ValidateStructuredLogLine([]byte(line)); err == nil {
		t.Fatal("expected validation failure for missing run_id")
	}
}

func TestValidateStructuredLogLineRejectsInvalidTimestamp(t *testing.T) {
	line := `{"timestamp":"not-a-timestamp","level":"info","component":"engine","task_id":"task-99","run_id":"run-99"}`
	if err := ValidateStructuredLogLine([]byte(line)); err == nil {
		t.Fatal("expected validation failure for invalid timestamp")
	}
}

func TestValidateStructuredLogLineRejectsBlankLine(t *testing.T) {
	if err := ValidateStructuredLogLine([]byte("")); err == nil {
		t.Fatal("expected validation failure for blank line")
	}
	if err := ValidateStructuredLogLine([]byte("   \n")); err == nil {
		t.Fatal("expected validation failure for whitespace-only line")
	}
}

func TestValidateStructuredLogLineForMultipleLoggedEntries(t *testing.T) {
	lines := strings.TrimSpace(`{"timestamp":"2026-02-22T10:00:00Z","level":"info","component":"worktree","task_id":"task-1","run_id":"run-1"}
{"timestamp":"2026-02-22T10:00:01Z","level":"info","component":"conflict","task_id":"task-2","run_id":"run-2","issue_id":"task-2","request_type":"conflict-resolution"}`)

	for _, line := range strings.Split(lines, "\n") {
		if err := ValidateStructuredLogLine([]byte(line)); err != nil {
			t.Fatalf("expected logged entry to conform: %v", err)
		}
	}
}

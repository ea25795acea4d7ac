package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewComponentLoggerPinsComponentAndRunID(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewComponentLogger(buf, "debug", ComponentWorktree, "sess-1")

	if err := logger.Info("worktree created", map[string]interface{}{"path": "/repo/.ralph-worktrees/proj/demo"}); err != nil {
		t.Fatalf("info: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	if err := ValidateStructuredLogLine([]byte(line)); err != nil {
		t.Fatalf("expected structured line, got: %v", err)
	}

	entry := map[string]interface{}{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if entry["component"] != "worktree" {
		t.Fatalf("expected component=worktree, got %#v", entry["component"])
	}
	if entry["run_id"] != "sess-1" {
		t.Fatalf("expected run_id=sess-1, got %#v", entry["run_id"])
	}
	if entry["message"] != "worktree created" {
		t.Fatalf("expected message field, got %#v", entry["message"])
	}
}

func TestStructuredLoggerFiltersByLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewComponentLogger(buf, "warn", ComponentScheduler, "run-2")

	if err := logger.Info("selector considered 4 candidates", nil); err != nil {
		t.Fatalf("log error: %v", err)
	}
	if err := logger.Warn("no ready tasks found", nil); err != nil {
		t.Fatalf("log error: %v", err)
	}
	if err := logger.Error("tracker adapter unavailable", nil); err != nil {
		t.Fatalf("log error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 emitted lines (warn+error), got %d", len(lines))
	}

	var entries []map[string]interface{}
	for _, line := range lines {
		entry := map[string]interface{}{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		if err := ValidateStructuredLogLine([]byte(line)); err != nil {
			t.Fatalf("expected structured line, got: %v", err)
		}
		if entry["component"] != "scheduler" {
			t.Fatalf("expected component=scheduler on every line, got %#v", entry["component"])
		}
		entries = append(entries, entry)
	}

	if entries[0]["message"] != "no ready tasks found" {
		t.Fatalf("expected first visible entry to be the warn, got %#v", entries[0]["message"])
	}
	if entries[1]["message"] != "tracker adapter unavailable" {
		t.Fatalf("expected second visible entry to be the error, got %#v", entries[1]["message"])
	}
}

func TestStructuredLoggerLogAcceptsExplicitComponentOverride(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewComponentLogger(buf, "info", ComponentEngine, "run-3")

	if err := logger.Log("info", map[string]interface{}{
		"component": string(ComponentSession),
		"message":   "session state persisted",
	}); err != nil {
		t.Fatalf("log error: %v", err)
	}

	entry := map[string]interface{}{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if entry["component"] != "session" {
		t.Fatalf("expected an explicit field to win over the logger's default component, got %#v", entry["component"])
	}
}

func TestStructuredLoggerNilLoggerIsANoop(t *testing.T) {
	var logger *StructuredLogger
	if err := logger.Info("ignored", nil); err != nil {
		t.Fatalf("expected nil logger to no-op, got %v", err)
	}
}

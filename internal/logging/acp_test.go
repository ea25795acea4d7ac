package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAppendACPRequestDefaultsComponentToConflict(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "conflict-decisions.jsonl")
	if err := AppendACPRequest(logPath, ACPRequestEntry{
		IssueID:     "task-1",
		RequestType: "conflict-resolution",
		Decision:    "ai",
		Message:     "resolved via agent",
		Context:     "FEATURES.md",
	}); err != nil {
		t.Fatalf("append error: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSpace(string(content))
	if err := ValidateStructuredLogLine([]byte(line)); err != nil {
		t.Fatalf("logged entry should conform to schema: %v", err)
	}

	entry := map[string]string{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if entry["component"] != "conflict" {
		t.Fatalf("expected the conflict resolver's audit trail to default to component=conflict, got %q", entry["component"])
	}
	if entry["context"] != "FEATURES.md" {
		t.Fatalf("expected context to record the conflicted path, got %q", entry["context"])
	}
}

func TestAppendACPRequestHonorsAnExplicitComponent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "engine-decisions.jsonl")
	if err := AppendACPRequest(logPath, ACPRequestEntry{
		LoggingSchemaFields: LoggingSchemaFields{Component: ComponentEngine.String()},
		IssueID:             "task-2",
		RequestType:         "permission",
		Decision:            "allow",
	}); err != nil {
		t.Fatalf("append error: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	entry := map[string]string{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if entry["component"] != "engine" {
		t.Fatalf("expected explicit component to win over the conflict default, got %q", entry["component"])
	}
}

func TestAppendACPRequestIncludesReasonAndContext(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "reason-context.jsonl")
	if err := AppendACPRequest(logPath, ACPRequestEntry{
		IssueID:     "task-1",
		RequestType: "conflict-resolution",
		Decision:    "fast-path",
		Message:     "identical hunks",
		Reason:      "no-op merge",
		Context:     "docs/PRD.md",
	}); err != nil {
		t.Fatalf("append error: %v", err)
	}
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	entry := map[string]string{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if entry["reason"] != "no-op merge" {
		t.Fatalf("expected reason field, got %q", entry["reason"])
	}
	if entry["context"] != "docs/PRD.md" {
		t.Fatalf("expected context field, got %q", entry["context"])
	}
}

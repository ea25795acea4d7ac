package contracts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileEventSinkWritesJSONL(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "events.jsonl")
	sink := NewFileEventSink(path)

	err := sink.Emit(context.Background(), Event{
		Type:      EventIterationStart,
		TaskID:    "task-1",
		Message:   "started",
		Timestamp: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file failed: %v", err)
	}
	if !strings.Contains(string(content), `"task_id":"task-1"`) {
		t.Fatalf("expected task id in sink output, got %q", string(content))
	}
	if !strings.Contains(string(content), `"type":"iteration:start"`) {
		t.Fatalf("expected event type in sink output, got %q", string(content))
	}
}

func TestFileEventSinkAppendsAcrossCalls(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "events.jsonl")
	sink := NewFileEventSink(path)
	ctx := context.Background()

	if err := sink.Emit(ctx, Event{Type: EventTaskClosed, TaskID: "task-1"}); err != nil {
		t.Fatalf("first emit failed: %v", err)
	}
	if err := sink.Emit(ctx, Event{Type: EventTaskClosed, TaskID: "task-2"}); err != nil {
		t.Fatalf("second emit failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
}

func TestMultiSinkDeliversToAllAndTreatsEmptyPathSinkAsNoOp(t *testing.T) {
	tempDir := t.TempDir()
	good := NewFileEventSink(filepath.Join(tempDir, "good.jsonl"))
	noop := NewFileEventSink("")

	multi := MultiSink{noop, good}
	if err := multi.Emit(context.Background(), Event{Type: EventIterationEnd, TaskID: "t"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	content, err := os.ReadFile(filepath.Join(tempDir, "good.jsonl"))
	if err != nil {
		t.Fatalf("expected good sink to have written a line: %v", err)
	}
	if len(content) == 0 {
		t.Fatalf("expected non-empty content")
	}
}

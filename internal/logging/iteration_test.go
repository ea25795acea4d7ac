package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ralphtui/ralph-tui/internal/contracts"
)

type recordingSink struct {
	events []contracts.Event
}

func (r *recordingSink) Emit(_ context.Context, event contracts.Event) error {
	r.events = append(r.events, event)
	return nil
}

func TestIterationLoggerWritesFileAndFansOutToSink(t *testing.T) {
	dir := t.TempDir()
	sink := &recordingSink{}
	startedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	logger, err := NewIterationLogger(dir, 3, startedAt, "session-1", "task-1", sink)
	if err != nil {
		t.Fatalf("new iteration logger: %v", err)
	}
	defer logger.Close()

	logger.Emit(context.Background(), contracts.EventIterationStart, "starting", nil)
	logger.EmitProgress(context.Background(), contracts.RunnerProgress{Type: "stdout", Message: "hello"})

	if len(sink.events) != 2 {
		t.Fatalf("expected 2 events fanned out, got %d", len(sink.events))
	}
	if sink.events[0].Type != contracts.EventIterationStart {
		t.Fatalf("unexpected first event type: %v", sink.events[0].Type)
	}
	if sink.events[1].Type != contracts.EventAgentStdout || sink.events[1].Message != "hello" {
		t.Fatalf("unexpected progress event: %+v", sink.events[1])
	}

	if got := filepath.Base(logger.Path()); got != "3-20260102T030405Z.log" {
		t.Fatalf("unexpected log file name: %s", got)
	}

	logger.Close()
	data, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"event":"iteration:start"`) {
		t.Fatalf("expected iteration:start event in log file, got %s", data)
	}
}

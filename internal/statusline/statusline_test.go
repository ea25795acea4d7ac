package statusline

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ralphtui/ralph-tui/internal/contracts"
)

func TestEmitRendersTaskAndClosedCount(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf)

	if err := s.Emit(context.Background(), contracts.Event{
		Type: contracts.EventIterationStart, TaskID: "T-1", Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := s.Emit(context.Background(), contracts.Event{
		Type: contracts.EventTaskClosed, TaskID: "T-1", Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	rendered := buf.String()
	if !strings.Contains(rendered, "T-1") {
		t.Fatalf("expected rendered line to mention task id, got %q", rendered)
	}
	if !strings.Contains(rendered, "closed") {
		t.Fatalf("expected rendered line to mention closed count, got %q", rendered)
	}
}

func TestCloseStopsFurtherRendering(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf)
	s.Close()
	buf.Reset()

	if err := s.Emit(context.Background(), contracts.Event{Type: contracts.EventIterationStart, TaskID: "T-2"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output after Close, got %q", buf.String())
	}
}

func TestTickAdvancesSpinnerWithoutPanicking(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf)
	s.Tick()
	s.Tick()
	if buf.Len() == 0 {
		t.Fatal("expected Tick to render some output")
	}
}

package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ralphtui/ralph-tui/internal/contracts"
)

// IterationLogger owns the per-iteration append-only log file named
// "(iterationNumber)-(startedAt).log" (spec §4.9) and tees every
// record onto the process event bus so the UI collaborator and the
// conflict resolver can subscribe without the engine knowing who is
// listening.
type IterationLogger struct {
	file     *os.File
	logger   *StructuredLogger
	sink     contracts.EventSink
	taskID   string
	sessID   string
	iterNum  int
}

// NewIterationLogger creates (or appends to) the iteration log file
// under dir and returns a logger bound to it. Callers must Close it
// when the iteration ends.
func NewIterationLogger(dir string, iterationNumber int, startedAt time.Time, sessionID, taskID string, sink contracts.EventSink) (*IterationLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create iteration log directory: %w", err)
	}
	name := fmt.Sprintf("%d-%s.log", iterationNumber, startedAt.UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open iteration log file: %w", err)
	}

	structured := NewStructuredLogger(file, "info", LoggingSchemaFields{
		Component: ComponentEngine.String(),
		TaskID:    taskID,
		RunID:     sessionID,
	})

	return &IterationLogger{
		file:    file,
		logger:  structured,
		sink:    sink,
		taskID:  taskID,
		sessID:  sessionID,
		iterNum: iterationNumber,
	}, nil
}

// Path returns the file path backing this logger.
func (l *IterationLogger) Path() string {
	if l == nil || l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Emit writes a structured log line and fans the same information out
// as a contracts.Event.
func (l *IterationLogger) Emit(ctx context.Context, eventType contracts.EventType, message string, fields map[string]interface{}) {
	if l == nil {
		return
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["event"] = string(eventType)
	fields["message"] = message
	fields["iteration"] = l.iterNum
	_ = l.logger.Log("info", fields)

	if l.sink == nil {
		return
	}
	metadata := make(map[string]string, len(fields))
	for k, v := range fields {
		metadata[k] = fmt.Sprintf("%v", v)
	}
	_ = l.sink.Emit(ctx, contracts.Event{
		Type:      eventType,
		TaskID:    l.taskID,
		SessionID: l.sessID,
		Message:   message,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	})
}

// EmitProgress records one streamed chunk of agent output as an
// agent:stdout event without duplicating it into structured fields
// beyond the message itself.
func (l *IterationLogger) EmitProgress(ctx context.Context, progress contracts.RunnerProgress) {
	if l == nil {
		return
	}
	l.Emit(ctx, contracts.EventAgentStdout, progress.Message, map[string]interface{}{
		"stream": progress.Type,
	})
}

// Close flushes and releases the underlying log file.
func (l *IterationLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

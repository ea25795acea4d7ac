package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

type logLevel int

const (
	logLevelDebug logLevel = iota
	logLevelInfo
	logLevelWarn
	logLevelError
)

type StructuredLogger struct {
	w        io.Writer
	minLevel logLevel
	defaults LoggingSchemaFields
}

// NewStructuredLogger returns a logger that writes structured JSON lines to w.
func NewStructuredLogger(w io.Writer, minLevel string, defaults LoggingSchemaFields) *StructuredLogger {
	if w == nil {
		return &StructuredLogger{w: nil, minLevel: parseLevelOrDefault(minLevel), defaults: populateRequiredLogFields(defaults, defaults.TaskID)}
	}
	return &StructuredLogger{w: w, minLevel: parseLevelOrDefault(minLevel), defaults: populateRequiredLogFields(defaults, defaults.TaskID)}
}

// NewComponentLogger is the constructor the orchestrator's subsystems
// use directly: it pins Component and RunID so every line a
// scheduler, engine, worktree, conflict, or session logger emits is
// already filed under the right subsystem without each call site
// repeating it. RunID also serves as the default task_id for lines
// that do not name a task.
func NewComponentLogger(w io.Writer, minLevel string, component Component, runID string) *StructuredLogger {
	return NewStructuredLogger(w, minLevel, LoggingSchemaFields{
		Component: component.String(),
		TaskID:    runID,
		RunID:     runID,
	})
}

// Info, Warn, and Error are thin wrappers over Log for the common case
// of a single human-readable message plus optional context fields.
func (l *StructuredLogger) Info(message string, fields map[string]interface{}) error {
	return l.logMessage("info", message, fields)
}

func (l *StructuredLogger) Warn(message string, fields map[string]interface{}) error {
	return l.logMessage("warn", message, fields)
}

func (l *StructuredLogger) Error(message string, fields map[string]interface{}) error {
	return l.logMessage("error", message, fields)
}

func (l *StructuredLogger) logMessage(level, message string, fields map[string]interface{}) error {
	merged := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["message"] = message
	return l.Log(level, merged)
}

// Log writes a single structured JSON line when level passes the configured threshold.
func (l *StructuredLogger) Log(level string, fields map[string]interface{}) error {
	if l == nil || l.w == nil {
		return nil
	}

	entryLevel := normalizeLogLevel(level)
	entrySeverity, ok := parseLogLevel(entryLevel)
	if !ok {
		return fmt.Errorf("invalid log level %q", level)
	}

	if entrySeverity < l.minLevel {
		return nil
	}

	entry := map[string]interface{}{}
	for key, value := range fields {
		entry[key] = value
	}

	entry["timestamp"] = l.defaults.Timestamp
	entry["level"] = entryLevel
	entry["component"] = chooseField(entry["component"], l.defaults.Component)
	entry["task_id"] = chooseField(entry["task_id"], l.defaults.TaskID)
	entry["run_id"] = chooseField(entry["run_id"], l.defaults.RunID)

	if ts, ok := entry["timestamp"].(string); !ok || strings.TrimSpace(ts) == "" {
		entry["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	_, err = l.w.Write(append(payload, '\n'))
	return err
}

func parseLevelOrDefault(raw string) logLevel {
	parsed, ok := parseLogLevel(normalizeLogLevel(raw))
	if !ok {
		return logLevelInfo
	}
	return parsed
}

func normalizeLogLevel(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func parseLogLevel(raw string) (logLevel, bool) {
	switch raw {
	case "debug":
		return logLevelDebug, true
	case "info":
		return logLevelInfo, true
	case "warn":
		return logLevelWarn, true
	case "warning":
		return logLevelWarn, true
	case "error":
		return logLevelError, true
	default:
		return 0, false
	}
}

func chooseField(raw interface{}, fallback string) string {
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

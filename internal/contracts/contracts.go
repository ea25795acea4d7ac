// Package contracts defines the small trait-like interfaces the
// orchestrator's subsystems are built against: TrackerAdapter,
// AgentAdapter, and the event stream that the structured logger and
// UI collaborator both consume. Concrete variants are registered into
// a registry indexed by plugin id rather than reached through a type
// hierarchy.
package contracts

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ralphtui/ralph-tui/internal/task"
)

// ErrInvalidRunnerResultStatus is returned by RunnerResult.Validate
// when the status is not one of the four contracted values.
var ErrInvalidRunnerResultStatus = errors.New("invalid runner result status: must be completed, failed, timeout, or interrupted")

// RunnerResultStatus is the terminal state of one Agent Adapter
// invocation.
type RunnerResultStatus string

const (
	RunnerResultCompleted   RunnerResultStatus = "completed"
	RunnerResultFailed      RunnerResultStatus = "failed"
	RunnerResultTimeout     RunnerResultStatus = "timeout"
	RunnerResultInterrupted RunnerResultStatus = "interrupted"
)

func (s RunnerResultStatus) valid() bool {
	switch s {
	case RunnerResultCompleted, RunnerResultFailed, RunnerResultTimeout, RunnerResultInterrupted:
		return true
	default:
		return false
	}
}

// RunnerProgress is one streamed chunk of agent output, delivered to
// RunnerRequest.OnProgress as it arrives.
type RunnerProgress struct {
	Type      string
	Message   string
	Metadata  map[string]string
	Timestamp time.Time
}

// RunnerRequest is the input contract for one Agent Adapter
// invocation (spec §4.2).
type RunnerRequest struct {
	TaskID         string
	Prompt         string
	RepoRoot       string
	Model          string
	Timeout        time.Duration
	MaxOutputBytes int64
	Cancel         <-chan struct{}
	ExtraFlags     []string
	Attachments    []string
	Env            []string
	Metadata       map[string]string
	OnProgress     func(RunnerProgress)
}

// RunnerResult is the output contract for one Agent Adapter
// invocation (spec §4.2).
type RunnerResult struct {
	Status      RunnerResultStatus
	ExitCode    int
	Stdout      string
	Stderr      string
	DurationMs  int64
	Interrupted bool
	StartedAt   time.Time
	EndedAt     time.Time
	LogPath     string
	Artifacts   map[string]string
}

// Validate reports ErrInvalidRunnerResultStatus when Status is unset
// or not one of the four contracted values.
func (r RunnerResult) Validate() error {
	if !r.Status.valid() {
		return ErrInvalidRunnerResultStatus
	}
	return nil
}

// NormalizeBackendRunnerResult builds a RunnerResult from a raw
// execution error the way built-in command adapters do: nil error is
// completed, a deadline-exceeded error is timeout, a canceled error is
// interrupted, and anything else is failed.
func NormalizeBackendRunnerResult(startedAt, finishedAt time.Time, request RunnerRequest, runErr error, exitCode *int) RunnerResult {
	result := RunnerResult{
		StartedAt:  startedAt,
		EndedAt:    finishedAt,
		DurationMs: finishedAt.Sub(startedAt).Milliseconds(),
	}
	switch {
	case runErr == nil:
		result.Status = RunnerResultCompleted
	case errors.Is(runErr, context.DeadlineExceeded):
		result.Status = RunnerResultTimeout
	case errors.Is(runErr, context.Canceled):
		result.Status = RunnerResultInterrupted
		result.Interrupted = true
	default:
		result.Status = RunnerResultFailed
		result.Stderr = runErr.Error()
	}
	if exitCode != nil {
		result.ExitCode = *exitCode
	}
	return result
}

// AgentCapabilities are the capability declarations an Agent Adapter
// exposes so the Iteration Engine can decide what to enable (spec
// §4.2).
type AgentCapabilities struct {
	SupportsStreaming       bool
	SupportsInterrupt       bool
	SupportsFileContext     bool
	SupportsSubagentTracing bool
	// StructuredOutputFormat is "", "json", or "jsonl".
	StructuredOutputFormat string
}

// PreflightResult is the outcome of an Agent Adapter dry run.
type PreflightResult struct {
	OK         bool
	FailReason string
	Suggestion string
}

// EnvFilterResult records what environment variables an Agent Adapter
// blocked vs. allowed through to the spawned process, for logging.
type EnvFilterResult struct {
	Blocked []string
	Allowed []string
}

// AgentAdapter runs one external coding-agent command line. Concrete
// backends (a generic CLI wrapper, ...) are
// looked up from a registry by plugin id, never reached through
// inheritance.
type AgentAdapter interface {
	Name() string
	Capabilities() AgentCapabilities
	ValidateModel(name string) error
	FilterEnv(base []string) EnvFilterResult
	Preflight(ctx context.Context) (PreflightResult, error)
	Run(ctx context.Context, request RunnerRequest) (RunnerResult, error)
}

// TrackerAdapter presents tasks uniformly across JSON-PRD, beads,
// beads-rust, and beads-bv sources (spec §4.1).
type TrackerAdapter interface {
	// ListOpenTasks returns every task eligible for scheduling.
	// rootID scopes the listing to one epic/tree for tracker backends
	// that support it (beads, beads-rust, beads-bv); JSON-PRD ignores
	// it, since a PRD file has no nested root.
	ListOpenTasks(ctx context.Context, rootID string) ([]task.Task, error)
	GetTask(ctx context.Context, id string) (task.Task, bool, error)
	CloseTask(ctx context.Context, id string, reason string) error
	UpdateTaskStatus(ctx context.Context, id string, status task.Status) error
}

// EventType enumerates the structured log / event bus record kinds
// from spec §4.9.
type EventType string

const (
	EventIterationStart EventType = "iteration:start"
	EventAgentStdout    EventType = "agent:stdout"
	EventConflictFound  EventType = "conflict:detected"
	EventConflictAI     EventType = "conflict:ai-resolving"
	EventConflictOK     EventType = "conflict:resolved"
	EventConflictFailed EventType = "conflict:failed"
	EventTaskClosed     EventType = "task:closed"
	EventIterationEnd   EventType = "iteration:end"
)

// Event is one record on the orchestrator's fan-out bus. The
// structured logger, the UI collaborator, and the conflict resolver
// each subscribe at their own pace; the orchestrator never blocks on
// a subscriber.
type Event struct {
	Type      EventType         `json:"type"`
	TaskID    string            `json:"task_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// EventSink receives Events. Implementations must not block the
// caller for longer than their own I/O requires.
type EventSink interface {
	Emit(ctx context.Context, event Event) error
}

// MarshalEventJSONL renders one Event as a single JSON line
// (including the trailing newline) for append-only log files.
func MarshalEventJSONL(event Event) (string, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return string(payload) + "\n", nil
}

// MultiSink fans one Event out to several sinks, matching the
// event/callback fan-out bus design note (spec §9): each subscriber
// is invoked in turn and the caller sees the first error, but a
// failing sink does not stop delivery to the others.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, event Event) error {
	var firstErr error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Package engine implements the Iteration Engine (spec §4.6): prompt
// assembly, model resolution, agent execution, completion detection,
// commit, and task closure for one task at a time.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ralphtui/ralph-tui/internal/contracts"
	"github.com/ralphtui/ralph-tui/internal/gitvcs"
	"github.com/ralphtui/ralph-tui/internal/orcherrors"
	"github.com/ralphtui/ralph-tui/internal/task"
)

// completionSentinel is the literal ASCII token an agent emits to
// declare a task done. Substring match on the decoded stream, never a
// regex, never required to sit on its own line (spec §9).
const completionSentinel = "<promise>COMPLETE</promise>"

// ErrorStrategy is the configured behavior when an iteration fails
// (spec §4.6's error-handling policy).
type ErrorStrategy string

const (
	StrategySkip  ErrorStrategy = "skip"
	StrategyRetry ErrorStrategy = "retry"
	StrategyAbort ErrorStrategy = "abort"
)

// ErrorHandlingPolicy configures how the engine reacts to a failed or
// non-completing iteration.
type ErrorHandlingPolicy struct {
	Strategy              ErrorStrategy
	MaxRetries            int
	RetryDelay            time.Duration
	ContinueOnNonZeroExit bool
}

// Options parameterizes one Engine instance for the life of a session
// or worker.
type Options struct {
	RepoRoot         string
	SessionID        string
	Model            string // session-level config.model, precedence level 2
	IterationTimeout time.Duration
	IterationDelay   time.Duration
	CommitTemplate   string // e.g. "feat: [{{task_id}}] - {{title}}"
	ProjectContext   string
	ErrorHandling    ErrorHandlingPolicy
	Sink             contracts.EventSink
}

// Outcome is the caller-facing record of one Run call.
type Outcome struct {
	Task           task.Task
	Attempts       int
	Completed      bool
	CommitCreated  bool
	ModelUsed      string
	ModelSource    string
	RunnerResult   contracts.RunnerResult
	CloseReason    string
	FinalError     error
}

// Engine executes one task at a time against a Tracker Adapter and an
// Agent Adapter inside one working directory.
type Engine struct {
	tracker contracts.TrackerAdapter
	agent   contracts.AgentAdapter
	git     *gitvcs.Adapter
	options Options
}

func New(tracker contracts.TrackerAdapter, agent contracts.AgentAdapter, git *gitvcs.Adapter, options Options) *Engine {
	if options.ErrorHandling.Strategy == "" {
		options.ErrorHandling.Strategy = StrategyRetry
	}
	if options.IterationTimeout <= 0 {
		options.IterationTimeout = 15 * time.Minute
	}
	if options.CommitTemplate == "" {
		options.CommitTemplate = "feat: [{{task_id}}] - {{title}}"
	}
	return &Engine{tracker: tracker, agent: agent, git: git, options: options}
}

// Run drives one task through steps 1-8 of spec §4.6, retrying
// according to the configured error-handling policy. It never returns
// a bare idle/reset signal: every exit path sets Outcome.FinalError
// (nil on success) so the caller can assign an explicit stopReason
// rather than inferring one from generic state.
func (e *Engine) Run(ctx context.Context, iterationNumber int, t task.Task, logger IterationLogger) (Outcome, error) {
	outcome := Outcome{Task: t}

	// Step 1: prepare.
	if err := e.tracker.UpdateTaskStatus(ctx, t.ID, task.StatusInProgress); err != nil {
		return outcome, orcherrors.New(orcherrors.KindTrackerUnavailable, "iteration-engine", "verify the tracker is reachable and retry", err)
	}

	// Step 2: resolve model.
	model, source := e.resolveModel(t)
	outcome.ModelUsed = model
	outcome.ModelSource = source

	// Step 3: assemble prompt.
	prompt := e.assemblePrompt(t)

	retries := 0
	for {
		outcome.Attempts++

		startedAt := time.Now().UTC()
		if logger != nil {
			logger.Emit(ctx, contracts.EventIterationStart, "iteration started", map[string]interface{}{
				"iteration":    iterationNumber,
				"task_id":      t.ID,
				"model":        model,
				"model_source": source,
				"attempt":      outcome.Attempts,
				"started_at":   startedAt.Format(time.RFC3339),
			})
		}

		result, err := e.agent.Run(ctx, contracts.RunnerRequest{
			TaskID:         t.ID,
			Prompt:         prompt,
			RepoRoot:       e.options.RepoRoot,
			Model:          model,
			Timeout:        e.options.IterationTimeout,
			MaxOutputBytes: 0,
			OnProgress: func(p contracts.RunnerProgress) {
				if logger != nil {
					logger.EmitProgress(ctx, p)
				}
			},
		})
		outcome.RunnerResult = result

		if err != nil {
			classified := orcherrors.New(orcherrors.KindAgentUnavailable, "iteration-engine", "check the agent binary and credentials, then retry", err)
			if shouldRetry, waitErr := e.decideRetry(ctx, &retries); shouldRetry {
				if waitErr != nil {
					return outcome, waitErr
				}
				continue
			}
			outcome.FinalError = classified
			return outcome, classified
		}

		completed := result.Status == contracts.RunnerResultCompleted &&
			result.ExitCode == 0 &&
			strings.Contains(result.Stdout, completionSentinel)

		// Step 6: commit whatever the agent produced, success or not,
		// so the working tree never carries uncommitted state across
		// an iteration boundary (invariant 3).
		commitCreated, commitErr := e.commit(t)
		if commitErr != nil {
			outcome.FinalError = commitErr
			return outcome, commitErr
		}
		outcome.CommitCreated = commitCreated

		if !completed {
			if result.Status == contracts.RunnerResultTimeout {
				if shouldRetry, waitErr := e.decideRetry(ctx, &retries); shouldRetry {
					if waitErr != nil {
						return outcome, waitErr
					}
					continue
				}
			}
			// Exit code zero with sentinel absent is not an error
			// (spec §7 AgentCompletionMissing): the task simply stays
			// open for the next scheduling pass.
			if logger != nil {
				logger.Emit(ctx, contracts.EventIterationEnd, "iteration ended without completion", map[string]interface{}{
					"task_id": t.ID,
					"status":  string(result.Status),
				})
			}
			outcome.Completed = false
			return outcome, nil
		}

		// Step 7: close.
		reason := deriveCloseReason(result.Stdout)
		outcome.CloseReason = reason
		if err := e.tracker.CloseTask(ctx, t.ID, reason); err != nil {
			classified := orcherrors.New(orcherrors.KindTrackerUnavailable, "iteration-engine", "retry closing the task once the tracker recovers", err)
			outcome.FinalError = classified
			return outcome, classified
		}
		if logger != nil {
			logger.Emit(ctx, contracts.EventTaskClosed, "task closed", map[string]interface{}{
				"task_id": t.ID,
				"reason":  reason,
			})
			logger.Emit(ctx, contracts.EventIterationEnd, "iteration ended", map[string]interface{}{
				"task_id":  t.ID,
				"attempts": outcome.Attempts,
			})
		}
		outcome.Completed = true

		// Step 9: delay.
		if e.options.IterationDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.options.IterationDelay):
			}
		}
		return outcome, nil
	}
}

// resolveModel applies the precedence task.model -> config.model ->
// agent default (spec §4.6 step 2, invariant 5). An invalid task
// model falls through rather than failing the task; no warning is
// logged when that happens.
func (e *Engine) resolveModel(t task.Task) (model string, source string) {
	if strings.TrimSpace(t.Model) != "" {
		if err := e.agent.ValidateModel(t.Model); err == nil {
			return t.Model, "task"
		}
		// A rejected model is not an error here; resolution silently
		// falls through to the next precedence level below.
	}
	if strings.TrimSpace(e.options.Model) != "" {
		if err := e.agent.ValidateModel(e.options.Model); err == nil {
			return e.options.Model, "config"
		}
	}
	return "", "agent_default"
}

// assemblePrompt builds the prompt template from spec §4.6 step 3.
func (e *Engine) assemblePrompt(t task.Task) string {
	var b strings.Builder
	if strings.TrimSpace(e.options.ProjectContext) != "" {
		b.WriteString(e.options.ProjectContext)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Task ID: %s\n", t.ID)
	fmt.Fprintf(&b, "Title: %s\n", t.Title)
	if strings.TrimSpace(t.Description) != "" {
		fmt.Fprintf(&b, "\nDescription:\n%s\n", t.Description)
	}
	if strings.TrimSpace(t.AcceptanceCriteria) != "" {
		fmt.Fprintf(&b, "\nAcceptance Criteria:\n%s\n", t.AcceptanceCriteria)
	}
	b.WriteString("\nWhen the task is fully complete, emit the literal line:\n")
	b.WriteString(completionSentinel)
	b.WriteString("\n")
	return b.String()
}

// commit stages and commits everything under the worktree (spec §4.6
// step 6). Returns false, nil when there was nothing to commit.
func (e *Engine) commit(t task.Task) (bool, error) {
	if e.git == nil {
		return false, nil
	}
	dirty, err := e.git.IsDirty()
	if err != nil {
		return false, orcherrors.New(orcherrors.KindStateCorrupted, "iteration-engine", "inspect the worktree manually for uncommitted changes", err)
	}
	if !dirty {
		return false, nil
	}
	if err := e.git.AddAll(); err != nil {
		return false, orcherrors.New(orcherrors.KindStateCorrupted, "iteration-engine", "resolve the git error and retry the commit", err)
	}
	message := renderCommitTemplate(e.options.CommitTemplate, t)
	if err := e.git.Commit(message); err != nil {
		return false, orcherrors.New(orcherrors.KindStateCorrupted, "iteration-engine", "resolve the git error and retry the commit", err)
	}
	return true, nil
}

func renderCommitTemplate(template string, t task.Task) string {
	message := strings.ReplaceAll(template, "{{task_id}}", t.ID)
	message = strings.ReplaceAll(message, "{{title}}", t.Title)
	return message
}

// decideRetry applies the configured ErrorHandlingPolicy. It returns
// (true, nil) when the caller should loop again after any configured
// delay, (false, nil) when the caller should give up without further
// classification, and (false, err) when the abort strategy demands
// immediate propagation.
func (e *Engine) decideRetry(ctx context.Context, retries *int) (bool, error) {
	policy := e.options.ErrorHandling
	switch policy.Strategy {
	case StrategyAbort:
		return false, orcherrors.New(orcherrors.KindAgentUnavailable, "iteration-engine", "session aborted per configured error-handling policy", nil)
	case StrategySkip:
		return false, nil
	case StrategyRetry:
		*retries++
		if *retries > policy.MaxRetries {
			return false, nil
		}
		delay := policy.RetryDelay * time.Duration(*retries)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(delay):
			}
		}
		return true, nil
	default:
		return false, nil
	}
}

// deriveCloseReason produces the short description passed to
// Tracker.CloseTask, derived from output heuristics (spec §4.6 step
// 7): the line immediately preceding the completion sentinel, capped
// to a reasonable length, or a generic fallback.
func deriveCloseReason(stdout string) string {
	idx := strings.Index(stdout, completionSentinel)
	if idx <= 0 {
		return "completed by agent"
	}
	preceding := strings.TrimRight(stdout[:idx], "\n\r\t ")
	lines := strings.Split(preceding, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return "completed by agent"
	}
	return task.SanitizeMetadataValue(last, 200)
}

// IterationLogger is the minimal surface the engine needs from
// logging.IterationLogger, kept as an interface so *logging.IterationLogger
// satisfies it without engine importing the logging package, and so
// tests can supply a lightweight stub.
type IterationLogger interface {
	Emit(ctx context.Context, eventType contracts.EventType, message string, fields map[string]interface{})
	EmitProgress(ctx context.Context, progress contracts.RunnerProgress)
}


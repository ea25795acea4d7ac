// Package conflict implements the Conflict Resolver (spec §4.4): a
// fast path for trivially resolvable merge conflicts and an
// AI-assisted path for everything else, both operating over the
// unmerged files a failed git merge leaves behind.
package conflict

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ralphtui/ralph-tui/internal/contracts"
	"github.com/ralphtui/ralph-tui/internal/gitvcs"
	"github.com/ralphtui/ralph-tui/internal/logging"
)

// Strategy names how a FileConflict was resolved.
type Strategy string

const (
	StrategyFastPath Strategy = "fast-path"
	StrategyAI       Strategy = "ai"
)

// FileConflict is one unmerged path with its three index stages.
type FileConflict struct {
	Path       string
	Base       string
	BaseExists bool
	Ours       string
	OursExists bool
	Theirs     string
	ThatExists bool
}

// Resolution records how one FileConflict was settled.
type Resolution struct {
	Path       string
	Strategy   Strategy
	Confidence float64
	Content    string
}

// Policy is conflictResolution.* from the run configuration.
type Policy struct {
	Enabled             bool
	Timeout             time.Duration
	MaxFiles            int
	ConfidenceThreshold float64
}

// DefaultPolicy matches spec §4.4's documented defaults.
func DefaultPolicy() Policy {
	return Policy{Enabled: true, Timeout: 120 * time.Second, MaxFiles: 10, ConfidenceThreshold: 0.7}
}

// TaskContext supplies the id/title the AI path includes in its
// prompt so the agent understands what work produced the conflict.
type TaskContext struct {
	ID    string
	Title string
}

// ErrResolutionFailed wraps the reason a single file could not be
// resolved by either path, so callers can log it and preserve the
// worktree for manual resolution.
type ErrResolutionFailed struct {
	Path   string
	Reason string
}

func (e *ErrResolutionFailed) Error() string {
	return fmt.Sprintf("could not resolve conflict in %s: %s", e.Path, e.Reason)
}

// Resolver detects and resolves the files a failed merge leaves
// conflicted.
type Resolver struct {
	git     *gitvcs.Adapter
	agent   contracts.AgentAdapter
	policy  Policy
	logPath string
}

func New(git *gitvcs.Adapter, agent contracts.AgentAdapter, policy Policy) *Resolver {
	return &Resolver{git: git, agent: agent, policy: policy}
}

// WithAuditLog records every AI-assisted resolution decision as a JSONL
// entry at path, in the same format the agent-approval log uses (spec
// §4.9's structured logging). A zero-value path leaves auditing off.
func (r *Resolver) WithAuditLog(path string) *Resolver {
	r.logPath = path
	return r
}

func (r *Resolver) audit(c FileConflict, task TaskContext, decision, message string) {
	if r.logPath == "" {
		return
	}
	logging.AppendACPRequest(r.logPath, logging.ACPRequestEntry{
		LoggingSchemaFields: logging.LoggingSchemaFields{Component: logging.ComponentConflict.String()},
		IssueID:             task.ID,
		RequestType:         "conflict-resolution",
		Decision:            decision,
		Message:             message,
		Context:             c.Path,
	})
}

// Detect enumerates the merge's conflicted files and reads their
// three index stages.
func (r *Resolver) Detect() ([]FileConflict, error) {
	paths, err := r.git.ConflictedFiles()
	if err != nil {
		return nil, fmt.Errorf("list conflicted files: %w", err)
	}

	conflicts := make([]FileConflict, 0, len(paths))
	for _, path := range paths {
		base, baseOK, err := r.git.IndexStage(1, path)
		if err != nil {
			return nil, err
		}
		ours, oursOK, err := r.git.IndexStage(2, path)
		if err != nil {
			return nil, err
		}
		theirs, theirsOK, err := r.git.IndexStage(3, path)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, FileConflict{
			Path: path, Base: base, BaseExists: baseOK,
			Ours: ours, OursExists: oursOK, Theirs: theirs, ThatExists: theirsOK,
		})
	}
	return conflicts, nil
}

// ResolveAll resolves every conflict, writing accepted content and
// staging it via `git add`; it does not commit the merge, which is
// left to the caller. Returns the first *ErrResolutionFailed
// encountered, leaving the working tree (and remaining conflicts)
// untouched for manual resolution.
func (r *Resolver) ResolveAll(ctx context.Context, conflicts []FileConflict, task TaskContext) ([]Resolution, error) {
	if len(conflicts) > r.policy.MaxFiles {
		return nil, &ErrResolutionFailed{Path: "*", Reason: fmt.Sprintf("%d conflicted files exceeds maxFiles %d", len(conflicts), r.policy.MaxFiles)}
	}

	resolutions := make([]Resolution, 0, len(conflicts))
	for _, c := range conflicts {
		resolution, err := r.resolveOne(ctx, c, task)
		if err != nil {
			return resolutions, err
		}
		if err := os.WriteFile(c.Path, []byte(resolution.Content), 0o644); err != nil {
			return resolutions, fmt.Errorf("write resolved %s: %w", c.Path, err)
		}
		if err := r.git.AddPath(c.Path); err != nil {
			return resolutions, fmt.Errorf("stage resolved %s: %w", c.Path, err)
		}
		resolutions = append(resolutions, resolution)
	}
	return resolutions, nil
}

func (r *Resolver) resolveOne(ctx context.Context, c FileConflict, task TaskContext) (Resolution, error) {
	if resolution, ok := fastPath(c); ok {
		return resolution, nil
	}
	if !r.policy.Enabled {
		return Resolution{}, &ErrResolutionFailed{Path: c.Path, Reason: "not fast-pathable and AI resolution is disabled"}
	}
	return r.aiPath(ctx, c, task)
}

// fastPath implements spec §4.4's trivial cases: one side empty
// (ignoring whitespace) takes the other, byte-identical sides take
// either. Confidence is always 1.
func fastPath(c FileConflict) (Resolution, bool) {
	oursBlank := strings.TrimSpace(c.Ours) == ""
	theirsBlank := strings.TrimSpace(c.Theirs) == ""

	switch {
	case c.Ours == c.Theirs:
		return Resolution{Path: c.Path, Strategy: StrategyFastPath, Confidence: 1, Content: c.Ours}, true
	case oursBlank:
		return Resolution{Path: c.Path, Strategy: StrategyFastPath, Confidence: 1, Content: c.Theirs}, true
	case theirsBlank:
		return Resolution{Path: c.Path, Strategy: StrategyFastPath, Confidence: 1, Content: c.Ours}, true
	default:
		return Resolution{}, false
	}
}

// aiPath builds the resolution prompt spec §4.4 describes, spawns the
// session's agent with a per-file timeout, and validates its output.
func (r *Resolver) aiPath(ctx context.Context, c FileConflict, task TaskContext) (Resolution, error) {
	if r.agent == nil {
		return Resolution{}, &ErrResolutionFailed{Path: c.Path, Reason: "no agent available for AI-assisted resolution"}
	}

	timeout := r.policy.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := r.agent.Run(runCtx, contracts.RunnerRequest{
		TaskID:   task.ID,
		Prompt:   resolutionPrompt(c, task),
		Timeout:  timeout,
		Metadata: map[string]string{"purpose": "conflict-resolution", "file": c.Path},
	})
	if err != nil {
		r.audit(c, task, "failed", fmt.Sprintf("agent unavailable: %v", err))
		return Resolution{}, &ErrResolutionFailed{Path: c.Path, Reason: fmt.Sprintf("agent unavailable: %v", err)}
	}
	if result.ExitCode != 0 || result.Status != contracts.RunnerResultCompleted {
		r.audit(c, task, "failed", fmt.Sprintf("agent exited with status %s code %d", result.Status, result.ExitCode))
		return Resolution{}, &ErrResolutionFailed{Path: c.Path, Reason: fmt.Sprintf("agent exited with status %s code %d", result.Status, result.ExitCode)}
	}

	content := stripFence(result.Stdout)
	if strings.TrimSpace(content) == "" {
		r.audit(c, task, "failed", "agent returned empty resolution")
		return Resolution{}, &ErrResolutionFailed{Path: c.Path, Reason: "agent returned empty resolution"}
	}

	r.audit(c, task, "accepted", "")
	return Resolution{Path: c.Path, Strategy: StrategyAI, Confidence: r.policy.ConfidenceThreshold, Content: content}, nil
}

func resolutionPrompt(c FileConflict, task TaskContext) string {
	base := "(file did not exist)"
	if c.BaseExists {
		base = c.Base
	}

	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", c.Path)
	fmt.Fprintf(&b, "Task: %s - %s\n\n", task.ID, task.Title)
	fmt.Fprintf(&b, "This file has an unresolved git merge conflict. Resolve it using the three versions below.\n\n")
	fmt.Fprintf(&b, "--- base ---\n%s\n\n", base)
	fmt.Fprintf(&b, "--- ours ---\n%s\n\n", c.Ours)
	fmt.Fprintf(&b, "--- theirs ---\n%s\n\n", c.Theirs)
	b.WriteString("Output ONLY the fully resolved file content. No explanations, no prose, no code fences.\n")
	return b.String()
}

// stripFence removes a single outer ``` fence with an optional
// language tag, if the agent added one despite instructions not to.
func stripFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return raw
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 || !strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		return raw
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}

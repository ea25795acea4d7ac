package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/ralphtui/ralph-tui/internal/config"
	"github.com/ralphtui/ralph-tui/internal/contracts"
	"github.com/ralphtui/ralph-tui/internal/execshell"
	"github.com/ralphtui/ralph-tui/internal/gitvcs"
	"github.com/ralphtui/ralph-tui/internal/session"
	"github.com/ralphtui/ralph-tui/internal/task"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestApplyFlagOverridesLeavesConfigUntouchedWhenFlagsAreZero(t *testing.T) {
	cfg := config.Defaults()
	cfg.Agent = "claude-code"
	applyFlagOverrides(&cfg, sessionFlags{})
	assert.Equal(t, "claude-code", cfg.Agent)
	assert.Equal(t, 1, cfg.Parallel, "default parallel should survive a zero-value flag set")
}

func TestApplyFlagOverridesAppliesEveryFlag(t *testing.T) {
	cfg := config.Defaults()
	applyFlagOverrides(&cfg, sessionFlags{
		tracker: "beads", prd: "PRD.md", epic: "EPIC-1", agent: "codex",
		model: "gpt-5", iterations: 10, parallel: 3, worktreeSet: true, worktree: "feature-x",
	})
	assert.Equal(t, "beads", cfg.Tracker)
	assert.Equal(t, "PRD.md", cfg.TrackerOptions.Path)
	assert.Equal(t, "EPIC-1", cfg.TrackerOptions.EpicID)
	assert.Equal(t, "codex", cfg.Agent)
	assert.Equal(t, "gpt-5", cfg.AgentOptions.Model)
	assert.Equal(t, 10, cfg.MaxIterations)
	assert.Equal(t, 3, cfg.Parallel)
	assert.Equal(t, "feature-x", cfg.Worktree)
}

func TestApplyFlagOverridesBareWorktreeFlagEnablesAutoName(t *testing.T) {
	cfg := config.Defaults()
	applyFlagOverrides(&cfg, sessionFlags{worktreeSet: true, worktree: ""})
	enabled, ok := cfg.Worktree.(bool)
	assert.True(t, ok, "expected a bool for a bare --worktree flag, got %#v", cfg.Worktree)
	assert.True(t, enabled)
}

func TestApplyFlagOverridesIsTheOnlyDiffBetweenDefaultsAndAnAgentOverride(t *testing.T) {
	before := config.Defaults()
	after := config.Defaults()
	applyFlagOverrides(&after, sessionFlags{agent: "codex"})

	before.Agent = "codex"
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("unexpected config divergence beyond Agent (-want +got):\n%s", diff)
	}
}

func TestRebasablePRDPathAcceptsPathsInsideCwd(t *testing.T) {
	assert.Equal(t, "/repo/docs/PRD.md", rebasablePRDPath("/repo", "/repo/docs/PRD.md"))
}

func TestRebasablePRDPathRejectsPathsOutsideCwd(t *testing.T) {
	assert.Empty(t, rebasablePRDPath("/repo", "/tmp/external/PRD.md"))
}

func TestWorktreeLocalPRDPathRebasesInternalPaths(t *testing.T) {
	got := worktreeLocalPRDPath("/repo/.ralph-worktrees/proj/name", "/repo", "/repo/docs/PRD.md")
	assert.Equal(t, "/repo/.ralph-worktrees/proj/name/docs/PRD.md", got)
}

func TestWorktreeLocalPRDPathKeepsExternalPathsAsIs(t *testing.T) {
	got := worktreeLocalPRDPath("/repo/.ralph-worktrees/proj/name", "/repo", "/tmp/external/PRD.md")
	assert.Equal(t, "/tmp/external/PRD.md", got)
}

func TestFinalStatusMapsEveryStopReason(t *testing.T) {
	cases := map[session.StopReason]session.Status{
		session.StopReasonCompleted:      session.StatusCompleted,
		session.StopReasonNoTasks:        session.StatusCompleted,
		session.StopReasonUserQuit:       session.StatusInterrupted,
		session.StopReasonUserPause:      session.StatusInterrupted,
		session.StopReasonFatalError:     session.StatusFailed,
		session.StopReasonMaxIterations:  session.StatusInterrupted,
		session.StopReasonExternalSignal: session.StatusInterrupted,
		session.StopReasonTrackerMismatch: session.StatusInterrupted,
	}
	for reason, want := range cases {
		assert.Equalf(t, want, finalStatus(reason), "finalStatus(%s)", reason)
	}
}

// zeroTaskTracker always reports no open tasks, simulating a resumed
// session whose epicId/rootID no longer resolves to anything the
// tracker backend knows about.
type zeroTaskTracker struct{}

func (zeroTaskTracker) ListOpenTasks(context.Context, string) ([]task.Task, error) { return nil, nil }
func (zeroTaskTracker) GetTask(context.Context, string) (task.Task, bool, error) {
	return task.Task{}, false, nil
}
func (zeroTaskTracker) CloseTask(context.Context, string, string) error         { return nil }
func (zeroTaskTracker) UpdateTaskStatus(context.Context, string, task.Status) error { return nil }

type noopAgent struct{}

func (noopAgent) Name() string                              { return "noop" }
func (noopAgent) Capabilities() contracts.AgentCapabilities { return contracts.AgentCapabilities{} }
func (noopAgent) ValidateModel(string) error                { return nil }
func (noopAgent) FilterEnv(base []string) contracts.EnvFilterResult {
	return contracts.EnvFilterResult{Allowed: base}
}
func (noopAgent) Preflight(context.Context) (contracts.PreflightResult, error) {
	return contracts.PreflightResult{OK: true}, nil
}
func (noopAgent) Run(context.Context, contracts.RunnerRequest) (contracts.RunnerResult, error) {
	return contracts.RunnerResult{}, nil
}

func TestRunSerialWarnsAndPreservesStateOnTrackerMismatch(t *testing.T) {
	cwd := t.TempDir()
	mgr := session.NewManager(cwd, filepath.Join(cwd, "registry.json"))
	git := gitvcs.New(gitvcs.NewCommandAdapter(execshell.NewFakeRunner()))
	state := &session.State{Tasks: session.TaskCounts{Total: 5, Closed: 3, Failed: 0}}
	var stderr bytes.Buffer

	outcome := runSerial(
		context.Background(), config.Defaults(),
		resolvedTracker{adapter: zeroTaskTracker{}}, noopAgent{}, git, cwd, "sess-1",
		mgr, state, contracts.NewFileEventSink(""), &stderr,
	)

	assert.Equal(t, session.StopReasonTrackerMismatch, outcome.stopReason)
	assert.Equal(t, exitIncomplete, outcome.exitCode)
	assert.Equal(t, 5, outcome.counts.Total, "prior task count must survive, not collapse to 0")
	assert.Contains(t, stderr.String(), "tracker reports 0 open tasks")
}

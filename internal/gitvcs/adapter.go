// Package gitvcs implements the Worktree Manager's git operations
// (spec §4.3): session and per-worker worktree lifecycle, fast-forward
// then no-edit merge back to the base branch, and abort-and-preserve
// behavior when a merge conflicts.
package gitvcs

import (
	"fmt"
	"strings"

	"github.com/ralphtui/ralph-tui/internal/execshell"
)

// CommandAdapter binds an execshell.Runner to the "git" binary so
// every call site below only ever names subcommand arguments.
type CommandAdapter struct {
	runner execshell.Runner
}

func NewCommandAdapter(runner execshell.Runner) *CommandAdapter {
	return &CommandAdapter{runner: runner}
}

func (a *CommandAdapter) Run(args ...string) (string, error) {
	return a.runner.Run("git", args...)
}

// Runner exposes the underlying execshell.Runner so callers that need
// to shell out to something other than git (the Worktree Manager's
// disk-space precondition falls back to `df`) can reuse the same
// command channel rather than constructing a second one.
func (a *CommandAdapter) Runner() execshell.Runner {
	return a.runner
}

// Adapter is the high-level git surface the worktree manager and
// conflict resolver call into. Every method issues one git invocation
// through the CommandAdapter, keeping the retry/logging concerns in
// one place.
type Adapter struct {
	cmd *CommandAdapter
}

func New(cmd *CommandAdapter) *Adapter {
	return &Adapter{cmd: cmd}
}

// Runner exposes the underlying execshell.Runner (see
// CommandAdapter.Runner).
func (a *Adapter) Runner() execshell.Runner {
	return a.cmd.Runner()
}

func (a *Adapter) AddAll() error {
	_, err := a.cmd.Run("add", "-A")
	return err
}

func (a *Adapter) Commit(message string) error {
	_, err := a.cmd.Run("commit", "-m", message)
	return err
}

func (a *Adapter) CommitAllowEmpty(message string) error {
	_, err := a.cmd.Run("commit", "--allow-empty", "-m", message)
	return err
}

func (a *Adapter) IsDirty() (bool, error) {
	out, err := a.StatusPorcelain()
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func (a *Adapter) StatusPorcelain() (string, error) {
	return a.cmd.Run("status", "--porcelain")
}

func (a *Adapter) RevParseHead() (string, error) {
	out, err := a.cmd.Run("rev-parse", "HEAD")
	return strings.TrimSpace(out), err
}

func (a *Adapter) SymbolicRefHead() (string, error) {
	out, err := a.cmd.Run("symbolic-ref", "--short", "HEAD")
	return strings.TrimSpace(out), err
}

func (a *Adapter) RestoreAll() error {
	_, err := a.cmd.Run("restore", "--staged", "--worktree", ".")
	return err
}

func (a *Adapter) CleanAll() error {
	_, err := a.cmd.Run("clean", "-fd")
	return err
}

// WorktreeAdd creates a new worktree at path on a new branch based on
// the given start point (typically the base branch's current HEAD).
func (a *Adapter) WorktreeAdd(path, branch, startPoint string) error {
	_, err := a.cmd.Run("worktree", "add", "-b", branch, path, startPoint)
	return err
}

// WorktreeAttach adds a worktree checking out an existing branch,
// used when resuming a session whose branch already exists.
func (a *Adapter) WorktreeAttach(path, branch string) error {
	_, err := a.cmd.Run("worktree", "add", path, branch)
	return err
}

func (a *Adapter) WorktreeRemove(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := a.cmd.Run(args...)
	return err
}

func (a *Adapter) WorktreePrune() error {
	_, err := a.cmd.Run("worktree", "prune")
	return err
}

// WorktreeList returns the paths of all registered worktrees, parsed
// from `git worktree list --porcelain`.
func (a *Adapter) WorktreeList() ([]string, error) {
	out, err := a.cmd.Run("worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, strings.TrimSpace(rest))
		}
	}
	return paths, nil
}

// MergeConflictError is returned by MergeNoEdit when the merge left
// the working tree in a conflicted state; the caller either runs
// MergeAbort to restore it or resolves the conflicts and commits.
type MergeConflictError struct {
	Branch string
	Output string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict while landing branch %s: %s", e.Branch, strings.TrimSpace(e.Output))
}

// FastForwardMerge attempts `git merge --ff-only branch`, the first
// step of the merge-back sequence in spec §4.3.
func (a *Adapter) FastForwardMerge(branch string) error {
	_, err := a.cmd.Run("merge", "--ff-only", branch)
	return err
}

// MergeNoEdit attempts a real merge commit with no editor prompt, the
// fallback step when a fast-forward is not possible. If the merge
// leaves conflict markers, it returns *MergeConflictError so the
// caller can route to the Conflict Resolver.
func (a *Adapter) MergeNoEdit(branch string) error {
	out, err := a.cmd.Run("merge", "--no-edit", branch)
	if err == nil {
		return nil
	}
	if strings.Contains(out, "CONFLICT") || strings.Contains(err.Error(), "CONFLICT") {
		return &MergeConflictError{Branch: branch, Output: out}
	}
	return err
}

// MergeAbort restores the working tree to its pre-merge state,
// preserving the source branch untouched for manual or AI-assisted
// resolution later.
func (a *Adapter) MergeAbort() error {
	_, err := a.cmd.Run("merge", "--abort")
	return err
}

func (a *Adapter) DiffNameOnly(ref string) ([]string, error) {
	out, err := a.cmd.Run("diff", "--name-only", ref)
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

// ConflictedFiles lists paths with unmerged index stages, used by the
// conflict resolver to know which files to hand to fast-path
// heuristics or an AI backend.
func (a *Adapter) ConflictedFiles() ([]string, error) {
	out, err := a.cmd.Run("diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

func (a *Adapter) AddPath(path string) error {
	_, err := a.cmd.Run("add", path)
	return err
}

func (a *Adapter) BranchDelete(name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := a.cmd.Run("branch", flag, name)
	return err
}

func (a *Adapter) CheckoutNewBranch(name, startPoint string) error {
	_, err := a.cmd.Run("checkout", "-b", name, startPoint)
	return err
}

// CheckoutBranch switches the current checkout to an existing branch.
func (a *Adapter) CheckoutBranch(name string) error {
	_, err := a.cmd.Run("checkout", name)
	return err
}

// BranchExists reports whether name resolves to a local branch ref,
// used by the worktree manager's resume-mode decision.
func (a *Adapter) BranchExists(name string) bool {
	_, err := a.cmd.Run("show-ref", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// IndexStage reads one unmerged index stage for path: 1 is the common
// ancestor, 2 is ours, 3 is theirs. Returns ok=false when that stage
// has no entry (for example the file did not exist on that side).
func (a *Adapter) IndexStage(stage int, path string) (content string, ok bool, err error) {
	out, runErr := a.cmd.Run("show", fmt.Sprintf(":%d:%s", stage, path))
	if runErr != nil {
		return "", false, nil
	}
	return out, true, nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

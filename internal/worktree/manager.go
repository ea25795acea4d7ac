package worktree

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ralphtui/ralph-tui/internal/execshell"
	"github.com/ralphtui/ralph-tui/internal/gitvcs"
	"github.com/ralphtui/ralph-tui/internal/orcherrors"
	"github.com/ralphtui/ralph-tui/internal/tracker"
)

// Mode reports how a worktree came to exist for the current run.
type Mode string

const (
	ModeCreated  Mode = "created"
	ModeReused   Mode = "reused"
	ModeAttached Mode = "attached"
)

// TrackerKind selects which tracker-data propagation rule Create
// applies when populating a new worktree.
type TrackerKind string

const (
	TrackerJSON      TrackerKind = "json"
	TrackerBeads     TrackerKind = "beads"
	TrackerBeadsRust TrackerKind = "beads-rust"
	TrackerBeadsBV   TrackerKind = "beads-bv"
)

func (k TrackerKind) isBeadsFamily() bool {
	return k == TrackerBeads || k == TrackerBeadsRust || k == TrackerBeadsBV
}

// excludedTrackerFiles are never copied into a worktree's .beads/
// directory: live database handles and lockfiles belong to the
// original checkout, not the copy.
var excludedTrackerFiles = map[string]bool{
	".db":          true,
	".db-shm":      true,
	".db-wal":      true,
	".lock":        true,
	".tmp":         true,
	"last-touched": true,
}

// Descriptor is the git worktree state persisted alongside a session.
type Descriptor struct {
	Path   string
	Branch string
	Mode   Mode

	// RebasedPRDPath is set only when seeding rebased an
	// externally-located PRD file into
	// .ralph-tui/external-prd/ (spec §4.3, testable scenario
	// E5); it is empty when there was no PRD, the tracker isn't
	// JSON-PRD, or the PRD already lived inside Cwd.
	RebasedPRDPath string
}

// CreateOptions carries everything Create needs to place a fresh or
// resumed worktree and seed it with the files an iteration needs.
type CreateOptions struct {
	Cwd         string
	Project     string
	Name        string
	BaseBranch  string
	TrackerKind TrackerKind
	TrackerAPI  *tracker.Adapter // nil for the JSON tracker
	PRDPath     string           // set only for TrackerJSON
}

// Manager owns the git worktree lifecycle described in spec §4.3:
// creation, resume detection, config/tracker-data propagation,
// merge-back, and iteration-log preservation.
type Manager struct {
	git    *gitvcs.Adapter
	runner execshell.Runner
}

func NewManager(git *gitvcs.Adapter) *Manager {
	var runner execshell.Runner
	if git != nil {
		runner = git.Runner()
	}
	return &Manager{git: git, runner: runner}
}

// Create ensures a session worktree exists for opts, creating it,
// reusing an already-checked-out worktree, or attaching a new
// worktree to an existing branch, then seeds it with config and
// tracker data. Returns the resulting descriptor and its mode.
func (m *Manager) Create(opts CreateOptions) (Descriptor, error) {
	path := SessionPath(opts.Cwd, opts.Project, opts.Name)
	branch := SessionBranch(opts.Name)

	if !HasSufficientDiskSpace(m.runner, opts.Cwd) {
		return Descriptor{}, orcherrors.New(orcherrors.KindDiskPressure, "worktree",
			fmt.Sprintf("free at least %d MiB before creating a new worktree", MinFreeBytes/(1024*1024)),
			fmt.Errorf("insufficient free space at %s", opts.Cwd))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Descriptor{}, fmt.Errorf("ensure worktree base directory: %w", err)
	}

	mode, err := m.createOrAttach(path, branch, opts.BaseBranch)
	if err != nil {
		return Descriptor{}, err
	}

	var rebasedPRDPath string
	if mode != ModeReused {
		rebasedPRDPath, err = m.seed(path, opts)
		if err != nil {
			return Descriptor{}, err
		}
	}

	return Descriptor{Path: path, Branch: branch, Mode: mode, RebasedPRDPath: rebasedPRDPath}, nil
}

// CreateWorker ensures a worker worktree exists nested under a
// session worktree, per spec §4.7's requirement that parallel workers
// run in sibling worktrees under the session worktree rather than
// alongside it. It brings up the worktree with the same
// create-or-attach decision as Create, branching from the session's
// own branch, then seeds it from the session worktree (not the
// original cwd) so a worker sees whatever the session worktree
// already carries.
func (m *Manager) CreateWorker(sessionPath, sessionBranch, name string, workerIndex int, opts CreateOptions) (Descriptor, error) {
	path := WorkerPath(sessionPath, workerIndex)
	branch := WorkerBranch(name, workerIndex)

	if !HasSufficientDiskSpace(m.runner, sessionPath) {
		return Descriptor{}, orcherrors.New(orcherrors.KindDiskPressure, "worktree",
			fmt.Sprintf("free at least %d MiB before creating a new worker worktree", MinFreeBytes/(1024*1024)),
			fmt.Errorf("insufficient free space at %s", sessionPath))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Descriptor{}, fmt.Errorf("ensure worker worktree base directory: %w", err)
	}

	mode, err := m.createOrAttach(path, branch, sessionBranch)
	if err != nil {
		return Descriptor{}, err
	}

	var rebasedPRDPath string
	if mode != ModeReused {
		seedOpts := opts
		seedOpts.Cwd = sessionPath
		rebasedPRDPath, err = m.seed(path, seedOpts)
		if err != nil {
			return Descriptor{}, err
		}
	}

	return Descriptor{Path: path, Branch: branch, Mode: mode, RebasedPRDPath: rebasedPRDPath}, nil
}

// createOrAttach implements spec §4.3's resume-mode decision: if the
// branch is already checked out in a worktree, that worktree is
// reused as-is; if the branch exists but isn't checked out anywhere,
// a new worktree is attached to it (after clearing any stale path);
// otherwise a fresh worktree is created on a new branch from
// baseBranch.
func (m *Manager) createOrAttach(path, branch, baseBranch string) (Mode, error) {
	existingPaths, err := m.git.WorktreeList()
	if err != nil {
		return "", fmt.Errorf("list worktrees: %w", err)
	}
	for _, existing := range existingPaths {
		if existing == path {
			return ModeReused, nil
		}
	}

	if m.git.BranchExists(branch) {
		if err := os.RemoveAll(path); err != nil {
			return "", fmt.Errorf("clear stale worktree path: %w", err)
		}
		if err := m.git.WorktreeAttach(path, branch); err != nil {
			return "", fmt.Errorf("attach worktree to %s: %w", branch, err)
		}
		return ModeAttached, nil
	}

	if err := m.git.WorktreeAdd(path, branch, baseBranch); err != nil {
		return "", fmt.Errorf("create worktree on %s: %w", branch, err)
	}
	return ModeCreated, nil
}

// seed performs Create's steps 3-4: propagating configuration and
// tracker data into a freshly created or attached worktree. It
// returns the path rebasePRD wrote to when opts.PRDPath lived outside
// opts.Cwd, so the caller can emit the E5 notice; every other path
// returns an empty string.
func (m *Manager) seed(worktreePath string, opts CreateOptions) (string, error) {
	if err := copyConfig(opts.Cwd, worktreePath); err != nil {
		return "", fmt.Errorf("copy config into worktree: %w", err)
	}

	if opts.TrackerKind.isBeadsFamily() {
		if opts.TrackerAPI != nil {
			if err := opts.TrackerAPI.Sync(); err != nil {
				return "", fmt.Errorf("flush tracker before worktree copy: %w", err)
			}
		}
		if err := copyBeadsDir(opts.Cwd, worktreePath); err != nil {
			return "", fmt.Errorf("copy tracker data into worktree: %w", err)
		}
		return "", nil
	}

	if opts.PRDPath != "" {
		rebasedPath, err := rebasePRD(opts.Cwd, worktreePath, opts.PRDPath)
		if err != nil {
			return "", fmt.Errorf("rebase PRD into worktree: %w", err)
		}
		return rebasedPath, nil
	}
	return "", nil
}

// copyConfig copies <cwd>/.ralph-tui/config.{toml,yaml,yml} into the
// same relative path under the worktree, whichever extension exists.
func copyConfig(cwd, worktreePath string) error {
	for _, ext := range []string{"toml", "yaml", "yml"} {
		src := filepath.Join(cwd, ".ralph-tui", "config."+ext)
		if _, err := os.Stat(src); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		dst := filepath.Join(worktreePath, ".ralph-tui", "config."+ext)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return copyFile(src, dst)
	}
	return nil
}

// copyBeadsDir copies <cwd>/.beads into the worktree, skipping any
// file whose name matches an excluded suffix or exact name.
func copyBeadsDir(cwd, worktreePath string) error {
	src := filepath.Join(cwd, ".beads")
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	dst := filepath.Join(worktreePath, ".beads")
	return copyDir(src, dst, func(name string) bool {
		if excludedTrackerFiles[name] {
			return true
		}
		for suffix := range excludedTrackerFiles {
			if strings.HasSuffix(name, suffix) {
				return true
			}
		}
		return false
	})
}

// rebasePRD copies the PRD file into the worktree. When prdPath lies
// inside cwd it is copied to the same relative path and rebasePRD
// returns an empty string, since there is nothing to rebase. When it
// lies outside cwd it is rebased into .ralph-tui/external-prd/ under a
// name derived from its basename and a content hash, per spec §4.3
// and testable scenario E5, and rebasePRD returns that destination
// path so the caller can log it; the source file is never modified.
func rebasePRD(cwd, worktreePath, prdPath string) (string, error) {
	absCwd, err := filepath.Abs(cwd)
	if err != nil {
		return "", err
	}
	absPRD, err := filepath.Abs(prdPath)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(absCwd, absPRD)
	if err == nil && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel) {
		dst := filepath.Join(worktreePath, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", err
		}
		if err := copyFile(absPRD, dst); err != nil {
			return "", err
		}
		return "", nil
	}

	data, err := os.ReadFile(absPRD)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(data)
	ext := filepath.Ext(absPRD)
	base := strings.TrimSuffix(filepath.Base(absPRD), ext)
	safeBase := Sanitize(base)
	if safeBase == "" {
		safeBase = "prd"
	}
	dst := filepath.Join(worktreePath, ".ralph-tui", "external-prd", fmt.Sprintf("%s-%s%s", safeBase, hex.EncodeToString(sum[:])[:8], ext))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", err
	}
	return dst, nil
}

// MergeResult reports the outcome of MergeBack.
type MergeResult struct {
	Landed   bool
	Conflict bool
}

// CheckoutSessionBranch switches the current checkout (the session
// worktree, when called from the Parallel Executor) onto branch
// before a worker's commits are merged into it.
func (m *Manager) CheckoutSessionBranch(branch string) error {
	return m.git.CheckoutBranch(branch)
}

// MergeOnly attempts to land desc.Branch into whatever branch is
// currently checked out: fast-forward first, then a normal merge
// commit, aborting and preserving the branch on conflict. It never
// touches the worktree or branch itself, so a worker can call this
// after every completed iteration and keep working in the same
// worktree for its next task.
func (m *Manager) MergeOnly(desc Descriptor) (MergeResult, error) {
	return m.mergeAttempt(desc, true)
}

// MergeAttempt is MergeOnly without the abort-on-conflict step: on a
// genuine conflict it leaves the merge in progress with its unmerged
// index entries and conflict markers in place, so the Conflict
// Resolver can call Detect and ResolveAll against them. The caller
// owns the follow-up: CommitMerge once resolutions are staged, or
// AbortMerge to discard the attempt.
func (m *Manager) MergeAttempt(desc Descriptor) (MergeResult, error) {
	return m.mergeAttempt(desc, false)
}

func (m *Manager) mergeAttempt(desc Descriptor, abortOnConflict bool) (MergeResult, error) {
	if err := m.git.FastForwardMerge(desc.Branch); err != nil {
		mergeErr := m.git.MergeNoEdit(desc.Branch)
		var conflictErr *gitvcs.MergeConflictError
		if errors.As(mergeErr, &conflictErr) {
			if abortOnConflict {
				if abortErr := m.git.MergeAbort(); abortErr != nil {
					return MergeResult{}, fmt.Errorf("abort conflicted merge: %w", abortErr)
				}
			}
			return MergeResult{Conflict: true}, nil
		}
		if mergeErr != nil {
			return MergeResult{}, fmt.Errorf("merge %s: %w", desc.Branch, mergeErr)
		}
	}
	return MergeResult{Landed: true}, nil
}

// AbortMerge discards an in-progress conflicted merge started by
// MergeAttempt, restoring the checkout to its pre-merge state.
func (m *Manager) AbortMerge() error {
	return m.git.MergeAbort()
}

// CommitMerge finishes a MergeAttempt whose conflicts the Conflict
// Resolver has staged resolutions for, recording the merge commit
// with the same message git would have used had it not conflicted.
func (m *Manager) CommitMerge(desc Descriptor) error {
	return m.git.Commit(fmt.Sprintf("Merge %s", desc.Branch))
}

// Teardown removes a worktree and deletes its branch once every task
// destined for it has landed, then prunes any now-empty parent
// directories under .ralph-worktrees.
func (m *Manager) Teardown(desc Descriptor) error {
	if err := m.git.WorktreeRemove(desc.Path, false); err != nil {
		return fmt.Errorf("remove worktree %s: %w", desc.Path, err)
	}
	if err := m.git.BranchDelete(desc.Branch, false); err != nil {
		return fmt.Errorf("delete branch %s: %w", desc.Branch, err)
	}
	pruneEmptyParents(desc.Path)
	return nil
}

// MergeBack implements spec §4.3's session-level merge-back sequence:
// prune stale worktree registrations, land the branch via MergeOnly,
// and on a clean land tear the worktree and branch down entirely. On
// conflict the worktree and branch are left in place for the
// Conflict Resolver or manual resolution.
func (m *Manager) MergeBack(desc Descriptor, originalBranch string) (MergeResult, error) {
	if err := m.git.WorktreePrune(); err != nil {
		return MergeResult{}, fmt.Errorf("prune worktrees before merge: %w", err)
	}
	if err := m.git.CheckoutBranch(originalBranch); err != nil {
		return MergeResult{}, fmt.Errorf("checkout original branch %s: %w", originalBranch, err)
	}

	result, err := m.MergeOnly(desc)
	if err != nil || result.Conflict {
		return result, err
	}

	if err := m.Teardown(desc); err != nil {
		return MergeResult{}, err
	}
	return result, nil
}

// pruneEmptyParents removes worktreePath's parent directories up to
// (not including) .ralph-worktrees as long as each is empty, tidying
// up after the last worktree for a project is removed.
func pruneEmptyParents(worktreePath string) {
	dir := filepath.Dir(worktreePath)
	for filepath.Base(dir) != ".ralph-worktrees" && dir != "." && dir != string(filepath.Separator) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// PreserveIterationLogs copies .ralph-tui/iterations/*.log from the
// worktree back into cwd's own iterations directory, never
// overwriting a file that already exists there. Call before removing
// a worktree whose merge-back failed or was skipped.
func PreserveIterationLogs(worktreePath, cwd string) error {
	src := filepath.Join(worktreePath, ".ralph-tui", "iterations")
	entries, err := os.ReadDir(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	dst := filepath.Join(cwd, ".ralph-tui", "iterations")
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		target := filepath.Join(dst, entry.Name())
		if _, err := os.Stat(target); err == nil {
			continue
		}
		if err := copyFile(filepath.Join(src, entry.Name()), target); err != nil {
			return err
		}
	}
	return nil
}

// copyFile copies src to dst by writing through a temporary file in
// dst's directory and renaming it into place, so a reader never
// observes a partially written destination.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.CreateTemp(filepath.Dir(dst), ".ralph-tui-copy-")
	if err != nil {
		return err
	}
	tempPath := out.Name()
	defer os.Remove(tempPath)

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tempPath, info.Mode()); err != nil {
		return err
	}
	return os.Rename(tempPath, dst)
}

// copyDir recursively copies src into dst, skipping any file whose
// base name the exclude predicate matches.
func copyDir(src, dst string, exclude func(name string) bool) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if exclude != nil && exclude(d.Name()) {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return copyFile(path, target)
	})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ralphtui/ralph-tui/internal/config"
	"github.com/ralphtui/ralph-tui/internal/conflict"
	"github.com/ralphtui/ralph-tui/internal/contracts"
	"github.com/ralphtui/ralph-tui/internal/engine"
	"github.com/ralphtui/ralph-tui/internal/gitvcs"
	"github.com/ralphtui/ralph-tui/internal/logging"
	"github.com/ralphtui/ralph-tui/internal/orcherrors"
	"github.com/ralphtui/ralph-tui/internal/parallel"
	"github.com/ralphtui/ralph-tui/internal/scheduler"
	"github.com/ralphtui/ralph-tui/internal/session"
	"github.com/ralphtui/ralph-tui/internal/statusline"
	"github.com/ralphtui/ralph-tui/internal/worktree"
)

// Exit codes per the External Interfaces contract: 0 all tasks
// closed, 1 user interrupt or incomplete run, 2 fatal config/I-O
// error, 3 a live session already holds the lock.
const (
	exitOK           = 0
	exitIncomplete   = 1
	exitConfigError  = 2
	exitLockConflict = 3
)

// sessionFlags carries every `run`/`resume` flag value into
// runSession, already resolved to their final string/int/bool form.
type sessionFlags struct {
	cwd         string
	tracker     string
	prd         string
	epic        string
	agent       string
	model       string
	iterations  int
	parallel    int
	worktree    string
	worktreeSet bool
	resume      bool
	resumeID    string
	headless    bool
	force       bool
	noSetup     bool
}

// sessionOutcome summarizes what a serial or parallel run produced,
// enough for runSession to decide the merge-back path and exit code.
type sessionOutcome struct {
	stopReason session.StopReason
	counts     session.TaskCounts
	exitCode   int
}

func applyFlagOverrides(cfg *config.Config, flags sessionFlags) {
	if flags.tracker != "" {
		cfg.Tracker = flags.tracker
	}
	if flags.prd != "" {
		cfg.TrackerOptions.Path = flags.prd
	}
	if flags.epic != "" {
		cfg.TrackerOptions.EpicID = flags.epic
	}
	if flags.agent != "" {
		cfg.Agent = flags.agent
	}
	if flags.model != "" {
		cfg.AgentOptions.Model = flags.model
	}
	if flags.iterations > 0 {
		cfg.MaxIterations = flags.iterations
	}
	if flags.parallel > 0 {
		cfg.Parallel = flags.parallel
	}
	if flags.worktreeSet {
		if flags.worktree == "" {
			cfg.Worktree = true
		} else {
			cfg.Worktree = flags.worktree
		}
	}
}

func sessionModel(cfg config.Config) string {
	return cfg.AgentOptions.Model
}

// rebasablePRDPath returns prdPath when it already lives inside cwd,
// so the Worktree Manager's seed step rebases the same file into the
// session worktree; a PRD living outside cwd is left untouched and
// tracked at its original absolute path instead.
func rebasablePRDPath(cwd, prdPath string) string {
	if prdPath == "" {
		return ""
	}
	rel, err := filepath.Rel(cwd, prdPath)
	if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return ""
	}
	return prdPath
}

// worktreeLocalPRDPath resolves the path the tracker should read once
// repoRoot is a worktree: the rebased copy under repoRoot when the
// original file lived inside cwd, or the untouched external path
// otherwise.
func worktreeLocalPRDPath(repoRoot, cwd, prdPath string) string {
	if prdPath == "" {
		return ""
	}
	rel, err := filepath.Rel(cwd, prdPath)
	if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return prdPath
	}
	return filepath.Join(repoRoot, rel)
}

// runSession drives one full session lifecycle: config load, lock
// acquisition, tracker/agent/worktree wiring, the iteration loop
// itself (serial or parallel), and session teardown. It returns the
// process exit code rather than calling os.Exit itself, so cobra's
// command handlers stay testable.
func runSession(flags sessionFlags, stdout, stderr io.Writer) int {
	cwd, err := filepath.Abs(flags.cwd)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfigError
	}

	cfgPath := config.FindPath(cwd)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfigError
	}
	applyFlagOverrides(&cfg, flags)

	mgr := session.NewManager(cwd, registryPath())

	var priorState session.State
	haveState := false
	sessionID := flags.resumeID
	if flags.resume {
		resolvedID, err := mgr.Registry().ResolveSessionID(flags.resumeID, cwd)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitConfigError
		}
		sessionID = resolvedID
		state, ok, err := mgr.LoadState()
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitConfigError
		}
		if !ok {
			fmt.Fprintf(stderr, "session %s is registered but has no session.json at %s\n", sessionID, cwd)
			return exitConfigError
		}
		priorState, haveState = state, true
		if flags.agent == "" {
			flags.agent = state.AgentPluginID
		}
		if flags.tracker == "" {
			flags.tracker = state.TrackerPluginID
			cfg.Tracker = state.TrackerPluginID
		}
		if flags.prd == "" {
			flags.prd = state.PRDPath
		}
		if flags.epic == "" {
			flags.epic = state.EpicID
		}
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	if err := mgr.AcquireLock(sessionID, flags.force); err != nil {
		fmt.Fprintln(stderr, err)
		return exitLockConflict
	}
	lockHeld := true
	defer func() {
		if lockHeld {
			mgr.ReleaseLock()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watcher, err := config.Watch(cfgPath); err != nil {
		fmt.Fprintf(stderr, "config watch disabled: %v\n", err)
	} else if watcher != nil {
		defer watcher.Close()
		reloaded, watchErrs := watcher.Reloaded()
		// The reload is surfaced for visibility only: cfg was already
		// copied into the running engine(s) by the time an edit lands,
		// so it takes effect on the session's next run/resume rather
		// than the one in progress.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-reloaded:
					if !ok {
						return
					}
					fmt.Fprintf(stderr, "config changed at %s; restart or resume to pick it up\n", cfgPath)
				case err, ok := <-watchErrs:
					if !ok {
						return
					}
					fmt.Fprintf(stderr, "config reload error: %v\n", err)
				}
			}
		}()
	}

	fileSink := contracts.NewFileEventSink(filepath.Join(mgr.IterationLogDir(), "events.jsonl"))
	var sink contracts.EventSink = fileSink
	if !flags.headless {
		status := statusline.New(stdout)
		defer status.Close()
		go func() {
			ticker := time.NewTicker(120 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					status.Tick()
				}
			}
		}()
		sink = contracts.MultiSink{fileSink, status}
	}

	originalGit := buildLoggedGit(cwd, mgr.CommandLogDir(), sessionID)
	originalBranch, err := originalGit.SymbolicRefHead()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfigError
	}

	name, worktreeEnabled := cfg.WorktreeName()
	if cfg.Parallel > 1 {
		worktreeEnabled = true
	}
	if haveState && priorState.WorktreePath != "" && !flags.worktreeSet {
		worktreeEnabled = true
		if name == "" {
			name = filepath.Base(priorState.WorktreePath)
		}
	}

	preTracker, err := buildTracker(cfg, cwd, flags.prd, flags.epic, mgr.CommandLogDir(), sessionID)
	if err != nil {
		fmt.Fprintln(stderr, orcherrors.Format(orcherrors.New(orcherrors.KindConfigError, "tracker", "check --tracker/--prd and trackerOptions", err)))
		return exitConfigError
	}

	repoRoot := cwd
	var sessionDesc worktree.Descriptor
	var sessionWtMgr *worktree.Manager

	if worktreeEnabled {
		if name == "" {
			name = worktree.DeriveName("", flags.epic, flags.prd, sessionID)
		}
		sessionWtMgr = worktree.NewManager(originalGit)
		desc, err := sessionWtMgr.Create(worktree.CreateOptions{
			Cwd:         cwd,
			Project:     filepath.Base(cwd),
			Name:        name,
			BaseBranch:  originalBranch,
			TrackerKind: preTracker.kind,
			TrackerAPI:  preTracker.beadsAPI,
			PRDPath:     rebasablePRDPath(cwd, preTracker.prdPath),
		})
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitConfigError
		}
		if desc.RebasedPRDPath != "" {
			fmt.Fprintf(stderr, "JSON PRD rebased into worktree: %s\n", desc.RebasedPRDPath)
		}
		sessionDesc = desc
		repoRoot = desc.Path
	}

	trk := preTracker
	if worktreeEnabled {
		trk, err = buildTracker(cfg, repoRoot, worktreeLocalPRDPath(repoRoot, cwd, preTracker.prdPath), flags.epic, mgr.CommandLogDir(), sessionID)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitConfigError
		}
	}

	agentAdapter, err := buildAgent(cfg, repoRoot, flags.agent)
	if err != nil {
		fmt.Fprintln(stderr, orcherrors.Format(orcherrors.New(orcherrors.KindConfigError, "agent", "check --agent/--model and .ralph-tui/coding-agents/", err)))
		return exitConfigError
	}
	if !flags.noSetup {
		preflight, err := agentAdapter.Preflight(ctx)
		if err != nil {
			fmt.Fprintln(stderr, orcherrors.Format(orcherrors.New(orcherrors.KindAgentUnavailable, "agent", "run with --no-setup to skip this check", err)))
			return exitConfigError
		}
		if !preflight.OK {
			fmt.Fprintf(stderr, "agent preflight failed: %s (%s)\n", preflight.FailReason, preflight.Suggestion)
			return exitConfigError
		}
	}

	state := priorState
	if !haveState {
		state = session.State{
			SessionID:       sessionID,
			Cwd:             cwd,
			AgentPluginID:   cfg.Agent,
			TrackerPluginID: cfg.Tracker,
			EpicID:          flags.epic,
			PRDPath:         preTracker.prdPath,
			StartedAt:       time.Now().UTC(),
			MaxIterations:   cfg.MaxIterations,
		}
	}
	state.Status = session.StatusRunning
	if worktreeEnabled {
		state.WorktreePath = sessionDesc.Path
	}
	if err := mgr.SaveState(state); err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfigError
	}
	upsertRegistry(mgr, state)

	var outcome sessionOutcome
	if cfg.Parallel > 1 {
		outcome = runParallel(ctx, cfg, trk, agentAdapter, sessionID, sessionDesc, name, sink, mgr, state.Tasks.Total, stderr)
	} else {
		outcome = runSerial(ctx, cfg, trk, agentAdapter, buildLoggedGit(repoRoot, mgr.CommandLogDir(), sessionID), repoRoot, sessionID, mgr, &state, sink, stderr)
	}

	if worktreeEnabled && sessionWtMgr != nil {
		switch outcome.stopReason {
		case session.StopReasonCompleted, session.StopReasonNoTasks:
			result, mergeErr := sessionWtMgr.MergeBack(sessionDesc, originalBranch)
			if mergeErr != nil {
				fmt.Fprintln(stderr, mergeErr)
				outcome.exitCode = exitConfigError
			} else if result.Conflict {
				fmt.Fprintf(stderr, "merge conflict landing session worktree %s into %s; worktree preserved for manual resolution\n", sessionDesc.Path, originalBranch)
				if outcome.exitCode == exitOK {
					outcome.exitCode = exitIncomplete
				}
			}
		default:
			if err := worktree.PreserveIterationLogs(sessionDesc.Path, cwd); err != nil {
				fmt.Fprintln(stderr, err)
			}
		}
	}

	state.Status = finalStatus(outcome.stopReason)
	state.StopReason = outcome.stopReason
	state.Tasks = outcome.counts
	if err := mgr.FinalizeShutdown(state); err != nil {
		fmt.Fprintln(stderr, err)
		outcome.exitCode = exitConfigError
	}
	lockHeld = false

	if state.Status == session.StatusCompleted {
		mgr.Registry().Remove(sessionID)
	} else {
		upsertRegistry(mgr, state)
	}

	return outcome.exitCode
}

func upsertRegistry(mgr *session.Manager, state session.State) {
	mgr.Registry().Upsert(session.Entry{
		SessionID:       state.SessionID,
		Cwd:             state.Cwd,
		Status:          state.Status,
		StartedAt:       state.StartedAt,
		UpdatedAt:       time.Now().UTC(),
		AgentPluginID:   state.AgentPluginID,
		TrackerPluginID: state.TrackerPluginID,
		EpicID:          state.EpicID,
		PRDPath:         state.PRDPath,
		Sandbox:         state.Sandbox,
	})
}

func finalStatus(reason session.StopReason) session.Status {
	switch reason {
	case session.StopReasonCompleted, session.StopReasonNoTasks:
		return session.StatusCompleted
	case session.StopReasonUserQuit, session.StopReasonUserPause:
		return session.StatusInterrupted
	case session.StopReasonFatalError:
		return session.StatusFailed
	default:
		return session.StatusInterrupted
	}
}

// runSerial implements the single-task-at-a-time execution path used
// whenever cfg.Parallel is 1, whether or not a worktree is in play.
func runSerial(ctx context.Context, cfg config.Config, trk resolvedTracker, agentAdapter contracts.AgentAdapter, git *gitvcs.Adapter, repoRoot, sessionID string, mgr *session.Manager, state *session.State, sink contracts.EventSink, stderr io.Writer) sessionOutcome {
	eng := engine.New(trk.adapter, agentAdapter, git, engine.Options{
		RepoRoot:         repoRoot,
		SessionID:        sessionID,
		Model:            sessionModel(cfg),
		IterationTimeout: time.Duration(cfg.AgentOptions.Timeout) * time.Second,
		IterationDelay:   time.Duration(cfg.IterationDelay) * time.Millisecond,
		ErrorHandling:    cfg.ErrorHandlingPolicy(),
		Sink:             sink,
	})

	iteration := state.Iteration
	closed, failed, total := state.Tasks.Closed, state.Tasks.Failed, state.Tasks.Total
	knownAtStart := total
	sawTasksEver := total > 0
	firstPass := true
	var stopReason session.StopReason

loop:
	for {
		select {
		case <-ctx.Done():
			stopReason = session.StopReasonUserQuit
			break loop
		default:
		}

		openTasks, err := trk.adapter.ListOpenTasks(ctx, trk.rootID)
		if err != nil {
			stopReason = session.StopReasonFatalError
			break loop
		}

		if firstPass {
			firstPass = false
			if session.WarnTrackerMismatch(len(openTasks), knownAtStart) {
				fmt.Fprintf(stderr, "warning: tracker reports 0 open tasks but this session previously tracked %d; preserving session for inspection\n", knownAtStart)
				stopReason = session.StopReasonTrackerMismatch
				break loop
			}
		}

		if newTotal := len(openTasks) + closed + failed; newTotal > total {
			total = newTotal
		}

		if len(openTasks) == 0 {
			if sawTasksEver {
				stopReason = session.StopReasonCompleted
			} else {
				stopReason = session.StopReasonNoTasks
			}
			break loop
		}
		sawTasksEver = true

		result := scheduler.Select(openTasks, scheduler.SelectOptions{Limit: 1})
		if len(result.Selection) == 0 {
			stopReason = session.StopReasonCompleted
			break loop
		}

		if cfg.MaxIterations > 0 && iteration >= cfg.MaxIterations {
			stopReason = session.StopReasonMaxIterations
			break loop
		}
		iteration++

		t := result.Selection[0]
		iterLogger, logErr := logging.NewIterationLogger(mgr.IterationLogDir(), iteration, time.Now().UTC(), sessionID, t.ID, sink)
		if logErr != nil {
			stopReason = session.StopReasonFatalError
			break loop
		}

		taskOutcome, runErr := eng.Run(ctx, iteration, t, iterLogger)
		iterLogger.Close()

		switch {
		case taskOutcome.Completed:
			closed++
		case runErr != nil, taskOutcome.FinalError != nil:
			failed++
		}

		state.Iteration = iteration
		state.Tasks = session.TaskCounts{Total: total, Closed: closed, Failed: failed}
		mgr.SaveState(*state)

		if runErr != nil {
			var classified *orcherrors.Error
			if errors.As(runErr, &classified) && classified.Kind.Fatal() {
				stopReason = session.StopReasonFatalError
				break loop
			}
		}

		if cfg.IterationDelay > 0 {
			select {
			case <-ctx.Done():
				stopReason = session.StopReasonUserQuit
				break loop
			case <-time.After(time.Duration(cfg.IterationDelay) * time.Millisecond):
			}
		}
	}

	exitCode := exitOK
	switch stopReason {
	case session.StopReasonUserQuit:
		exitCode = exitIncomplete
	case session.StopReasonFatalError:
		exitCode = exitConfigError
	case session.StopReasonMaxIterations, session.StopReasonTrackerMismatch:
		exitCode = exitIncomplete
	default:
		if failed > 0 {
			exitCode = exitIncomplete
		}
	}
	return sessionOutcome{stopReason: stopReason, counts: session.TaskCounts{Total: total, Closed: closed, Failed: failed}, exitCode: exitCode}
}

// runParallel builds one worker per cfg.Parallel slot, each in its own
// worktree nested under the session worktree (spec §4.7), and drives
// them through parallel.Executor.
func runParallel(ctx context.Context, cfg config.Config, trk resolvedTracker, agentAdapter contracts.AgentAdapter, sessionID string, sessionDesc worktree.Descriptor, name string, sink contracts.EventSink, mgr *session.Manager, knownAtStart int, stderr io.Writer) sessionOutcome {
	sessionGit := buildLoggedGit(sessionDesc.Path, mgr.CommandLogDir(), sessionID)
	workerMgr := worktree.NewManager(sessionGit)

	workers := make([]parallel.Worker, 0, cfg.Parallel)
	for i := 0; i < cfg.Parallel; i++ {
		desc, err := workerMgr.CreateWorker(sessionDesc.Path, sessionDesc.Branch, name, i, worktree.CreateOptions{
			TrackerKind: trk.kind,
			TrackerAPI:  trk.beadsAPI,
		})
		if err != nil {
			return sessionOutcome{stopReason: session.StopReasonFatalError, exitCode: exitConfigError}
		}
		workerGit := buildLoggedGit(desc.Path, mgr.CommandLogDir(), fmt.Sprintf("%s-%d", sessionID, i))
		eng := engine.New(trk.adapter, agentAdapter, workerGit, engine.Options{
			RepoRoot:         desc.Path,
			SessionID:        sessionID,
			Model:            sessionModel(cfg),
			IterationTimeout: time.Duration(cfg.AgentOptions.Timeout) * time.Second,
			ErrorHandling:    cfg.ErrorHandlingPolicy(),
			Sink:             sink,
		})
		workers = append(workers, parallel.Worker{Index: i, Engine: eng, Descriptor: desc, Manager: workerMgr})
	}

	resolver := conflict.New(sessionGit, agentAdapter, cfg.ConflictPolicy()).
		WithAuditLog(filepath.Join(mgr.IterationLogDir(), "conflict-decisions.jsonl"))
	executor := parallel.New(workers, parallel.Options{
		Parallel:        cfg.Parallel,
		SessionBranch:   sessionDesc.Branch,
		IterationLogDir: mgr.IterationLogDir(),
		Sink:            sink,
		Conflict:        resolver,
	})

	openTasks, err := trk.adapter.ListOpenTasks(ctx, trk.rootID)
	if err != nil {
		return sessionOutcome{stopReason: session.StopReasonFatalError, exitCode: exitConfigError}
	}
	if len(openTasks) == 0 {
		if session.WarnTrackerMismatch(len(openTasks), knownAtStart) {
			fmt.Fprintf(stderr, "warning: tracker reports 0 open tasks but this session previously tracked %d; preserving session for inspection\n", knownAtStart)
			return sessionOutcome{
				stopReason: session.StopReasonTrackerMismatch,
				counts:     session.TaskCounts{Total: knownAtStart},
				exitCode:   exitIncomplete,
			}
		}
		return sessionOutcome{stopReason: session.StopReasonNoTasks, exitCode: exitOK}
	}

	outcomes, runErr := executor.Run(ctx, openTasks)
	closed, failed := 0, 0
	for _, o := range outcomes {
		if o.Outcome.Completed && o.MergeErr == nil {
			closed++
		} else {
			failed++
		}
	}
	counts := session.TaskCounts{Total: len(openTasks), Closed: closed, Failed: failed}

	stopReason := session.StopReasonCompleted
	exitCode := exitOK
	switch {
	case runErr != nil:
		stopReason = session.StopReasonFatalError
		exitCode = exitConfigError
	case ctx.Err() != nil:
		stopReason = session.StopReasonUserQuit
		exitCode = exitIncomplete
	case failed > 0:
		exitCode = exitIncomplete
	}
	return sessionOutcome{stopReason: stopReason, counts: counts, exitCode: exitCode}
}

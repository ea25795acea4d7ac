// Package parallel implements the Parallel Executor (spec §4.7): a
// bounded pool of worker loops, each owning a private worktree,
// funneling their completed work through a single serialized merge
// queue so only one `git merge` ever runs against the session branch
// at a time.
package parallel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ralphtui/ralph-tui/internal/conflict"
	"github.com/ralphtui/ralph-tui/internal/contracts"
	"github.com/ralphtui/ralph-tui/internal/engine"
	"github.com/ralphtui/ralph-tui/internal/logging"
	"github.com/ralphtui/ralph-tui/internal/scheduler"
	"github.com/ralphtui/ralph-tui/internal/task"
	"github.com/ralphtui/ralph-tui/internal/worktree"
)

// Worker binds one engine to a dedicated worktree; the executor owns
// exactly one goroutine per worker at a time.
type Worker struct {
	Index      int
	Engine     *engine.Engine
	Descriptor worktree.Descriptor
	Manager    *worktree.Manager
}

// TaskOutcome pairs an admitted task with its engine result and the
// eventual landing state of its worktree's branch.
type TaskOutcome struct {
	WorkerIndex int
	Task        task.Task
	Outcome     engine.Outcome
	Landing     scheduler.LandingState
	MergeErr    error
}

// Options configures one Executor run.
type Options struct {
	Parallel        int
	SessionBranch   string
	IterationLogDir string
	Sink            contracts.EventSink
	Conflict        *conflict.Resolver
	MaxLandAttempts int
}

// Executor runs up to Options.Parallel workers concurrently, admits
// tasks through scheduler.Select's dependency-intersection rule, and
// serializes every worktree's merge-back through one landing queue.
type Executor struct {
	workers []Worker
	options Options

	mergeMu sync.Mutex
	inFlightMu sync.Mutex
	inFlight   map[string]bool
	attempted  map[string]bool
}

func New(workers []Worker, options Options) *Executor {
	if options.MaxLandAttempts <= 0 {
		options.MaxLandAttempts = 3
	}
	return &Executor{workers: workers, options: options, inFlight: make(map[string]bool), attempted: make(map[string]bool)}
}

// Run pulls tasks from tasks (the tracker's current open-task list)
// and drives every worker until no worker can be admitted further
// work, returning one TaskOutcome per completed iteration in
// completion order.
func (e *Executor) Run(ctx context.Context, tasks []task.Task) ([]TaskOutcome, error) {
	results := make([]TaskOutcome, 0, len(tasks))
	resultsMu := sync.Mutex{}

	var wg sync.WaitGroup
	errCh := make(chan error, len(e.workers))

	for _, w := range e.workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.runWorker(ctx, w, tasks, &results, &resultsMu); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// runWorker repeatedly admits and executes tasks for one worker until
// the scheduler has nothing left to admit to it.
func (e *Executor) runWorker(ctx context.Context, w Worker, tasks []task.Task, results *[]TaskOutcome, resultsMu *sync.Mutex) error {
	preserveWorktree := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		t, ok := e.admitNext(tasks)
		if !ok {
			if !preserveWorktree {
				e.retire(w)
			}
			return nil
		}

		outcome := e.executeAndLand(ctx, w, t)
		if outcome.MergeErr != nil || outcome.Landing == scheduler.LandingStateBlocked || outcome.Landing == scheduler.LandingStateRetrying {
			preserveWorktree = true
		}

		resultsMu.Lock()
		*results = append(*results, outcome)
		resultsMu.Unlock()

		e.releaseInFlight(t.ID)
	}
}

// retire tears a worker's worktree and branch down once its queue is
// empty and every task it landed made it into the session branch
// cleanly.
func (e *Executor) retire(w Worker) {
	if w.Manager == nil {
		return
	}
	e.mergeMu.Lock()
	defer e.mergeMu.Unlock()
	_ = w.Manager.Teardown(w.Descriptor)
}

// admitNext claims the next eligible task for a worker under the
// dependency-intersection rule, atomically marking it in-flight so no
// other worker races on the same claim.
func (e *Executor) admitNext(tasks []task.Task) (task.Task, bool) {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()

	snapshot := make(map[string]bool, len(e.inFlight))
	for id := range e.inFlight {
		snapshot[id] = true
	}

	// A task another worker already claimed, or one this executor has
	// already run, is never itself a candidate, whatever its
	// dependency closure looks like.
	candidates := make([]task.Task, 0, len(tasks))
	for _, t := range tasks {
		if snapshot[t.ID] || e.attempted[t.ID] {
			continue
		}
		candidates = append(candidates, t)
	}

	result := scheduler.Select(candidates, scheduler.SelectOptions{Limit: 1, InFlight: snapshot})
	if len(result.Selection) == 0 {
		return task.Task{}, false
	}
	claimed := result.Selection[0]
	e.inFlight[claimed.ID] = true
	e.attempted[claimed.ID] = true
	return claimed, true
}

func (e *Executor) releaseInFlight(id string) {
	e.inFlightMu.Lock()
	delete(e.inFlight, id)
	e.inFlightMu.Unlock()
}

// executeAndLand runs one iteration on the worker's private worktree
// and, on success, funnels the merge through the serialized landing
// queue. A worker crash (a panic recovered here) preserves the
// worktree and surfaces the task as failed rather than losing it, per
// spec §4.7.
func (e *Executor) executeAndLand(ctx context.Context, w Worker, t task.Task) (outcome TaskOutcome) {
	outcome = TaskOutcome{WorkerIndex: w.Index, Task: t}
	defer func() {
		if r := recover(); r != nil {
			outcome.MergeErr = fmt.Errorf("worker %d crashed running task %s: %v", w.Index, t.ID, r)
			outcome.Landing = scheduler.LandingStateBlocked
		}
	}()

	var logger engine.IterationLogger
	if e.options.IterationLogDir != "" {
		if l, err := logging.NewIterationLogger(e.options.IterationLogDir, w.Index, time.Now().UTC(), "", t.ID, e.options.Sink); err == nil {
			logger = l
			defer l.Close()
		}
	}

	result, err := w.Engine.Run(ctx, 0, t, logger)
	outcome.Outcome = result
	if err != nil {
		outcome.Landing = scheduler.LandingStateBlocked
		outcome.MergeErr = err
		return outcome
	}
	if !result.Completed {
		return outcome
	}

	landing, mergeErr := e.land(ctx, w, t)
	outcome.Landing = landing
	outcome.MergeErr = mergeErr
	return outcome
}

// land serializes one worker's worktree merge-back into the session
// branch through the shared merge mutex, running the conflict
// resolver's fast-path/AI-path over a live conflict before falling
// back to abort-and-preserve.
func (e *Executor) land(ctx context.Context, w Worker, t task.Task) (scheduler.LandingState, error) {
	e.mergeMu.Lock()
	defer e.mergeMu.Unlock()

	machine := scheduler.NewLandingQueueStateMachine(e.options.MaxLandAttempts)
	if err := machine.Apply(scheduler.LandingEventBegin); err != nil {
		return machine.State(), err
	}

	if err := w.Manager.CheckoutSessionBranch(e.options.SessionBranch); err != nil {
		_ = machine.Apply(scheduler.LandingEventFailedPermanent)
		return machine.State(), err
	}

	result, err := w.Manager.MergeAttempt(w.Descriptor)
	if err != nil {
		_ = machine.Apply(scheduler.LandingEventFailedPermanent)
		return machine.State(), err
	}
	if result.Conflict {
		if resolveErr := e.resolveConflict(ctx, w, t); resolveErr != nil {
			_ = w.Manager.AbortMerge()
			_ = machine.Apply(scheduler.LandingEventFailedRetryable)
			return machine.State(), fmt.Errorf("merge conflict landing worktree %s, preserved for resolution: %w", w.Descriptor.Path, resolveErr)
		}
	}

	_ = machine.Apply(scheduler.LandingEventSucceeded)
	return machine.State(), nil
}

// resolveConflict drives the Conflict Resolver's fast-path and
// AI-path over every file MergeAttempt left conflicted, then commits
// the completed merge. It never aborts on failure itself; the caller
// decides whether to retry or preserve the worktree.
func (e *Executor) resolveConflict(ctx context.Context, w Worker, t task.Task) error {
	e.emit(ctx, contracts.EventConflictFound, t.ID, w.Descriptor.Path)

	if e.options.Conflict == nil {
		e.emit(ctx, contracts.EventConflictFailed, t.ID, "no conflict resolver configured")
		return fmt.Errorf("no conflict resolver configured")
	}

	conflicts, err := e.options.Conflict.Detect()
	if err != nil {
		e.emit(ctx, contracts.EventConflictFailed, t.ID, err.Error())
		return fmt.Errorf("detect conflicts: %w", err)
	}
	if len(conflicts) == 0 {
		e.emit(ctx, contracts.EventConflictFailed, t.ID, "merge reported a conflict but no unmerged files were found")
		return fmt.Errorf("merge reported a conflict but no unmerged files were found")
	}

	e.emit(ctx, contracts.EventConflictAI, t.ID, fmt.Sprintf("resolving %d file(s)", len(conflicts)))
	if _, err := e.options.Conflict.ResolveAll(ctx, conflicts, conflict.TaskContext{ID: t.ID, Title: t.Title}); err != nil {
		e.emit(ctx, contracts.EventConflictFailed, t.ID, err.Error())
		return err
	}

	if err := w.Manager.CommitMerge(w.Descriptor); err != nil {
		e.emit(ctx, contracts.EventConflictFailed, t.ID, err.Error())
		return fmt.Errorf("commit resolved merge: %w", err)
	}

	e.emit(ctx, contracts.EventConflictOK, t.ID, w.Descriptor.Path)
	return nil
}

func (e *Executor) emit(ctx context.Context, eventType contracts.EventType, taskID, message string) {
	if e.options.Sink == nil {
		return
	}
	_ = e.options.Sink.Emit(ctx, contracts.Event{Type: eventType, TaskID: taskID, Message: message, Timestamp: time.Now().UTC()})
}

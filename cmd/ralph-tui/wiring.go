package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ralphtui/ralph-tui/internal/agentcli"
	"github.com/ralphtui/ralph-tui/internal/config"
	"github.com/ralphtui/ralph-tui/internal/contracts"
	"github.com/ralphtui/ralph-tui/internal/execshell"
	"github.com/ralphtui/ralph-tui/internal/gitvcs"
	"github.com/ralphtui/ralph-tui/internal/logging"
	"github.com/ralphtui/ralph-tui/internal/tracker"
	"github.com/ralphtui/ralph-tui/internal/worktree"
)

// toolRunner adapts an execshell.Shell to tracker.Runner, whose
// Run(args...) takes the binary name as args[0] rather than as a
// separate parameter.
type toolRunner struct {
	shell *execshell.Shell
}

func (t toolRunner) Run(args ...string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("tool runner: empty command")
	}
	return t.shell.Run(args[0], args[1:]...)
}

// resolvedTracker bundles the contracts.TrackerAdapter the engine
// runs against with the lower-level pieces the Worktree Manager needs
// to seed a fresh worktree (spec §4.3).
type resolvedTracker struct {
	adapter     contracts.TrackerAdapter
	kind        worktree.TrackerKind
	beadsAPI    *tracker.Adapter
	prdPath     string
	rootID      string
}

func buildTracker(cfg config.Config, repoRoot, prdFlag, epicFlag, commandLogDir, runID string) (resolvedTracker, error) {
	kindRaw := strings.TrimSpace(cfg.Tracker)
	if kindRaw == "" {
		kindRaw = "json"
	}

	prdPath := prdFlag
	if prdPath == "" {
		prdPath = cfg.TrackerOptions.Path
	}
	epicID := epicFlag
	if epicID == "" {
		epicID = cfg.TrackerOptions.EpicID
	}

	shell := execshell.New(repoRoot)
	if commandLogDir != "" {
		shell = execshell.NewLogged(repoRoot, commandLogDir, logging.ComponentScheduler, runID)
	}
	runner := toolRunner{shell: shell}

	switch worktree.TrackerKind(kindRaw) {
	case worktree.TrackerJSON:
		if prdPath == "" {
			return resolvedTracker{}, fmt.Errorf("tracker %q requires a PRD path (--prd or trackerOptions.path)", kindRaw)
		}
		if !filepath.IsAbs(prdPath) {
			prdPath = filepath.Join(repoRoot, prdPath)
		}
		adapter, err := tracker.NewJSONPRDTracker(prdPath)
		if err != nil {
			return resolvedTracker{}, fmt.Errorf("load PRD file %s: %w", prdPath, err)
		}
		return resolvedTracker{adapter: adapter, kind: worktree.TrackerJSON, prdPath: prdPath, rootID: epicID}, nil

	case worktree.TrackerBeads:
		beadTracker, err := tracker.NewBeadTrackerWithCapabilityProbe(runner)
		if err != nil {
			return resolvedTracker{}, fmt.Errorf("probe beads backend: %w", err)
		}
		return resolvedTracker{adapter: beadTracker, kind: worktree.TrackerBeads, beadsAPI: beadTracker.Adapter(), rootID: epicID}, nil

	case worktree.TrackerBeadsRust:
		beadTracker := tracker.NewBeadsRustTracker(runner)
		return resolvedTracker{adapter: beadTracker, kind: worktree.TrackerBeadsRust, beadsAPI: beadTracker.Adapter(), rootID: epicID}, nil

	case worktree.TrackerBeadsBV:
		beadTracker := tracker.NewBeadsBVTracker(runner)
		return resolvedTracker{adapter: beadTracker, kind: worktree.TrackerBeadsBV, beadsAPI: beadTracker.Adapter(), rootID: epicID}, nil

	default:
		return resolvedTracker{}, fmt.Errorf("unknown tracker %q (expected json, beads, beads-rust, or beads-bv)", kindRaw)
	}
}

// buildAgent resolves the coding-agent backend named by cfg/agentFlag
// from the catalog (built-in plus repo-local custom definitions).
func buildAgent(cfg config.Config, repoRoot, agentFlag string) (contracts.AgentAdapter, error) {
	name := agentFlag
	if name == "" {
		name = cfg.Agent
	}
	if name == "" {
		return nil, fmt.Errorf("no agent backend selected (--agent or config agent)")
	}

	catalog, err := agentcli.LoadCatalog(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("load agent catalog: %w", err)
	}

	envFilter := agentcli.EnvFilter{
		ExtraDeny:   cfg.AgentOptions.EnvExclude,
		Passthrough: cfg.AgentOptions.EnvPassthrough,
	}
	adapter, err := agentcli.BuildAdapter(catalog, name, execshell.OSStreamRunner, envFilter)
	if err != nil {
		return nil, err
	}
	if err := catalog.ValidateBackendUsage(name, cfg.AgentOptions.Model, os.Getenv); err != nil {
		return nil, err
	}
	return adapter, nil
}

// buildGit binds a git adapter rooted at dir.
func buildGit(dir string) *gitvcs.Adapter {
	return gitvcs.New(gitvcs.NewCommandAdapter(execshell.New(dir)))
}

// buildLoggedGit binds a git adapter rooted at dir whose every
// invocation is also filed under commandLogDir as a ComponentWorktree
// command-log entry (spec §10.1) — used once a session has a
// mgr.CommandLogDir() to write into.
func buildLoggedGit(dir, commandLogDir, runID string) *gitvcs.Adapter {
	if commandLogDir == "" {
		return buildGit(dir)
	}
	shell := execshell.NewLogged(dir, commandLogDir, logging.ComponentWorktree, runID)
	return gitvcs.New(gitvcs.NewCommandAdapter(shell))
}

// registryPath returns the process-user-global session registry file
// path, creating no directories itself (session.Registry does that).
func registryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "ralph-tui", "sessions.json")
}

package main

import (
	"os"

	"github.com/spf13/cobra"
)

// newRunCmd builds the `run` subcommand: start a fresh session, or
// (with --resume) continue the session already recorded for cwd.
func newRunCmd(root *rootCmd) *cobra.Command {
	var flags sessionFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start or continue an orchestrated session in the current (or --cwd) directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			root.exitCode = runSession(flags, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return nil
		},
	}

	registerSessionFlags(cmd, &flags)
	cmd.Flags().BoolVar(&flags.resume, "resume", false, "continue the session already recorded for --cwd instead of starting a new one")

	return cmd
}

// registerSessionFlags binds the flags shared between `run` and
// `resume` (spec §6's External Interfaces).
func registerSessionFlags(cmd *cobra.Command, flags *sessionFlags) {
	cwd, _ := os.Getwd()
	cmd.Flags().StringVar(&flags.cwd, "cwd", cwd, "working directory the session runs in")
	cmd.Flags().StringVar(&flags.tracker, "tracker", "", "tracker backend: json, beads, beads-rust, or beads-bv")
	cmd.Flags().StringVar(&flags.prd, "prd", "", "path to a PRD file (json tracker)")
	cmd.Flags().StringVar(&flags.epic, "epic", "", "epic/root id to scope task selection to (beads-family trackers)")
	cmd.Flags().StringVar(&flags.agent, "agent", "", "coding agent backend id")
	cmd.Flags().StringVar(&flags.model, "model", "", "model name passed to the agent backend")
	cmd.Flags().IntVar(&flags.iterations, "iterations", 0, "maximum iterations for this run (0 keeps the configured value)")
	cmd.Flags().IntVar(&flags.parallel, "parallel", 0, "number of parallel workers (0 keeps the configured value, minimum effective value is 1)")
	cmd.Flags().StringVar(&flags.worktree, "worktree", "", "enable worktree mode, optionally pinning its name")
	cmd.Flags().Lookup("worktree").NoOptDefVal = " "
	cmd.Flags().BoolVar(&flags.headless, "headless", false, "disable the interactive status line, emitting only structured logs")
	cmd.Flags().BoolVar(&flags.force, "force", false, "take over the session lock even if the process holding it is still running")
	cmd.Flags().BoolVar(&flags.noSetup, "no-setup", false, "skip the agent backend's setup/preflight step")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		flags.worktreeSet = cmd.Flags().Changed("worktree")
		if flags.worktreeSet && flags.worktree == " " {
			flags.worktree = ""
		}
		return nil
	}
}

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ralphtui/ralph-tui/internal/session"
)

// newResumeCmd builds the `resume [session-id]` subcommand plus its
// two informational modes, --list and --cleanup (spec §6, §4.8).
func newResumeCmd(root *rootCmd) *cobra.Command {
	var flags sessionFlags
	var list bool
	var cleanup bool

	cmd := &cobra.Command{
		Use:   "resume [session-id]",
		Short: "Resume a previously started session, list known sessions, or prune stale registry entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			errOut := cmd.ErrOrStderr()

			if len(args) == 1 {
				flags.resumeID = args[0]
			}

			registry := session.NewRegistry(registryPath())

			switch {
			case cleanup:
				removed, err := registry.Cleanup()
				if err != nil {
					fmt.Fprintln(errOut, err)
					root.exitCode = exitConfigError
					return nil
				}
				fmt.Fprintf(out, "removed %d stale session entr%s\n", removed, plural(removed))
				root.exitCode = exitOK
				return nil

			case list:
				entries, err := registry.List()
				if err != nil {
					fmt.Fprintln(errOut, err)
					root.exitCode = exitConfigError
					return nil
				}
				printSessionList(out, entries)
				root.exitCode = exitOK
				return nil

			default:
				flags.resume = true
				root.exitCode = runSession(flags, out, errOut)
				return nil
			}
		},
	}

	registerSessionFlags(cmd, &flags)
	cmd.Flags().BoolVar(&list, "list", false, "list every known session across working directories")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "remove registry entries whose session.json no longer exists")

	return cmd
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func printSessionList(out io.Writer, entries []session.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "no known sessions")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %-11s  %-9s  %-9s  %s\n", e.SessionID, e.Status, e.AgentPluginID, e.TrackerPluginID, e.Cwd)
	}
}

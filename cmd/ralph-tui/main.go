// Command ralph-tui drives an autonomous coding-agent session against
// a task tracker: pick the next open task, run a coding agent against
// it, commit on completion, and repeat until the tracker is empty or
// a configured stop condition is reached.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ralphtui/ralph-tui/internal/version"
)

func main() {
	os.Exit(newRootCmd().Execute2())
}

// rootCmd wraps *cobra.Command so Execute2 can return the process exit
// code its subcommands compute, rather than only an error.
type rootCmd struct {
	*cobra.Command
	exitCode int
}

func (r *rootCmd) Execute2() int {
	if err := r.Command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}
	return r.exitCode
}

func newRootCmd() *rootCmd {
	root := &rootCmd{}
	root.Command = &cobra.Command{
		Use:           "ralph-tui",
		Short:         "Autonomous task-orchestration harness for coding agents",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(newRunCmd(root))
	root.AddCommand(newResumeCmd(root))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the ralph-tui version",
		RunE: func(cmd *cobra.Command, args []string) error {
			version.Print(cmd.OutOrStdout(), "ralph-tui")
			return nil
		},
	})
	return root
}

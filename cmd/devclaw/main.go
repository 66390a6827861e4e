package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// workspaceFlag is the shared --workspace flag, defaulting to ~/.devclaw.
var workspaceFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:   "devclaw",
		Short: "Drive tracker issues through a workflow with LLM workers",
		Long: `DevClaw is a development-task orchestrator: it watches issue trackers,
picks up queued issues, dispatches LLM worker sessions, and reconciles
the tracker state with its own bookkeeping on every heartbeat.`,
	}

	rootCmd.PersistentFlags().StringVar(&workspaceFlag, "workspace", defaultWorkspace(), "workspace directory")

	rootCmd.AddCommand(
		newServeCmd(),
		newDoctorCmd(),
		newProjectCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultWorkspace() string {
	if ws := os.Getenv("DEVCLAW_WORKSPACE"); ws != "" {
		return ws
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".devclaw"
	}
	return filepath.Join(home, ".devclaw")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show DevClaw version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("DevClaw v%s\n", version)
		},
	}
}

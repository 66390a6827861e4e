package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/laurentenhoor/devclaw/internal/config"
	"github.com/laurentenhoor/devclaw/internal/doctor"
)

func newDoctorCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system health and configuration",
		Long: `Run health checks on system dependencies, configuration, and registered
projects. Shows what's working, what's missing, and how to fix issues.

Examples:
  devclaw doctor           # Run all checks
  devclaw doctor --verbose # Show fix suggestions`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := config.LoadFile(filepath.Join(workspaceFlag, config.WorkspaceFileName))
			if err != nil {
				return err
			}

			report := doctor.RunChecks(cmd.Context(), workspaceFlag, providerFactory(ws.Tracker))

			fmt.Println()
			fmt.Println("DevClaw Health Check")
			fmt.Println("====================")
			fmt.Println()

			printSection := func(title string, checks []doctor.Check) {
				fmt.Println(title + ":")
				for _, c := range checks {
					fmt.Printf("  %s %-12s %s\n", c.Status.Symbol(), c.Name, c.Message)
					if verbose && c.Fix != "" && c.Status != doctor.StatusOK {
						fmt.Printf("                 → %s\n", c.Fix)
					}
				}
				fmt.Println()
			}
			printSection("System Dependencies", report.Dependencies)
			printSection("Configuration", report.Config)
			printSection("Projects", report.Projects)

			errors, warnings := report.Summary()
			switch {
			case report.Ready() && warnings == 0:
				fmt.Println("✅ All systems operational!")
			case report.Ready():
				fmt.Printf("✅ Ready to serve (%d warnings)\n", warnings)
			default:
				fmt.Printf("❌ Not ready: %d errors, %d warnings\n", errors, warnings)
				if !verbose {
					fmt.Println("   Run with --verbose for fix suggestions.")
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show fix suggestions")
	return cmd
}

package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/agentpilot/agentpilot/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"     _                    _   ____  _ _       _\n" +
		"    / \\   __ _  ___ _ __ | |_|  _ \\(_) | ___ | |_\n" +
		"   / _ \\ / _` |/ _ \\ '_ \\| __| |_) | | |/ _ \\| __|\n" +
		"  / ___ \\ (_| |  __/ | | | |_|  __/| | | (_) | |_\n" +
		" /_/   \\_\\__, |\\___|_| |_|\\__|_|   |_|_|\\___/ \\__|\n" +
		"         |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "agentpilot",
	Short: "AgentPilot - local assistant daemon",
	Long:  color.CyanString(logo) + "\nA local assistant daemon that bridges chat platforms to an LLM with gated tools.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(permissionsCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(skillsCmd)
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}

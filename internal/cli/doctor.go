package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentpilot/agentpilot/internal/cliconfig"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check config, keys, database and channels before starting",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().Bool("generate-gateway-token", false, "Generate and save gateway.authToken")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	genToken, _ := cmd.Flags().GetBool("generate-gateway-token")
	report, err := cliconfig.RunDoctor(cliconfig.DoctorOptions{
		GenerateGatewayToken: genToken,
		Keys:                 newKeyring(),
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printHeader(out, "🩺 AgentPilot Doctor")
	for _, c := range report.Checks {
		var mark string
		switch c.Status {
		case cliconfig.DoctorPass:
			mark = color.GreenString("✓")
		case cliconfig.DoctorWarn:
			mark = color.YellowString("!")
		default:
			mark = color.RedString("✗")
		}
		fmt.Fprintf(out, "%s %-18s %s\n", mark, c.Name, c.Message)
	}
	if report.HasFailures() {
		return fmt.Errorf("doctor found problems")
	}
	return nil
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentpilot/agentpilot/internal/cliconfig"
)

var (
	serviceCmd = &cobra.Command{
		Use:   "service",
		Short: "Manage the systemd user unit for the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	serviceInstallCmd = &cobra.Command{
		Use:   "install",
		Short: "Write ~/.config/systemd/user/" + cliconfig.ServiceName,
		Args:  cobra.NoArgs,
		RunE:  runServiceInstall,
	}

	servicePrintCmd = &cobra.Command{
		Use:   "print",
		Short: "Print the unit file without writing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := serviceOptions(cmd)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), cliconfig.RenderUnit(opts))
			return nil
		},
	}
)

func init() {
	serviceCmd.PersistentFlags().String("binary", "", "Path to the agentpilot binary (default: this executable)")
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(servicePrintCmd)
}

func serviceOptions(cmd *cobra.Command) (cliconfig.ServiceOptions, error) {
	bin, _ := cmd.Flags().GetString("binary")
	if bin == "" {
		exe, err := os.Executable()
		if err != nil {
			return cliconfig.ServiceOptions{}, fmt.Errorf("resolve executable: %w", err)
		}
		bin = exe
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return cliconfig.ServiceOptions{}, err
	}
	return cliconfig.ServiceOptions{BinaryPath: bin, Home: home, Version: version}, nil
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	opts, err := serviceOptions(cmd)
	if err != nil {
		return err
	}
	res, err := cliconfig.InstallService(opts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Unit written to %s\n", res.UnitPath)
	if res.EnvCreated {
		fmt.Fprintf(out, "✓ Env file created at %s\n", res.EnvPath)
	} else {
		fmt.Fprintf(out, "  Env file kept at %s\n", res.EnvPath)
	}
	fmt.Fprintln(out, "\nEnable it with:")
	fmt.Fprintln(out, "  systemctl --user daemon-reload")
	fmt.Fprintf(out, "  systemctl --user enable --now %s\n", cliconfig.ServiceName)
	return nil
}

package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/agentpilot/agentpilot/internal/provider"
	"github.com/agentpilot/agentpilot/internal/secrets"
)

var (
	authCmd = &cobra.Command{
		Use:   "auth",
		Short: "Store provider API keys in the OS keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	authSetCmd = &cobra.Command{
		Use:   "set <provider> [key]",
		Short: "Save an API key; prompts when the key is omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runAuthSet,
	}

	authDeleteCmd = &cobra.Command{
		Use:   "delete <provider>",
		Short: "Remove a stored API key",
		Args:  cobra.ExactArgs(1),
		RunE:  runAuthDelete,
	}
)

func init() {
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authDeleteCmd)
}

func providerArg(arg string) (string, error) {
	id := provider.NormalizeProviderID(arg)
	if !secrets.IsProvider(id) {
		return "", fmt.Errorf("unknown provider %q (want one of %s)", arg, strings.Join(secrets.Providers, ", "))
	}
	return id, nil
}

func runAuthSet(cmd *cobra.Command, args []string) error {
	id, err := providerArg(args[0])
	if err != nil {
		return err
	}
	var key string
	if len(args) == 2 {
		key = args[1]
	} else {
		key, err = readSecret(cmd, fmt.Sprintf("%s API key: ", id))
		if err != nil {
			return err
		}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("empty API key")
	}
	if err := newKeyring().Set(secrets.ProviderKeyName(id), key); err != nil {
		return fmt.Errorf("save %s key: %w", id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s key saved to the OS keyring\n", id)
	return nil
}

// readSecret reads a line without echo from a terminal, or plainly from a pipe.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read API key: %w", err)
	}
	return line, nil
}

func runAuthDelete(cmd *cobra.Command, args []string) error {
	id, err := providerArg(args[0])
	if err != nil {
		return err
	}
	if err := newKeyring().Delete(secrets.ProviderKeyName(id)); err != nil {
		return fmt.Errorf("delete %s key: %w", id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s key removed\n", id)
	return nil
}

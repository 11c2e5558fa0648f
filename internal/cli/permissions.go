package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentpilot/agentpilot/internal/policy"
	"github.com/agentpilot/agentpilot/internal/store"
)

var (
	permissionsCmd = &cobra.Command{
		Use:   "permissions",
		Short: "Inspect and grant permission levels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	permissionsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List permission rules",
		Args:  cobra.NoArgs,
		RunE:  runPermissionsList,
	}

	permissionsDeleteCmd = &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a permission rule by id",
		Args:  cobra.ExactArgs(1),
		RunE:  runPermissionsDelete,
	}

	permissionsSetCmd = &cobra.Command{
		Use:   "set <channelType> <channelId> <domain> <level>",
		Short: "Grant a level (name or 0-4) for a domain on a channel or user",
		Args:  cobra.ExactArgs(4),
		RunE:  runPermissionsSet,
	}
)

func init() {
	permissionsSetCmd.Flags().String("user", "", "Scope the rule to one user id instead of the whole channel")
	permissionsCmd.AddCommand(permissionsListCmd)
	permissionsCmd.AddCommand(permissionsSetCmd)
	permissionsCmd.AddCommand(permissionsDeleteCmd)
}

func runPermissionsList(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rules, err := st.ListPermissions(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(rules) == 0 {
		fmt.Fprintln(out, "No permission rules. Every domain runs at its default level.")
		return nil
	}
	fmt.Fprintf(out, "%-36s  %-9s  %-20s  %-14s  %-10s  %s\n", "ID", "CHANNEL", "CHANNEL ID", "USER", "DOMAIN", "LEVEL")
	for _, r := range rules {
		user := r.UserID
		if user == "" {
			user = "*"
		}
		fmt.Fprintf(out, "%-36s  %-9s  %-20s  %-14s  %-10s  %d (%s)\n",
			r.ID, r.ChannelType, clip(r.ChannelID, 20), clip(user, 14), r.Domain, r.Level, policy.Level(r.Level))
	}
	return nil
}

func runPermissionsSet(cmd *cobra.Command, args []string) error {
	level, err := policy.ParseLevel(args[3])
	if err != nil {
		return err
	}
	userID, _ := cmd.Flags().GetString("user")

	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rule, err := st.SetPermission(cmd.Context(), store.PermissionRule{
		ChannelType: args[0],
		ChannelID:   args[1],
		UserID:      userID,
		Domain:      args[2],
		Level:       int(level),
	})
	if err != nil {
		return err
	}
	scope := "channel " + rule.ChannelType + "/" + rule.ChannelID
	if rule.UserID != "" {
		scope += " user " + rule.UserID
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %s set to %s\n", scope, rule.Domain, level)
	return nil
}

func runPermissionsDelete(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.DeletePermission(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("permission rule %s not found", args[0])
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Permission rule %s deleted\n", args[0])
	return nil
}

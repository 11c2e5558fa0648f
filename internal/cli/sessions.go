package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentpilot/agentpilot/internal/store"
)

var (
	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "Inspect conversation sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	sessionsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently active first",
		Args:  cobra.NoArgs,
		RunE:  runSessionsList,
	}

	sessionsShowCmd = &cobra.Command{
		Use:   "show <channelType> <channelId> <userId>",
		Short: "Print the history of one identity's session",
		Args:  cobra.ExactArgs(3),
		RunE:  runSessionsShow,
	}
)

func init() {
	sessionsListCmd.Flags().Int("limit", 50, "Maximum rows to show")
	sessionsListCmd.Flags().Int("offset", 0, "Rows to skip")
	sessionsShowCmd.Flags().Int("limit", 20, "Number of most recent messages")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.ListSessions(cmd.Context(), limit, offset)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions yet.")
		return nil
	}
	fmt.Fprintf(out, "%-36s  %-9s  %-20s  %-14s  %s\n", "ID", "CHANNEL", "CHANNEL ID", "USER", "UPDATED")
	for _, s := range sessions {
		fmt.Fprintf(out, "%-36s  %-9s  %-20s  %-14s  %s\n",
			s.ID, s.ChannelType, clip(s.ChannelID, 20), clip(s.UserID, 14), s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sess, err := st.GetSessionByIdentity(cmd.Context(), args[0], args[1], args[2])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no session for %s/%s/%s", args[0], args[1], args[2])
	}
	if err != nil {
		return err
	}
	msgs, err := st.ListMessages(cmd.Context(), sess.ID, limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session %s (%d messages shown)\n", sess.ID, len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), m.Role, strings.TrimSpace(m.Content))
	}
	return nil
}

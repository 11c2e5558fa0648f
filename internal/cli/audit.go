package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentpilot/agentpilot/internal/store"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the action audit log, newest first",
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().Int("limit", 50, "Maximum rows to show")
	auditCmd.Flags().String("session", "", "Only entries for this session id")
	auditCmd.Flags().String("domain", "", "Only entries for this action domain")
	auditCmd.Flags().String("user", "", "Only entries for this user id")
}

func runAudit(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	sessionID, _ := cmd.Flags().GetString("session")
	domain, _ := cmd.Flags().GetString("domain")
	userID, _ := cmd.Flags().GetString("user")

	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.ListAudit(cmd.Context(), store.AuditFilter{
		Limit:     limit,
		SessionID: sessionID,
		Domain:    domain,
		UserID:    userID,
	})
	if err != nil {
		return err
	}
	printAudit(cmd.OutOrStdout(), entries)
	return nil
}

func printAudit(w io.Writer, entries []store.AuditEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No audit entries.")
		return
	}
	fmt.Fprintf(w, "%-19s  %-9s  %-14s  %-20s  %-3s  %-9s  %s\n", "TIME", "CHANNEL", "USER", "ACTION", "LVL", "STATUS", "OUTPUT")
	for _, e := range entries {
		status := auditStatus(e)
		line := fmt.Sprintf("%-19s  %-9s  %-14s  %-20s  %-3d  %-9s  %s",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.ChannelType,
			clip(e.UserID, 14),
			clip(e.Domain+":"+e.Operation, 20),
			e.PermissionLevel,
			status,
			clip(string(e.Output), 60),
		)
		switch status {
		case "denied":
			line = color.RedString(line)
		case "pending":
			line = color.YellowString(line)
		}
		fmt.Fprintln(w, line)
	}
}

// auditStatus classifies an entry from its confirmation flags and output.
func auditStatus(e store.AuditEntry) string {
	out := string(e.Output)
	switch {
	case strings.Contains(out, `"denied":true`):
		return "denied"
	case e.ConfirmationRequired && !e.Confirmed:
		return "pending"
	case strings.Contains(out, `"error"`):
		return "error"
	case e.ConfirmationRequired:
		return "confirmed"
	default:
		return "ok"
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

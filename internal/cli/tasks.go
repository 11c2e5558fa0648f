package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentpilot/agentpilot/internal/store"
)

var (
	tasksCmd = &cobra.Command{
		Use:   "tasks",
		Short: "Manage scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	tasksListCmd = &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		Args:  cobra.NoArgs,
		RunE:  runTasksList,
	}

	tasksPauseCmd = &cobra.Command{
		Use:   "pause <id>",
		Short: "Disable a scheduled task without deleting it",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return setTaskEnabled(cmd, args[0], false) },
	}

	tasksResumeCmd = &cobra.Command{
		Use:   "resume <id>",
		Short: "Re-enable a paused task",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return setTaskEnabled(cmd, args[0], true) },
	}

	tasksCancelCmd = &cobra.Command{
		Use:   "cancel <id>",
		Short: "Delete a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE:  runTasksCancel,
	}
)

func init() {
	tasksListCmd.Flags().String("user", "", "Only tasks owned by this user id")
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksPauseCmd)
	tasksCmd.AddCommand(tasksResumeCmd)
	tasksCmd.AddCommand(tasksCancelCmd)
}

func runTasksList(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := st.ListTasks(cmd.Context(), userID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No scheduled tasks.")
		return nil
	}
	fmt.Fprintf(out, "%-36s  %-16s  %-14s  %-9s  %-16s  %s\n", "ID", "NAME", "CRON", "CHANNEL", "LAST RUN", "PROMPT")
	for _, t := range tasks {
		lastRun := "never"
		if t.LastRun != nil {
			lastRun = t.LastRun.Local().Format("2006-01-02 15:04")
		}
		name := t.Name
		if !t.Enabled {
			name += " (off)"
		}
		fmt.Fprintf(out, "%-36s  %-16s  %-14s  %-9s  %-16s  %s\n",
			t.ID, clip(name, 16), t.CronExpression, t.ChannelType, lastRun, clip(t.Prompt, 50))
	}
	return nil
}

func runTasksCancel(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.DeleteTask(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("task %s not found", args[0])
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Task %s cancelled. Restart a running gateway to apply.\n", args[0])
	return nil
}

func setTaskEnabled(cmd *cobra.Command, id string, enabled bool) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetTaskEnabled(cmd.Context(), id, enabled); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("task %s not found", id)
		}
		return err
	}
	t, err := st.GetTask(cmd.Context(), id)
	if err != nil {
		return err
	}
	state := "paused"
	if t.Enabled {
		state = "resumed"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Task %s (%s) %s. Restart a running gateway to apply.\n", t.Name, t.ID, state)
	return nil
}

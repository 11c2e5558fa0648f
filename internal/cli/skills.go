package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentpilot/agentpilot/internal/config"
	"github.com/agentpilot/agentpilot/internal/skills"
)

var (
	skillsCmd = &cobra.Command{
		Use:   "skills",
		Short: "Manage prompt skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	skillsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List installed skills",
		Args:  cobra.NoArgs,
		RunE:  runSkillsList,
	}

	skillsAddCmd = &cobra.Command{
		Use:   "add <file.md>",
		Short: "Install a local markdown skill",
		Args:  cobra.ExactArgs(1),
		RunE:  runSkillsAdd,
	}

	skillsRemoveCmd = &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an installed skill",
		Args:  cobra.ExactArgs(1),
		RunE:  runSkillsRemove,
	}
)

func init() {
	skillsCmd.AddCommand(skillsListCmd)
	skillsCmd.AddCommand(skillsAddCmd)
	skillsCmd.AddCommand(skillsRemoveCmd)
}

func skillsDir() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.Paths.Skills, nil
}

func runSkillsList(cmd *cobra.Command, args []string) error {
	dir, err := skillsDir()
	if err != nil {
		return err
	}
	l := skills.NewLoader(dir)
	if err := l.Load(); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	list := l.Skills()
	if len(list) == 0 {
		fmt.Fprintf(out, "No skills in %s\n", dir)
		return nil
	}
	fmt.Fprintf(out, "%-24s %-24s %s\n", "NAME", "FILE", "DESCRIPTION")
	for _, s := range list {
		fmt.Fprintf(out, "%-24s %-24s %s\n", clip(s.Name, 24), clip(s.File, 24), clip(s.Description, 60))
	}
	return nil
}

func runSkillsAdd(cmd *cobra.Command, args []string) error {
	dir, err := skillsDir()
	if err != nil {
		return err
	}
	s, err := skills.Install(dir, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Installed skill %s as %s\n", s.Name, s.File)
	return nil
}

func runSkillsRemove(cmd *cobra.Command, args []string) error {
	dir, err := skillsDir()
	if err != nil {
		return err
	}
	if err := skills.Remove(dir, args[0]); err != nil {
		if errors.Is(err, skills.ErrNotInstalled) {
			return fmt.Errorf("skill %s is not installed", args[0])
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed skill %s\n", args[0])
	return nil
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentpilot/agentpilot/internal/config"
	"github.com/agentpilot/agentpilot/internal/provider"
	"github.com/agentpilot/agentpilot/internal/secrets"
	"github.com/agentpilot/agentpilot/internal/store"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		printHeader(out, "🏷️ AgentPilot Version")
		fmt.Fprintf(out, "Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		printHeader(out, "📊 AgentPilot Status")
		fmt.Fprintf(out, "Version:  %s\n", version)

		if path, err := config.ConfigPath(); err == nil {
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(out, "Config:   ✓ Found (%s)\n", path)
			} else {
				fmt.Fprintf(out, "Config:   ✗ Not found (%s, using defaults)\n", path)
			}
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if _, err := os.Stat(cfg.Database.Path); err == nil {
			fmt.Fprintf(out, "Database: ✓ %s\n", cfg.Database.Path)
			if st, err := store.Open(cfg.Database.Path); err == nil {
				if at, err := st.GetSetting(cmd.Context(), settingLastStarted); err == nil {
					fmt.Fprintf(out, "Last start: %s\n", at)
				}
				_ = st.Close()
			}
		} else {
			fmt.Fprintf(out, "Database: ✗ %s (created on first start)\n", cfg.Database.Path)
		}

		fmt.Fprintf(out, "Provider: %s\n", provider.NormalizeProviderID(cfg.AI.Primary))
		kr := newKeyring()
		for _, id := range secrets.Providers {
			fmt.Fprintf(out, "  %-11s %s\n", id+":", keyState(cfg.AI, kr, id))
		}

		fmt.Fprintln(out, "Channels:")
		for _, ch := range []struct {
			name    string
			enabled bool
		}{
			{"telegram", cfg.Channels.Telegram.Enabled},
			{"discord", cfg.Channels.Discord.Enabled},
			{"slack", cfg.Channels.Slack.Enabled},
		} {
			mark := "✗ Disabled"
			if ch.enabled {
				mark = "✓ Enabled"
			}
			fmt.Fprintf(out, "  %-11s %s\n", ch.name+":", mark)
		}
		fmt.Fprintf(out, "Gateway:  http://%s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
		return nil
	},
}

var newKeyring = secrets.New

func keyState(ai config.AIConfig, kr *secrets.Keyring, id string) string {
	if provider.APIKeyFor(ai, id) != "" {
		return "✓ Key (config/env)"
	}
	if kr.ProviderKey(id) != "" {
		return "✓ Key (keyring)"
	}
	return "✗ No key"
}

// openStore loads config and opens the database it points at.
func openStore() (*config.Config, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}

package cliconfig

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/agentpilot/agentpilot/internal/config"
	"github.com/agentpilot/agentpilot/internal/provider"
	"github.com/agentpilot/agentpilot/internal/store"
)

type DoctorStatus string

const (
	DoctorPass DoctorStatus = "pass"
	DoctorWarn DoctorStatus = "warn"
	DoctorFail DoctorStatus = "fail"
)

type DoctorCheck struct {
	Name    string
	Status  DoctorStatus
	Message string
}

type DoctorReport struct {
	Checks []DoctorCheck
}

// DoctorOptions controls optional fixes and where provider keys come from.
type DoctorOptions struct {
	GenerateGatewayToken bool
	Keys                 provider.KeySource
}

func (r DoctorReport) HasFailures() bool {
	for _, c := range r.Checks {
		if c.Status == DoctorFail {
			return true
		}
	}
	return false
}

func (r *DoctorReport) add(name string, status DoctorStatus, format string, args ...any) {
	r.Checks = append(r.Checks, DoctorCheck{Name: name, Status: status, Message: fmt.Sprintf(format, args...)})
}

// RunDoctor checks that the daemon can start with the current config. It
// only returns an error when the report itself cannot be built.
func RunDoctor(opts DoctorOptions) (DoctorReport, error) {
	report := DoctorReport{Checks: make([]DoctorCheck, 0, 10)}

	cfgPath, err := config.ConfigPath()
	if err != nil {
		report.add("config_path", DoctorFail, "cannot resolve config path: %v", err)
		return report, nil
	}
	switch _, err := os.Stat(cfgPath); {
	case err == nil:
		report.add("config_file", DoctorPass, "config file found at %s", cfgPath)
	case os.IsNotExist(err):
		report.add("config_file", DoctorWarn, "config file not found at %s (defaults will be used)", cfgPath)
	default:
		report.add("config_file", DoctorFail, "cannot access config file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		report.add("config_load", DoctorFail, "config load failed: %v", err)
		return report, nil
	}
	report.add("config_load", DoctorPass, "config loaded successfully")

	if opts.GenerateGatewayToken {
		token, err := randomToken()
		if err != nil {
			report.add("gateway_token", DoctorFail, "failed to generate token: %v", err)
		} else if err := setValue("gateway.authToken", token); err != nil {
			report.add("gateway_token", DoctorFail, "generated token but failed to save config: %v", err)
		} else {
			cfg.Gateway.AuthToken = token
			report.add("gateway_token", DoctorPass, "generated and saved gateway auth token")
		}
	}

	checkProvider(&report, cfg, opts.Keys)
	checkDatabase(&report, cfg)
	checkChannels(&report, cfg)
	checkGateway(&report, cfg)
	return report, nil
}

func checkProvider(report *DoctorReport, cfg *config.Config, keys provider.KeySource) {
	id := provider.NormalizeProviderID(cfg.AI.Primary)
	switch {
	case provider.APIKeyFor(cfg.AI, id) != "":
		report.add("ai_provider", DoctorPass, "%s key configured", id)
	case keys != nil && keys.ProviderKey(id) != "":
		report.add("ai_provider", DoctorPass, "%s key found in keyring", id)
	default:
		report.add("ai_provider", DoctorFail, "no API key for %s (run 'agentpilot auth set %s')", id, id)
	}
}

func checkDatabase(report *DoctorReport, cfg *config.Config) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		report.add("database", DoctorFail, "cannot open %s: %v", cfg.Database.Path, err)
		return
	}
	_ = st.Close()
	report.add("database", DoctorPass, "database ready at %s", cfg.Database.Path)
}

func checkChannels(report *DoctorReport, cfg *config.Config) {
	ch := cfg.Channels
	enabled := 0
	need := func(name string, on bool, tokens map[string]string) {
		if !on {
			return
		}
		enabled++
		for field, v := range tokens {
			if strings.TrimSpace(v) == "" {
				report.add("channel_"+name, DoctorFail, "%s enabled but %s is empty", name, field)
				return
			}
		}
		report.add("channel_"+name, DoctorPass, "%s credentials present", name)
	}
	need("telegram", ch.Telegram.Enabled, map[string]string{"botToken": ch.Telegram.BotToken})
	need("discord", ch.Discord.Enabled, map[string]string{"botToken": ch.Discord.BotToken})
	need("slack", ch.Slack.Enabled, map[string]string{"botToken": ch.Slack.BotToken, "appToken": ch.Slack.AppToken})
	if enabled == 0 {
		report.add("channels", DoctorWarn, "no chat channel enabled; only the HTTP gateway will run")
	}
}

func checkGateway(report *DoctorReport, cfg *config.Config) {
	if isLoopbackHost(cfg.Gateway.Host) {
		report.add("gateway_loopback", DoctorPass, "gateway.host is loopback (%s)", cfg.Gateway.Host)
		return
	}
	if strings.TrimSpace(cfg.Gateway.AuthToken) == "" {
		report.add("gateway_auth", DoctorFail, "gateway.host is %s but gateway.authToken is empty (run 'agentpilot doctor --generate-gateway-token')", cfg.Gateway.Host)
		return
	}
	report.add("gateway_auth", DoctorWarn, "gateway exposed on %s with token auth", cfg.Gateway.Host)
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

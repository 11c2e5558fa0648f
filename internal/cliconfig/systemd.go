package cliconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ServiceName is the systemd user unit name.
const ServiceName = "agentpilot.service"

// ServiceOptions describes the user-level systemd unit for the gateway.
type ServiceOptions struct {
	BinaryPath string
	// Home is the user's home directory; units go under ~/.config/systemd/user.
	Home    string
	Version string
}

// ServiceResult lists the files InstallService wrote.
type ServiceResult struct {
	UnitPath   string
	EnvPath    string
	EnvCreated bool
}

// InstallService writes the user unit and, when missing, an env file that
// the unit loads. An existing env file is never overwritten.
func InstallService(opts ServiceOptions) (*ServiceResult, error) {
	if opts.BinaryPath == "" {
		return nil, fmt.Errorf("binary path is required")
	}
	if opts.Home == "" {
		return nil, fmt.Errorf("home directory is required")
	}
	unitPath := filepath.Join(opts.Home, ".config", "systemd", "user", ServiceName)
	envPath := envFilePath(opts.Home)

	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(envPath), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(unitPath, []byte(RenderUnit(opts)), 0o644); err != nil {
		return nil, err
	}
	res := &ServiceResult{UnitPath: unitPath, EnvPath: envPath}
	if _, err := os.Stat(envPath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(envPath, []byte(renderEnvFile(opts.Home)), 0o600); err != nil {
			return nil, err
		}
		res.EnvCreated = true
	}
	return res, nil
}

// RenderUnit returns the unit file text.
func RenderUnit(opts ServiceOptions) string {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return strings.Join([]string{
		"[Unit]",
		fmt.Sprintf("Description=AgentPilot assistant daemon (v%s)", version),
		"After=network-online.target",
		"Wants=network-online.target",
		"",
		"[Service]",
		"ExecStart=" + shellEscape(filepath.Clean(opts.BinaryPath)) + " gateway",
		"Restart=on-failure",
		"RestartSec=5",
		"EnvironmentFile=-" + envFilePath(opts.Home),
		"WorkingDirectory=" + opts.Home,
		"",
		"[Install]",
		"WantedBy=default.target",
		"",
	}, "\n")
}

func envFilePath(home string) string {
	return filepath.Join(home, ".config", "agentpilot", "env")
}

func renderEnvFile(home string) string {
	return strings.Join([]string{
		"# AgentPilot runtime environment",
		"# Loaded by the systemd user unit",
		"AGENTPILOT_CONFIG=" + filepath.Join(home, ".agentpilot", "config.json"),
		"# AGENTPILOT_GATEWAY_AUTH_TOKEN=",
		"# AGENTPILOT_LOG_LEVEL=debug",
		"",
	}, "\n")
}

func shellEscape(v string) string {
	if v == "" {
		return "''"
	}
	if strings.IndexFunc(v, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '"' || r == '\'' || r == '\\'
	}) == -1 {
		return v
	}
	return strconv.Quote(v)
}

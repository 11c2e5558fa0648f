package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFileCandidates lists .env files in load order.
func EnvFileCandidates() []string {
	candidates := make([]string, 0, 3)
	if explicit := strings.TrimSpace(os.Getenv("AGENTPILOT_ENV_FILE")); explicit != "" {
		candidates = append(candidates, expandHome(explicit))
	}
	if home, err := resolveHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ConfigDir, ".env"))
	}
	candidates = append(candidates, ".env")
	return candidates
}

// LoadEnvFileCandidates loads environment variables from known files.
// Existing process env vars are never overridden, so earlier files win.
func LoadEnvFileCandidates() {
	seen := map[string]struct{}{}
	for _, p := range EnvFileCandidates() {
		if p == "" {
			continue
		}
		abs := p
		if !filepath.IsAbs(abs) {
			if resolved, err := filepath.Abs(p); err == nil {
				abs = resolved
			}
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		_ = godotenv.Load(abs)
	}
}

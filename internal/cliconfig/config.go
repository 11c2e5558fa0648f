// Package cliconfig backs the config, doctor and service commands: path
// edits on the config file, health checks and service unit generation.
package cliconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentpilot/agentpilot/internal/config"
)

const redacted = "********"

// secretKeys are leaf names whose values Get never prints.
var secretKeys = map[string]struct{}{
	"anthropicapikey":  {},
	"geminiapikey":     {},
	"openrouterapikey": {},
	"openaiapikey":     {},
	"bottoken":         {},
	"apptoken":         {},
	"authtoken":        {},
	"password":         {},
}

// Get returns the effective value at a dot path, e.g. "gateway.port".
// Secrets are redacted.
func Get(path string) (any, error) {
	keys, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	var cur any = m
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path not found: %s", path)
		}
		if cur, ok = obj[k]; !ok {
			return nil, fmt.Errorf("path not found: %s", path)
		}
	}
	return redact(keys[len(keys)-1], cur), nil
}

// Set writes a value into the config file. raw is parsed as JSON when it
// can be, otherwise stored as a string. The result must still decode into
// a valid Config.
func Set(path, raw string) error {
	return setValue(path, parseValue(raw))
}

func setValue(path string, value any) error {
	keys, err := splitPath(path)
	if err != nil {
		return err
	}
	m, cfgPath, err := readFile()
	if err != nil {
		return err
	}
	node := m
	for _, k := range keys[:len(keys)-1] {
		child, ok := node[k].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[k] = child
		}
		node = child
	}
	node[keys[len(keys)-1]] = value
	if err := validate(m); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return writeFile(cfgPath, m)
}

// Unset removes a value from the config file so the default applies again.
func Unset(path string) error {
	keys, err := splitPath(path)
	if err != nil {
		return err
	}
	m, cfgPath, err := readFile()
	if err != nil {
		return err
	}
	node := m
	for _, k := range keys[:len(keys)-1] {
		child, ok := node[k].(map[string]any)
		if !ok {
			return fmt.Errorf("path not found: %s", path)
		}
		node = child
	}
	last := keys[len(keys)-1]
	if _, ok := node[last]; !ok {
		return fmt.Errorf("path not found: %s", path)
	}
	delete(node, last)
	return writeFile(cfgPath, m)
}

func splitPath(path string) ([]string, error) {
	var keys []string
	for _, k := range strings.Split(strings.TrimSpace(path), ".") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("path is empty")
	}
	return keys, nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func redact(key string, v any) any {
	if s, ok := v.(string); ok && s != "" {
		if _, secret := secretKeys[strings.ToLower(key)]; secret {
			return redacted
		}
		return s
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(obj))
	for k, child := range obj {
		out[k] = redact(k, child)
	}
	return out
}

func toMap(cfg *config.Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	return m, json.Unmarshal(data, &m)
}

// validate decodes m over the defaults so a type mismatch is rejected
// before it reaches disk.
func validate(m map[string]any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, config.DefaultConfig())
}

func readFile() (map[string]any, string, error) {
	cfgPath, err := config.ConfigPath()
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(cfgPath)
	if os.IsNotExist(err) {
		return map[string]any{}, cfgPath, nil
	}
	if err != nil {
		return nil, "", err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", cfgPath, err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, cfgPath, nil
}

func writeFile(cfgPath string, m map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cfgPath, append(data, '\n'), 0o600)
}

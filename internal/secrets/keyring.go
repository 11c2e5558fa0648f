// Package secrets stores provider API keys and channel tokens in the OS
// keyring (Secret Service, Keychain, Credential Manager).
package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const keyringService = "agentpilot"

// ErrNotFound is returned when no secret is stored under a name.
var ErrNotFound = errors.New("secret not found")

// Providers that accept an API key through the keyring.
var Providers = []string{"anthropic", "gemini", "openrouter", "openai"}

// Keyring reads and writes secrets under one keyring service.
type Keyring struct {
	service string
}

// New returns a Keyring for the agentpilot service.
func New() *Keyring {
	return &Keyring{service: keyringService}
}

// Set stores value under name.
func (k *Keyring) Set(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("empty secret for %s", name)
	}
	return keyring.Set(k.service, name, value)
}

// Get returns the secret stored under name, or ErrNotFound.
func (k *Keyring) Get(name string) (string, error) {
	v, err := keyring.Get(k.service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// Delete removes the secret stored under name. Missing secrets are not an error.
func (k *Keyring) Delete(name string) error {
	err := keyring.Delete(k.service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// ProviderKeyName maps a provider id to its keyring entry name.
func ProviderKeyName(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider)) + "_api_key"
}

// ProviderKey returns the stored API key for provider, or "" when absent or
// when the keyring is unavailable.
func (k *Keyring) ProviderKey(provider string) string {
	v, err := k.Get(ProviderKeyName(provider))
	if err != nil {
		return ""
	}
	return v
}

// IsProvider reports whether name is a known provider id.
func IsProvider(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range Providers {
		if p == name {
			return true
		}
	}
	return false
}

package secrets

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestKeyringRoundTrip(t *testing.T) {
	keyring.MockInit()
	k := New()

	if _, err := k.Get("anthropic_api_key"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := k.Set(ProviderKeyName("Anthropic"), "sk-ant"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := k.ProviderKey("anthropic"); got != "sk-ant" {
		t.Fatalf("expected stored key, got %q", got)
	}
	if err := k.Delete(ProviderKeyName("anthropic")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := k.Delete(ProviderKeyName("anthropic")); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
	if got := k.ProviderKey("anthropic"); got != "" {
		t.Fatalf("expected empty after delete, got %q", got)
	}
}

func TestSetRejectsEmpty(t *testing.T) {
	keyring.MockInit()
	if err := New().Set("x", "  "); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestIsProvider(t *testing.T) {
	for _, p := range []string{"anthropic", "GEMINI", " openrouter ", "openai"} {
		if !IsProvider(p) {
			t.Errorf("expected %q to be a provider", p)
		}
	}
	if IsProvider("xai") {
		t.Error("xai is not supported")
	}
}

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentpilot/agentpilot/internal/config"
)

func TestOpenAIProvider_ParseToolCallResponse(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
				{"id":"call_123","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"/tmp/test.txt\"}"}}
			]},"finish_reason":"tool_calls"}],
			"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", server.URL, "test-model")
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "Read the file"}},
		Tools:    []ToolDefinition{NewToolDefinition("read_file", "Read a file", map[string]any{"type": "object"})},
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotBody["model"] != "test-model" || gotBody["tool_choice"] != "auto" {
		t.Errorf("unexpected request body %v", gotBody)
	}
	if _, ok := gotBody["max_tokens"]; ok {
		t.Error("max_tokens should be omitted when zero")
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "read_file" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["path"] != "/tmp/test.txt" {
		t.Errorf("expected path argument, got %v", resp.ToolCalls[0].Arguments)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("expected total_tokens 15, got %d", resp.Usage.TotalTokens)
	}
}

func TestOpenAIProvider_APIErrorIsProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "Invalid API key"}`))
	}))
	defer server.Close()

	p := NewOpenRouterProvider("bad-key", server.URL, "")
	_, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Provider != "openrouter" || perr.Code() != "PROVIDER_ERROR" {
		t.Fatalf("unexpected provider error %+v", perr)
	}
	if !strings.Contains(err.Error(), "status 401") {
		t.Fatalf("expected status in message, got %q", err.Error())
	}
}

func TestAnthropicProvider_Chat(t *testing.T) {
	var got anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "ak" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic headers: %v", r.Header)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{
			"content":[{"type":"text","text":"Let me check."},{"type":"tool_use","id":"tu_1","name":"list_notes","input":{"limit":5}}],
			"stop_reason":"tool_use","usage":{"input_tokens":7,"output_tokens":3}}`))
	}))
	defer server.Close()

	p := NewAnthropicProvider("ak", server.URL, "")
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "notes?"},
		},
		Tools: []ToolDefinition{NewToolDefinition("list_notes", "List notes", nil)},
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if got.System != "be brief" || len(got.Messages) != 1 || got.Messages[0].Role != RoleUser {
		t.Fatalf("system message not lifted: %+v", got)
	}
	if got.MaxTokens != anthropicMaxTokens {
		t.Fatalf("expected default max tokens, got %d", got.MaxTokens)
	}
	if len(got.Tools) != 1 || got.Tools[0].InputSchema["type"] != "object" {
		t.Fatalf("expected default input schema, got %+v", got.Tools)
	}
	if resp.Content != "Let me check." || len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "tu_1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Fatalf("expected 10 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestGeminiProvider_Chat(t *testing.T) {
	var got geminiRequest
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[
			{"functionCall":{"name":"web_search","args":{"query":"go"}}},
			{"functionCall":{"name":"browse_web","args":{"url":"https://go.dev"}}}
		]},"finishReason":"STOP"}]}`))
	}))
	defer server.Close()

	p := NewGeminiProvider("gk", server.URL, "gemini-test")
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "sys"},
			{Role: RoleUser, Content: "q"},
			{Role: RoleAssistant, Content: "a"},
		},
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if gotKey != "gk" {
		t.Fatalf("expected key query param, got %q", gotKey)
	}
	if got.SystemInstruction == nil || len(got.Contents) != 2 || got.Contents[1].Role != "model" {
		t.Fatalf("unexpected gemini request %+v", got)
	}
	if len(resp.ToolCalls) != 2 || resp.ToolCalls[0].ID == resp.ToolCalls[1].ID {
		t.Fatalf("expected two distinct tool calls, got %+v", resp.ToolCalls)
	}
}

func TestGeminiProvider_NoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	_, err := NewGeminiProvider("gk", server.URL, "").Chat(context.Background(), &ChatRequest{})
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Provider != "gemini" {
		t.Fatalf("expected gemini ProviderError, got %v", err)
	}
}

type staticKeys map[string]string

func (s staticKeys) ProviderKey(p string) string { return s[p] }

func TestResolve(t *testing.T) {
	cases := []struct {
		name    string
		ai      config.AIConfig
		keys    KeySource
		want    string
		wantErr string
	}{
		{name: "anthropic from config", ai: config.AIConfig{Primary: "anthropic", AnthropicAPIKey: "k"}, want: "*provider.AnthropicProvider"},
		{name: "alias", ai: config.AIConfig{Primary: "Claude", AnthropicAPIKey: "k"}, want: "*provider.AnthropicProvider"},
		{name: "gemini from keyring", ai: config.AIConfig{Primary: "gemini"}, keys: staticKeys{"gemini": "g"}, want: "*provider.GeminiProvider"},
		{name: "openrouter", ai: config.AIConfig{Primary: "openrouter", OpenRouterAPIKey: "k"}, want: "*provider.OpenAIProvider"},
		{name: "openai", ai: config.AIConfig{Primary: "openai", OpenAIAPIKey: "k"}, want: "*provider.OpenAIProvider"},
		{name: "missing key", ai: config.AIConfig{Primary: "openai"}, wantErr: "OPENAI_API_KEY"},
		{name: "unknown", ai: config.AIConfig{Primary: "mystery"}, wantErr: "unknown AI provider"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Resolve(tc.ai, tc.keys)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got := typeName(p); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestResolveUsesConfiguredModel(t *testing.T) {
	p, err := Resolve(config.AIConfig{Primary: "anthropic", AnthropicAPIKey: "k", Model: "claude-x"}, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.DefaultModel() != "claude-x" {
		t.Fatalf("expected configured model, got %q", p.DefaultModel())
	}
}

func typeName(p LLMProvider) string {
	switch p.(type) {
	case *AnthropicProvider:
		return "*provider.AnthropicProvider"
	case *GeminiProvider:
		return "*provider.GeminiProvider"
	case *OpenAIProvider:
		return "*provider.OpenAIProvider"
	}
	return "unknown"
}

package models

import (
	"context"
	"strings"
	"testing"

	"github.com/aria-labs/ai-companion/src/config"
)

func TestDummyLLM(t *testing.T) {
	d := NewDummyLLM("")
	got, err := d.Generate(context.Background(), "", "hello\nworld\n")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Dummy response: world" {
		t.Fatalf("got %q", got)
	}

	got, err = d.Generate(context.Background(), "system", "   ")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(got, "<empty prompt>") {
		t.Fatalf("got %q", got)
	}
}

func TestNewLLMProviderDispatch(t *testing.T) {
	for _, tc := range []struct {
		provider config.Provider
		key      string
		wantErr  bool
	}{
		{config.ProviderGroq, "gk", false},
		{config.ProviderOpenAI, "ok", false},
		{config.ProviderAnthropic, "ak", false},
		{config.Provider("mystery"), "x", true},
	} {
		cfg := &config.Settings{
			LLMProvider:     tc.provider,
			GroqAPIKey:      tc.key,
			OpenAIAPIKey:    tc.key,
			AnthropicAPIKey: tc.key,
		}
		agent, err := NewLLMProvider(cfg, "some-model")
		if tc.wantErr {
			if err == nil {
				t.Fatalf("provider %q: expected error", tc.provider)
			}
			continue
		}
		if err != nil {
			t.Fatalf("provider %q: %v", tc.provider, err)
		}
		if agent == nil {
			t.Fatalf("provider %q: nil agent", tc.provider)
		}
	}
}

func TestNewLLMProviderRequiresKey(t *testing.T) {
	cfg := &config.Settings{LLMProvider: config.ProviderGroq}
	if _, err := NewLLMProvider(cfg, "some-model"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

package llm

import (
	"errors"
	"testing"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
)

func TestSearchModelOverrides(t *testing.T) {
	t.Parallel()

	cfg := Config{Model: "base", Temperature: 0.5, MaxCompletionToken: 100, SearchTemperature: -1}
	if got := cfg.Search(); got.Name != "base" || got.Temperature != 0.5 || got.MaxTokens != 100 {
		t.Fatalf("unexpected default search model: %+v", got)
	}

	cfg.SearchModel = " perplexity/sonar "
	cfg.SearchTemperature = 0
	got := cfg.Search()
	if got.Name != "perplexity/sonar" {
		t.Fatalf("unexpected model name: %q", got.Name)
	}
	if got.Temperature != 0 {
		t.Fatalf("unexpected temperature: %v", got.Temperature)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := (Config{}).Validate(); err != nil {
		t.Fatalf("disabled config must validate: %v", err)
	}
	err := Config{APIKey: "k"}.Validate()
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !(Config{APIKey: "k", Model: "m"}).Enabled() {
		t.Fatal("expected enabled config")
	}
}

func TestOpenRouterCarriesModel(t *testing.T) {
	t.Parallel()

	cfg := Config{BaseURL: " https://openrouter.ai/api/v1 ", APIKey: " k ", SiteName: "voice"}
	got := cfg.OpenRouter(Model{Name: "perplexity/sonar", Temperature: 0.25, MaxTokens: 300})
	if got.BaseURL != "https://openrouter.ai/api/v1" || got.APIKey != "k" || got.Model != "perplexity/sonar" {
		t.Fatalf("unexpected openrouter config: %+v", got)
	}
	if got.Temperature != 0.25 || got.MaxCompletionToken == nil || *got.MaxCompletionToken != 300 {
		t.Fatalf("unexpected sampling settings: %+v", got)
	}
	if cfg.OpenRouter(Model{Name: "m"}).MaxCompletionToken != nil {
		t.Fatal("zero max tokens must leave the limit unset")
	}
}

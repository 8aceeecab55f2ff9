package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
	openrouterx "github.com/tanpawarit/voice-agent-orchestrator/pkg/openrouter"
)

// Config is read with the OPENROUTER prefix. An empty API key disables the
// agents that need a chat model.
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" default:"openai/gpt-4o-mini"`
	MaxCompletionToken int64         `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"400"`
	Temperature        float64       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	SearchModel       string  `envconfig:"SEARCH_MODEL" split_words:"true"`
	SearchTemperature float64 `envconfig:"SEARCH_TEMPERATURE" split_words:"true" default:"-1"`
}

// Model settings for one agent.
type Model struct {
	Name        string
	Temperature float64
	MaxTokens   int64
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

func (c Config) Validate() error {
	if c.Enabled() && strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	if c.MaxCompletionToken < 0 {
		return fmt.Errorf("%w: max completion token must not be negative", contractx.ErrValidation)
	}
	return nil
}

// OpenRouter returns the client settings for model m.
func (c Config) OpenRouter(m Model) openrouterx.Config {
	out := openrouterx.Config{
		BaseURL:     strings.TrimSpace(c.BaseURL),
		APIKey:      strings.TrimSpace(c.APIKey),
		Model:       m.Name,
		Temperature: float32(m.Temperature),
		Timeout:     c.Timeout,
		SiteURL:     strings.TrimSpace(c.SiteURL),
		SiteName:    strings.TrimSpace(c.SiteName),
	}
	if m.MaxTokens > 0 {
		maxTokens := int(m.MaxTokens)
		out.MaxCompletionToken = &maxTokens
	}
	return out
}

// Search returns the model used by the search agent.
func (c Config) Search() Model {
	m := Model{
		Name:        strings.TrimSpace(c.Model),
		Temperature: c.Temperature,
		MaxTokens:   c.MaxCompletionToken,
	}
	if v := strings.TrimSpace(c.SearchModel); v != "" {
		m.Name = v
	}
	if c.SearchTemperature >= 0 {
		m.Temperature = c.SearchTemperature
	}
	return m
}

package tool

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
	llmx "github.com/tanpawarit/voice-agent-orchestrator/agent/llm"
)

// Config is read with the AGENTS prefix.
type Config struct {
	CoinGeckoURL    string        `envconfig:"COINGECKO_URL" default:"https://api.coingecko.com/api/v3"`
	CoinGeckoAPIKey string        `envconfig:"COINGECKO_API_KEY"`
	RPCURLs         ChainURLs     `envconfig:"RPC_URLS" default:"ethereum=https://cloudflare-eth.com"`
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" split_words:"true" default:"5m"`
	HTTPTimeout     time.Duration `envconfig:"HTTP_TIMEOUT" split_words:"true" default:"10s"`
	SearchPerMinute int           `envconfig:"SEARCH_PER_MINUTE" split_words:"true" default:"20"`
}

func (c Config) Validate() error {
	if len(c.RPCURLs) == 0 {
		return fmt.Errorf("%w: at least one rpc url is required", contractx.ErrValidation)
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("%w: refresh interval must not be negative", contractx.ErrValidation)
	}
	return nil
}

// ChainURLs maps a chain name to its RPC endpoint. It decodes from
// "chain=url;chain=url" so URLs keep their colons.
type ChainURLs map[string]string

func (c *ChainURLs) Decode(value string) error {
	out := ChainURLs{}
	for _, pair := range strings.Split(value, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		chain, endpoint, ok := strings.Cut(pair, "=")
		chain, endpoint = strings.ToLower(strings.TrimSpace(chain)), strings.TrimSpace(endpoint)
		if !ok || chain == "" || endpoint == "" {
			return fmt.Errorf("invalid rpc url %q, want chain=url", pair)
		}
		out[chain] = endpoint
	}
	*c = out
	return nil
}

// Deps are the collaborators of the default agents. Agents whose
// collaborator is missing are left out of the catalog.
type Deps struct {
	HTTPClient  *http.Client
	Directory   Directory
	LLM         model.BaseChatModel
	SearchModel llmx.Model
	Now         func() time.Time
}

// BuildDefault returns the agents to register, in registration order.
func BuildDefault(cfg Config, deps Deps) []contractx.Agent {
	agents := []contractx.Agent{
		NewCalculator(),
		NewBalanceChecker(cfg, deps.HTTPClient, deps.Now),
	}
	if deps.Directory != nil {
		agents = append(agents, NewPhoneWalletLookup(deps.Directory))
	}
	if deps.LLM != nil {
		agents = append(agents, NewSearch(deps.LLM, deps.SearchModel, cfg.SearchPerMinute))
	}
	return agents
}

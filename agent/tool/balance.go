package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
	logx "github.com/tanpawarit/voice-agent-orchestrator/pkg/logger"
)

const (
	NameCheckBalance = "check_balance"

	priceCacheTTL  = 5 * time.Minute
	maxBodyBytes   = 1 << 20
	defaultCoinID  = "ethereum"
	weiPerEtherExp = 18
	quoteCurrency  = "usd"

	coinGeckoProHeader  = "x-cg-pro-api-key"
	coinGeckoDemoHeader = "x-cg-demo-api-key"
)

var errRPC = errors.New("json-rpc call failed")

// nativeCoins maps a chain to the CoinGecko id of its gas token.
var nativeCoins = map[string]string{
	"ethereum": "ethereum",
	"arbitrum": "ethereum",
	"optimism": "ethereum",
	"base":     "ethereum",
	"zksync":   "ethereum",
	"unichain": "ethereum",
	"polygon":  "matic-network",
}

type BalanceArgs struct {
	Wallet string   `json:"wallet" jsonschema:"wallet address starting with 0x. Use phone_wallet_lookup first when only a phone number is known"`
	Chains []string `json:"chains,omitempty" jsonschema:"chains to check, defaults to every supported chain"`
}

type ChainBalance struct {
	Chain          string  `json:"chain"`
	NativeBalance  float64 `json:"nativeBalance"`
	NativeUSDPrice float64 `json:"nativeUsdPrice"`
	NativeUSDValue float64 `json:"nativeUsdValue"`
}

type BalanceResult struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message"`
	Details  []ChainBalance `json:"details"`
	TotalUSD float64        `json:"totalUsd"`
}

type cachedPrice struct {
	usd float64
	at  time.Time
}

// BalanceChecker reports native balances through an Ethereum JSON-RPC
// client per chain and values them with CoinGecko prices.
type BalanceChecker struct {
	spec     argSpec
	activity *activity
	log      zerolog.Logger

	rpcURLs      map[string]string
	chains       []string
	coinGeckoURL string
	apiKey       string
	apiKeyHeader string
	interval     time.Duration
	httpClient   *http.Client
	now          func() time.Time
	breaker      *gobreaker.CircuitBreaker[float64]

	clientsMu sync.Mutex
	clients   map[string]*ethclient.Client

	mu            sync.Mutex
	prices        map[string]cachedPrice
	vsCurrencies  []string
	lastRefresh   time.Time
	lastRefreshBy string
}

var (
	_ contractx.Agent             = (*BalanceChecker)(nil)
	_ contractx.Refreshable       = (*BalanceChecker)(nil)
	_ contractx.IntervalDeclaring = (*BalanceChecker)(nil)
)

func NewBalanceChecker(cfg Config, httpClient *http.Client, now func() time.Time) *BalanceChecker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if now == nil {
		now = time.Now
	}

	chains := make([]string, 0, len(cfg.RPCURLs))
	rpcURLs := make(map[string]string, len(cfg.RPCURLs))
	for chain, u := range cfg.RPCURLs {
		key := strings.ToLower(strings.TrimSpace(chain))
		if key == "" || strings.TrimSpace(u) == "" {
			continue
		}
		rpcURLs[key] = strings.TrimSpace(u)
		chains = append(chains, key)
	}
	slices.Sort(chains)

	coinGeckoURL := strings.TrimRight(cfg.CoinGeckoURL, "/")
	apiKeyHeader := coinGeckoDemoHeader
	if strings.Contains(coinGeckoURL, "pro-api.") {
		apiKeyHeader = coinGeckoProHeader
	}

	b := &BalanceChecker{
		activity:     newActivity(),
		log:          logx.Component("agent." + NameCheckBalance),
		rpcURLs:      rpcURLs,
		chains:       chains,
		coinGeckoURL: coinGeckoURL,
		apiKey:       strings.TrimSpace(cfg.CoinGeckoAPIKey),
		apiKeyHeader: apiKeyHeader,
		interval:     cfg.RefreshInterval,
		httpClient:   httpClient,
		now:          now,
		clients:      make(map[string]*ethclient.Client),
		prices:       make(map[string]cachedPrice),
	}
	b.spec = mustArgSpec[BalanceArgs](func(s *jsonschema.Schema) {
		setProperty(s, "wallet", func(p *jsonschema.Schema) {
			p.Pattern = "^0x[0-9a-fA-F]{40}$"
		})
		setProperty(s, "chains", func(p *jsonschema.Schema) {
			if p.Items != nil && len(chains) > 0 {
				enum := make([]any, len(chains))
				for i, c := range chains {
					enum[i] = c
				}
				p.Items.Enum = enum
			}
		})
	})
	b.breaker = gobreaker.NewCircuitBreaker[float64](gobreaker.Settings{
		Name:        "coingecko",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return b
}

func (b *BalanceChecker) Name() string { return NameCheckBalance }

func (b *BalanceChecker) Description() string {
	return "Checks the native token balance of a wallet on the supported chains and values it in USD."
}

func (b *BalanceChecker) ParametersSchema() json.RawMessage { return b.spec.raw }

func (b *BalanceChecker) ContextInfo() string {
	b.mu.Lock()
	refreshed, caller, n := b.lastRefresh, b.lastRefreshBy, len(b.vsCurrencies)
	b.mu.Unlock()

	info := b.activity.get()
	if refreshed.IsZero() {
		return info
	}
	env := fmt.Sprintf(" Quote currencies: %d, refreshed %s", n, refreshed.UTC().Format(time.RFC3339))
	if caller != "" {
		env += " for caller " + caller
	}
	return info + env + "."
}

func (b *BalanceChecker) RefreshInterval() time.Duration { return b.interval }

func (b *BalanceChecker) ShouldRefreshEnvironment(context.Context) bool {
	if b.interval <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRefresh.IsZero() || b.now().Sub(b.lastRefresh) >= b.interval
}

// RefreshEnvironment records who the agent now works for. The quote
// currency list is reloaded on a best-effort basis: a CoinGecko failure keeps
// the previous list and does not fail the refresh.
func (b *BalanceChecker) RefreshEnvironment(ctx context.Context, env contractx.Environment) error {
	var currencies []string
	err := b.getJSON(ctx, b.coinGeckoURL+"/simple/supported_vs_currencies", &currencies)
	if err != nil {
		b.log.Warn().Err(err).Msg("quote currency refresh failed")
	} else {
		slices.Sort(currencies)
	}

	b.mu.Lock()
	if err == nil {
		b.vsCurrencies = currencies
	}
	b.lastRefresh = b.now()
	b.lastRefreshBy = env.String(contractx.EnvCaller)
	b.mu.Unlock()

	b.activity.set("Environment refreshed.")
	return nil
}

// QuoteCurrencies returns the list loaded by the last refresh.
func (b *BalanceChecker) QuoteCurrencies() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.vsCurrencies)
}

func (b *BalanceChecker) HandleTask(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := decodeArgs[BalanceArgs](b.spec, args)
	if err != nil {
		b.activity.set("Rejected balance request with invalid arguments.")
		return nil, err
	}

	chains := b.chains
	if len(in.Chains) > 0 {
		chains = make([]string, 0, len(in.Chains))
		for _, c := range in.Chains {
			key := strings.ToLower(strings.TrimSpace(c))
			if _, ok := b.rpcURLs[key]; !ok {
				return nil, fmt.Errorf("%w: unsupported chain %q", contractx.ErrValidation, c)
			}
			chains = append(chains, key)
		}
	}
	if len(chains) == 0 {
		return nil, fmt.Errorf("%w: no chains configured", contractx.ErrValidation)
	}

	b.activity.set("Checking balance of %s on %d chain(s).", in.Wallet, len(chains))

	result := BalanceResult{Success: true, Details: make([]ChainBalance, 0, len(chains))}
	for _, chain := range chains {
		balance, err := b.nativeBalance(ctx, chain, in.Wallet)
		if err != nil {
			b.activity.set("Balance check failed on %s.", chain)
			return nil, fmt.Errorf("chain=%s: %w", chain, err)
		}

		row := ChainBalance{Chain: chain, NativeBalance: balance}
		coin := nativeCoins[chain]
		if coin == "" {
			coin = defaultCoinID
		}
		if price, err := b.priceUSD(ctx, coin); err != nil {
			b.log.Warn().Err(err).Str("coin", coin).Msg("price lookup failed")
		} else {
			row.NativeUSDPrice = price
			row.NativeUSDValue = balance * price
		}

		result.Details = append(result.Details, row)
		result.TotalUSD += row.NativeUSDValue
	}

	result.Message = fmt.Sprintf("Aggregated portfolio value: $%.2f.", result.TotalUSD)
	b.activity.set("Checked balance of %s: $%.2f.", in.Wallet, result.TotalUSD)
	return result, nil
}

func (b *BalanceChecker) nativeBalance(ctx context.Context, chain, wallet string) (float64, error) {
	client, err := b.client(ctx, chain)
	if err != nil {
		return 0, err
	}
	wei, err := client.BalanceAt(ctx, common.HexToAddress(wallet), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errRPC, err)
	}
	return weiToEther(wei), nil
}

// client dials the chain's RPC endpoint once and reuses the connection.
func (b *BalanceChecker) client(ctx context.Context, chain string) (*ethclient.Client, error) {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()

	if c, ok := b.clients[chain]; ok {
		return c, nil
	}
	raw, err := rpc.DialOptions(ctx, b.rpcURLs[chain], rpc.WithHTTPClient(b.httpClient))
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", errRPC, chain, err)
	}
	c := ethclient.NewClient(raw)
	b.clients[chain] = c
	return c, nil
}

// Close releases the RPC clients.
func (b *BalanceChecker) Close() {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()
	for chain, c := range b.clients {
		c.Close()
		delete(b.clients, chain)
	}
}

func weiToEther(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(weiPerEtherExp), nil)
	ether, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), new(big.Float).SetInt(scale)).Float64()
	return ether
}

func (b *BalanceChecker) priceUSD(ctx context.Context, coin string) (float64, error) {
	b.mu.Lock()
	cached, ok := b.prices[coin]
	b.mu.Unlock()
	if ok && b.now().Sub(cached.at) < priceCacheTTL {
		return cached.usd, nil
	}

	price, err := b.breaker.Execute(func() (float64, error) {
		q := url.Values{}
		q.Set("ids", coin)
		q.Set("vs_currencies", quoteCurrency)

		var out map[string]map[string]float64
		if err := b.getJSON(ctx, b.coinGeckoURL+"/simple/price?"+q.Encode(), &out); err != nil {
			return 0, err
		}
		usd, ok := out[coin][quoteCurrency]
		if !ok {
			return 0, fmt.Errorf("usd price not found for coin %s", coin)
		}
		return usd, nil
	})
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	b.prices[coin] = cachedPrice{usd: price, at: b.now()}
	b.mu.Unlock()
	return price, nil
}

func (b *BalanceChecker) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if b.apiKey != "" {
		req.Header.Set(b.apiKeyHeader, b.apiKey)
	}
	return b.do(req, out)
}

func (b *BalanceChecker) do(req *http.Request, out any) error {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// DexScreener defaults.
const (
	DefaultDexScreenerURL    = "https://api.dexscreener.com"
	DefaultGeckoTerminalURL  = "https://api.geckoterminal.com/api/v2"
	DefaultHTTPTimeout       = 20 * time.Second
	DefaultDexRequestsPerSec = 4
	solanaChain              = "solana"
	geckoTokenIDPrefix       = "solana_"
)

// flexFloat decodes a JSON number, numeric string or null.
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = flexFloat{}
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = flexFloat{}
		return nil
	}
	*f = flexFloat{Value: v, Valid: true}
	return nil
}

func (f flexFloat) ptr(scale float64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Value * scale
	return &v
}

// Pair is a DexScreener trading pair.
type Pair struct {
	ChainID   string `json:"chainId"`
	PairAddr  string `json:"pairAddress"`
	BaseToken struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	Liquidity struct {
		USD flexFloat `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H1 flexFloat `json:"h1"`
	} `json:"volume"`
	PriceChange struct {
		M5 flexFloat `json:"m5"`
		H1 flexFloat `json:"h1"`
	} `json:"priceChange"`
	Txns struct {
		H1 *struct {
			Buys  int `json:"buys"`
			Sells int `json:"sells"`
		} `json:"h1"`
	} `json:"txns"`
	Spread      flexFloat `json:"spread"`
	PriceSpread flexFloat `json:"priceSpread"`
}

type pairsResponse struct {
	Pairs []Pair `json:"pairs"`
}

// HTTPOptions configures the market data clients.
type HTTPOptions struct {
	BaseURL        string
	Timeout        time.Duration // default DefaultHTTPTimeout
	RequestsPerSec float64       // default DefaultDexRequestsPerSec
}

// DexScreener reads pair statistics from the DexScreener API.
type DexScreener struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// NewDexScreener creates a DexScreener client.
func NewDexScreener(opts HTTPOptions) *DexScreener {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultDexScreenerURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultHTTPTimeout
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = DefaultDexRequestsPerSec
	}
	return &DexScreener{
		http:    resty.New().SetBaseURL(opts.BaseURL).SetTimeout(opts.Timeout),
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
	}
}

// TokenPairs returns the pairs trading the mint.
func (d *DexScreener) TokenPairs(ctx context.Context, mint string) ([]Pair, error) {
	return d.pairs(ctx, "/latest/dex/tokens/"+url.PathEscape(mint), nil)
}

// Search returns the pairs matching a free-text query.
func (d *DexScreener) Search(ctx context.Context, query string) ([]Pair, error) {
	return d.pairs(ctx, "/latest/dex/search", map[string]string{"q": query})
}

func (d *DexScreener) pairs(ctx context.Context, path string, params map[string]string) ([]Pair, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := d.http.R().SetContext(ctx).SetQueryParams(params).Get(path)
	if err != nil {
		return nil, fmt.Errorf("dexscreener %s: %w", path, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("dexscreener %s: http %d", path, resp.StatusCode())
	}
	var out pairsResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("dexscreener %s: decode: %w", path, err)
	}
	return out.Pairs, nil
}

// BestPair returns the Solana pair with the deepest liquidity, optionally
// restricted to a base token symbol. Returns nil when nothing matches.
func BestPair(pairs []Pair, symbol string) *Pair {
	var candidates []Pair
	for _, p := range pairs {
		if !strings.EqualFold(p.ChainID, solanaChain) {
			continue
		}
		if symbol != "" && !strings.EqualFold(p.BaseToken.Symbol, symbol) {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Liquidity.USD.Value > candidates[j].Liquidity.USD.Value
	})
	return &candidates[0]
}

// GeckoPool is a trending pool reported by GeckoTerminal.
type GeckoPool struct {
	Symbol       string
	Contract     string
	LiquidityUSD float64
	Volume1h     float64
}

type geckoResponse struct {
	Data []struct {
		Attributes struct {
			Name         string    `json:"name"`
			ReserveInUSD flexFloat `json:"reserve_in_usd"`
			VolumeUSD    struct {
				H1 flexFloat `json:"h1"`
			} `json:"volume_usd"`
		} `json:"attributes"`
		Relationships struct {
			BaseToken struct {
				Data struct {
					ID string `json:"id"`
				} `json:"data"`
			} `json:"base_token"`
		} `json:"relationships"`
	} `json:"data"`
}

// GeckoTerminal lists trending Solana pools.
type GeckoTerminal struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// NewGeckoTerminal creates a GeckoTerminal client.
func NewGeckoTerminal(opts HTTPOptions) *GeckoTerminal {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultGeckoTerminalURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultHTTPTimeout
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 0.5
	}
	return &GeckoTerminal{
		http:    resty.New().SetBaseURL(opts.BaseURL).SetTimeout(opts.Timeout),
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
	}
}

// Trending returns the first page of trending Solana pools.
func (g *GeckoTerminal) Trending(ctx context.Context) ([]GeckoPool, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParam("page", "1").
		Get("/networks/solana/trending_pools")
	if err != nil {
		return nil, fmt.Errorf("trending pools: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("trending pools: http %d", resp.StatusCode())
	}
	var body geckoResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("trending pools: decode: %w", err)
	}

	pools := make([]GeckoPool, 0, len(body.Data))
	for _, d := range body.Data {
		a := d.Attributes
		sym := strings.TrimSpace(strings.SplitN(a.Name, "/", 2)[0])
		pools = append(pools, GeckoPool{
			Symbol:       strings.ToUpper(sym),
			Contract:     strings.TrimPrefix(d.Relationships.BaseToken.Data.ID, geckoTokenIDPrefix),
			LiquidityUSD: a.ReserveInUSD.Value,
			Volume1h:     a.VolumeUSD.H1.Value,
		})
	}
	return pools, nil
}

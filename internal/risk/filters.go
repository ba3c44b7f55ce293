package risk

import (
	"fmt"
	"strings"

	"solana-hype-trader/internal/domain"
)

// Filters are pre-trade checks applied to a candidate before the oracle call.
type Filters struct {
	BlockedMints    []string
	BlockedSymbols  []string // substring patterns, case-insensitive
	MaxSpreadBps    float64
	MinLiquidityUSD float64
	MinTxnsH1       int
}

// DefaultFilters returns the default market gates with empty blocklists.
func DefaultFilters() Filters {
	return Filters{
		MaxSpreadBps:    1000,
		MinLiquidityUSD: 5000,
		MinTxnsH1:       5,
	}
}

// Blocklisted reports whether the mint or symbol is blocked.
func (f Filters) Blocklisted(symbol, mint string) (bool, string) {
	if mint != "" {
		for _, m := range f.BlockedMints {
			if strings.EqualFold(m, mint) {
				return true, "mint in blocklist"
			}
		}
	}
	sym := strings.ToUpper(symbol)
	if sym != "" {
		for _, pat := range f.BlockedSymbols {
			if pat != "" && strings.Contains(sym, strings.ToUpper(pat)) {
				return true, "symbol in blocklist"
			}
		}
	}
	return false, ""
}

// FailsGates reports whether the market snapshot fails the liquidity, activity
// or spread gates. Optional fields are only checked when present.
func (f Filters) FailsGates(m *domain.MarketSnapshot) (bool, string) {
	if m == nil {
		return true, "no market snapshot"
	}
	if m.LiquidityUSD < f.MinLiquidityUSD {
		return true, fmt.Sprintf("liq_usd<%g", f.MinLiquidityUSD)
	}
	if m.TxnsH1 != nil && *m.TxnsH1 < f.MinTxnsH1 {
		return true, fmt.Sprintf("txns_h1<%d", f.MinTxnsH1)
	}
	if m.SpreadBps != nil && f.MaxSpreadBps > 0 && *m.SpreadBps > f.MaxSpreadBps {
		return true, fmt.Sprintf("spread_bps>%g", f.MaxSpreadBps)
	}
	return false, ""
}

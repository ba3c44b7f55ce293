package domain

import "time"

// MarketSnapshot holds the latest market stats for a symbol.
// Replaced wholesale on every refresh; optional fields are nil when the
// provider did not report them.
type MarketSnapshot struct {
	Symbol       string    `json:"symbol"`
	Contract     string    `json:"contract"`        // token mint
	LiquidityUSD float64   `json:"liq_usd"`         // pool liquidity
	Volume1h     float64   `json:"vol_1h"`          // hourly volume (USD)
	Return5m     *float64  `json:"ret_5m"`          // fractional return over 5 minutes
	Return1h     *float64  `json:"price_change_1h"` // fractional return over 1 hour
	SpreadBps    *float64  `json:"spread_bps"`      // bid/ask spread in basis points
	TxnsH1       *int      `json:"txns_h1"`         // buys+sells over the last hour
	UpdatedAt    time.Time `json:"updated_at"`
}

// Package scoring fuses hype, market and news subscores into a decision score.
package scoring

import (
	"math"
	"net/url"
	"strings"

	"solana-hype-trader/internal/domain"
)

// Fusion weights. They sum to 1.
const (
	WeightHype   = 0.417
	WeightMarket = 0.333
	WeightNews   = 0.25
)

// DefaultTrustedDomains are the news domains that count as confirmation.
var DefaultTrustedDomains = []string{"coindesk.com", "cointelegraph.com", "decrypt.co"}

// MarketScore scores a snapshot. Optional inputs contribute only when present;
// a reported hourly transaction count of zero is penalised.
func MarketScore(m *domain.MarketSnapshot) float64 {
	if m == nil {
		return 0
	}

	score := 0.5 * math.Pow(math.Max(0, m.Volume1h), 0.3)
	if m.TxnsH1 != nil {
		if *m.TxnsH1 > 0 {
			score += 0.3 * math.Pow(float64(*m.TxnsH1), 0.3)
		} else {
			score -= 0.5
		}
	}
	if m.Return5m != nil {
		score += 0.4 * *m.Return5m
	}
	if m.Return1h != nil {
		score += 0.2 * *m.Return1h
	}
	if m.SpreadBps != nil {
		score -= math.Min(10, 0.2*math.Max(0, *m.SpreadBps)/100)
	}
	score += 0.2 * math.Pow(math.Max(0, m.LiquidityUSD), 0.2)
	return score
}

// NewsScore scores news mentions: 0.8 when any item comes from a trusted
// domain, plus 0.3*min(3, sqrt(count)).
func NewsScore(items []domain.NewsItem, trusted []string) float64 {
	score := 0.0
	if HasTrustedSource(items, trusted) {
		score = 0.8
	}
	return score + 0.3*math.Min(3, math.Sqrt(float64(len(items))))
}

// HasTrustedSource reports whether any item URL belongs to a trusted domain
// or one of its subdomains.
func HasTrustedSource(items []domain.NewsItem, trusted []string) bool {
	for _, it := range items {
		host := hostOf(it.URL)
		if host == "" {
			continue
		}
		for _, d := range trusted {
			if host == d || strings.HasSuffix(host, "."+d) {
				return true
			}
		}
	}
	return false
}

func hostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// DecisionScore fuses the three subscores.
func DecisionScore(hype, market, news float64) float64 {
	return WeightHype*hype + WeightMarket*market + WeightNews*news
}

// Signal is the sized intent derived from a decision.
type Signal struct {
	Action     domain.Action
	Weight     float64 // [0, 1], rounded to 4 decimals
	Confidence float64
	Magnitude  float64
}

// TradeSignal converts a decision into a signal, or nil for a flat proposal.
// Weight is the proposal weight scaled by clamp(0.5 + 0.5*score, 0, 1).
func TradeSignal(dec *domain.Decision, score float64) *Signal {
	if dec == nil || dec.TradeProposal.Action == domain.ActionFlat {
		return nil
	}
	factor := clamp01(0.5 + 0.5*score)
	w := clamp01(dec.TradeProposal.Weight) * factor
	return &Signal{
		Action:     dec.TradeProposal.Action,
		Weight:     math.Round(w*1e4) / 1e4,
		Confidence: dec.Confidence,
		Magnitude:  dec.Magnitude,
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

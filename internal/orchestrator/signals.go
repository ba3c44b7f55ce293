package orchestrator

import (
	"strings"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/feeds"
	"solana-hype-trader/internal/hype"
	"solana-hype-trader/internal/position"
	"solana-hype-trader/internal/scoring"
)

// Assessment is the fused view of one symbol.
type Assessment struct {
	Hype        hype.Score
	MarketScore float64
	NewsScore   float64
	Score       float64 // fused decision score
	Payload     domain.OraclePayload
}

// Signals fuses the hype aggregator and the market and news caches.
type Signals struct {
	Hype    *hype.Aggregator
	Market  *feeds.MarketCache
	News    *feeds.NewsCache
	Trusted []string // default scoring.DefaultTrustedDomains
}

// Assess scores the symbol and builds its oracle payload. Scoring advances
// the symbol's rolling statistics, so every call counts as one sample.
func (s *Signals) Assess(symbol string, m *domain.MarketSnapshot) Assessment {
	symbol = strings.ToUpper(symbol)
	trusted := s.Trusted
	if len(trusted) == 0 {
		trusted = scoring.DefaultTrustedDomains
	}

	score := s.Hype.Score(symbol)
	items := s.News.Get(symbol, 0)
	a := Assessment{
		Hype:      score,
		NewsScore: scoring.NewsScore(items, trusted),
	}
	if m != nil {
		a.MarketScore = scoring.MarketScore(m)
	}
	a.Score = scoring.DecisionScore(score.Value, a.MarketScore, a.NewsScore)

	news := make([]domain.NewsRef, 0, min(len(items), domain.MaxPayloadNews))
	for _, it := range items {
		if len(news) == domain.MaxPayloadNews {
			break
		}
		news = append(news, domain.NewsRef{Title: it.Title, URL: it.URL})
	}

	a.Payload = domain.OraclePayload{
		Symbol: symbol,
		Social: domain.SocialSummary{
			Score:           score.Value,
			Mentions:        score.Mentions,
			Authors:         score.Authors,
			WeightedAuthors: score.WeightedAuthors,
			Engagement:      score.Engagement,
			RedFlag:         score.RedFlag,
			ZM:              score.ZMentions,
			ZA:              score.ZAuthors,
			ZAW:             score.ZWeighted,
			ZE:              score.ZEngagement,
		},
		News:        news,
		Market:      m,
		QuickFilter: true,
	}
	if m != nil {
		a.Payload.Contract = m.Contract
	}
	return a
}

// Evidence builds the review evidence of a held position.
func (s *Signals) Evidence(symbol, contract string) position.Evidence {
	m := s.Market.Get(symbol)
	if m == nil && contract != "" {
		m = s.Market.ByContract(contract)
	}
	a := s.Assess(symbol, m)
	if a.Payload.Contract == "" {
		a.Payload.Contract = contract
	}
	a.Payload.QuickFilter = false
	return position.Evidence{
		Payload:  a.Payload,
		Score:    a.Score,
		Momentum: a.Hype.Momentum(),
	}
}

package domain

import (
	"encoding/json"
	"time"
)

// QuoteRecord is a persisted router quote for one split.
type QuoteRecord struct {
	ID             string
	CreatedAt      time.Time
	InToken        string
	OutToken       string
	AmountIn       uint64
	SlippagePct    float64
	ExpectedOut    *float64 // smallest units of OutToken
	PriceImpactPct *float64
	Raw            json.RawMessage
}

// Fill status values.
const (
	FillStatusSimulated = "simulated"
	FillStatusConfirmed = "confirmed"
	FillStatusFailed    = "failed"
	FillStatusExpired   = "expired"
)

// FillRecord is a persisted settlement outcome for one split.
type FillRecord struct {
	ID             string // deterministic, see idhash.ComputeFillID
	QuoteID        string
	CreatedAt      time.Time
	Side           Side
	Symbol         string
	Contract       string
	InToken        string
	OutToken       string
	AmountIn       uint64
	TxRef          string
	Status         string
	ExpectedOut    *float64 // UI units of OutToken
	RealizedOut    *float64 // UI units of OutToken
	SlippagePct    *float64
	AMMPriceImpact *float64 // percent, from reserve deltas
}

// SignalRecord is one analytics row per evaluated candidate.
type SignalRecord struct {
	Timestamp     time.Time
	Symbol        string
	Contract      string
	HypeScore     float64
	MarketScore   float64
	NewsScore     float64
	DecisionScore float64
	Mentions      int
	Authors       int
	Direction     string
	Action        string
	Weight        float64
	Outcome       string // entered, skipped:<reason>, oracle_error
}

package domain

import "time"

// PositionState is the lifecycle state of a position.
type PositionState string

const (
	PositionOpen   PositionState = "open"
	PositionClosed PositionState = "closed"
)

// PositionEpsilon is the residual quantity below which a position is closed.
const PositionEpsilon = 1e-12

// PositionMeta is the free-form metadata carried by a position.
type PositionMeta struct {
	KillSwitch    []string   `json:"kill_switch,omitempty"`
	QuoteFailures int        `json:"quote_failures,omitempty"`
	LastReviewAt  *time.Time `json:"last_review_at,omitempty"`
}

// HasKillTag reports whether any of tags is present in the metadata.
func (m PositionMeta) HasKillTag(tags []string) (string, bool) {
	for _, have := range m.KillSwitch {
		for _, want := range tags {
			if have == want {
				return have, true
			}
		}
	}
	return "", false
}

// Position is an open or closed holding of one token.
// Invariant: Quantity >= 0, Invested >= 0; closed implies both are exactly 0.
type Position struct {
	ID          int64
	Symbol      string
	Contract    string
	Quantity    float64 // UI units of the token
	Invested    float64 // base asset (WSOL) spent
	AvgEntry    float64 // Invested / Quantity at last add
	OpenedAt    time.Time
	MaxHoldSec  *int64
	HWMValue    float64 // best mark value since entry
	HWMReturn   float64 // best return since entry
	TP1Done     bool
	TP2Done     bool
	Decimals    int
	EntryTxnsH1 *int
	Owner       string
	Meta        PositionMeta
	State       PositionState
	LastCheckAt *time.Time
}

// IsOpen reports whether the position is still open.
func (p *Position) IsOpen() bool {
	return p.State == PositionOpen
}

// OpenRequest carries the inputs of Ledger.OpenOrAdd.
type OpenRequest struct {
	Symbol      string
	Contract    string
	Quantity    float64
	Cost        float64
	MaxHoldSec  *int64
	Decimals    int
	EntryTxnsH1 *int
	Owner       string
	KillSwitch  []string
}

// Exit reasons.
const (
	ExitEmergency     = "emergency_exit"
	ExitKillSwitch    = "kill_switch"
	ExitTimeStop      = "time_stop"
	ExitTP1           = "tp1"
	ExitTP2           = "tp2"
	ExitTrailingStop  = "trailing_stop"
	ExitDowngradeHalf = "downgrade_half"
	ExitDowngradeFull = "downgrade_full"
	ExitStressSpread  = "stress_spread"
	ExitStressTxns    = "stress_txns"
	ExitStressAMM     = "stress_amm"
)

// ExitRecord is an append-only audit entry for one exit.
type ExitRecord struct {
	ID             int64
	PositionID     int64
	Timestamp      time.Time
	Reason         string
	Fraction       float64 // of quantity at the time of the exit
	QtySold        float64
	ExpectedOut    float64 // base asset
	RealizedOut    float64 // base asset
	SlippagePct    *float64
	PriceImpactPct *float64
	TxRef          string
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	c := *p
	c.Meta.KillSwitch = append([]string(nil), p.Meta.KillSwitch...)
	if p.Meta.LastReviewAt != nil {
		t := *p.Meta.LastReviewAt
		c.Meta.LastReviewAt = &t
	}
	if p.MaxHoldSec != nil {
		v := *p.MaxHoldSec
		c.MaxHoldSec = &v
	}
	if p.EntryTxnsH1 != nil {
		v := *p.EntryTxnsH1
		c.EntryTxnsH1 = &v
	}
	if p.LastCheckAt != nil {
		t := *p.LastCheckAt
		c.LastCheckAt = &t
	}
	return &c
}

package position

import (
	"math"
	"time"

	"solana-hype-trader/internal/domain"
)

// Rules holds the exit ladder thresholds.
type Rules struct {
	TP1Return  float64 // return that fires the first take-profit
	TP2Return  float64 // return that fires the second take-profit
	TPFraction float64 // share of the current quantity sold per take-profit

	TrailStart      float64 // trailing stop before any gain
	TrailStep       float64 // tightening per step of high return
	TrailStepReturn float64 // high return per step
	TrailFloor      float64 // tightest trailing stop

	MaxSpreadBps     float64 // configured entry spread limit
	StressSpreadMult float64 // spread stress fires above MaxSpreadBps * mult
	StressTxnsRatio  float64 // txns stress fires below entry txns * ratio
	StressImpactPct  float64 // AMM stress fires below this pool price impact
	ImpactWindow     time.Duration

	DowngradeHalfScore float64 // downgrade sells half only above this score

	KillTags []string
}

// DefaultRules returns the production exit ladder.
func DefaultRules() Rules {
	return Rules{
		TP1Return:          0.15,
		TP2Return:          0.35,
		TPFraction:         0.30,
		TrailStart:         0.12,
		TrailStep:          0.02,
		TrailStepReturn:    0.05,
		TrailFloor:         0.08,
		MaxSpreadBps:       1000,
		StressSpreadMult:   1.5,
		StressTxnsRatio:    0.5,
		StressImpactPct:    -8,
		ImpactWindow:       60 * time.Minute,
		DowngradeHalfScore: -0.5,
		KillTags:           []string{"rug", "lp_pull", "honeypot", "dev_minted_more"},
	}
}

// TrailingPct returns the trailing stop for the best return achieved so far.
// It starts at TrailStart and tightens by TrailStep for every full
// TrailStepReturn of high return, never below TrailFloor.
func (r Rules) TrailingPct(highReturn float64) float64 {
	if r.TrailStepReturn <= 0 {
		return r.TrailStart
	}
	steps := math.Floor(math.Max(0, highReturn)/r.TrailStepReturn + 1e-9)
	return math.Max(r.TrailFloor, r.TrailStart-r.TrailStep*steps)
}

// Return is (value - invested) / invested, or 0 without capital.
func Return(value, invested float64) float64 {
	if invested <= 0 {
		return 0
	}
	return (value - invested) / invested
}

// Drawdown is the fall of mark below the high-water value.
func Drawdown(hwm, mark float64) float64 {
	if hwm <= 0 {
		return 0
	}
	return (hwm - mark) / hwm
}

// Stress flags the market conditions that force an exit.
type Stress struct {
	Spread bool
	Txns   bool
	AMM    bool
}

// Any reports whether any flag is set.
func (s Stress) Any() bool {
	return s.Spread || s.Txns || s.AMM
}

// Reason returns the exit reason of the first set flag.
func (s Stress) Reason() string {
	switch {
	case s.Spread:
		return domain.ExitStressSpread
	case s.Txns:
		return domain.ExitStressTxns
	case s.AMM:
		return domain.ExitStressAMM
	}
	return ""
}

// MarketStress evaluates spread and activity stress against the latest
// snapshot. minImpact is the lowest pool price impact seen in the window.
func (r Rules) MarketStress(m *domain.MarketSnapshot, entryTxns *int, minImpact *float64) Stress {
	var s Stress
	if m != nil {
		if m.SpreadBps != nil && *m.SpreadBps > r.StressSpreadMult*r.MaxSpreadBps {
			s.Spread = true
		}
		if m.TxnsH1 != nil && entryTxns != nil && *entryTxns > 0 &&
			float64(*m.TxnsH1) < r.StressTxnsRatio*float64(*entryTxns) {
			s.Txns = true
		}
	}
	if minImpact != nil && *minImpact < r.StressImpactPct {
		s.AMM = true
	}
	return s
}

// TimeStopped reports whether the position outlived its max hold.
func TimeStopped(p *domain.Position, now time.Time) bool {
	if p.MaxHoldSec == nil || *p.MaxHoldSec <= 0 {
		return false
	}
	return now.Sub(p.OpenedAt) >= time.Duration(*p.MaxHoldSec)*time.Second
}

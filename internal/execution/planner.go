// Package execution turns decisions into execution plans and executes them
// against a router, splitting orders whose projected price impact is too high.
package execution

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"solana-hype-trader/internal/domain"
)

// Size is the configured trade size per base asset, in human units.
type Size struct {
	SOL  float64
	USDC float64
}

// Fees carries the fee and slippage settings applied to plans.
type Fees struct {
	SlippagePct          float64
	EmergencySlippagePct float64
	AntiMEV              bool
	PriorityFeeSOL       float64
}

var durationPattern = regexp.MustCompile(`^(\d+)\s*([smhdw]?)$`)

var durationUnits = map[string]int64{
	"":  1,
	"s": 1,
	"m": 60,
	"h": 3600,
	"d": 86400,
	"w": 604800,
}

// ParseDuration parses "90m", "2h", "3600" into seconds. Returns nil when s
// is empty or malformed.
func ParseDuration(s string) *int64 {
	m := durationPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return nil
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	secs := n * durationUnits[m[2]]
	return &secs
}

// ToUnits converts a human amount to smallest units, truncating.
func ToUnits(amount float64, decimals int) uint64 {
	d := decimal.NewFromFloat(amount).Shift(int32(decimals)).Truncate(0)
	if d.Sign() <= 0 {
		return 0
	}
	return d.BigInt().Uint64()
}

// FromUnits converts smallest units to a human amount.
func FromUnits(units uint64, decimals int) float64 {
	f, _ := decimal.NewFromBigInt(new(big.Int).SetUint64(units), int32(-decimals)).Float64()
	return f
}

// ToEntryPlan builds the entry plan for a decision, paying with inAsset
// (domain.AssetWSOL or domain.AssetUSDC).
func ToEntryPlan(dec *domain.Decision, inAsset string, size Size, fees Fees) (domain.ExecutionPlan, error) {
	if dec == nil {
		return domain.ExecutionPlan{}, fmt.Errorf("entry plan: nil decision")
	}

	inMint := domain.MintForAsset(inAsset)
	var amount uint64
	if inMint == domain.USDCMint {
		amount = ToUnits(size.USDC, domain.USDCDecimals)
	} else {
		amount = ToUnits(size.SOL, domain.WSOLDecimals)
	}
	if amount == 0 {
		return domain.ExecutionPlan{}, fmt.Errorf("entry plan for %s: %w", dec.Symbol, ErrInvalidSize)
	}

	side := domain.SideBuy
	if dec.TradeProposal.Action == domain.ActionShort {
		side = domain.SideSell
	}

	out := dec.Contract
	if out == "" {
		out = dec.Symbol
	}

	return domain.ExecutionPlan{
		Side:           side,
		InToken:        inMint,
		OutToken:       out,
		AmountIn:       amount,
		SlippagePct:    fees.SlippagePct,
		AntiMEV:        fees.AntiMEV,
		PriorityFeeSOL: fees.PriorityFeeSOL,
		MaxHoldSec:     ParseDuration(dec.TradeProposal.MaxHold),
		KillSwitch:     append([]string(nil), dec.TradeProposal.KillSwitch...),
		Symbol:         dec.Symbol,
		Contract:       dec.Contract,
	}, nil
}

// ToExitPlan builds a plan selling qty of the position's token into outAsset.
func ToExitPlan(pos *domain.Position, qty float64, outAsset string, fees Fees) (domain.ExecutionPlan, error) {
	if pos == nil || qty <= 0 || qty > pos.Quantity {
		return domain.ExecutionPlan{}, ErrInvalidQuantity
	}

	amount := ToUnits(qty, pos.Decimals)
	if amount == 0 {
		return domain.ExecutionPlan{}, ErrDustQuantity
	}

	outMint := domain.MintForAsset(outAsset)
	return domain.ExecutionPlan{
		Side:           domain.SideSell,
		InToken:        pos.Contract,
		OutToken:       outMint,
		AmountIn:       amount,
		OutDecimals:    domain.DecimalsForMint(outMint, domain.WSOLDecimals),
		SlippagePct:    fees.SlippagePct,
		AntiMEV:        fees.AntiMEV,
		PriorityFeeSOL: fees.PriorityFeeSOL,
		MaxHoldSec:     pos.MaxHoldSec,
		KillSwitch:     append([]string(nil), pos.Meta.KillSwitch...),
		Symbol:         pos.Symbol,
		Contract:       pos.Contract,
	}, nil
}

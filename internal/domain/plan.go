package domain

// Side of an execution plan.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ExecutionPlan describes one order. Immutable; consumed once by the executor.
type ExecutionPlan struct {
	Side           Side
	InToken        string // mint
	OutToken       string // mint
	AmountIn       uint64 // smallest units of InToken
	OutDecimals    int    // decimals of OutToken, used for slippage normalisation
	SlippagePct    float64
	AntiMEV        bool
	PriorityFeeSOL float64
	MaxHoldSec     *int64 // nil when unbounded
	KillSwitch     []string
	Symbol         string
	Contract       string // traded token mint
}

// WithSlippage returns a copy of the plan with a different slippage tolerance.
func (p ExecutionPlan) WithSlippage(pct float64) ExecutionPlan {
	p.SlippagePct = pct
	return p
}

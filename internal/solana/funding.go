package solana

import (
	"context"
	"time"

	"solana-hype-trader/internal/domain"
)

// Funding is the result of a wallet balance check against the entry size.
type Funding struct {
	Address    string    `json:"address"`
	BalanceSOL float64   `json:"balance_sol"`
	Required   float64   `json:"required_sol"`
	Sufficient bool      `json:"sufficient"`
	CheckedAt  time.Time `json:"checked_at"`
	Error      string    `json:"error,omitempty"`
}

// CheckFunding reads the SOL balance of address and compares it with
// requiredSOL. RPC failures are reported in Error with Sufficient false.
func CheckFunding(ctx context.Context, rpc BalanceReader, address string, requiredSOL float64) Funding {
	f := Funding{Address: address, Required: requiredSOL, CheckedAt: time.Now().UTC()}
	lamports, err := rpc.GetBalance(ctx, address)
	if err != nil {
		f.Error = err.Error()
		return f
	}
	f.BalanceSOL = float64(lamports) / domain.LamportsPerSOL
	f.Sufficient = f.BalanceSOL >= requiredSOL
	return f
}

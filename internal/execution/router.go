package execution

import (
	"context"

	"solana-hype-trader/internal/domain"
)

// QuoteRequest asks the router for a route.
type QuoteRequest struct {
	InToken        string
	OutToken       string
	Amount         uint64
	Trader         string
	SlippagePct    float64
	AntiMEV        bool
	PriorityFeeSOL float64
}

// TxStatus is the settlement status of a submitted transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
	TxExpired   TxStatus = "expired"
)

// Router quotes, submits and tracks swaps on the settlement venue.
type Router interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
	Submit(ctx context.Context, signedTx string, antiMEV bool) (string, error)
	Status(ctx context.Context, txRef string, lastValidHeight uint64) (TxStatus, error)
}

// Signer signs serialized transactions for the trading wallet.
type Signer interface {
	SignTransaction(unsignedTx string) (string, error)
}

// Chain reads settled transactions.
type Chain interface {
	TransactionBalances(ctx context.Context, signature string) (*domain.TxBalances, error)
}

// Notifier delivers human alerts. Implementations never return errors to the caller.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

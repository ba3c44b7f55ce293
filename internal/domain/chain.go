package domain

// TokenBalance is one token account balance from a confirmed transaction.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	UIAmount     float64
	Decimals     int
}

// TxBalances holds the pre and post token balances of a transaction.
// Found is false when the transaction or its metadata is unavailable.
type TxBalances struct {
	Found bool
	Pre   []TokenBalance
	Post  []TokenBalance
}

package domain

// Well-known mints.
const (
	WSOLMint = "So11111111111111111111111111111111111111112"
	USDCMint = "EPjFWdd5AufqSSqeM2qJkF8ouRfn7YNnW9nRybmC6AZ"
)

// Base asset identifiers accepted by the planner.
const (
	AssetWSOL = "WSOL"
	AssetUSDC = "USDC"
)

// Decimals of the settlement assets.
const (
	WSOLDecimals     = 9
	USDCDecimals     = 6
	LamportsPerSOL   = 1_000_000_000
	MicroUSDCPerUSDC = 1_000_000
)

// MintForAsset resolves a base asset name to its mint. Unknown names resolve to WSOL.
func MintForAsset(asset string) string {
	if asset == AssetUSDC {
		return USDCMint
	}
	return WSOLMint
}

// DecimalsForMint returns decimals for the settlement mints, or def otherwise.
func DecimalsForMint(mint string, def int) int {
	switch mint {
	case WSOLMint:
		return WSOLDecimals
	case USDCMint:
		return USDCDecimals
	default:
		return def
	}
}

package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeExecutionID computes a deterministic execution_id using SHA256.
// Formula: SHA256(side|in_token|out_token|amount_in|started_at_ms)
// Returns hex-encoded hash (64 characters).
func ComputeExecutionID(
	side string,
	inToken string,
	outToken string,
	amountIn uint64,
	startedAtMs int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d|%d",
		side,
		inToken,
		outToken,
		amountIn,
		startedAtMs,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

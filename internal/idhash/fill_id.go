package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeFillID computes a deterministic fill_id using SHA256.
// Formula: SHA256(execution_id|split_index|amount_in)
// Returns hex-encoded hash (64 characters).
func ComputeFillID(
	executionID string,
	splitIndex int,
	amountIn uint64,
) string {
	data := fmt.Sprintf("%s|%d|%d",
		executionID,
		splitIndex,
		amountIn,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

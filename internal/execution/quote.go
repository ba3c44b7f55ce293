package execution

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Accepted field names for a quote's expected output, in priority order.
var ExpectedOutAliases = []string{"outAmount", "expectedOut", "amountOut", "out_amount"}

// Accepted field names for a quote's projected price impact (percent).
var PriceImpactAliases = []string{"priceImpact", "price_impact"}

// Quote is a router quote. Fields holds the decoded quote object as returned
// by the router; typed values are read from it through the alias lists.
type Quote struct {
	Fields          map[string]any
	UnsignedTx      string // base64 serialized transaction
	LastValidHeight uint64
	Raw             json.RawMessage
}

// ExpectedOut returns the expected output in smallest units of the out token.
func (q *Quote) ExpectedOut() (float64, bool) {
	if q == nil {
		return 0, false
	}
	v, _, ok := ProbeNumber(q.Fields, ExpectedOutAliases)
	return v, ok
}

// PriceImpact returns the projected price impact percent.
func (q *Quote) PriceImpact() (float64, bool) {
	if q == nil {
		return 0, false
	}
	v, _, ok := ProbeNumber(q.Fields, PriceImpactAliases)
	return v, ok
}

// ProbeNumber returns the value of the first alias present in fields with a
// numeric value (number, json.Number or numeric string), and the alias used.
// Null values count as absent.
func ProbeNumber(fields map[string]any, aliases []string) (float64, string, bool) {
	for _, name := range aliases {
		raw, ok := fields[name]
		if !ok || raw == nil {
			continue
		}
		if v, ok := toFloat(raw); ok {
			return v, name, true
		}
	}
	return 0, "", false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

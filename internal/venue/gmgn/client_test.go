package gmgn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/execution"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		BaseURL:        srv.URL,
		Timeout:        2 * time.Second,
		RequestsPerSec: 1000,
		RetryCount:     -1,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_Quote(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, routePath, r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, domain.WSOLMint, q.Get("token_in_address"))
		assert.Equal(t, "Mint111", q.Get("token_out_address"))
		assert.Equal(t, "20000000", q.Get("in_amount"))
		assert.Equal(t, "Owner111", q.Get("from_address"))
		assert.Equal(t, "30", q.Get("slippage"))
		assert.Equal(t, "true", q.Get("is_anti_mev"))
		assert.Equal(t, "0.001", q.Get("fee"))

		writeJSON(w, map[string]any{
			"code": 0,
			"msg":  "success",
			"data": map[string]any{
				"quote": map[string]any{
					"outAmount":   "123456789",
					"priceImpact": 3.5,
				},
				"raw_tx": map[string]any{
					"swapTransaction":      "dHg=",
					"lastValidBlockHeight": 987654,
				},
			},
		})
	})

	q, err := c.Quote(t.Context(), execution.QuoteRequest{
		InToken:        domain.WSOLMint,
		OutToken:       "Mint111",
		Amount:         20_000_000,
		Trader:         "Owner111",
		SlippagePct:    30,
		AntiMEV:        true,
		PriorityFeeSOL: 0.001,
	})
	require.NoError(t, err)

	out, ok := q.ExpectedOut()
	require.True(t, ok)
	assert.Equal(t, 123456789.0, out)

	pi, ok := q.PriceImpact()
	require.True(t, ok)
	assert.InDelta(t, 3.5, pi, 1e-9)

	assert.Equal(t, "dHg=", q.UnsignedTx)
	assert.Equal(t, uint64(987654), q.LastValidHeight)
	assert.NotEmpty(t, q.Raw)
}

func TestClient_QuoteOmitsOptionalParams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.False(t, q.Has("is_anti_mev"))
		assert.False(t, q.Has("fee"))
		writeJSON(w, map[string]any{"code": 0, "data": map[string]any{"quote": map[string]any{}}})
	})

	q, err := c.Quote(t.Context(), execution.QuoteRequest{InToken: "a", OutToken: "b", Amount: 1})
	require.NoError(t, err)
	_, ok := q.ExpectedOut()
	assert.False(t, ok)
	assert.Zero(t, q.LastValidHeight)
}

func TestClient_APIErrorCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"code": 40001, "msg": "no route"})
	})

	_, err := c.Quote(t.Context(), execution.QuoteRequest{InToken: "a", OutToken: "b", Amount: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAPI))
	assert.Contains(t, err.Error(), "no route")
}

func TestClient_HTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := c.Submit(t.Context(), "c2lnbmVk", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 502")
}

func TestClient_Submit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, submitPath, r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sol", body["chain"])
		assert.Equal(t, "c2lnbmVk", body["signedTx"])
		assert.Equal(t, true, body["isAntiMev"])

		writeJSON(w, map[string]any{"code": 0, "data": map[string]any{"hash": "5igSig"}})
	})

	hash, err := c.Submit(t.Context(), "c2lnbmVk", true)
	require.NoError(t, err)
	assert.Equal(t, "5igSig", hash)
}

func TestClient_SubmitWithoutHash(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"code": 0, "data": map[string]any{}})
	})

	_, err := c.Submit(t.Context(), "c2lnbmVk", false)
	require.ErrorIs(t, err, ErrAPI)
}

func TestClient_Status(t *testing.T) {
	tests := []struct {
		name string
		data any
		want execution.TxStatus
	}{
		{"confirmed", map[string]any{"success": true}, execution.TxConfirmed},
		{"expired", map[string]any{"success": false, "expired": true}, execution.TxExpired},
		{"failed", map[string]any{"failed": true}, execution.TxFailed},
		{"pending", map[string]any{"success": false, "expired": false}, execution.TxPending},
		{"null data", nil, execution.TxPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, statusPath, r.URL.Path)
				assert.Equal(t, "5igSig", r.URL.Query().Get("hash"))
				assert.Equal(t, "4242", r.URL.Query().Get("last_valid_height"))
				writeJSON(w, map[string]any{"code": 0, "data": tt.data})
			})

			got, err := c.Status(t.Context(), "5igSig", 4242)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"code": 0, "data": map[string]any{"hash": "ok"}})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, RequestsPerSec: 1000, RetryCount: 2})
	hash, err := c.Submit(t.Context(), "c2lnbmVk", false)
	require.NoError(t, err)
	assert.Equal(t, "ok", hash)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ContextCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"code": 0})
	})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := c.Status(ctx, "sig", 1)
	require.Error(t, err)
}

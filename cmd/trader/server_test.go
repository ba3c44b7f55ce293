package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-hype-trader/internal/config"
	"solana-hype-trader/internal/control"
	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/observability"
	"solana-hype-trader/internal/oracle"
	"solana-hype-trader/internal/risk"
	"solana-hype-trader/internal/storage"
)

// newTestServer wires a memory-mode trader and serves its admin API.
func newTestServer(t *testing.T, mutate ...func(*config.Config)) (*app, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Oracle.APIKeys = []string{"key-a", "key-b"}
	for _, m := range mutate {
		m(cfg)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	reg := prometheus.NewRegistry()
	a, err := newApp(context.Background(), cfg, logger, reg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.stores.Close)

	srv := httptest.NewServer(newAdminServer(a, observability.HandlerFor(reg)).routes())
	t.Cleanup(srv.Close)
	return a, srv
}

func TestAdminHealthAndStatus(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	var st StatusResponse
	require.NoError(t, newAdminClient(srv.URL).call("GET", "/status", nil, nil, &st))
	assert.Equal(t, "running", st.Status)
	assert.True(t, st.DryRun)
	assert.Zero(t, st.OpenPositions)
	assert.Len(t, st.OracleKeys, 2)
	assert.True(t, st.ControlSources[control.SourceRSS])
	assert.Nil(t, st.Wallet, "no wallet configured")
}

func TestAdminStatusReportsWalletFunding(t *testing.T) {
	rpc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "getBalance", req.Method)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]any{"value": 5_000_000},
		})
	}))
	defer rpc.Close()

	_, srv := newTestServer(t, func(c *config.Config) {
		c.Solana.RPCURL = rpc.URL
		c.Solana.Address = "wallet-1"
	})

	var st StatusResponse
	require.NoError(t, newAdminClient(srv.URL).call("GET", "/status", nil, nil, &st))
	require.NotNil(t, st.Wallet)
	assert.Equal(t, "wallet-1", st.Wallet.Address)
	assert.InDelta(t, 0.005, st.Wallet.BalanceSOL, 1e-12)
	assert.InDelta(t, 0.026, st.Wallet.Required, 1e-12)
	assert.False(t, st.Wallet.Sufficient)
	assert.Empty(t, st.Wallet.Error)
}

func TestAdminMetrics(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), metricsNamespace+"_")
}

func TestAdminControlPatch(t *testing.T) {
	a, srv := newTestServer(t)
	client := newAdminClient(srv.URL)

	live := false
	size := 0.05
	var st control.State
	err := client.call("POST", "/control", nil, control.Patch{
		DryRun:  &live,
		SizeSOL: &size,
		Sources: map[string]bool{control.SourceBluesky: false},
	}, &st)
	require.NoError(t, err)
	assert.False(t, st.DryRun)
	assert.Equal(t, 0.05, st.SizeSOL)
	assert.False(t, st.Sources[control.SourceBluesky])
	assert.True(t, st.Sources[control.SourceRSS])

	assert.False(t, a.control.DryRun())
	assert.False(t, a.control.SourceEnabled(control.SourceBluesky))

	data, err := a.stores.state.Load(context.Background(), storage.KeyControlState)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"size_sol":0.05`)
}

func TestAdminControlRejectsInvalidSize(t *testing.T) {
	_, srv := newTestServer(t)

	bad := -1.0
	err := newAdminClient(srv.URL).call("POST", "/control", nil, control.Patch{SizeSOL: &bad}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 400")
	assert.Contains(t, err.Error(), "size_sol")
}

func TestAdminBreaker(t *testing.T) {
	a, srv := newTestServer(t)
	client := newAdminClient(srv.URL)

	var st risk.BreakerStatus
	require.NoError(t, client.call("POST", "/breaker/override", map[string]string{"enabled": "true"}, nil, &st))
	assert.True(t, st.ManualOverride)
	assert.True(t, a.breaker.Status().ManualOverride)

	require.NoError(t, client.call("POST", "/breaker/reset", nil, nil, &st))
	assert.False(t, st.ManualOverride)
	assert.False(t, st.Open)

	err := client.call("POST", "/breaker/override", nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enabled")

	_, err = a.stores.state.Load(context.Background(), storage.KeyBreakerState)
	assert.NoError(t, err, "breaker state is persisted")
}

func TestAdminOracleKeyToggle(t *testing.T) {
	a, srv := newTestServer(t)
	client := newAdminClient(srv.URL)

	var keys []oracle.KeyStatus
	require.NoError(t, client.call("POST", "/oracle/keys/1", map[string]string{"disabled": "true"}, nil, &keys))
	require.Len(t, keys, 2)
	assert.False(t, keys[0].Disabled)
	assert.True(t, keys[1].Disabled)

	_, err := a.stores.state.Load(context.Background(), storage.KeyOracleKeys)
	assert.NoError(t, err)

	err = client.call("POST", "/oracle/keys/7", map[string]string{"disabled": "true"}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 404")
}

func TestAdminSignals(t *testing.T) {
	a, srv := newTestServer(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, a.stores.signals.Append(ctx, []*domain.SignalRecord{
		{Timestamp: now, Symbol: "BONK", Outcome: "entered"},
		{Timestamp: now, Symbol: "WIF", Outcome: "skipped:flat"},
	}))

	var recs []*domain.SignalRecord
	require.NoError(t, newAdminClient(srv.URL).call("GET", "/signals", map[string]string{"symbol": "WIF"}, nil, &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "skipped:flat", recs[0].Outcome)

	err := newAdminClient(srv.URL).call("GET", "/signals", map[string]string{"limit": "zero"}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")
}

func TestPositionsCommand(t *testing.T) {
	a, srv := newTestServer(t)
	_, err := a.stores.ledger.OpenOrAdd(context.Background(), domain.OpenRequest{
		Symbol:   "BONK",
		Contract: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
		Quantity: 1500,
		Cost:     0.02,
		Decimals: 5,
	})
	require.NoError(t, err)

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--server", srv.URL, "positions"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "SYMBOL")
	assert.Contains(t, out.String(), "BONK")
	assert.Contains(t, out.String(), "1500.000000")
}

func TestControlCommandShowsState(t *testing.T) {
	_, srv := newTestServer(t)

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--server", srv.URL, "control", "--disable", control.SourceGoogleNews})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), `"google_news": false`)
	assert.Contains(t, out.String(), `"dry_run": true`)
}

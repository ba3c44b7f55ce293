package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-hype-trader/internal/domain"
)

func TestSignalLog_AppendAndRecent(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	log := NewSignalLog(conn)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := log.Append(ctx, []*domain.SignalRecord{
		{Timestamp: base, Symbol: "BONK", HypeScore: 1.5, Mentions: 4, Authors: 3, Direction: "up", Action: "long", Outcome: "entered"},
		{Timestamp: base.Add(time.Minute), Symbol: "WIF", HypeScore: 0.2, Outcome: "skipped:risk_gate"},
		{Timestamp: base.Add(2 * time.Minute), Symbol: "BONK", HypeScore: 2.5, Mentions: 9, Outcome: "skipped:breaker_open"},
	})
	require.NoError(t, err)

	got, err := log.Recent(ctx, "BONK", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 2.5, got[0].HypeScore, 1e-9)
	assert.Equal(t, 9, got[0].Mentions)
	assert.Equal(t, "entered", got[1].Outcome)
	assert.True(t, base.Equal(got[1].Timestamp))

	all, err := log.Recent(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

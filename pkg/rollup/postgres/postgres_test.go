package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	query string
	args  []interface{}
}

type fakeExecer struct {
	calls []call
	err   error
}

func (f *fakeExecer) ExecContext(_ context.Context, query string, args ...interface{}) (sql.Result, error) {
	f.calls = append(f.calls, call{query, args})
	return nil, f.err
}

func TestClient_Queries(t *testing.T) {
	fake := &fakeExecer{}
	c := &Client{db: fake}
	ctx := context.Background()

	floor := time.Date(2024, 3, 1, 12, 5, 0, 0, time.FixedZone("X", 3600))
	require.NoError(t, c.RollCycle(ctx, "BTCUSDT", floor))
	require.NoError(t, c.RollWindow(ctx, "BTCUSDT", "30m"))
	require.NoError(t, c.RecomputeWindowStats(ctx, "ETHUSDT", "1h"))
	require.NoError(t, c.Ledger(ctx, floor))

	require.Len(t, fake.calls, 4)
	assert.Equal(t, queryRollCycle, fake.calls[0].query)
	assert.Equal(t, []interface{}{"BTCUSDT", floor.UTC()}, fake.calls[0].args)
	assert.Equal(t, queryRollWindow, fake.calls[1].query)
	assert.Equal(t, []interface{}{"BTCUSDT", "30m"}, fake.calls[1].args)
	assert.Equal(t, queryRecomputeStats, fake.calls[2].query)
	assert.Equal(t, queryLedger, fake.calls[3].query)
	assert.Equal(t, time.UTC, fake.calls[3].args[0].(time.Time).Location())
}

func TestClient_WrapsErrors(t *testing.T) {
	dbErr := errors.New("connection reset")
	c := &Client{db: &fakeExecer{err: dbErr}}

	err := c.RollWindow(context.Background(), "BTCUSDT", "30m")
	assert.ErrorIs(t, err, dbErr)
	assert.ErrorContains(t, err, "roll_window")

	assert.NoError(t, c.Close())
}

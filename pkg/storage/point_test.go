package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_JSON(t *testing.T) {
	var book Book
	require.NoError(t, json.Unmarshal([]byte(`{"bids":[[100.5,2]],"asks":[[101,0.25]]}`), &book))
	assert.Equal(t, []Level{{Price: 100.5, Qty: 2}}, book.Bids)
	assert.Equal(t, []Level{{Price: 101, Qty: 0.25}}, book.Asks)

	out, err := json.Marshal(book)
	require.NoError(t, err)
	assert.JSONEq(t, `{"bids":[[100.5,2]],"asks":[[101,0.25]]}`, string(out))

	for _, bad := range []string{`[1]`, `[1,2,3]`, `{"p":1}`, `["a","b"]`} {
		var l Level
		assert.ErrorIs(t, json.Unmarshal([]byte(bad), &l), ErrInvalidLevel, bad)
	}
}

func TestNewPoint(t *testing.T) {
	bids := []Level{{Price: 99, Qty: 1}, {Price: 100, Qty: 2}}
	asks := []Level{{Price: 102, Qty: 3}, {Price: 101, Qty: 1}}

	p := NewPoint("BTCUSDT", 1500, 1000, 2000, bids, asks)
	assert.Equal(t, 100.0, p.BestBid)
	assert.Equal(t, 101.0, p.BestAsk)
	assert.Equal(t, 100.5, p.Mid)
	assert.Equal(t, 1.0, p.Spread)
	assert.Equal(t, 3.0, p.BidVolume)
	assert.Equal(t, 4.0, p.AskVolume)
	assert.Equal(t, int64(1000), p.BucketStart)
	assert.Equal(t, int64(2000), p.BucketEnd)
	assert.False(t, p.Empty())

	// The point owns copies of the levels.
	bids[0].Qty = 50
	assert.Equal(t, 1.0, p.Book.Bids[0].Qty)

	oneSided := NewPoint("BTCUSDT", 1500, 1000, 2000, bids, nil)
	assert.Zero(t, oneSided.Mid)
	assert.Zero(t, oneSided.Spread)

	assert.True(t, NewPoint("BTCUSDT", 0, 0, 0, nil, nil).Empty())
}

package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/marketpulse/pkg/storage"
)

func serve(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", time.Second)
}

func TestClient_Depth(t *testing.T) {
	c := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, depthPath, r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"lastUpdateId":7,"bids":[["100.5","2"],["100","0"]],"asks":[["101","1.5"]]}`))
	})

	book, err := c.Depth(context.Background(), "btcusdt", 50)
	require.NoError(t, err)
	assert.Equal(t, []storage.Level{{Price: 100.5, Qty: 2}}, book.Bids)
	assert.Equal(t, []storage.Level{{Price: 101, Qty: 1.5}}, book.Asks)
}

func TestClient_DepthMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"short level", `{"bids":[["100"]],"asks":[]}`},
		{"bad price", `{"bids":[["x","1"]],"asks":[]}`},
		{"bad qty", `{"bids":[],"asks":[["1","y"]]}`},
		{"not json", `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			_, err := c.Depth(context.Background(), "BTCUSDT", 10)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestClient_StatusError(t *testing.T) {
	c := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	})

	_, err := c.Depth(context.Background(), "NOPE", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "Invalid symbol")
}

func TestClient_Klines(t *testing.T) {
	c := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, klinesPath, r.URL.Path)
		assert.Equal(t, "1m", r.URL.Query().Get("interval"))
		w.Write([]byte(`[[1700000000000,"1.0","2.0","0.5","1.5","10",1700000059999,"15",3,"5","7","0"]]`))
	})

	ks, err := c.Klines(context.Background(), "ETHUSDT", "1m", 1)
	require.NoError(t, err)
	require.Len(t, ks, 1)
	assert.Equal(t, Kline{
		OpenTime: 1700000000000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10, CloseTime: 1700000059999,
	}, ks[0])
}

func TestClient_KlinesMalformed(t *testing.T) {
	c := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1700000000000,"1.0"]]`))
	})
	_, err := c.Klines(context.Background(), "ETHUSDT", "1m", 1)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestClient_Prices(t *testing.T) {
	c := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if sym := r.URL.Query().Get("symbol"); sym != "" {
			w.Write([]byte(`{"symbol":"BTCUSDT","price":"42000.10"}`))
			return
		}
		assert.Equal(t, `["BTCUSDT","ETHUSDT"]`, r.URL.Query().Get("symbols"))
		w.Write([]byte(`[{"symbol":"BTCUSDT","price":"42000.10"},{"symbol":"ETHUSDT","price":"2200"}]`))
	})

	p, err := c.Price(context.Background(), "btcusdt")
	require.NoError(t, err)
	assert.InDelta(t, 42000.10, p, 1e-9)

	ps, err := c.Prices(context.Background(), []string{"btcusdt", "ETHUSDT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTCUSDT": 42000.10, "ETHUSDT": 2200}, ps)

	empty, err := c.Prices(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestClient_ContextCancelled(t *testing.T) {
	c := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Price(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, context.Canceled)
}

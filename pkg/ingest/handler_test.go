package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/marketpulse/pkg/ensure"
	"github.com/nicktill/marketpulse/pkg/sampling"
	"github.com/nicktill/marketpulse/pkg/storage"
	"github.com/nicktill/marketpulse/pkg/storage/memory"
)

var t0 = time.UnixMilli(1_700_000_000_000)

func newTestHandler(t *testing.T, opts ...Option) (*Handler, *sampling.Store, clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(t0)
	store := sampling.New(memory.New(), sampling.Config{Step: time.Second}, sampling.WithClock(fc))
	t.Cleanup(func() { store.Close() })
	opts = append([]Option{WithClock(fc)}, opts...)
	return NewHandler(store, opts...), store, fc
}

func router(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/ingest", h.HandleIngest).Methods("POST")
	r.HandleFunc("/v1/points/{symbol}/{window}", h.HandlePoints).Methods("GET")
	return r
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp["message"]
}

func TestHandleIngest(t *testing.T) {
	h, store, _ := newTestHandler(t)
	r := router(h)

	rr := post(t, r, `{"symbol":"btcusdt","bids":[[100,1]],"asks":[[101,2]],"ts":1700000000500}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, IngestResponse{
		Status: "success", Symbol: "BTCUSDT", Timestamp: 1_700_000_000_500,
		BucketStart: 1_700_000_000_000, BucketEnd: 1_700_000_001_000, Retained: true,
	}, resp)

	points, err := store.GetPoints(context.Background(), "BTCUSDT", "1m")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 100.5, points[0].Mid)
}

func TestHandleIngest_DefaultsTimestampToNow(t *testing.T) {
	h, _, fc := newTestHandler(t)
	fc.Advance(250 * time.Millisecond)

	rr := post(t, router(h), `{"symbol":"ETHUSDT","bids":[],"asks":[]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, t0.Add(250*time.Millisecond).UnixMilli(), resp.Timestamp)
	assert.False(t, resp.Retained, "a tick without levels only counts toward its bucket")
}

func TestHandleIngest_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"not json", `{`, "invalid JSON"},
		{"empty symbol", `{"symbol":"  ","bids":[[1,1]]}`, "symbol cannot be empty"},
		{"bad symbol", `{"symbol":"BTC/USDT"}`, "alphanumeric"},
		{"level arity", `{"symbol":"BTCUSDT","bids":[[1,2,3]]}`, "level must be"},
		{"level type", `{"symbol":"BTCUSDT","bids":[["1","2"]]}`, "level must be"},
		{"zero price", `{"symbol":"BTCUSDT","asks":[[0,1]]}`, "asks[0] price"},
		{"negative qty", `{"symbol":"BTCUSDT","bids":[[1,-1]]}`, "bids[0] qty"},
		{"negative ts", `{"symbol":"BTCUSDT","ts":-5}`, "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newTestHandler(t)
			rr := post(t, router(h), tt.body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, errorMessage(t, rr), tt.want)
		})
	}
}

func TestHandleIngest_TooManyLevels(t *testing.T) {
	h, _, _ := newTestHandler(t)

	levels := make([]storage.Level, MaxLevelsPerSide+1)
	for i := range levels {
		levels[i] = storage.Level{Price: float64(i + 1), Qty: 1}
	}
	body, err := json.Marshal(IngestRequest{Symbol: "BTCUSDT", Bids: levels})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.HandleIngest(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, errorMessage(t, rr), "too many levels")
}

type fullStorage struct{}

func (fullStorage) GetUsage() (int64, error) { return 2048, nil }
func (fullStorage) GetLimit() int64          { return 1024 }

func TestHandleIngest_StorageLimit(t *testing.T) {
	h, _, _ := newTestHandler(t)
	h.SetStorageChecker(fullStorage{})

	rr := post(t, router(h), `{"symbol":"BTCUSDT","bids":[[1,1]]}`)
	require.Equal(t, http.StatusInsufficientStorage, rr.Code)
	assert.Contains(t, errorMessage(t, rr), "storage limit")
}

func TestHandleIngest_StoreClosed(t *testing.T) {
	h, store, _ := newTestHandler(t)
	require.NoError(t, store.Close())

	rr := post(t, router(h), `{"symbol":"BTCUSDT","bids":[[1,1]]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func getPoints(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, PointsResponse) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	var resp PointsResponse
	if rr.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	}
	return rr, resp
}

func TestHandlePoints(t *testing.T) {
	h, store, fc := newTestHandler(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Ingest(ctx, "BTCUSDT", []storage.Level{{Price: 100, Qty: 1}}, nil, fc.Now().UnixMilli())
		require.NoError(t, err)
		fc.Advance(time.Second)
	}

	rr, resp := getPoints(t, router(h), "/v1/points/btcusdt/30m")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "BTCUSDT", resp.Symbol)
	assert.Equal(t, 3, resp.Count)
	assert.Len(t, resp.Points, 3)

	rr, resp = getPoints(t, router(h), "/v1/points/SOLUSDT/30m")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, resp.Count)
	assert.NotNil(t, resp.Points)
}

func TestHandlePoints_BadInput(t *testing.T) {
	h, _, _ := newTestHandler(t)
	for _, path := range []string{
		"/v1/points/BTCUSDT/forever",
		"/v1/points/BTCUSDT/30m?bins=0",
		"/v1/points/BTCUSDT/30m?bins=abc",
		"/v1/points/BTC-USDT/30m",
	} {
		rr, _ := getPoints(t, router(h), path)
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
	}
}

func TestHandlePoints_FillsWindow(t *testing.T) {
	fc := clockwork.NewFakeClockAt(t0)
	store := sampling.New(memory.New(), sampling.Config{Step: time.Second}, sampling.WithClock(fc))
	t.Cleanup(func() { store.Close() })

	filler := ensure.New(store, ensure.WithClock(fc), ensure.WithPointInterval(0), ensure.WithMaxCycles(80))
	h := NewHandler(store, WithClock(fc), WithFiller(&factoryFiller{Guarantor: filler}))

	rr, resp := getPoints(t, router(h), "/v1/points/BTCUSDT/1h?bins=64")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 64, resp.Bins)
	assert.Equal(t, 16, resp.Target)
	assert.Equal(t, 16, resp.Count)
	assert.Equal(t, 16, resp.Cycles)
}

// factoryFiller feeds the guarantor synthetic points since the store has no depth source.
type factoryFiller struct {
	*ensure.Guarantor
}

func (f *factoryFiller) EnsureWindowPoints(ctx context.Context, req ensure.Request) (ensure.Result, error) {
	req.Factory = func(symbol string, cycle int) *storage.Point {
		return &storage.Point{Book: storage.Book{Bids: []storage.Level{{Price: 100 + float64(cycle), Qty: 1}}}}
	}
	return f.Guarantor.EnsureWindowPoints(ctx, req)
}

type failingFiller struct{}

func (failingFiller) EnsureWindowPoints(context.Context, ensure.Request) (ensure.Result, error) {
	return ensure.Result{Cycles: 1}, fmt.Errorf("collect: %w", errors.New("exchange down"))
}

func TestHandlePoints_FillFailure(t *testing.T) {
	h, _, _ := newTestHandler(t, WithFiller(failingFiller{}))
	rr, _ := getPoints(t, router(h), "/v1/points/BTCUSDT/1h?bins=64")
	require.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, errorMessage(t, rr), "exchange down")
}

func TestHandleIngest_SymbolLimit(t *testing.T) {
	h, _, _ := newTestHandler(t, WithSymbolLimit(1))
	r := router(h)

	require.Equal(t, http.StatusOK, post(t, r, `{"symbol":"BTCUSDT","bids":[[1,1]]}`).Code)
	require.Equal(t, http.StatusOK, post(t, r, `{"symbol":"BTCUSDT","bids":[[2,1]]}`).Code)

	rr := post(t, r, `{"symbol":"ETHUSDT","bids":[[1,1]]}`)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Contains(t, errorMessage(t, rr), "symbol limit")

	rec := httptest.NewRecorder()
	h.HandleSymbols(rec, httptest.NewRequest(http.MethodGet, "/v1/symbols", nil))
	var stats SymbolStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, SymbolStats{Symbols: 1, Limit: 1, UtilizationPct: 100}, stats)
}

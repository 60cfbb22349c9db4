// Package ingest exposes the sampling store over HTTP: order-book tick
// ingestion, window point reads and the live flush stream.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/nicktill/marketpulse/pkg/config"
	"github.com/nicktill/marketpulse/pkg/ensure"
	"github.com/nicktill/marketpulse/pkg/httpx"
	"github.com/nicktill/marketpulse/pkg/period"
	"github.com/nicktill/marketpulse/pkg/sampling"
	"github.com/nicktill/marketpulse/pkg/storage"
)

// Ingester is the part of the sampling store the handler writes to and reads from.
type Ingester interface {
	Ingest(ctx context.Context, symbol string, bids, asks []storage.Level, tsMs int64) (storage.Point, error)
	GetPoints(ctx context.Context, symbol, window string) ([]storage.Point, error)
}

// WindowFiller tops a window up to the points a chart needs.
type WindowFiller interface {
	EnsureWindowPoints(ctx context.Context, req ensure.Request) (ensure.Result, error)
}

// StorageChecker interface for checking storage limits
type StorageChecker interface {
	GetUsage() (int64, error)
	GetLimit() int64
}

// Handler handles tick ingestion and point reads
type Handler struct {
	store          Ingester
	filler         WindowFiller
	storageChecker StorageChecker
	symbols        *SymbolTracker
	symbolLimit    int
	clock          clockwork.Clock
	log            zerolog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithFiller enables the bins query parameter on point reads.
func WithFiller(f WindowFiller) Option {
	return func(h *Handler) { h.filler = f }
}

// WithClock sets the clock used to stamp ticks without a timestamp.
func WithClock(c clockwork.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithSymbolLimit caps the distinct symbols accepted by HandleIngest.
// Defaults to MaxUniqueSymbols.
func WithSymbolLimit(n int) Option {
	return func(h *Handler) { h.symbolLimit = n }
}

// NewHandler creates a new ingest handler
func NewHandler(store Ingester, opts ...Option) *Handler {
	h := &Handler{
		store: store,
		clock: clockwork.NewRealClock(),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.symbols = NewSymbolTracker(h.symbolLimit, h.clock)
	return h
}

// SetStorageChecker sets the storage checker for limit enforcement
func (h *Handler) SetStorageChecker(checker StorageChecker) {
	h.storageChecker = checker
}

// IngestRequest is one order-book tick
type IngestRequest struct {
	Symbol    string          `json:"symbol"`
	Bids      []storage.Level `json:"bids"`
	Asks      []storage.Level `json:"asks"`
	Timestamp int64           `json:"ts,omitempty"` // epoch ms, 0 = now
}

// IngestResponse represents the response payload
type IngestResponse struct {
	Status      string `json:"status"`
	Symbol      string `json:"symbol"`
	Timestamp   int64  `json:"ts"`
	BucketStart int64  `json:"bucket_start"`
	BucketEnd   int64  `json:"bucket_end"`
	Retained    bool   `json:"retained"`
}

// PointsResponse is returned by HandlePoints
type PointsResponse struct {
	Symbol string          `json:"symbol"`
	Window string          `json:"window"`
	Bins   int             `json:"bins,omitempty"`
	Target int             `json:"target,omitempty"`
	Cycles int             `json:"cycles,omitempty"`
	Count  int             `json:"count"`
	Points []storage.Point `json:"points"`
}

// HandleIngest handles POST /v1/ingest
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, config.IngestMaxBodyBytes)

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, storage.ErrInvalidLevel) {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if err := ValidateRequest(&req); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid tick: %v", err))
		return
	}

	if h.storageChecker != nil {
		usage, err := h.storageChecker.GetUsage()
		if err != nil {
			h.log.Warn().Err(err).Msg("storage usage check failed")
		} else if limit := h.storageChecker.GetLimit(); limit > 0 && usage >= limit {
			httpx.RespondErrorString(w, http.StatusInsufficientStorage,
				fmt.Sprintf("storage limit reached: %d of %d bytes used", usage, limit))
			return
		}
	}

	if err := h.symbols.Check(req.Symbol); err != nil {
		httpx.RespondError(w, http.StatusTooManyRequests, err)
		return
	}

	ts := req.Timestamp
	if ts == 0 {
		ts = h.clock.Now().UnixMilli()
	}

	p, err := h.store.Ingest(r.Context(), req.Symbol, req.Bids, req.Asks, ts)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, sampling.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		h.log.Error().Err(err).Str("symbol", req.Symbol).Msg("ingest failed")
		httpx.RespondError(w, status, err)
		return
	}

	h.symbols.Record(req.Symbol)

	httpx.RespondJSON(w, http.StatusOK, IngestResponse{
		Status:      "success",
		Symbol:      req.Symbol,
		Timestamp:   ts,
		BucketStart: p.BucketStart,
		BucketEnd:   p.BucketEnd,
		Retained:    !p.Empty(),
	})
}

// HandleSymbols handles GET /v1/symbols
func (h *Handler) HandleSymbols(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, h.symbols.Stats())
}

// HandlePoints handles GET /v1/points/{symbol}/{window}. With ?bins=N the
// window is topped up by forced collections before it is returned.
func (h *Handler) HandlePoints(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol, err := NormalizeSymbol(vars["symbol"])
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	window := vars["window"]
	if _, err := period.Resolve(window); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid window %q: %v", window, err))
		return
	}

	bins := 0
	if raw := r.URL.Query().Get("bins"); raw != "" {
		bins, err = strconv.Atoi(raw)
		if err != nil || bins <= 0 {
			httpx.RespondErrorString(w, http.StatusBadRequest, "bins must be a positive integer")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.PointsQueryTimeout)
	defer cancel()

	resp := PointsResponse{Symbol: symbol, Window: window, Bins: bins}

	if bins > 0 && h.filler != nil {
		res, err := h.filler.EnsureWindowPoints(ctx, ensure.Request{Symbol: symbol, Window: window, Bins: bins})
		if err != nil {
			h.log.Warn().Err(err).Str("symbol", symbol).Str("window", window).Int("cycles", res.Cycles).Msg("window fill failed")
			httpx.RespondError(w, http.StatusBadGateway, err)
			return
		}
		resp.Points, resp.Target, resp.Cycles = res.Points, res.Target, res.Cycles
	} else {
		points, err := h.store.GetPoints(ctx, symbol, window)
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Points = points
	}

	if resp.Points == nil {
		resp.Points = []storage.Point{}
	}
	resp.Count = len(resp.Points)
	httpx.RespondJSON(w, http.StatusOK, resp)
}

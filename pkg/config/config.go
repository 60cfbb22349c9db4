package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultLogLevel     = "info"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
	DefaultDataDir      = "./data/marketpulse"
	EnvPrefix           = "MARKETPULSE"
)

// Scale names
const (
	ScaleContinuous = "continuous"
	ScaleSampling   = "sampling"
	ScaleCycle      = "cycle"
	ScaleWindow     = "window"
	ScaleReference  = "reference"
	ScaleLoop       = "loop"
)

// AllScales lists every scale the orchestrator subscribes to, in a fixed order.
var AllScales = []string{
	ScaleContinuous,
	ScaleSampling,
	ScaleCycle,
	ScaleWindow,
	ScaleReference,
	ScaleLoop,
}

// Default scale periods
var DefaultScales = map[string]string{
	ScaleContinuous: "5s",
	ScaleSampling:   "10s",
	ScaleCycle:      "1m",
	ScaleWindow:     "5m",
	ScaleReference:  "15m",
	ScaleLoop:       "1m",
}

// Sampling defaults
const (
	DefaultSamplingStep    = "1s"
	DefaultPointInterval   = "2s"
	DefaultMaxForcedCycles = 16
	DefaultDepthLimit      = 100
	DefaultQuote           = "USDT"
)

// DefaultBases is the symbol universe when none is configured.
var DefaultBases = []string{"BTC", "ETH"}

// DefaultWindows are the rolling analysis windows.
var DefaultWindows = []string{"30m", "1h", "4h"}

// Roller intervals
const (
	MinRollerInterval     = 15 * time.Second
	DefaultCycleRoller    = "1m"
	DefaultWindowRoller   = "5m"
	RollerRunTimeout      = 2 * time.Minute
	BadgerGCInterval      = 10 * time.Minute
	RollerHealthyMultiple = 4
)

// Sink delivery
const (
	DefaultSinkTimeout = "5s"
)

// Market data provider
const (
	DefaultMarketBaseURL = "https://api.binance.com"
	DefaultKlineInterval = "1m"
	DefaultKlineLimit    = 120
	MarketTimeout        = 10 * time.Second
)

// Redis cache
const (
	DefaultRedisTTL = "1h"
	RedisKeyPrefix  = "marketpulse:"
)

// Ingest limits and timeouts
const (
	IngestMaxLevelsPerSide = 5000
	IngestMaxBodyBytes     = 4 << 20
	PointsQueryTimeout     = 60 * time.Second
	StatsTimeout           = 5 * time.Second
)

// HTTP server
const (
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 90 * time.Second
	ShutdownTimeout    = 30 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

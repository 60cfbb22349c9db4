package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/nicktill/marketpulse/pkg/period"
)

// Sampling configures the bucketed ingestion and the window guarantor.
type Sampling struct {
	Step          string `yaml:"step" envconfig:"STEP"`
	PointInterval string `yaml:"point_interval" envconfig:"POINT_INTERVAL"`
	MaxCycles     int    `yaml:"max_cycles" envconfig:"MAX_CYCLES"`
	Retention     string `yaml:"retention" envconfig:"RETENTION"`
	DepthLimit    int    `yaml:"depth_limit" envconfig:"DEPTH_LIMIT"`
}

// Sink configures where bucket flushes are posted.
type Sink struct {
	URL     string `yaml:"url" envconfig:"URL"`
	Timeout string `yaml:"timeout" envconfig:"TIMEOUT"`
}

// Rollers configures the fixed-interval rollup drivers.
type Rollers struct {
	Enabled bool   `yaml:"enabled" envconfig:"ENABLED"`
	Cycle   string `yaml:"cycle" envconfig:"CYCLE"`
	Window  string `yaml:"window" envconfig:"WINDOW"`
}

// Storage configures sampling point retention.
type Storage struct {
	Backend      string `yaml:"backend" envconfig:"BACKEND"` // memory | badger
	Path         string `yaml:"path" envconfig:"PATH"`
	MaxMemoryMB  int64  `yaml:"max_memory_mb" envconfig:"MAX_MEMORY_MB"`
	MaxStorageGB int64  `yaml:"max_storage_gb" envconfig:"MAX_STORAGE_GB"`
}

// Redis configures the reference/matrix cache. Empty Addr disables it.
type Redis struct {
	Addr     string `yaml:"addr" envconfig:"ADDR"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB"`
	TTL      string `yaml:"ttl" envconfig:"TTL"`
}

// Postgres configures the rollup/ledger store. Empty DSN disables it.
type Postgres struct {
	DSN          string `yaml:"dsn" envconfig:"DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns int    `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
}

// Market configures the outbound market-data provider.
type Market struct {
	BaseURL       string `yaml:"base_url" envconfig:"BASE_URL"`
	KlineInterval string `yaml:"kline_interval" envconfig:"KLINE_INTERVAL"`
	KlineLimit    int    `yaml:"kline_limit" envconfig:"KLINE_LIMIT"`
}

// Settings is the read-only configuration consumed by the planner, the
// sampling store and the composition root. Call Validate before use.
type Settings struct {
	Port     string            `yaml:"port" envconfig:"PORT"`
	LogLevel string            `yaml:"log_level" envconfig:"LOG_LEVEL"`
	Scales   map[string]string `yaml:"scales" envconfig:"SCALES"`
	Bases    []string          `yaml:"bases" envconfig:"BASES"`
	Quote    string            `yaml:"quote" envconfig:"QUOTE"`
	Windows  []string          `yaml:"windows" envconfig:"WINDOWS"`

	Sampling Sampling `yaml:"sampling" envconfig:"SAMPLING"`
	Sink     Sink     `yaml:"sink" envconfig:"SINK"`
	Rollers  Rollers  `yaml:"rollers" envconfig:"ROLLERS"`
	Storage  Storage  `yaml:"storage" envconfig:"STORAGE"`
	Redis    Redis    `yaml:"redis" envconfig:"REDIS"`
	Postgres Postgres `yaml:"postgres" envconfig:"POSTGRES"`
	Market   Market   `yaml:"market" envconfig:"MARKET"`

	periods       map[string]time.Duration
	windows       map[string]time.Duration
	step          time.Duration
	pointInterval time.Duration
	retention     time.Duration
	sinkTimeout   time.Duration
	cycleRoller   time.Duration
	windowRoller  time.Duration
	redisTTL      time.Duration
}

// Default returns settings populated with the package defaults.
func Default() *Settings {
	scales := make(map[string]string, len(DefaultScales))
	for k, v := range DefaultScales {
		scales[k] = v
	}
	return &Settings{
		Port:     DefaultPort,
		LogLevel: DefaultLogLevel,
		Scales:   scales,
		Bases:    append([]string(nil), DefaultBases...),
		Quote:    DefaultQuote,
		Windows:  append([]string(nil), DefaultWindows...),
		Sampling: Sampling{
			Step:          DefaultSamplingStep,
			PointInterval: DefaultPointInterval,
			MaxCycles:     DefaultMaxForcedCycles,
			DepthLimit:    DefaultDepthLimit,
		},
		Sink:    Sink{Timeout: DefaultSinkTimeout},
		Rollers: Rollers{Enabled: true, Cycle: DefaultCycleRoller, Window: DefaultWindowRoller},
		Storage: Storage{
			Backend:      "memory",
			Path:         DefaultDataDir,
			MaxMemoryMB:  DefaultMaxMemoryMB,
			MaxStorageGB: DefaultMaxStorageGB,
		},
		Redis:    Redis{TTL: DefaultRedisTTL},
		Postgres: Postgres{MaxOpenConns: 10, MaxIdleConns: 5},
		Market: Market{
			BaseURL:       DefaultMarketBaseURL,
			KlineInterval: DefaultKlineInterval,
			KlineLimit:    DefaultKlineLimit,
		},
	}
}

// Load builds settings from defaults, an optional YAML file and
// MARKETPULSE_* environment variables (a .env file is honoured if present).
func Load(path string) (*Settings, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate resolves every period, window label and interval once. Settings
// must not be mutated after a successful Validate.
func (s *Settings) Validate() error {
	if len(s.Bases) == 0 {
		return errors.New("config: at least one base asset is required")
	}
	if strings.TrimSpace(s.Quote) == "" {
		return errors.New("config: quote asset is required")
	}

	s.periods = make(map[string]time.Duration, len(s.Scales))
	for scale, raw := range s.Scales {
		d, err := period.Resolve(raw)
		if err != nil {
			return fmt.Errorf("config: scale %q: %w", scale, err)
		}
		s.periods[scale] = d
	}

	s.windows = make(map[string]time.Duration, len(s.Windows))
	var longest time.Duration
	for _, label := range s.Windows {
		d, err := period.ParseLabel(label)
		if err != nil {
			return fmt.Errorf("config: window %q: %w", label, err)
		}
		s.windows[label] = d
		if d > longest {
			longest = d
		}
	}

	var err error
	if s.step, err = resolveField("sampling.step", s.Sampling.Step); err != nil {
		return err
	}
	if s.Sampling.PointInterval == "0" || s.Sampling.PointInterval == "0s" {
		s.pointInterval = 0
	} else if s.pointInterval, err = resolveField("sampling.point_interval", s.Sampling.PointInterval); err != nil {
		return err
	}
	if s.Sampling.MaxCycles <= 0 {
		s.Sampling.MaxCycles = DefaultMaxForcedCycles
	}
	if s.Sampling.DepthLimit <= 0 {
		s.Sampling.DepthLimit = DefaultDepthLimit
	}

	s.retention = longest
	if s.Sampling.Retention != "" {
		if s.retention, err = resolveField("sampling.retention", s.Sampling.Retention); err != nil {
			return err
		}
	}

	if s.sinkTimeout, err = resolveField("sink.timeout", orDefault(s.Sink.Timeout, DefaultSinkTimeout)); err != nil {
		return err
	}
	if s.cycleRoller, err = resolveField("rollers.cycle", orDefault(s.Rollers.Cycle, DefaultCycleRoller)); err != nil {
		return err
	}
	if s.windowRoller, err = resolveField("rollers.window", orDefault(s.Rollers.Window, DefaultWindowRoller)); err != nil {
		return err
	}
	if s.redisTTL, err = resolveField("redis.ttl", orDefault(s.Redis.TTL, DefaultRedisTTL)); err != nil {
		return err
	}

	switch s.Storage.Backend {
	case "", "memory", "badger":
	default:
		return fmt.Errorf("config: unknown storage backend %q", s.Storage.Backend)
	}

	return nil
}

// ScalePeriod returns the configured period of a scale.
func (s *Settings) ScalePeriod(scale string) (time.Duration, bool) {
	d, ok := s.periods[scale]
	return d, ok
}

// Periods returns a copy of every resolved scale period.
func (s *Settings) Periods() map[string]time.Duration {
	out := make(map[string]time.Duration, len(s.periods))
	for k, v := range s.periods {
		out[k] = v
	}
	return out
}

// Symbols returns the trading pairs formed by every base and the quote asset.
func (s *Settings) Symbols() []string {
	quote := strings.ToUpper(s.Quote)
	out := make([]string, 0, len(s.Bases))
	for _, b := range s.Bases {
		out = append(out, strings.ToUpper(b)+quote)
	}
	return out
}

// WindowSpan returns the span of a window label. Unconfigured labels are
// parsed on the fly.
func (s *Settings) WindowSpan(label string) (time.Duration, error) {
	if d, ok := s.windows[label]; ok {
		return d, nil
	}
	return period.ParseLabel(label)
}

// Step is the sampling bucket width.
func (s *Settings) Step() time.Duration { return s.step }

// PointInterval is the pause between forced sampling cycles.
func (s *Settings) PointInterval() time.Duration { return s.pointInterval }

// Retention is how long sampling points are kept per symbol.
func (s *Settings) Retention() time.Duration { return s.retention }

// SinkTimeout bounds a single flush delivery.
func (s *Settings) SinkTimeout() time.Duration { return s.sinkTimeout }

// CycleRollerInterval is the cycle roller period.
func (s *Settings) CycleRollerInterval() time.Duration { return s.cycleRoller }

// WindowRollerInterval is the window roller period.
func (s *Settings) WindowRollerInterval() time.Duration { return s.windowRoller }

// RedisTTL is the expiry of cached reference data.
func (s *Settings) RedisTTL() time.Duration { return s.redisTTL }

func resolveField(name, raw string) (time.Duration, error) {
	d, err := period.Resolve(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", name, err)
	}
	return d, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

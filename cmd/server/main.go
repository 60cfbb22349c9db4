package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/nicktill/marketpulse/pkg/clock"
	"github.com/nicktill/marketpulse/pkg/config"
	"github.com/nicktill/marketpulse/pkg/ensure"
	"github.com/nicktill/marketpulse/pkg/executors"
	"github.com/nicktill/marketpulse/pkg/ingest"
	"github.com/nicktill/marketpulse/pkg/logx"
	"github.com/nicktill/marketpulse/pkg/market"
	"github.com/nicktill/marketpulse/pkg/orchestrator"
	"github.com/nicktill/marketpulse/pkg/roller"
	"github.com/nicktill/marketpulse/pkg/sampling"
	"github.com/nicktill/marketpulse/pkg/server"
	"github.com/nicktill/marketpulse/pkg/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("MARKETPULSE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logx.New(settings.LogLevel)
	zlog.Logger = log
	log.Info().Str("port", settings.Port).Strs("symbols", settings.Symbols()).Msg("starting marketpulse")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, settings, log, clockwork.NewRealClock())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	if err := a.start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", a.server.Addr).Msg("HTTP server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	a.shutdown(shutdownCtx)
	log.Info().Msg("marketpulse exited cleanly")
}

// app is the composition root: every long-lived component and the order
// they start and stop in.
type app struct {
	settings *config.Settings
	log      zerolog.Logger
	clock    clockwork.Clock

	points  storage.PointStore
	store   *sampling.Store
	stream  *ingest.FlushHub
	hub     *clock.Hub
	orch    *orchestrator.Orchestrator
	rollers []*roller.Roller
	router  *mux.Router
	server  *http.Server
	closers []func() error

	cancelRollers context.CancelFunc
	rollersWG     sync.WaitGroup
	cancelBG      context.CancelFunc
	bgWG          sync.WaitGroup
}

func newApp(ctx context.Context, settings *config.Settings, log zerolog.Logger, clk clockwork.Clock) (*app, error) {
	a := &app{settings: settings, log: log, clock: clk}

	points, storageMonitor, err := server.InitializeStorage(settings, log)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.points = points

	rollups, closeRollups, err := server.InitializeRollups(ctx, settings, log)
	if err != nil {
		points.Close()
		return nil, fmt.Errorf("rollups: %w", err)
	}
	a.closers = append(a.closers, closeRollups)

	deps := executors.Deps{Rollups: rollups, Log: log.With().Str("component", "executors").Logger()}

	cache, err := server.InitializeCache(ctx, settings, log)
	if err != nil {
		a.closeBackends()
		points.Close()
		return nil, fmt.Errorf("cache: %w", err)
	}
	if cache != nil {
		deps.Cache = cache
		a.closers = append(a.closers, cache.Close)
	}

	provider := market.New(settings.Market.BaseURL, config.MarketTimeout)
	deps.Market = provider

	a.stream = ingest.NewFlushHub(log.With().Str("component", "stream").Logger())

	a.store = sampling.New(points, sampling.Config{
		Step:        settings.Step(),
		Retention:   settings.Retention(),
		DepthLimit:  settings.Sampling.DepthLimit,
		SinkTimeout: settings.SinkTimeout(),
	},
		sampling.WithClock(clk),
		sampling.WithLogger(log.With().Str("component", "sampling").Logger()),
		sampling.WithSink(server.InitializeSink(settings, a.stream, log)),
		sampling.WithSource(provider),
	)
	deps.Sampler = a.store

	guarantor := ensure.New(a.store,
		ensure.WithClock(clk),
		ensure.WithLogger(log.With().Str("component", "ensure").Logger()),
		ensure.WithMaxCycles(settings.Sampling.MaxCycles),
		ensure.WithPointInterval(settings.PointInterval()),
	)

	handler := ingest.NewHandler(a.store,
		ingest.WithFiller(guarantor),
		ingest.WithClock(clk),
		ingest.WithLogger(log.With().Str("component", "ingest").Logger()),
	)
	handler.SetStorageChecker(storageMonitor)

	a.hub = clock.NewHub(settings.Periods(),
		clock.WithClock(clk),
		clock.WithLogger(log.With().Str("component", "clock").Logger()),
	)
	a.orch = orchestrator.New(a.hub, settings, executors.Registry(deps),
		orchestrator.WithLogger(log.With().Str("component", "orchestrator").Logger()),
	)

	rollers, monitors := server.InitializeRollers(rollups, settings, clk, log.With().Str("component", "roller").Logger())
	a.rollers = rollers

	a.router = mux.NewRouter()
	server.SetupRoutes(a.router, server.Routes{
		Ingest:  handler,
		Stream:  a.stream,
		Hub:     a.hub,
		Points:  points,
		Storage: storageMonitor,
		Rollers: monitors,
		Port:    settings.Port,
		Log:     log.With().Str("component", "http").Logger(),
	})

	a.server = &http.Server{
		Addr:         ":" + settings.Port,
		Handler:      a.router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}
	return a, nil
}

// start launches background work. The HTTP listener is started by the caller.
func (a *app) start() error {
	bgCtx, cancelBG := context.WithCancel(context.Background())
	a.cancelBG = cancelBG

	a.bgWG.Add(2)
	go func() {
		defer a.bgWG.Done()
		a.stream.Run(bgCtx)
	}()
	go func() {
		defer a.bgWG.Done()
		server.RunBadgerGC(bgCtx, a.points, config.BadgerGCInterval, a.clock, a.log)
	}()

	if err := a.orch.Start(bgCtx); err != nil {
		cancelBG()
		return err
	}

	rollerCtx, cancelRollers := context.WithCancel(context.Background())
	a.cancelRollers = cancelRollers
	for _, r := range a.rollers {
		a.rollersWG.Add(1)
		go func(r *roller.Roller) {
			defer a.rollersWG.Done()
			r.Run(rollerCtx)
		}(r)
	}
	return nil
}

// shutdown stops the HTTP server, the orchestrator, the rollers, the hub,
// the sampling store and finally the backends, in that order.
func (a *app) shutdown(ctx context.Context) {
	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("HTTP server shutdown")
	}

	a.orch.Stop()

	if a.cancelRollers != nil {
		a.cancelRollers()
	}
	a.rollersWG.Wait()

	a.hub.Stop()

	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("sampling store close")
	}

	if a.cancelBG != nil {
		a.cancelBG()
	}
	a.bgWG.Wait()

	if err := a.points.Close(); err != nil {
		a.log.Warn().Err(err).Msg("point storage close")
	}
	a.closeBackends()
}

func (a *app) closeBackends() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("backend close")
		}
	}
	a.closers = nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/crankworker/internal/config"
	"github.com/torosent/crankworker/internal/logging"
	"github.com/torosent/crankworker/internal/ratelimit"
	"github.com/torosent/crankworker/internal/runner"
	"github.com/torosent/crankworker/internal/scenario"
	"github.com/torosent/crankworker/internal/stats"
	"github.com/torosent/crankworker/internal/telemetry"
	"github.com/torosent/crankworker/internal/tracing"
	"github.com/torosent/crankworker/internal/transport"
)

// dialTimeout bounds the initial connection to the master.
const dialTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("node_id", cfg.NodeID))

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(sigCtx, cfg.Tracing, cfg.NodeID)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("flushing spans", zap.Error(err))
		}
	}()

	tasks, err := loadTasks(cfg, tp, logger)
	if err != nil {
		return err
	}

	dialCtx, cancelDial := context.WithTimeout(sigCtx, dialTimeout)
	client, err := transport.Dial(dialCtx, transport.Options{
		URL:     cfg.MasterEndpoint(),
		NodeID:  cfg.NodeID,
		Headers: masterHeaders(cfg.MasterHeaders),
	})
	cancelDial()
	if err != nil {
		return fmt.Errorf("connect to master: %w", err)
	}
	logger.Info("connected to master",
		zap.String("endpoint", cfg.MasterEndpoint()),
		zap.String("transport", string(cfg.Transport)))

	engine := stats.New(stats.Options{ReportInterval: cfg.ReportInterval, Logger: logger})
	exporter := telemetry.NewExporter()
	if cp, ok := client.(transport.CounterProvider); ok {
		exporter.WatchTransport(cp)
	}

	r, err := runner.New(runner.Options{
		NodeID:           cfg.NodeID,
		Client:           client,
		Tasks:            tasks,
		Stats:            engine,
		Recorder:         exporter.Recorder(engine),
		Limiter:          newLimiter(cfg),
		Logger:           logger,
		Observer:         exporter,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		DisableHeartbeat: cfg.DisableHeartbeat,
	})
	if err != nil {
		_ = client.Close()
		return err
	}

	// Signals go through Quit so the master hears about it.
	go func() {
		<-sigCtx.Done()
		r.Quit()
	}()

	bgCtx, cancelBg := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(bgCtx)
	g.Go(func() error {
		engine.Run(gctx)
		return nil
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return exporter.Serve(gctx, cfg.MetricsAddr, logger) })
	}

	runErr := r.Run(context.Background())
	cancelBg()
	if err := g.Wait(); err != nil {
		logger.Error("background service failed", zap.Error(err))
	}

	summary := engine.Summary()
	logger.Info("worker exited",
		zap.Int64("requests", summary.Count),
		zap.Int64("p50_ms", summary.P50Ms),
		zap.Int64("p99_ms", summary.P99Ms))

	if errors.Is(runErr, runner.ErrMasterTimeout) {
		return fmt.Errorf("master stopped responding for %s: %w", cfg.HeartbeatTimeout, runErr)
	}
	return runErr
}

func loadTasks(cfg *config.Config, tp *tracing.Provider, logger *zap.Logger) ([]runner.Task, error) {
	if cfg.Demo {
		return scenario.Demo(), nil
	}
	f, err := scenario.Load(cfg.Scenario)
	if err != nil {
		return nil, err
	}
	var tracer trace.Tracer
	if tp.Enabled() {
		tracer = tp.Tracer()
	}
	return scenario.Build(f, scenario.Options{
		Tracer:    tracer,
		Propagate: tp.ShouldPropagate(),
		Logger:    logger,
	})
}

func newLimiter(cfg *config.Config) ratelimit.RateLimiter {
	if !cfg.RateLimitEnabled() {
		return nil
	}
	switch cfg.RateLimiter {
	case config.LimiterRampUp:
		return ratelimit.NewRampUp(cfg.MaxRPS, cfg.RampUpStep, cfg.RampUpPeriod, cfg.RefillPeriod)
	case config.LimiterSmooth:
		return ratelimit.NewSmooth(float64(cfg.MaxRPS))
	default:
		return ratelimit.NewStable(cfg.MaxRPS, cfg.RefillPeriod)
	}
}

func masterHeaders(h map[string]string) http.Header {
	if len(h) == 0 {
		return nil
	}
	headers := make(http.Header, len(h))
	for k, v := range h {
		headers.Set(k, v)
	}
	return headers
}

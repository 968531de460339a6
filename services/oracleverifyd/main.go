package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"oraclecheck/chain"
	"oraclecheck/deployments"
	"oraclecheck/directory"
	"oraclecheck/metering"
	"oraclecheck/observability"
	"oraclecheck/observability/logging"
	telemetry "oraclecheck/observability/otel"
	"oraclecheck/services/oracleverifyd/config"
	"oraclecheck/services/oracleverifyd/server"
	"oraclecheck/services/oracleverifyd/storage"
	"oraclecheck/vault"
	"oraclecheck/verify"
	"oraclecheck/whitelist"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/oracleverifyd/config.yaml", "path to oracleverifyd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("oracleverifyd: load config: %v", err)
	}
	logger := logging.SetupWithOptions("oracleverifyd", cfg.Environment, logging.Options{
		Level: logging.ParseLevel(cfg.LogLevel),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetryConfig(cfg))
	if err != nil {
		log.Fatalf("oracleverifyd: init telemetry: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(flushCtx)
	}()

	feeds, err := whitelist.Load(whitelist.WithCuratedFile(cfg.Whitelist.CuratedPath))
	if err != nil {
		log.Fatalf("oracleverifyd: load whitelist: %v", err)
	}
	logger.Info("whitelist loaded", slog.Int("feeds", feeds.Len()))

	for chainID, endpoint := range cfg.RPC {
		logger.Info("rpc endpoint configured",
			slog.Uint64("chain_id", chainID),
			logging.Endpoint("rpc", endpoint))
	}
	clients, err := chain.Dial(ctx, cfg.RPC)
	if err != nil {
		log.Fatalf("oracleverifyd: dial rpc: %v", err)
	}
	defer clients.Close()
	caller := clients.Caller(logger)
	locator := chain.NewLocator(clients.LogClients(),
		chain.WithLogChunk(cfg.Registry.LogChunk),
		chain.WithLocatorLogger(logger))

	dsn, err := storage.FileDSN(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("oracleverifyd: resolve storage DSN: %v", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("oracleverifyd: open storage: %v", err)
	}
	defer store.Close()

	reader := chain.NewReader(caller)
	registry := deployments.NewRegistry(locator, store,
		deployments.WithLogger(logger),
		deployments.WithOracleReader(reader))

	meter, err := metering.Open(cfg.MeteringPath, metering.WithLogger(logger))
	if err != nil {
		log.Fatalf("oracleverifyd: open metering: %v", err)
	}
	defer meter.Close()

	logger.Info("market directory configured",
		logging.Endpoint("directory", cfg.Directory.Endpoint),
		slog.Duration("timeout", cfg.Directory.Timeout.Duration))
	dir := directory.NewClient(cfg.Directory.Endpoint, directory.WithHTTPClient(&http.Client{
		Timeout:   cfg.Directory.Timeout.Duration,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}))

	threshold, err := cfg.Threshold()
	if err != nil {
		log.Fatalf("oracleverifyd: %v", err)
	}
	svc := verify.NewService(verify.Deps{
		Whitelist: feeds,
		NewVaults: func() verify.VaultFeeds {
			return vault.NewResolver(caller, vault.WithLogger(logger))
		},
		Reader:     reader,
		Directory:  dir,
		Duplicates: registry,
	},
		verify.WithLogger(logger),
		verify.WithThreshold(threshold),
		verify.WithRunTimeout(cfg.Verify.RunTimeout.Duration),
		verify.WithMetering(meter),
		verify.WithCompletionHook(func(ctx context.Context, snap verify.Snapshot) {
			if err := store.RecordRun(ctx, runFrom(snap)); err != nil {
				logger.Warn("record run failed", slog.String("session", snap.Session), slog.Any("error", err))
			}
		}),
	)
	defer svc.Close()

	var wg sync.WaitGroup
	if !cfg.Registry.Disabled {
		for _, chainID := range clients.Chains() {
			wg.Add(1)
			go func(chainID uint64) {
				defer wg.Done()
				syncLoop(ctx, registry, chainID, cfg.Registry.Interval.Duration, logger)
			}(chainID)
		}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		pruneLoop(ctx, svc, cfg.Verify.SessionTTL.Duration, logger)
	}()

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		RateLimit: server.RateLimit{
			PerSecond: cfg.RateLimit.RatePerSecond,
			Burst:     cfg.RateLimit.Burst,
		},
	}, server.Deps{
		Verifier:       svc,
		Whitelist:      feeds,
		Configurations: registry,
		Directory:      dir,
		Users:          meter,
		Runs:           store,
	}, logger)
	if err != nil {
		log.Fatalf("oracleverifyd: configure server: %v", err)
	}
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
	}
	stop()
	wg.Wait()
}

func telemetryConfig(cfg config.Config) telemetry.Config {
	endpoint := strings.TrimSpace(cfg.Telemetry.Endpoint)
	if env := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); env != "" {
		endpoint = env
	}
	insecure := cfg.Telemetry.Insecure
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	return telemetry.Config{
		ServiceName: "oracleverifyd",
		Environment: cfg.Environment,
		Endpoint:    endpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}
}

func syncLoop(ctx context.Context, registry *deployments.Registry, chainID uint64, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(tickInterval(interval))
	defer ticker.Stop()
	for {
		added, err := registry.Sync(ctx, chainID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("deployment sync failed", slog.Uint64("chain_id", chainID), slog.Any("error", err))
		} else {
			observability.Verifier().RecordIndexed(chainID, added)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func pruneLoop(ctx context.Context, svc *verify.Service, ttl time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(tickInterval(ttl / 2))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := svc.Prune(ttl); n > 0 {
				logger.Debug("pruned idle sessions", slog.Int("sessions", n))
			}
		}
	}
}

// tickInterval keeps background tickers at one second or slower.
func tickInterval(d time.Duration) time.Duration {
	return max(d, minTick)
}

const minTick = time.Second

func runFrom(snap verify.Snapshot) storage.Run {
	verdicts := make(map[string]string, len(snap.Checks))
	for name, state := range snap.Checks {
		verdicts[name] = string(state.Verdict)
	}
	finished := snap.StartedAt
	if snap.FinishedAt != nil {
		finished = *snap.FinishedAt
	}
	return storage.Run{
		ID:         uuid.NewString(),
		SessionID:  snap.Session,
		ChainID:    snap.ChainID,
		Collateral: snap.Collateral.Symbol,
		Loan:       snap.Loan.Symbol,
		Verdicts:   verdicts,
		StartedAt:  snap.StartedAt,
		FinishedAt: finished,
	}
}

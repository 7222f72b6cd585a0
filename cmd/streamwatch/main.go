package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"strapt-sync/internal/domain"
	"strapt-sync/internal/ledger"
	"strapt-sync/internal/observability"
	"strapt-sync/internal/ratelimit"
	"strapt-sync/internal/reconcile"
	"strapt-sync/internal/registry"
	"strapt-sync/internal/storage"
	chstore "strapt-sync/internal/storage/clickhouse"
	"strapt-sync/internal/storage/memory"
	"strapt-sync/internal/storage/migrations"
	pgstore "strapt-sync/internal/storage/postgres"
)

func main() {
	rpcEndpoint := flag.String("rpc-endpoint", "", "Ledger RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", "", "Ledger WebSocket endpoint (empty to disable live events)")
	account := flag.String("account", "", "Account address to watch")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (empty to disable history)")
	cacheTTL := flag.Duration("cache-ttl", reconcile.DefaultTTL, "Stream cache freshness window")
	fastInterval := flag.Duration("fast-interval", registry.DefaultFastInterval, "Local interpolation tick interval")
	slowInterval := flag.Duration("slow-interval", registry.DefaultSlowInterval, "Remote reconciliation interval")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	printUpdates := flag.Bool("print-updates", false, "Print the visible stream list on every update")

	flag.Parse()

	logger := log.New(os.Stdout, "[streamwatch] ", log.LstdFlags|log.Lshortfile)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err := run(ctx, logger, runConfig{
		rpcEndpoint:   *rpcEndpoint,
		wsEndpoint:    *wsEndpoint,
		account:       *account,
		postgresDSN:   *postgresDSN,
		clickhouseDSN: *clickhouseDSN,
		cacheTTL:      *cacheTTL,
		fastInterval:  *fastInterval,
		slowInterval:  *slowInterval,
		useMemory:     *useMemory,
		printUpdates:  *printUpdates,
	})

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

type runConfig struct {
	rpcEndpoint   string
	wsEndpoint    string
	account       string
	postgresDSN   string
	clickhouseDSN string
	cacheTTL      time.Duration
	fastInterval  time.Duration
	slowInterval  time.Duration
	useMemory     bool
	printUpdates  bool
}

// run wires storage, the rate-limited reader, and the registry loop.
func run(ctx context.Context, logger *log.Logger, cfg runConfig) error {
	if cfg.rpcEndpoint == "" {
		return fmt.Errorf("--rpc-endpoint is required")
	}
	if cfg.account == "" {
		return fmt.Errorf("--account is required")
	}
	if !ledger.ValidAddress(cfg.account) {
		return fmt.Errorf("--account %q is not a valid address", cfg.account)
	}
	if !cfg.useMemory && cfg.postgresDSN == "" {
		return fmt.Errorf("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	rpc := ledger.NewHTTPClient(cfg.rpcEndpoint)

	var cache storage.StreamCacheStore = memory.NewStreamCacheStore()
	var progress storage.ScanProgressStore = memory.NewScanProgressStore()

	if !cfg.useMemory {
		pool, err := pgstore.NewPool(ctx, cfg.postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run postgres migrations: %w", err)
		}

		cache = pgstore.NewStreamCacheStore(pool)
		progress = pgstore.NewScanProgressStore(pool)
	}

	var history storage.StreamHistoryStore
	if cfg.clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.clickhouseDSN)
		if err != nil {
			return fmt.Errorf("run clickhouse migrations: %w", err)
		}
		defer conn.Close()
		history = chstore.NewStreamHistoryStore(conn)
	}

	var ws ledger.WSClient
	if cfg.wsEndpoint != "" {
		wsClient, err := ledger.NewWSClient(ctx, cfg.wsEndpoint, nil)
		if err != nil {
			return fmt.Errorf("create websocket client: %w", err)
		}
		defer wsClient.Close()
		ws = wsClient
	}

	gate := ratelimit.NewGate(ratelimit.DefaultMinInterval)

	reader := reconcile.NewReader(rpc, cache, gate, reconcile.ReaderOptions{
		Tokens:  rpc,
		History: history,
		Logger:  logger,
		TTL:     cfg.cacheTTL,
	})

	opts := registry.Options{
		Progress:     progress,
		History:      history,
		WS:           ws,
		Logger:       logger,
		FastInterval: cfg.fastInterval,
		SlowInterval: cfg.slowInterval,
	}
	if cfg.printUpdates {
		opts.OnUpdate = printStreams(logger)
	}

	reg := registry.NewRegistry(rpc, reader, cache, gate, registry.StaticIdentity(cfg.account), opts)

	logger.Printf("Watching streams for %s", cfg.account)
	return reg.Run(ctx)
}

func printStreams(logger *log.Logger) func([]*domain.Stream) {
	return func(streams []*domain.Stream) {
		for _, s := range streams {
			line, err := json.Marshal(s)
			if err != nil {
				continue
			}
			logger.Printf("stream %s", line)
		}
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"strapt-sync/internal/domain"
	"strapt-sync/internal/ledger"
	"strapt-sync/internal/mutate"
	"strapt-sync/internal/ratelimit"
	"strapt-sync/internal/reconcile"
	"strapt-sync/internal/storage"
	"strapt-sync/internal/storage/memory"
	"strapt-sync/internal/storage/migrations"
	pgstore "strapt-sync/internal/storage/postgres"
)

func main() {
	op := flag.String("op", "", "Operation: create, pause, resume, cancel, withdraw, or release")
	rpcEndpoint := flag.String("rpc-endpoint", "", "Ledger RPC HTTP endpoint")
	contract := flag.String("contract", "", "Stream ledger contract address")
	account := flag.String("account", "", "Signing account address")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string for shared cache invalidation (empty for in-memory)")

	streamID := flag.String("stream-id", "", "Target stream id")
	recipient := flag.String("recipient", "", "Recipient address (create)")
	token := flag.String("token", "", "Token address (create)")
	amount := flag.String("amount", "", "Total stream amount (create)")
	start := flag.String("start", "", "Stream start time, RFC3339 (create; empty for now)")
	end := flag.String("end", "", "Stream end time, RFC3339 (create)")
	milestones := flag.String("milestones", "", "Comma-separated percentage:description milestone pairs (create)")
	index := flag.Int("milestone-index", -1, "Milestone index (release)")

	flag.Parse()

	logger := log.New(os.Stdout, "[streamctl] ", log.LstdFlags)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, aborting...", sig)
		cancel()
	}()

	if err := run(ctx, logger, cmdConfig{
		op:          *op,
		rpcEndpoint: *rpcEndpoint,
		contract:    *contract,
		account:     *account,
		postgresDSN: *postgresDSN,
		streamID:    *streamID,
		recipient:   *recipient,
		token:       *token,
		amount:      *amount,
		start:       *start,
		end:         *end,
		milestones:  *milestones,
		index:       *index,
	}); err != nil {
		logger.Fatalf("Error: %v", err)
	}
}

type cmdConfig struct {
	op          string
	rpcEndpoint string
	contract    string
	account     string
	postgresDSN string
	streamID    string
	recipient   string
	token       string
	amount      string
	start       string
	end         string
	milestones  string
	index       int
}

func run(ctx context.Context, logger *log.Logger, cfg cmdConfig) error {
	if cfg.op == "" {
		return fmt.Errorf("--op is required (create, pause, resume, cancel, withdraw, release)")
	}
	if cfg.rpcEndpoint == "" {
		return fmt.Errorf("--rpc-endpoint is required")
	}
	if cfg.contract == "" {
		return fmt.Errorf("--contract is required")
	}
	if cfg.account == "" {
		return fmt.Errorf("--account is required")
	}
	if !ledger.ValidAddress(cfg.account) {
		return fmt.Errorf("--account %q is not a valid address", cfg.account)
	}

	rpc := ledger.NewHTTPClient(cfg.rpcEndpoint)

	var cache storage.StreamCacheStore = memory.NewStreamCacheStore()
	if cfg.postgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run postgres migrations: %w", err)
		}
		cache = pgstore.NewStreamCacheStore(pool)
	}

	gate := ratelimit.NewGate(ratelimit.DefaultMinInterval)
	reader := reconcile.NewReader(rpc, cache, gate, reconcile.ReaderOptions{
		Tokens: rpc,
		Logger: logger,
	})
	mutator := mutate.NewMutator(rpc, reader, cache, rpc, cfg.contract, mutate.MutatorOptions{
		Logger: logger,
	})

	switch cfg.op {
	case "create":
		return runCreate(ctx, logger, mutator, cfg)
	case "pause":
		return requireStream(cfg, func() error {
			txID, err := mutator.PauseStream(ctx, cfg.account, cfg.streamID)
			return report(logger, "paused", cfg.streamID, txID, err)
		})
	case "resume":
		return requireStream(cfg, func() error {
			txID, err := mutator.ResumeStream(ctx, cfg.account, cfg.streamID)
			return report(logger, "resumed", cfg.streamID, txID, err)
		})
	case "cancel":
		return requireStream(cfg, func() error {
			txID, err := mutator.CancelStream(ctx, cfg.account, cfg.streamID)
			return report(logger, "canceled", cfg.streamID, txID, err)
		})
	case "withdraw":
		return requireStream(cfg, func() error {
			return runWithdraw(ctx, logger, mutator, cfg)
		})
	case "release":
		return requireStream(cfg, func() error {
			if cfg.index < 0 {
				return fmt.Errorf("--milestone-index is required for release")
			}
			txID, err := mutator.ReleaseMilestone(ctx, cfg.account, cfg.streamID, cfg.index)
			if err != nil {
				return err
			}
			logger.Printf("Released milestone %d of %s in tx %s", cfg.index, cfg.streamID, txID)
			return nil
		})
	default:
		return fmt.Errorf("unknown operation %q", cfg.op)
	}
}

func requireStream(cfg cmdConfig, fn func() error) error {
	if cfg.streamID == "" {
		return fmt.Errorf("--stream-id is required for %s", cfg.op)
	}
	if !domain.ValidStreamID(cfg.streamID) {
		return fmt.Errorf("--stream-id %q is not a valid stream id", cfg.streamID)
	}
	return fn()
}

func report(logger *log.Logger, verb, id, txID string, err error) error {
	if err != nil {
		return err
	}
	logger.Printf("Stream %s %s in tx %s", id, verb, txID)
	return nil
}

func runCreate(ctx context.Context, logger *log.Logger, mutator *mutate.Mutator, cfg cmdConfig) error {
	if cfg.recipient == "" || cfg.token == "" || cfg.amount == "" || cfg.end == "" {
		return fmt.Errorf("--recipient, --token, --amount, and --end are required for create")
	}
	if !ledger.ValidAddress(cfg.recipient) {
		return fmt.Errorf("--recipient %q is not a valid address", cfg.recipient)
	}

	amount, err := decimal.NewFromString(cfg.amount)
	if err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("amount must be positive")
	}

	startTime := time.Now()
	if cfg.start != "" {
		startTime, err = time.Parse(time.RFC3339, cfg.start)
		if err != nil {
			return fmt.Errorf("parse start: %w", err)
		}
	}
	endTime, err := time.Parse(time.RFC3339, cfg.end)
	if err != nil {
		return fmt.Errorf("parse end: %w", err)
	}
	if !endTime.After(startTime) {
		return fmt.Errorf("end must be after start")
	}

	ms, err := parseMilestones(cfg.milestones)
	if err != nil {
		return err
	}

	result, err := mutator.CreateStream(ctx, mutate.CreateParams{
		Sender:     cfg.account,
		Recipient:  cfg.recipient,
		Token:      cfg.token,
		Amount:     amount,
		StartTime:  startTime.Unix(),
		EndTime:    endTime.Unix(),
		Milestones: ms,
	})
	if err != nil {
		return err
	}

	logger.Printf("Created stream %s in tx %s", result.StreamID, result.TxID)
	return nil
}

func runWithdraw(ctx context.Context, logger *log.Logger, mutator *mutate.Mutator, cfg cmdConfig) error {
	result, err := mutator.WithdrawFromStream(ctx, cfg.account, cfg.streamID)
	if err != nil {
		return err
	}
	if result.NothingToClaim {
		logger.Printf("Stream %s has nothing to claim", cfg.streamID)
		return nil
	}

	logger.Printf("Withdrew %s from stream %s in tx %s", result.Claimed, cfg.streamID, result.TxID)
	if result.MarkedCompleted {
		logger.Printf("Stream %s marked completed", cfg.streamID)
	}
	return nil
}

// parseMilestones parses "50:first half,100:final" style pairs.
func parseMilestones(input string) ([]domain.Milestone, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}

	var out []domain.Milestone
	for _, pair := range strings.Split(input, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		pct, err := strconv.ParseUint(parts[0], 10, 8)
		if err != nil || pct == 0 || pct > 100 {
			return nil, fmt.Errorf("invalid milestone percentage %q", parts[0])
		}
		ms := domain.Milestone{Percentage: uint8(pct)}
		if len(parts) == 2 {
			ms.Description = strings.TrimSpace(parts[1])
		}
		out = append(out, ms)
	}
	return out, nil
}

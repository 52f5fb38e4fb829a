package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/0xc0d3d00d/swapcandles/internal/chain"
	"github.com/0xc0d3d00d/swapcandles/internal/config"
	"github.com/0xc0d3d00d/swapcandles/internal/connect/handler"
	"github.com/0xc0d3d00d/swapcandles/internal/connect/server"
	"github.com/0xc0d3d00d/swapcandles/internal/domain"
	"github.com/0xc0d3d00d/swapcandles/internal/generator"
	"github.com/0xc0d3d00d/swapcandles/internal/metrics"
	"github.com/0xc0d3d00d/swapcandles/internal/retry"
	"github.com/0xc0d3d00d/swapcandles/internal/storage"
	"github.com/0xc0d3d00d/swapcandles/internal/storage/clickhouse"
	"github.com/0xc0d3d00d/swapcandles/internal/storage/memory"
	"github.com/0xc0d3d00d/swapcandles/internal/storage/postgres"
	"github.com/0xc0d3d00d/swapcandles/internal/storage/redis"
	"github.com/0xc0d3d00d/swapcandles/internal/storage/sqlite"
)

type candleStore interface {
	generator.CandleStore
	GetCandles(ctx context.Context, pair string, tf domain.Timeframe, from, to time.Time) ([]*domain.Candle, error)
	Close() error
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		return 1
	}

	// set global logger with custom options
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      cfg.Level(),
			TimeFormat: time.DateTime,
		}),
	))

	if err := cfg.Validate(); err != nil {
		slog.ErrorContext(ctx, "invalid config", "error", err)
		return 1
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open store", "driver", cfg.StoreDriver, "error", err)
		return 1
	}
	defer store.Close()

	client := chain.NewClient(cfg.RPCURL, chain.WithTimeout(cfg.RPCTimeout))
	source := chain.NewSource(client, chain.SourceConfig{
		Topic:         cfg.SwapTopic,
		StartBlock:    cfg.StartBlock,
		BlockRange:    cfg.BlockRange,
		Confirmations: cfg.Confirmations,
	}, slog.Default())

	caller := retry.New(cfg.RetryMaxAttempts, cfg.RetryBaseDelay)
	caller.AttemptTimeout = cfg.AttemptTimeout

	svc := generator.New(generator.Options{
		Source:       source,
		Store:        store,
		Pairs:        cfg.Pairs,
		PollInterval: cfg.PollInterval,
		Concurrency:  cfg.PollConcurrency,
		Retry:        caller,
		WarmRestart:  cfg.WarmRestart,
		Metrics:      metrics.New(prometheus.DefaultRegisterer),
		Logger:       slog.Default(),
	})

	h := handler.NewHandler(store, svc.Aggregator())
	connectServer, err := server.New(ctx, cfg.ListenAddress,
		server.WithHandlerFunc(h.HTTPHandler),
		server.WithReadiness(svc.Ready),
	)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create server", "error", err)
		return 1
	}

	g, gCtx := errgroup.WithContext(ctx)

	// The generator runs until stopped or until it hits an invariant violation
	g.Go(func() error {
		slog.InfoContext(ctx, "starting candle generator", "pairs", cfg.Pairs, "store", cfg.StoreDriver)
		err := svc.Start(context.Background()).Wait()
		cancel()
		return err
	})

	// Start Connect server
	g.Go(func() error {
		slog.InfoContext(ctx, "starting server", "listen_address", cfg.ListenAddress)
		if err := runHttpServer(ctx, cfg.ListenAddress, connectServer); err != nil {
			slog.ErrorContext(ctx, "failed to start server", "error", err)
			cancel()
			return err
		}
		return nil
	})

	// Handle graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		svc.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		slog.Info("shutting down server gracefully")

		return connectServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server terminated", "err", err)
		return 1
	}
	return 0
}

func runHttpServer(ctx context.Context, listenAddress string, srv *server.Server) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return err
	}

	err = srv.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func openStore(ctx context.Context, cfg *config.Config) (candleStore, error) {
	switch cfg.StoreDriver {
	case config.StoreFile:
		return storage.NewOsStorage(cfg.DataDir, cfg.ChunkCandleCount, slog.Default())
	case config.StoreMemory:
		return memory.New(), nil
	case config.StorePostgres:
		s, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case config.StoreSQLite:
		return sqlite.New(ctx, cfg.SQLitePath)
	case config.StoreRedis:
		return redis.New(ctx, cfg.RedisURL, cfg.RedisPassword)
	case config.StoreClickHouse:
		s, err := clickhouse.New(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.StoreDriver)
	}
}

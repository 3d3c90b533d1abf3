// Command escrowd serves the bank, shop, widget store and payment
// processor from a single durable execution engine.
//
// Storage is PostgreSQL when ESCROW_DATABASE_URL is set and in-memory
// otherwise. ESCROW_REDIS_ADDR moves checkpoints, signals and dead
// letters to Redis while business tables stay in the primary store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/api"
	audithook "github.com/xraph/escrow/audit_hook"
	"github.com/xraph/escrow/engine"
	"github.com/xraph/escrow/shop"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/store/memory"
	"github.com/xraph/escrow/store/postgres"
	redisstore "github.com/xraph/escrow/store/redis"
)

const shutdownTimeout = 15 * time.Second

var catalog = []shop.Product{
	{Name: "Pen", Description: "A smooth ballpoint pen", ImageName: "pen.png", Price: 1000, Inventory: 100},
	{Name: "Notebook", Description: "A5 dotted notebook", ImageName: "notebook.png", Price: 1500, Inventory: 50},
	{Name: "Eraser", Description: "Dust-free eraser", ImageName: "eraser.png", Price: 200, Inventory: 200},
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if err := run(logger); err != nil {
		logger.Error("escrowd exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := escrow.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	s, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	opts := []engine.Option{
		engine.WithStore(s),
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithExtension(audithook.New(audithook.NewLogRecorder(logger.With(slog.String("component", "audit"))))),
	}
	if addr := os.Getenv("ESCROW_REDIS_ADDR"); addr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: addr})
		defer rdb.Close()
		es := redisstore.New(rdb, redisstore.WithLogger(logger))
		if err := es.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		opts = append(opts, engine.WithEngineStore(es))
	}

	eng, err := engine.New(opts...)
	if err != nil {
		return err
	}
	if err := eng.Shop().Seed(ctx, catalog...); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}

	addr := os.Getenv("ESCROW_ADDR")
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.BankPort)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.New(eng).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("escrowd listening", slog.String("addr", addr), slog.String("bank", cfg.BankName))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errc:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.String("error", err.Error()))
	}
	return eng.Stop(shutdownCtx)
}

func openStore(ctx context.Context, logger *slog.Logger) (store.Store, error) {
	if dsn := os.Getenv("ESCROW_DATABASE_URL"); dsn != "" {
		pg, err := postgres.New(ctx, dsn, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := pg.Ping(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return pg, nil
	}
	logger.Warn("ESCROW_DATABASE_URL not set, using in-memory store")
	return memory.New(), nil
}

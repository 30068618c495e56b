/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the club contribution ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Initialize SQLite store (runs migrations)
  3. Optionally connect the RabbitMQ event publisher
  4. Build generator, runner and monthly scheduler
  5. Serve HTTP and run the scheduler until a signal arrives

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides SQLITE_DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for an in-flight pass)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close publisher and database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/club.db"

  # Run with in-memory database and no scheduler
  SCHEDULER_ENABLED=false ./server -db=":memory:"

ENVIRONMENT:
  See config/config.go for every key and default.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/club-ledger/api"
	"github.com/warp/club-ledger/config"
	"github.com/warp/club-ledger/contribution"
	"github.com/warp/club-ledger/events"
	"github.com/warp/club-ledger/store/sqlite"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	// Flags override the environment
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.SQLiteDBPath, "SQLite database path")
	flag.Parse()
	cfg.Port = *port
	cfg.SQLiteDBPath = *dbPath

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	// Initialize store
	store, err := sqlite.New(cfg.SQLiteDBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	// Generation observers: history table always, broker when configured
	observers := []contribution.Observer{store}
	if cfg.AMQPURL != "" {
		publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP publisher, generation events disabled", "error", err)
		} else {
			defer publisher.Close()
			observers = append(observers, publisher)
			logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange)
		}
	}

	generator := contribution.NewGenerator(store, store,
		contribution.PopulationConfig{Population: contribution.PopulationTeam, DefaultAmount: cfg.TeamContributionAmount},
		contribution.PopulationConfig{Population: contribution.PopulationAdherent, DefaultAmount: cfg.AdherentContributionAmount},
	)
	runner := contribution.NewRunner(generator, logger, observers...)

	scheduler := contribution.NewMonthlyScheduler(runner, logger)
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Enabled = cfg.SchedulerEnabled

	handler := api.NewHandler(store, runner, scheduler, logger)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server starting", "addr", srv.Addr, "db", cfg.SQLiteDBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		scheduler.Start(ctx)
		<-ctx.Done()
		scheduler.Stop()
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}

	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

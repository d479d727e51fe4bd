/*
main.go - Application entry point

PURPOSE:
  Starts the finance ledger server: HTTP API plus the daily scheduler
  that runs the recurring/installment sweep and the balance snapshot.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build the logger
  3. Wire store, lock, publisher and engine (bootstrap.New)
  4. Configure HTTP router
  5. Start the scheduler (unless disabled)
  6. Serve until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)
  -addr    Overrides server.addr

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (an in-flight tick finishes first)
  2. Stop accepting new connections
  3. Wait for active requests (server.shutdown_timeout)
  4. Close Kafka, Redis and the database

EXAMPLES:
  # Embedded SQLite, defaults
  ./server

  # MySQL with Redis locks and Kafka events
  LEDGER_DATABASE_DRIVER=mysql \
  LEDGER_DATABASE_DSN="ledger:pw@tcp(db:3306)/ledger?parseTime=true" \
  LEDGER_REDIS_ENABLED=true LEDGER_KAFKA_ENABLED=true \
  LEDGER_KAFKA_BROKERS=kafka:9092 ./server

SEE ALSO:
  - config/config.go: Every setting and its env name
  - bootstrap/bootstrap.go: Backend wiring
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/warp/finance-ledger/api"
	"github.com/warp/finance-ledger/bootstrap"
	"github.com/warp/finance-ledger/config"
	"github.com/warp/finance-ledger/logging"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer app.Close()

	handler := api.NewHandler(app.Engine, app.Store, log)
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(handler, cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var scheduler *api.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler, err = newScheduler(app, cfg)
		if err != nil {
			return err
		}
		scheduler.Start()
	} else {
		log.Info().Msg("scheduler disabled")
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if scheduler != nil {
			scheduler.Stop()
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}

func newScheduler(app *bootstrap.App, cfg *config.Config) (*api.Scheduler, error) {
	sh, sm, err := config.ParseTimeOfDay(cfg.Scheduler.SweepAt)
	if err != nil {
		return nil, err
	}
	nh, nm, err := config.ParseTimeOfDay(cfg.Scheduler.SnapshotAt)
	if err != nil {
		return nil, err
	}
	return api.NewScheduler(app.Engine, app.Log,
		api.TimeOfDay{Hour: sh, Minute: sm},
		api.TimeOfDay{Hour: nh, Minute: nm},
		cfg.Scheduler.Interval,
	), nil
}

/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the passbook engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from environment, then apply flag overrides
  2. Initialize SQLite store
  3. Create reporter and API handler with dependencies
  4. Configure HTTP router and due-entry scheduler
  5. Start server with graceful shutdown

CONFIGURATION (environment):
  PORT                   HTTP server port (default: 8080)
  DB_PATH                SQLite database path (default: passbook.db)
  COMMISSION_PERCENT     Commission on collections, e.g. "5" (default: 5)
  DEFAULT_AFTER_PERIODS  Backlog periods before DEFAULTED, 0 disables (default: 30)
  SCHEDULER_ENABLED      Run the due-entry cron job (default: true)
  SCHEDULER_SPEC         Cron spec for due-entry generation (default: "0 1 * * *")
  LOG_LEVEL              logrus level (default: info)

COMMAND-LINE FLAGS:
  -port    Overrides PORT
  -db      Overrides DB_PATH; use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the due-entry scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chitworks/passbook-engine/api"
	"github.com/chitworks/passbook-engine/passbook"
	"github.com/chitworks/passbook-engine/store/sqlite"
)

type config struct {
	Port                int    `envconfig:"PORT" default:"8080"`
	DBPath              string `envconfig:"DB_PATH" default:"passbook.db"`
	CommissionPercent   string `envconfig:"COMMISSION_PERCENT" default:"5"`
	DefaultAfterPeriods int    `envconfig:"DEFAULT_AFTER_PERIODS" default:"30"`
	SchedulerEnabled    bool   `envconfig:"SCHEDULER_ENABLED" default:"true"`
	SchedulerSpec       string `envconfig:"SCHEDULER_SPEC"`
	LogLevel            string `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	// Flags override the environment for local runs.
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	commission, err := decimal.NewFromString(cfg.CommissionPercent)
	if err != nil {
		log.WithError(err).Fatal("invalid COMMISSION_PERCENT")
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Initialize engine and handler
	calc := passbook.NewCalculator(store)
	reporter := passbook.NewReporter(store, calc, log, commission)
	reporter.DefaultAfterPeriods = cfg.DefaultAfterPeriods

	handler := api.NewHandler(store, reporter, log)
	router := api.NewRouter(handler)

	// Due-entry scheduler
	var scheduler *api.DueEntryScheduler
	if cfg.SchedulerEnabled {
		scheduler = api.NewDueEntryScheduler(store, log, cfg.SchedulerSpec)
		if err := scheduler.Start(); err != nil {
			log.WithError(err).Fatal("failed to start due-entry scheduler")
		}
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server stopped")
}

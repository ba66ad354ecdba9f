/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the SiteWise expense settlement server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config file, apply command-line flag overrides
  2. Configure logging (logrus)
  3. Initialize SQLite store
  4. Wire the settlement services
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to config.toml (default: ./config.toml, optional)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/sitewise.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run with an explicit config file
  ./server -config=/etc/sitewise/config.toml

SEE ALSO:
  - config/config.go: Configuration layers
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sitewise/expense-engine/api"
	"github.com/sitewise/expense-engine/config"
	"github.com/sitewise/expense-engine/settlement"
	"github.com/sitewise/expense-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "./config.toml", "path to config.toml")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log := newLogger(cfg.Logging)

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire services
	accounts, err := settlement.NewAccountService(store)
	if err != nil {
		log.Fatalf("Failed to build account service: %v", err)
	}
	notes, err := settlement.NewCreditNoteService(store, log)
	if err != nil {
		log.Fatalf("Failed to build credit note service: %v", err)
	}
	validator, err := settlement.NewAllocationValidator(store, notes)
	if err != nil {
		log.Fatalf("Failed to build allocation validator: %v", err)
	}
	receivables, err := settlement.NewReceivableService(store)
	if err != nil {
		log.Fatalf("Failed to build receivable service: %v", err)
	}
	payments, err := settlement.NewPaymentService(store, validator, notes, accounts, receivables, log)
	if err != nil {
		log.Fatalf("Failed to build payment service: %v", err)
	}
	refunds, err := settlement.NewRefundService(store, accounts, log)
	if err != nil {
		log.Fatalf("Failed to build refund service: %v", err)
	}

	handler := api.NewHandler(store, accounts, notes, payments, refunds, receivables)
	router := api.NewRouter(handler, cfg.CORS.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithFields(logrus.Fields{
			"addr": cfg.Addr(),
			"db":   cfg.Database.Path,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

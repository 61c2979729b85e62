/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock replenishment server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment, optional .env)
  2. Initialize SQLite store (auto-migrates)
  3. Optionally seed demo directory data
  4. Build workflow engine + token service
  5. Start HTTP server with graceful shutdown

ENVIRONMENT:
  PORT              HTTP server port (default: 8080)
  DB_PATH           SQLite database path (default: replenishment.db)
                    Use ":memory:" for an in-memory database
  JWT_SECRET        HMAC secret for bearer tokens (required)
  TOKEN_EXPIRY_MIN  Token lifetime in minutes (default: 60)
  LOG_LEVEL         debug | info | error (default: info)
  SEED              Load demo branches/products/users on start

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment parsing
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/replenishment-engine/api"
	"github.com/warp/replenishment-engine/auth"
	"github.com/warp/replenishment-engine/config"
	"github.com/warp/replenishment-engine/logging"
	"github.com/warp/replenishment-engine/store/sqlite"
	"github.com/warp/replenishment-engine/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal("failed to initialize database", err)
	}
	defer store.Close()

	if cfg.Seed {
		if err := sqlite.Seed(context.Background(), store); err != nil {
			log.Fatal("failed to seed directory data", err)
		}
		log.Info("demo directory data seeded", nil)
	}

	engine := workflow.NewEngine(store, store, store, log)
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenExpiry)
	handler := api.NewHandler(engine, store, tokens, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", map[string]any{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", err)
	}

	log.Info("server stopped", nil)
}

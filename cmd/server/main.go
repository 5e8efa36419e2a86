/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Warp Expense Engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and environment
  2. Initialize SQLite store
  3. Bootstrap the admin account if the user table is empty
  4. Create API handler with dependencies
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: expenses.db)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  JWT_SECRET      Signing key for access tokens (required outside dev)
  ADMIN_PASSWORD  Initial admin password on first boot (default: changeme123)
  LOG_LEVEL       debug | info | warn | error (default: info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  JWT_SECRET=s3cret ./server -db="./data/expenses.db"

  # Run with in-memory database
  ./server -db=":memory:"

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
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/expense-engine/api"
	"github.com/warp/expense-engine/auth"
	"github.com/warp/expense-engine/claims"
	"github.com/warp/expense-engine/pkg/logging"
	"github.com/warp/expense-engine/store/sqlite"
)

const tokenDuration = 12 * time.Hour

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "expenses.db", "SQLite database path")
	flag.Parse()

	logging.Setup()
	log := slog.Default()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		jwtSecret = "dev-only-secret"
		log.Warn("JWT_SECRET not set, using insecure development key")
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := bootstrapAdmin(context.Background(), store, log); err != nil {
		log.Error("failed to bootstrap admin account", "error", err)
		os.Exit(1)
	}

	// Initialize handler
	jwtManager := auth.NewJWTManager(jwtSecret, tokenDuration)
	handler := api.NewHandler(store, jwtManager, log)

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server starting", "addr", fmt.Sprintf("http://localhost:%d", *port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
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
		log.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// bootstrapAdmin creates the initial admin account when the user table is
// empty, so a fresh deployment is reachable. The password comes from
// ADMIN_PASSWORD and must be changed on first login.
func bootstrapAdmin(ctx context.Context, store *sqlite.Store, log *slog.Logger) error {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}

	password := getEnv("ADMIN_PASSWORD", "changeme123")
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	admin := claims.User{
		ID:                 "admin",
		Username:           "admin",
		PasswordHash:       hash,
		Role:               claims.RoleAdmin,
		MustChangePassword: true,
	}
	if err := store.CreateUser(ctx, &admin); err != nil {
		return err
	}

	log.Info("created initial admin account", "username", admin.Username)
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

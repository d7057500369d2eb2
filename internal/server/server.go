// Package server is a development backend for the Loop Chat REST API. It
// stores agents, chats, messages and the subscription in SQLite and forwards
// user messages to agent webhooks.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ashton/loopchat/internal/config"
)

// Options configures the routes.
type Options struct {
	// RequireAuth enables bearer API key checks on every /api route.
	RequireAuth    bool
	WebhookTimeout time.Duration
	Logger         *zap.Logger
}

// SetupRoutes builds the API handler over db.
func SetupRoutes(db *sql.DB, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := NewDispatcher(opts.WebhookTimeout, logger.Named("webhook"))

	mux := http.NewServeMux()
	auth := func(h http.Handler) http.Handler { return h }
	if opts.RequireAuth {
		auth = APIKeyAuth(db, logger)
	}
	handle := func(pattern string, fn func(*sql.DB, http.ResponseWriter, *http.Request)) {
		mux.Handle(pattern, auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fn(db, w, r)
		})))
	}

	// Agents
	handle("GET /api/agents", handleListAgents)
	handle("POST /api/agents", handleCreateAgent)
	handle("PUT /api/agents/{id}", handleUpdateAgent)
	handle("DELETE /api/agents/{id}", handleDeleteAgent)

	// Chats
	handle("GET /api/chats", handleListChats)
	handle("POST /api/chats", handleCreateChat)
	handle("PUT /api/chats/{id}", handleUpdateChat)
	handle("DELETE /api/chats/{id}", handleDeleteChat)

	// Messages
	handle("GET /api/chats/{id}/messages", handleListMessages)
	handle("POST /api/chats/{id}/messages", handleCreateMessage)
	handle("POST /api/chats/{id}/webhook", func(db *sql.DB, w http.ResponseWriter, r *http.Request) {
		handleWebhook(db, dispatcher, w, r)
	})

	// Subscription
	handle("GET /api/subscription", handleGetSubscription)
	handle("PUT /api/subscription", handleUpdateSubscription)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return LoggingMiddleware(logger)(mux)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// readJSON decodes a JSON request body into v.
func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// Run serves the backend described by cfg until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, seed bool, logger *zap.Logger) error {
	db, err := InitDB(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	defer db.Close()

	if seed {
		if err := Seed(db); err != nil {
			return err
		}
	}
	requireAuth := cfg.Server.APIKey != ""
	if requireAuth {
		if err := EnsureAPIKey(db, cfg.Server.APIKey); err != nil {
			return err
		}
	} else {
		logger.Warn("no server api key configured; API is unauthenticated")
	}

	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: SetupRoutes(db, Options{
			RequireAuth:    requireAuth,
			WebhookTimeout: cfg.GetWebhookTimeout(),
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("loop chat backend listening", zap.String("addr", srv.Addr), zap.String("db", cfg.Server.DBPath))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

package server

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyAuth rejects requests whose bearer token matches no stored key hash.
func APIKeyAuth(db *sql.DB, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}
			apiKey := strings.TrimPrefix(auth, "Bearer ")

			rows, err := db.Query("SELECT id, key_hash FROM api_keys")
			if err != nil {
				logger.Error("query api keys", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			var matched string
			for rows.Next() {
				var id, hash string
				if err := rows.Scan(&id, &hash); err != nil {
					continue
				}
				if bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)) == nil {
					matched = id
					break
				}
			}
			rows.Close()

			if matched == "" {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			if _, err := db.Exec("UPDATE api_keys SET last_used_at = ? WHERE id = ?", time.Now().UTC(), matched); err != nil {
				logger.Warn("touch api key", zap.Error(err))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs every request once it has been served.
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("took", time.Since(start)),
			)
		})
	}
}

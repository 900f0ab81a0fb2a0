package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/davekale/bankledger/internal/ledger"
)

type contextKey string

const actorKey contextKey = "actor"

// ActorHeader carries the acting user's id. Authentication is out of scope;
// whatever sits in front of this service is expected to have resolved the
// identity already.
const ActorHeader = "X-User-ID"

// ActorMiddleware resolves the acting user from the request header, verifies
// the user exists, and makes the id available to handlers. Every ledger call
// downstream takes this explicit actor rather than any ambient session state.
func ActorMiddleware(engine *ledger.Engine, logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := r.Header.Get(ActorHeader)
			if actor == "" {
				writeError(w, http.StatusUnauthorized, "missing actor", ActorHeader+" header is required")
				return
			}

			if _, err := engine.GetUser(r.Context(), actor); err != nil {
				writeDomainError(w, logger, err, "resolve actor")
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func actorFrom(r *http.Request) string {
	actor, _ := r.Context().Value(actorKey).(string)
	return actor
}

// RequestLogger logs every request with method, path, status and duration.
func RequestLogger(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("incoming request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

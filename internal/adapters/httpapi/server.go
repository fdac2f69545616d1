// Package httpapi expone el estado del hedger en vivo: /health, /metrics y
// una API de solo lectura sobre la sesión actual y el histórico auditado.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alejandrodnm/polyhedge/internal/application/session"
	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/metrics"
)

const (
	defaultSessionLimit = 20
	maxSessionLimit     = 500
	shutdownTimeout     = 5 * time.Second
)

// StatusSource devuelve la vista inmutable del controller (live.Runner la implementa).
type StatusSource interface {
	Status() session.Status
}

// History es la parte de lectura del almacenamiento de auditoría.
type History interface {
	RecentSessions(ctx context.Context, limit int) ([]domain.SessionResult, error)
	SessionTrades(ctx context.Context, sessionID string) ([]domain.TradeRecord, error)
}

// NewRouter arma el router. history puede ser nil: las rutas de histórico responden 503.
func NewRouter(status StatusSource, history History) http.Handler {
	h := &handlers{status: status, history: history}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", h.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.getStatus)
		r.Get("/sessions", h.listSessions)
		r.Get("/sessions/{sessionID}/trades", h.sessionTrades)
	})
	return r
}

type handlers struct {
	status  StatusSource
	history History
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	st := h.status.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "hedger",
		"active":  st.Active,
		"session": st.Session.Slug,
	})
}

// GET /api/v1/status
func (h *handlers) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Status())
}

// GET /api/v1/sessions?limit=N
func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, "history storage disabled", http.StatusServiceUnavailable)
		return
	}
	limit := defaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxSessionLimit)
	}

	sessions, err := h.history.RecentSessions(r.Context(), limit)
	if err != nil {
		slog.Warn("httpapi: list sessions", "err", err)
		writeError(w, "failed to load sessions", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []domain.SessionResult{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GET /api/v1/sessions/{sessionID}/trades
func (h *handlers) sessionTrades(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, "history storage disabled", http.StatusServiceUnavailable)
		return
	}
	id := chi.URLParam(r, "sessionID")
	trades, err := h.history.SessionTrades(r.Context(), id)
	if err != nil {
		slog.Warn("httpapi: session trades", "session", id, "err", err)
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if len(trades) == 0 {
		writeError(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Serve escucha en addr hasta que ctx se cancela y luego hace shutdown ordenado.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("httpapi: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("httpapi: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

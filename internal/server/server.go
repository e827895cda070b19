// Package server provides the operational HTTP listener for the insight
// worker: health, Prometheus metrics and a read-only insights view.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/scrypster/memento-insights/internal/config"
	"github.com/scrypster/memento-insights/internal/engine"
	"github.com/scrypster/memento-insights/internal/storage"
	"github.com/scrypster/memento-insights/pkg/types"
)

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the ops router over orch.
func NewRouter(orch *engine.Orchestrator, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{orch: orch, logger: logger.Named("http")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(securityHeadersMiddleware)

	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", orch.Metrics().Handler())
	r.Get("/insights", h.insights)
	r.Get("/insights/{mode}", h.insights)
	return r
}

// Start listens on cfg.Server and serves the ops router until ctx is done.
// It returns the actual address being listened on (useful for testing with port 0).
func Start(ctx context.Context, cfg *config.Config, orch *engine.Orchestrator, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	addr := cfg.Server.Addr()
	server := &http.Server{
		Addr:         addr,
		Handler:      NewRouter(orch, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("ops server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("ops server listening", zap.String("addr", actualAddr))
	return actualAddr, nil
}

type handlers struct {
	orch   *engine.Orchestrator
	logger *zap.Logger
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	health := h.orch.GetHealth(r.Context())
	status := http.StatusOK
	if health.Status != engine.HealthOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (h *handlers) insights(w http.ResponseWriter, r *http.Request) {
	mode := chi.URLParam(r, "mode")
	if mode == "" {
		mode = r.URL.Query().Get("mode")
	}

	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.orch.GetInsights(r.Context(), mode, filter)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to get insights", zap.String("mode", mode), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get insights")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// filterFromQuery reads project_id, type, category, min_confidence, search,
// page and limit. type and category accept comma-separated lists.
func filterFromQuery(r *http.Request) (storage.InsightFilter, error) {
	q := r.URL.Query()
	f := storage.InsightFilter{
		ProjectID:  q.Get("project_id"),
		Categories: splitList(q.Get("category")),
		Search:     q.Get("search"),
		SortBy:     q.Get("sort_by"),
		SortOrder:  q.Get("sort_order"),
	}
	for _, t := range splitList(q.Get("type")) {
		if !types.IsValidInsightType(t) {
			return f, fmt.Errorf("unknown insight type %q", t)
		}
		f.Types = append(f.Types, types.InsightType(t))
	}

	if v := q.Get("min_confidence"); v != "" {
		c, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, fmt.Errorf("invalid min_confidence %q", v)
		}
		f.MinConfidence = c
	}
	for name, dst := range map[string]*int{"page": &f.Page, "limit": &f.Limit} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return f, fmt.Errorf("invalid %s %q", name, v)
			}
			*dst = n
		}
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

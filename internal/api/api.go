// Package api provides the REST API for the dashboard and exports.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/HakAl/tokenwatch/internal/config"
	"github.com/HakAl/tokenwatch/internal/store"
	"github.com/HakAl/tokenwatch/internal/summary"
)

// Server is the REST API server.
type Server struct {
	cfg       *config.Config
	store     store.Store
	engine    *summary.Engine
	logger    *slog.Logger
	mux       *http.ServeMux
	limiter   *RateLimiter
	startTime time.Time
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, dataStore store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		store:     dataStore,
		engine:    summary.NewEngine(dataStore.DB()),
		logger:    logger,
		mux:       http.NewServeMux(),
		limiter:   NewRateLimiter(20, 100),
		startTime: time.Now(),
	}

	s.mux.HandleFunc("GET /api/summary", s.getSummary)
	s.mux.HandleFunc("GET /api/calls", s.listCalls)
	s.mux.HandleFunc("GET /api/breakdown/{by}", s.getBreakdown)
	s.mux.HandleFunc("GET /api/costs/daily", s.getDailyCosts)
	s.mux.HandleFunc("GET /api/budget", s.getBudget)
	s.mux.HandleFunc("GET /api/export", s.exportCalls)
	s.mux.HandleFunc("GET /api/health", s.healthCheck)

	return s
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.limiter.Middleware(s.mux))
}

// corsMiddleware adds CORS headers for local development. Only localhost
// origins are allowed.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			if strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1") {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getSummary returns aggregate spend for a period.
func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	period, err := s.parsePeriod(r)
	if err != nil {
		http.Error(w, "Invalid period", http.StatusBadRequest)
		return
	}

	totals, err := s.engine.Summary(ctx, period)
	if err != nil {
		s.logger.Error("failed to get summary", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, totals)
}

// listCalls returns a paginated list of call records.
func (s *Server) listCalls(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	filter := store.CallFilter{
		Limit:  50,
		Offset: 0,
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			filter.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if v := r.URL.Query().Get("provider"); v != "" {
		filter.Provider = &v
	}
	if v := r.URL.Query().Get("model"); v != "" {
		filter.Model = &v
	}
	if v := r.URL.Query().Get("project"); v != "" {
		filter.Project = &v
	}
	if v := r.URL.Query().Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.StartTime = &t
		}
	}
	if v := r.URL.Query().Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.EndTime = &t
		}
	}

	calls, err := s.store.ListCalls(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list calls", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	response := make([]CallResponse, len(calls))
	for i, c := range calls {
		response[i] = toCallResponse(c)
	}

	s.writeJSON(w, response)
}

// getBreakdown returns spend grouped by model, project, or provider.
func (s *Server) getBreakdown(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	period, err := s.parsePeriod(r)
	if err != nil {
		http.Error(w, "Invalid period", http.StatusBadRequest)
		return
	}

	var result any
	switch by := r.PathValue("by"); by {
	case "model":
		result, err = s.engine.ByModel(ctx, period)
	case "project":
		result, err = s.engine.ByProject(ctx, period)
	case "provider":
		result, err = s.engine.ByProvider(ctx, period)
	default:
		http.Error(w, "Unknown breakdown: "+by, http.StatusBadRequest)
		return
	}

	if err != nil {
		s.logger.Error("failed to get breakdown", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, result)
}

// getDailyCosts returns per-day spend for the trailing window.
func (s *Server) getDailyCosts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 365 {
			days = n
		}
	}

	costs, err := s.engine.DailyCosts(ctx, days)
	if err != nil {
		s.logger.Error("failed to get daily costs", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, costs)
}

// getBudget returns spend against the configured budget limits.
func (s *Server) getBudget(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	statuses, err := s.engine.BudgetStatus(ctx, s.cfg.Budgets)
	if err != nil {
		s.logger.Error("failed to get budget status", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, statuses)
}

// parsePeriod extracts the period query param, defaulting to all time.
func (s *Server) parsePeriod(r *http.Request) (summary.Period, error) {
	v := r.URL.Query().Get("period")
	if v == "" {
		return summary.PeriodAll, nil
	}
	return summary.ParsePeriod(v)
}

// healthCheck returns server health with operational metrics.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).String(),
	}

	db := s.store.DB()

	var totalCalls int64
	db.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_calls").Scan(&totalCalls)
	health.TotalCalls = totalCalls

	// Timestamps are stored as RFC3339Nano strings, so the cutoff must
	// be bound in the same format rather than compared against
	// sqlite's datetime() output.
	cutoff := time.Now().UTC().Add(-5 * time.Minute).Format(time.RFC3339Nano)
	var recentCalls int64
	db.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_calls WHERE timestamp > ?", cutoff).Scan(&recentCalls)
	health.RecentCalls = recentCalls

	var pageCount, pageSize int64
	db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	health.DBSizeBytes = pageCount * pageSize

	s.writeJSON(w, health)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

// API response types

// CallResponse is the API view of a call record.
type CallResponse struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Provider     string            `json:"provider"`
	Model        string            `json:"model"`
	InputTokens  int               `json:"input_tokens"`
	OutputTokens int               `json:"output_tokens"`
	Cost         float64           `json:"cost"`
	Project      string            `json:"project"`
	Tags         []string          `json:"tags,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// HealthResponse is the API response for health status.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Uptime      string    `json:"uptime"`
	TotalCalls  int64     `json:"total_calls"`
	RecentCalls int64     `json:"recent_calls"` // calls in last 5 minutes
	DBSizeBytes int64     `json:"db_size_bytes"`
}

func toCallResponse(c *store.Call) CallResponse {
	return CallResponse{
		ID:           c.ID,
		Timestamp:    c.Timestamp,
		Provider:     c.Provider,
		Model:        c.Model,
		InputTokens:  c.InputTokens,
		OutputTokens: c.OutputTokens,
		Cost:         c.Cost,
		Project:      c.Project,
		Tags:         c.Tags,
		Metadata:     c.Metadata,
	}
}

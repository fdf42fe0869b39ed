package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HakAl/tokenwatch/internal/config"
	"github.com/HakAl/tokenwatch/internal/store"
	"github.com/HakAl/tokenwatch/internal/summary"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := NewServer(config.DefaultConfig(), st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return srv, st
}

func seedCalls(t *testing.T, st store.Store) {
	t.Helper()

	calls := []*store.Call{
		{Provider: "openai", Model: "gpt-4o", InputTokens: 100, OutputTokens: 50, Cost: 0.00075, Project: "default"},
		{Provider: "openai", Model: "gpt-4o-mini", InputTokens: 300, OutputTokens: 150, Cost: 0.000135, Project: "webapp"},
		{Provider: "anthropic", Model: "claude-3-5-sonnet-20241022", InputTokens: 500, OutputTokens: 100, Cost: 0.003, Project: "default", Tags: []string{"batch"}},
	}
	for _, c := range calls {
		if _, err := st.Insert(context.Background(), c); err != nil {
			t.Fatalf("failed to seed call: %v", err)
		}
	}
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestGetSummary(t *testing.T) {
	srv, st := newTestServer(t)
	seedCalls(t, st)

	rec := get(t, srv, "/api/summary?period=all")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var totals summary.Totals
	decode(t, rec, &totals)

	if totals.CallCount != 3 {
		t.Errorf("call_count = %d, want 3", totals.CallCount)
	}
	if totals.TotalTokens != 1200 {
		t.Errorf("total_tokens = %d, want 1200", totals.TotalTokens)
	}
}

func TestGetSummaryInvalidPeriod(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/api/summary?period=fortnight")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListCalls(t *testing.T) {
	srv, st := newTestServer(t)
	seedCalls(t, st)

	rec := get(t, srv, "/api/calls")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var calls []CallResponse
	decode(t, rec, &calls)

	if len(calls) != 3 {
		t.Fatalf("got %d calls, want 3", len(calls))
	}
	if calls[0].ID == "" {
		t.Error("call ID missing from response")
	}
}

func TestListCallsFiltered(t *testing.T) {
	srv, st := newTestServer(t)
	seedCalls(t, st)

	rec := get(t, srv, "/api/calls?provider=anthropic")
	var calls []CallResponse
	decode(t, rec, &calls)

	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Model != "claude-3-5-sonnet-20241022" {
		t.Errorf("model = %q", calls[0].Model)
	}
	if len(calls[0].Tags) != 1 || calls[0].Tags[0] != "batch" {
		t.Errorf("tags = %v, want [batch]", calls[0].Tags)
	}
}

func TestListCallsLimit(t *testing.T) {
	srv, st := newTestServer(t)
	seedCalls(t, st)

	rec := get(t, srv, "/api/calls?limit=2")
	var calls []CallResponse
	decode(t, rec, &calls)

	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
}

func TestGetBreakdown(t *testing.T) {
	srv, st := newTestServer(t)
	seedCalls(t, st)

	tests := []struct {
		by   string
		want int
	}{
		{"model", 3},
		{"project", 2},
		{"provider", 2},
	}

	for _, tt := range tests {
		t.Run(tt.by, func(t *testing.T) {
			rec := get(t, srv, "/api/breakdown/"+tt.by)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}

			var rows []map[string]any
			decode(t, rec, &rows)
			if len(rows) != tt.want {
				t.Errorf("got %d rows, want %d", len(rows), tt.want)
			}
		})
	}
}

func TestGetBreakdownUnknown(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/api/breakdown/team")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetDailyCosts(t *testing.T) {
	srv, st := newTestServer(t)
	seedCalls(t, st)

	rec := get(t, srv, "/api/costs/daily?days=7")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var days []summary.DailyCost
	decode(t, rec, &days)
	if len(days) != 1 {
		t.Fatalf("got %d days, want 1", len(days))
	}
	if days[0].CallCount != 3 {
		t.Errorf("call_count = %d, want 3", days[0].CallCount)
	}
}

func TestGetBudget(t *testing.T) {
	srv, st := newTestServer(t)
	seedCalls(t, st)

	rec := get(t, srv, "/api/budget")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var statuses []summary.BudgetStatus
	decode(t, rec, &statuses)
	if len(statuses) != 3 {
		t.Fatalf("got %d budget rows, want 3", len(statuses))
	}
	for _, bs := range statuses {
		if bs.Exceeded {
			t.Errorf("%s budget exceeded with trivial spend", bs.Period)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	srv, st := newTestServer(t)
	seedCalls(t, st)

	rec := get(t, srv, "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var health HealthResponse
	decode(t, rec, &health)
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
	if health.TotalCalls != 3 {
		t.Errorf("total_calls = %d, want 3", health.TotalCalls)
	}
}

func TestHealthCheckCountsOnlyRecentCalls(t *testing.T) {
	srv, st := newTestServer(t)
	seedCalls(t, st)

	// Push one call outside the 5-minute window. Timestamps are stored
	// as RFC3339Nano strings, so the backdated value uses that format.
	old := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339Nano)
	if _, err := st.DB().Exec(
		"UPDATE api_calls SET timestamp = ? WHERE id = (SELECT id FROM api_calls LIMIT 1)", old,
	); err != nil {
		t.Fatalf("failed to backdate call: %v", err)
	}

	rec := get(t, srv, "/api/health")
	var health HealthResponse
	decode(t, rec, &health)

	if health.TotalCalls != 3 {
		t.Errorf("total_calls = %d, want 3", health.TotalCalls)
	}
	if health.RecentCalls != 2 {
		t.Errorf("recent_calls = %d, want 2", health.RecentCalls)
	}
}

func TestCORSLocalhost(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORSRejectsRemoteOrigin(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestExportCSVEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	seedCalls(t, st)

	rec := get(t, srv, "/api/export?format=csv")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 4 { // header + 3 rows
		t.Errorf("got %d lines, want 4", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,timestamp,provider,model") {
		t.Errorf("unexpected CSV header: %q", lines[0])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/api/export?format=xml")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

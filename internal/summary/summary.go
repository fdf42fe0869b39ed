// Package summary provides aggregation queries over recorded API calls.
package summary

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HakAl/tokenwatch/internal/config"
)

// Period identifies a reporting window.
type Period string

// Supported reporting periods.
const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodAll   Period = "all"
)

// ParsePeriod validates a period string.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodToday, PeriodWeek, PeriodMonth, PeriodAll:
		return Period(s), nil
	}
	return "", fmt.Errorf("unknown period: %s", s)
}

// Engine runs aggregation queries against the call store's database.
type Engine struct {
	db  *sql.DB
	now func() time.Time
}

// NewEngine creates an aggregation engine over the given database.
func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db, now: time.Now}
}

// Totals holds summary statistics for a period.
type Totals struct {
	Period      Period  `json:"period"`
	CallCount   int     `json:"call_count"`
	TotalTokens int64   `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
}

// ModelBreakdown is per-model aggregated spend.
type ModelBreakdown struct {
	Model        string  `json:"model"`
	Provider     string  `json:"provider"`
	CallCount    int     `json:"call_count"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

// GroupBreakdown is aggregated spend keyed by project or provider.
type GroupBreakdown struct {
	Key       string  `json:"key"`
	CallCount int     `json:"call_count"`
	TotalCost float64 `json:"total_cost"`
}

// DailyCost is one day of spend.
type DailyCost struct {
	Date      string  `json:"date"` // YYYY-MM-DD
	CallCount int     `json:"call_count"`
	TotalCost float64 `json:"total_cost"`
}

// BudgetStatus reports spend against one budget limit.
type BudgetStatus struct {
	Period     string  `json:"period"` // daily, weekly, monthly
	Limit      float64 `json:"limit"`
	Spent      float64 `json:"spent"`
	Remaining  float64 `json:"remaining"`
	Percentage float64 `json:"percentage"`
	Exceeded   bool    `json:"exceeded"`
}

// periodStart returns the UTC start of a period, or the zero time for "all".
func (e *Engine) periodStart(p Period) time.Time {
	now := e.now().UTC()
	switch p {
	case PeriodToday:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeek:
		// Week starts Monday
		daysBack := (int(now.Weekday()) + 6) % 7
		start := now.AddDate(0, 0, -daysBack)
		return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}
	}
}

// Summary returns totals for a period.
func (e *Engine) Summary(ctx context.Context, p Period) (*Totals, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(input_tokens + output_tokens), 0), COALESCE(SUM(cost), 0) FROM api_calls`
	args := []interface{}{}

	if start := e.periodStart(p); !start.IsZero() {
		query += " WHERE timestamp >= ?"
		args = append(args, start.Format(time.RFC3339Nano))
	}

	t := &Totals{Period: p}
	err := e.db.QueryRowContext(ctx, query, args...).Scan(&t.CallCount, &t.TotalTokens, &t.TotalCost)
	if err != nil {
		return nil, fmt.Errorf("summary query: %w", err)
	}
	return t, nil
}

// ByModel returns per-model spend for a period, most expensive first.
func (e *Engine) ByModel(ctx context.Context, p Period) ([]ModelBreakdown, error) {
	query := `
		SELECT model, provider, COUNT(*), COALESCE(SUM(input_tokens), 0),
		       COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost), 0)
		FROM api_calls`
	args := []interface{}{}

	if start := e.periodStart(p); !start.IsZero() {
		query += " WHERE timestamp >= ?"
		args = append(args, start.Format(time.RFC3339Nano))
	}
	query += " GROUP BY model ORDER BY SUM(cost) DESC"

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("by-model query: %w", err)
	}
	defer rows.Close()

	var out []ModelBreakdown
	for rows.Next() {
		var b ModelBreakdown
		if err := rows.Scan(&b.Model, &b.Provider, &b.CallCount, &b.InputTokens, &b.OutputTokens, &b.TotalCost); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ByProject returns per-project spend for a period, most expensive first.
func (e *Engine) ByProject(ctx context.Context, p Period) ([]GroupBreakdown, error) {
	return e.groupBy(ctx, p, "project")
}

// ByProvider returns per-provider spend for a period, most expensive first.
func (e *Engine) ByProvider(ctx context.Context, p Period) ([]GroupBreakdown, error) {
	return e.groupBy(ctx, p, "provider")
}

func (e *Engine) groupBy(ctx context.Context, p Period, column string) ([]GroupBreakdown, error) {
	// column is one of the fixed identifiers "project" or "provider",
	// never user input.
	query := fmt.Sprintf("SELECT %s, COUNT(*), COALESCE(SUM(cost), 0) FROM api_calls", column)
	args := []interface{}{}

	if start := e.periodStart(p); !start.IsZero() {
		query += " WHERE timestamp >= ?"
		args = append(args, start.Format(time.RFC3339Nano))
	}
	query += fmt.Sprintf(" GROUP BY %s ORDER BY SUM(cost) DESC", column)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("group-by %s query: %w", column, err)
	}
	defer rows.Close()

	var out []GroupBreakdown
	for rows.Next() {
		var b GroupBreakdown
		if err := rows.Scan(&b.Key, &b.CallCount, &b.TotalCost); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DailyCosts returns the daily cost trend for the last N days.
func (e *Engine) DailyCosts(ctx context.Context, days int) ([]DailyCost, error) {
	start := e.now().UTC().AddDate(0, 0, -days)

	rows, err := e.db.QueryContext(ctx, `
		SELECT DATE(timestamp), COUNT(*), COALESCE(SUM(cost), 0)
		FROM api_calls WHERE timestamp >= ?
		GROUP BY DATE(timestamp) ORDER BY DATE(timestamp)
	`, start.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("daily costs query: %w", err)
	}
	defer rows.Close()

	var out []DailyCost
	for rows.Next() {
		var d DailyCost
		if err := rows.Scan(&d.Date, &d.CallCount, &d.TotalCost); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// BudgetStatus compares current spend against the configured limits for
// the daily, weekly, and monthly windows.
func (e *Engine) BudgetStatus(ctx context.Context, budgets config.BudgetConfig) ([]BudgetStatus, error) {
	windows := []struct {
		name   string
		period Period
		limit  float64
	}{
		{"daily", PeriodToday, budgets.Daily},
		{"weekly", PeriodWeek, budgets.Weekly},
		{"monthly", PeriodMonth, budgets.Monthly},
	}

	out := make([]BudgetStatus, 0, len(windows))
	for _, w := range windows {
		totals, err := e.Summary(ctx, w.period)
		if err != nil {
			return nil, err
		}

		remaining := w.limit - totals.TotalCost
		if remaining < 0 {
			remaining = 0
		}
		pct := 0.0
		if w.limit > 0 {
			pct = totals.TotalCost / w.limit * 100
		}

		out = append(out, BudgetStatus{
			Period:     w.name,
			Limit:      w.limit,
			Spent:      totals.TotalCost,
			Remaining:  remaining,
			Percentage: pct,
			Exceeded:   totals.TotalCost > w.limit,
		})
	}
	return out, nil
}

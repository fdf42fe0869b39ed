// Package store provides data persistence using SQLite.
package store

import (
	"context"
	"database/sql"
	"time"
)

// Call is a persisted, immutable record of one priced API call.
type Call struct {
	ID           string
	Timestamp    time.Time // UTC, assigned by the store at insert
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	Cost         float64
	Project      string
	Tags         []string
	Metadata     map[string]string
}

// CallFilter defines filter criteria for call queries.
type CallFilter struct {
	Provider  *string
	Model     *string
	Project   *string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Store defines the interface for call persistence. Records are
// insert-only; the only destructive operations are age-based cleanup
// and a full reset.
type Store interface {
	// Insert writes a call record and returns its ID. The record's
	// timestamp is assigned by the store, not the caller.
	Insert(ctx context.Context, call *Call) (string, error)

	// ListCalls returns calls matching the filter, newest first.
	ListCalls(ctx context.Context, filter CallFilter) ([]*Call, error)

	// DeleteBefore removes calls recorded before the cutoff and returns
	// the number deleted.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Reset removes all call records.
	Reset(ctx context.Context) error

	Close() error

	// DB returns the underlying database connection for aggregation queries.
	DB() *sql.DB
}

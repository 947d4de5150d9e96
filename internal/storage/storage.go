// Package storage provides shared types for permit storage.
//
// The concrete implementation lives in the sqlite sub-package. This package
// holds interface and value types referenced by both the implementation and
// its consumers (cmd/pf, the orchestrator, etc.).
package storage

import (
	"context"
	"errors"

	"github.com/permitflow/permitflow/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrStoreClosed is returned on any operation after Close.
var ErrStoreClosed = errors.New("store is closed")

// InsertStats summarizes one ingest batch.
type InsertStats struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"` // duplicate (city, permit_number) pairs
	Dropped  int `json:"dropped"` // malformed rows (missing permit_number)
}

// DateRange bounds a date column; either side may be empty (unbounded).
// Values are YYYY-MM-DD strings, compared lexically like the stored dates.
type DateRange struct {
	From string
	To   string
}

// Filters is the structured pre-filter applied before keyword and semantic
// stages: OR within a field, AND across fields. Values are normalized per
// Normalize before comparison.
type Filters struct {
	City              []string
	PermitType        []string
	PermitClassMapped []string
	WorkClass         []string
	CurrentStatus     []string
	IssuedDate        *DateRange
	AppliedDate       *DateRange
}

// Empty reports whether no predicate is set.
func (f *Filters) Empty() bool {
	if f == nil {
		return true
	}
	return len(f.City) == 0 && len(f.PermitType) == 0 &&
		len(f.PermitClassMapped) == 0 && len(f.WorkClass) == 0 &&
		len(f.CurrentStatus) == 0 && f.IssuedDate == nil && f.AppliedDate == nil
}

// PermitStore is the authoritative permit catalog.
type PermitStore interface {
	Insert(ctx context.Context, city string, rows []types.RawPermit) (InsertStats, error)
	QueryFiltered(ctx context.Context, filters *Filters, limit int) ([]*types.Permit, error)
	// SearchDescription is a case-insensitive substring match on the
	// description column, newest first.
	SearchDescription(ctx context.Context, substr string, filters *Filters, limit int) ([]*types.Permit, error)
	FetchByIDs(ctx context.Context, ids []int64) ([]*types.Permit, error)
	// StreamAll calls fn with chunks of at most chunkSize rows, ordered by id
	// ascending, until the table is exhausted or fn returns an error.
	StreamAll(ctx context.Context, chunkSize int, fn func([]*types.Permit) error) error
	CountPermits(ctx context.Context) (int64, error)
	// MaxPermitID is the watermark for incremental index refreshes.
	MaxPermitID(ctx context.Context) (int64, error)
	// PermitIDsSince lists ids inserted after the watermark, ascending.
	PermitIDsSince(ctx context.Context, sinceID int64) ([]int64, error)
	FilterValues(ctx context.Context, column string) ([]string, error)
}

// ClientStore reads client profiles. CRUD is owned externally.
type ClientStore interface {
	ListClients(ctx context.Context, filter types.ClientFilter) ([]*types.ClientProfile, error)
}

// Ledger is the at-most-once delivery record.
type Ledger interface {
	// FilterUnsent removes permit ids already delivered to the client.
	FilterUnsent(ctx context.Context, clientID int64, permitIDs []int64) ([]int64, error)
	// RecordSent inserts (client, permit) pairs idempotently.
	RecordSent(ctx context.Context, clientID int64, permitIDs []int64) error
	SentCount(ctx context.Context, clientID int64) (int64, error)
}

// Store is the combined interface satisfied by *sqlite.Store.
type Store interface {
	PermitStore
	ClientStore
	Ledger
	Close() error
}

// Package permitflow provides a minimal public API for embedding the permit
// distribution engine in other Go programs.
//
// Most integrations should run the pf binary; this package exports only the
// types and constructors needed to drive the storage and matching layers
// programmatically.
package permitflow

import (
	"context"

	"github.com/permitflow/permitflow/internal/storage"
	"github.com/permitflow/permitflow/internal/storage/sqlite"
	"github.com/permitflow/permitflow/internal/types"
)

// Version is the current permitflow version (overridden by ldflags at build time).
var Version = "0.9.0"

// Core types for working with permits and clients.
type (
	Permit        = types.Permit
	RawPermit     = types.RawPermit
	ClientProfile = types.ClientProfile
	ResultSets    = types.ResultSets
	Filters       = storage.Filters
)

// Client status constants.
const (
	ClientActive   = types.ClientActive
	ClientInactive = types.ClientInactive
)

// Store is the combined storage interface backed by SQLite.
type Store = storage.Store

// OpenStore opens (creating if needed) a permitflow SQLite database.
func OpenStore(ctx context.Context, dbPath string) (Store, error) {
	return sqlite.New(ctx, dbPath)
}

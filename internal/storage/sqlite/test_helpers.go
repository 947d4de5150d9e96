package sqlite

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/permitflow/permitflow/internal/types"
)

// newTestStore opens an isolated store for a test. Defaults to a temp file;
// the shared ":memory:" form leaks state across tests in one process.
func newTestStore(t *testing.T, dbPath string) *Store {
	t.Helper()

	if dbPath == "" {
		dbPath = t.TempDir() + "/test.db"
	}

	store, err := New(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})

	return store
}

// seedClient inserts a client profile directly. Client CRUD is owned by an
// external surface in production, so tests write the rows themselves.
func seedClient(t *testing.T, store *Store, c *types.ClientProfile) int64 {
	t.Helper()
	ctx := context.Background()

	include, _ := json.Marshal(c.KeywordsInclude)
	exclude, _ := json.Marshal(c.KeywordsExclude)
	if c.SliderPercentage == 0 {
		c.SliderPercentage = 100
	}
	if c.Priority == 0 {
		c.Priority = 999
	}
	if c.Status == "" {
		c.Status = types.ClientActive
	}

	res, err := store.db.ExecContext(ctx, `
		INSERT INTO clients (name, email, city, permit_type, permit_class_mapped,
			rag_query, keywords_include, keywords_exclude,
			slider_percentage, priority, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.Email, c.City, c.PermitType, c.PermitClassMapped,
		c.RAGQuery, string(include), string(exclude),
		c.SliderPercentage, c.Priority, string(c.Status))
	if err != nil {
		t.Fatalf("Failed to seed client: %v", err)
	}
	id, _ := res.LastInsertId()
	for _, wc := range c.WorkClasses {
		if _, err := store.db.ExecContext(ctx,
			"INSERT INTO client_work_classes (client_id, work_class) VALUES (?, ?)",
			id, wc); err != nil {
			t.Fatalf("Failed to seed work class: %v", err)
		}
	}
	return id
}

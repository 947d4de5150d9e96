package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
-- Canonical permit catalog. Rows are immutable once inserted; re-ingest of
-- the same (city, permit_number) is dropped by the unique key.
CREATE TABLE IF NOT EXISTS permits (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    city TEXT NOT NULL,
    permit_number TEXT NOT NULL,
    permit_type TEXT DEFAULT '',
    permit_class_mapped TEXT DEFAULT '',
    work_class TEXT DEFAULT '',
    current_status TEXT DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    applied_date TEXT DEFAULT '',
    issued_date TEXT DEFAULT '',
    applicant_name TEXT DEFAULT '',
    applicant_address TEXT DEFAULT '',
    contractor_name TEXT DEFAULT '',
    contractor_address TEXT DEFAULT '',
    contractor_company_name TEXT DEFAULT '',
    contractor_phone TEXT DEFAULT '',
    -- Normalized copies of the filterable columns (see storage.Normalize);
    -- equality filters compare only these.
    city_norm TEXT NOT NULL DEFAULT '',
    permit_type_norm TEXT NOT NULL DEFAULT '',
    permit_class_norm TEXT NOT NULL DEFAULT '',
    work_class_norm TEXT NOT NULL DEFAULT '',
    status_norm TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(city, permit_number)
);

CREATE INDEX IF NOT EXISTS idx_permits_issued_date ON permits(issued_date);
CREATE INDEX IF NOT EXISTS idx_permits_city_norm ON permits(city_norm);
CREATE INDEX IF NOT EXISTS idx_permits_type_norm ON permits(permit_type_norm);
CREATE INDEX IF NOT EXISTS idx_permits_class_norm ON permits(permit_class_norm);
CREATE INDEX IF NOT EXISTS idx_permits_work_class_norm ON permits(work_class_norm);
CREATE INDEX IF NOT EXISTS idx_permits_status_norm ON permits(status_norm);

-- Client profiles. CRUD is owned by an external surface; the engine only
-- reads a snapshot at the start of each cycle.
CREATE TABLE IF NOT EXISTS clients (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    email TEXT DEFAULT '',
    city TEXT DEFAULT '',
    permit_type TEXT DEFAULT '',
    permit_class_mapped TEXT DEFAULT '',
    rag_query TEXT DEFAULT '',
    keywords_include TEXT NOT NULL DEFAULT '[]',
    keywords_exclude TEXT NOT NULL DEFAULT '[]',
    slider_percentage INTEGER NOT NULL DEFAULT 100 CHECK(slider_percentage >= 1 AND slider_percentage <= 100),
    priority INTEGER NOT NULL DEFAULT 999 CHECK(priority >= 0),
    status TEXT NOT NULL DEFAULT 'active',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_clients_status ON clients(status);

CREATE TABLE IF NOT EXISTS client_work_classes (
    client_id INTEGER NOT NULL,
    work_class TEXT NOT NULL,
    PRIMARY KEY (client_id, work_class),
    FOREIGN KEY (client_id) REFERENCES clients(id) ON DELETE CASCADE
);

-- Delivery ledger: at most one delivery per (client, permit), ever.
CREATE TABLE IF NOT EXISTS sent_permits (
    client_id INTEGER NOT NULL,
    permit_id INTEGER NOT NULL,
    sent_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (client_id, permit_id)
);

CREATE INDEX IF NOT EXISTS idx_sent_permits_client ON sent_permits(client_id);
`

// runMigrations upgrades old databases in place. All statements are
// idempotent; the probe decides whether a step applies.
func runMigrations(ctx context.Context, db *sql.DB) error {
	// Databases created before the normalized-column change need the norm
	// columns backfilled.
	hasNorm, err := columnExists(ctx, db, "permits", "city_norm")
	if err != nil {
		return fmt.Errorf("failed to probe permits schema: %w", err)
	}
	if !hasNorm {
		stmts := []string{
			`ALTER TABLE permits ADD COLUMN city_norm TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE permits ADD COLUMN permit_type_norm TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE permits ADD COLUMN permit_class_norm TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE permits ADD COLUMN work_class_norm TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE permits ADD COLUMN status_norm TEXT NOT NULL DEFAULT ''`,
		}
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to add normalized columns: %w", err)
			}
		}
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

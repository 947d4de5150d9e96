package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/permitflow/permitflow/internal/storage"
	"github.com/permitflow/permitflow/internal/types"
)

// permitColumns is the canonical select list, matched by scanPermit.
const permitColumns = `id, city, permit_number, permit_type, permit_class_mapped,
	work_class, current_status, description, applied_date, issued_date,
	applicant_name, applicant_address, contractor_name, contractor_address,
	contractor_company_name, contractor_phone, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPermit(row rowScanner) (*types.Permit, error) {
	var p types.Permit
	var permitType, class, workClass, status, desc sql.NullString
	var applied, issued sql.NullString
	var applicantName, applicantAddr, contractorName, contractorAddr sql.NullString
	var companyName, phone sql.NullString

	err := row.Scan(&p.ID, &p.City, &p.PermitNumber, &permitType, &class,
		&workClass, &status, &desc, &applied, &issued,
		&applicantName, &applicantAddr, &contractorName, &contractorAddr,
		&companyName, &phone, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.PermitType = permitType.String
	p.PermitClassMapped = class.String
	p.WorkClass = workClass.String
	p.CurrentStatus = status.String
	p.Description = desc.String
	p.AppliedDate = applied.String
	p.IssuedDate = issued.String
	p.ApplicantName = applicantName.String
	p.ApplicantAddress = applicantAddr.String
	p.ContractorName = contractorName.String
	p.ContractorAddress = contractorAddr.String
	p.ContractorCompanyName = companyName.String
	p.ContractorPhone = phone.String
	return &p, nil
}

// Insert ingests one source batch. Rows lacking a permit_number are dropped
// and counted; duplicate (city, permit_number) pairs are skipped silently.
// The batch is never aborted by a bad row.
func (s *Store) Insert(ctx context.Context, city string, rows []types.RawPermit) (storage.InsertStats, error) {
	var stats storage.InsertStats
	if s.closed.Load() {
		return stats, storage.ErrStoreClosed
	}
	if len(rows) == 0 {
		return stats, nil
	}

	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO permits (
				city, permit_number, permit_type, permit_class_mapped,
				work_class, current_status, description, applied_date, issued_date,
				applicant_name, applicant_address, contractor_name, contractor_address,
				contractor_company_name, contractor_phone,
				city_norm, permit_type_norm, permit_class_norm, work_class_norm, status_norm
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		stats = storage.InsertStats{}
		for _, raw := range rows {
			permitNum := raw.Get("permit_number", "permit_num")
			if permitNum == "" {
				stats.Dropped++
				continue
			}
			rowCity := raw.Get("city")
			if rowCity == "" {
				rowCity = city
			}

			permitType := raw.Get("permit_type")
			class := raw.Get("permit_class_mapped")
			workClass := raw.Get("work_class")
			status := raw.Get("current_status", "status")

			res, err := stmt.ExecContext(ctx,
				rowCity, permitNum, permitType, class,
				workClass, status,
				raw.Get("description"),
				raw.Get("applied_date"), raw.Get("issued_date"),
				raw.Get("applicant_name"), raw.Get("applicant_address"),
				raw.Get("contractor_name"), raw.Get("contractor_address"),
				raw.Get("contractor_company_name"), raw.Get("contractor_phone"),
				storage.Normalize(rowCity), storage.Normalize(permitType),
				storage.Normalize(class), storage.Normalize(workClass),
				storage.Normalize(status),
			)
			if err != nil {
				return fmt.Errorf("failed to insert permit %s/%s: %w", rowCity, permitNum, err)
			}
			n, _ := res.RowsAffected()
			if n > 0 {
				stats.Inserted++
			} else {
				stats.Skipped++
			}
		}

		return tx.Commit()
	})
	if err != nil {
		return storage.InsertStats{}, err
	}
	return stats, nil
}

// filterClause builds the WHERE fragment for a Filters value. Values are
// normalized and compared against the *_norm columns: OR within a field,
// AND across fields.
func filterClause(f *storage.Filters) (string, []interface{}) {
	if f.Empty() {
		return "", nil
	}

	var conds []string
	var args []interface{}

	addSet := func(col string, vals []string) {
		vals = storage.NormalizeSet(vals)
		if len(vals) == 0 {
			return
		}
		ph := make([]string, len(vals))
		for i, v := range vals {
			ph[i] = "?"
			args = append(args, v)
		}
		conds = append(conds, fmt.Sprintf("%s IN (%s)", col, strings.Join(ph, ", ")))
	}

	addSet("city_norm", f.City)
	addSet("permit_type_norm", f.PermitType)
	addSet("permit_class_norm", f.PermitClassMapped)
	addSet("work_class_norm", f.WorkClass)
	addSet("status_norm", f.CurrentStatus)

	addRange := func(col string, r *storage.DateRange) {
		if r == nil {
			return
		}
		// A date-range predicate excludes rows that have no date at all.
		conds = append(conds, fmt.Sprintf("%s IS NOT NULL AND %s <> ''", col, col))
		if r.From != "" {
			conds = append(conds, fmt.Sprintf("%s >= ?", col))
			args = append(args, r.From)
		}
		if r.To != "" {
			conds = append(conds, fmt.Sprintf("%s <= ?", col))
			args = append(args, r.To)
		}
	}
	addRange("issued_date", f.IssuedDate)
	addRange("applied_date", f.AppliedDate)

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// QueryFiltered returns at most limit permits matching the structured
// filters. Small limits get the most recent rows; large limits draw a random
// sample so the downstream semantic ranking is not starved of history.
func (s *Store) QueryFiltered(ctx context.Context, filters *storage.Filters, limit int) ([]*types.Permit, error) {
	if s.closed.Load() {
		return nil, storage.ErrStoreClosed
	}
	if limit <= 0 {
		return nil, nil
	}

	where, args := filterClause(filters)
	order := "ORDER BY issued_date DESC, id DESC"
	if limit > 500 {
		order = "ORDER BY RANDOM()"
	}

	// #nosec G201 - where/order built from fixed fragments, values are bound
	query := fmt.Sprintf("SELECT %s FROM permits %s %s LIMIT ?", permitColumns, where, order)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query permits: %w", err)
	}
	defer rows.Close()

	var out []*types.Permit
	for rows.Next() {
		p, err := scanPermit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permit: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SearchDescription returns permits whose description contains substr,
// case-insensitively, newest first. Structured filters still apply.
func (s *Store) SearchDescription(ctx context.Context, substr string, filters *storage.Filters, limit int) ([]*types.Permit, error) {
	if s.closed.Load() {
		return nil, storage.ErrStoreClosed
	}
	if limit <= 0 {
		return nil, nil
	}

	where, args := filterClause(filters)
	if substr != "" {
		if where == "" {
			where = "WHERE instr(lower(description), lower(?)) > 0"
		} else {
			where += " AND instr(lower(description), lower(?)) > 0"
		}
		args = append(args, substr)
	}

	// #nosec G201 - fixed fragments, values are bound
	query := fmt.Sprintf("SELECT %s FROM permits %s ORDER BY issued_date DESC, id DESC LIMIT ?",
		permitColumns, where)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search descriptions: %w", err)
	}
	defer rows.Close()

	var out []*types.Permit
	for rows.Next() {
		p, err := scanPermit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permit: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FetchByIDs returns the permits with the given ids, in id order. Missing
// ids are silently absent from the result.
func (s *Store) FetchByIDs(ctx context.Context, ids []int64) ([]*types.Permit, error) {
	if s.closed.Load() {
		return nil, storage.ErrStoreClosed
	}
	if len(ids) == 0 {
		return nil, nil
	}

	ph := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}

	// #nosec G201 - placeholders only
	query := fmt.Sprintf("SELECT %s FROM permits WHERE id IN (%s) ORDER BY id",
		permitColumns, strings.Join(ph, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch permits by id: %w", err)
	}
	defer rows.Close()

	var out []*types.Permit
	for rows.Next() {
		p, err := scanPermit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permit: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// StreamAll walks the whole catalog in id order, calling fn with chunks of
// at most chunkSize rows. Single pass; stops on the first fn error.
func (s *Store) StreamAll(ctx context.Context, chunkSize int, fn func([]*types.Permit) error) error {
	if s.closed.Load() {
		return storage.ErrStoreClosed
	}
	if chunkSize <= 0 || chunkSize > 2000 {
		chunkSize = 2000
	}

	var lastID int64
	for {
		// Keyset pagination; OFFSET degrades on large tables.
		query := fmt.Sprintf("SELECT %s FROM permits WHERE id > ? ORDER BY id LIMIT ?", permitColumns)
		rows, err := s.db.QueryContext(ctx, query, lastID, chunkSize)
		if err != nil {
			return fmt.Errorf("failed to stream permits: %w", err)
		}

		chunk := make([]*types.Permit, 0, chunkSize)
		for rows.Next() {
			p, err := scanPermit(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan permit: %w", err)
			}
			chunk = append(chunk, p)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(chunk) == 0 {
			return nil
		}
		if err := fn(chunk); err != nil {
			return err
		}
		lastID = chunk[len(chunk)-1].ID
		if len(chunk) < chunkSize {
			return nil
		}
	}
}

// MaxPermitID returns the largest permit id, or zero for an empty catalog.
func (s *Store) MaxPermitID(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, storage.ErrStoreClosed
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM permits").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to read max permit id: %w", err)
	}
	return n, nil
}

// PermitIDsSince returns the ids of permits inserted after the given id,
// ascending. Rowids are monotonic, so this yields exactly the rows added
// since a MaxPermitID watermark.
func (s *Store) PermitIDsSince(ctx context.Context, sinceID int64) ([]int64, error) {
	if s.closed.Load() {
		return nil, storage.ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM permits WHERE id > ? ORDER BY id", sinceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list permit ids: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CountPermits returns the catalog size.
func (s *Store) CountPermits(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, storage.ErrStoreClosed
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM permits").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count permits: %w", err)
	}
	return n, nil
}

// filterableColumns whitelists FilterValues targets.
var filterableColumns = map[string]string{
	"city":                "city",
	"permit_type":         "permit_type",
	"permit_class_mapped": "permit_class_mapped",
	"work_class":          "work_class",
	"current_status":      "current_status",
}

// FilterValues returns the distinct non-empty values of a filterable column,
// sorted. Used by the stats surface to populate filter pickers.
func (s *Store) FilterValues(ctx context.Context, column string) ([]string, error) {
	if s.closed.Load() {
		return nil, storage.ErrStoreClosed
	}
	col, ok := filterableColumns[column]
	if !ok {
		return nil, fmt.Errorf("column %q is not filterable", column)
	}

	// #nosec G201 - column name from whitelist above
	query := fmt.Sprintf("SELECT DISTINCT %s FROM permits WHERE %s IS NOT NULL AND %s <> '' ORDER BY %s", col, col, col, col)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s values: %w", column, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/permitflow/permitflow/internal/storage"
)

// FilterUnsent drops permit ids already delivered to the client, preserving
// input order.
func (s *Store) FilterUnsent(ctx context.Context, clientID int64, permitIDs []int64) ([]int64, error) {
	if s.closed.Load() {
		return nil, storage.ErrStoreClosed
	}
	if len(permitIDs) == 0 {
		return nil, nil
	}

	ph := make([]string, len(permitIDs))
	args := make([]interface{}, 0, len(permitIDs)+1)
	args = append(args, clientID)
	for i, id := range permitIDs {
		ph[i] = "?"
		args = append(args, id)
	}

	// #nosec G201 - placeholders only
	query := fmt.Sprintf(
		"SELECT permit_id FROM sent_permits WHERE client_id = ? AND permit_id IN (%s)",
		strings.Join(ph, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sent permits: %w", err)
	}
	defer rows.Close()

	sent := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sent[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]int64, 0, len(permitIDs))
	for _, id := range permitIDs {
		if _, ok := sent[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// RecordSent marks permits delivered to a client. INSERT OR IGNORE makes the
// operation idempotent; re-recording a pair is a no-op.
func (s *Store) RecordSent(ctx context.Context, clientID int64, permitIDs []int64) error {
	if s.closed.Load() {
		return storage.ErrStoreClosed
	}
	if len(permitIDs) == 0 {
		return nil
	}

	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx,
			"INSERT OR IGNORE INTO sent_permits (client_id, permit_id) VALUES (?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare ledger insert: %w", err)
		}
		defer stmt.Close()

		for _, id := range permitIDs {
			if _, err := stmt.ExecContext(ctx, clientID, id); err != nil {
				return fmt.Errorf("failed to record sent permit %d: %w", id, err)
			}
		}
		return tx.Commit()
	})
}

// SentCount returns how many permits have ever been delivered to a client.
func (s *Store) SentCount(ctx context.Context, clientID int64) (int64, error) {
	if s.closed.Load() {
		return 0, storage.ErrStoreClosed
	}
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sent_permits WHERE client_id = ?", clientID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sent permits: %w", err)
	}
	return n, nil
}

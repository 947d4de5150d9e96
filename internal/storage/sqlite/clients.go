package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/permitflow/permitflow/internal/storage"
	"github.com/permitflow/permitflow/internal/types"
)

// ListClients reads client profiles with their work classes. One query for
// the profiles, one for all work classes; no per-client round trips.
func (s *Store) ListClients(ctx context.Context, filter types.ClientFilter) ([]*types.ClientProfile, error) {
	if s.closed.Load() {
		return nil, storage.ErrStoreClosed
	}

	var conds []string
	var args []interface{}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(filter.IDs) > 0 {
		ph := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			ph[i] = "?"
			args = append(args, id)
		}
		conds = append(conds, fmt.Sprintf("id IN (%s)", strings.Join(ph, ", ")))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	// #nosec G201 - fixed fragments, values bound
	query := fmt.Sprintf(`
		SELECT id, name, email, city, permit_type, permit_class_mapped,
		       rag_query, keywords_include, keywords_exclude,
		       slider_percentage, priority, status
		FROM clients %s ORDER BY id`, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	var clients []*types.ClientProfile
	byID := make(map[int64]*types.ClientProfile)
	for rows.Next() {
		var c types.ClientProfile
		var email, city, permitType, class, ragQuery sql.NullString
		var include, exclude string
		var status string
		if err := rows.Scan(&c.ID, &c.Name, &email, &city, &permitType, &class,
			&ragQuery, &include, &exclude,
			&c.SliderPercentage, &c.Priority, &status); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		c.Email = email.String
		c.City = city.String
		c.PermitType = permitType.String
		c.PermitClassMapped = class.String
		c.RAGQuery = ragQuery.String
		c.Status = types.ClientStatus(status)
		c.KeywordsInclude = parseKeywordList(include)
		c.KeywordsExclude = parseKeywordList(exclude)
		if c.SliderPercentage <= 0 || c.SliderPercentage > 100 {
			c.SliderPercentage = 100
		}
		if c.Priority <= 0 {
			c.Priority = 999
		}
		clients = append(clients, &c)
		byID[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		return nil, nil
	}

	wcRows, err := s.db.QueryContext(ctx,
		"SELECT client_id, work_class FROM client_work_classes ORDER BY client_id, work_class")
	if err != nil {
		return nil, fmt.Errorf("failed to query work classes: %w", err)
	}
	defer wcRows.Close()

	for wcRows.Next() {
		var clientID int64
		var wc string
		if err := wcRows.Scan(&clientID, &wc); err != nil {
			return nil, fmt.Errorf("failed to scan work class: %w", err)
		}
		if c, ok := byID[clientID]; ok {
			c.WorkClasses = append(c.WorkClasses, wc)
		}
	}
	return clients, wcRows.Err()
}

// parseKeywordList decodes a JSON string array, dropping nulls and blanks.
// Malformed payloads yield an empty set rather than failing the snapshot.
func parseKeywordList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" || raw == "null" {
		return nil
	}
	var vals []*string
	if err := json.Unmarshal([]byte(raw), &vals); err != nil {
		return nil
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v == nil {
			continue
		}
		if kw := strings.TrimSpace(*v); kw != "" {
			out = append(out, kw)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

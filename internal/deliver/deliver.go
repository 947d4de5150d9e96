// Package deliver hands finished result sets to clients. The production
// transport (email) hangs off the Deliverer interface; DirDeliverer writes
// the same report artifacts to disk for local runs and tests.
package deliver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/permitflow/permitflow/internal/report"
	"github.com/permitflow/permitflow/internal/types"
)

// Outcome describes what one delivery produced.
type Outcome struct {
	ClientID int64    `json:"client_id"`
	Rows     int      `json:"rows"`
	Files    []string `json:"files,omitempty"`
}

// Deliverer sends one client's result sets somewhere.
type Deliverer interface {
	Deliver(ctx context.Context, client *types.ClientProfile, sets types.ResultSets) (Outcome, error)
}

// DirDeliverer writes the three report CSVs under
// <root>/<cycle-id>/<client-slug>/.
type DirDeliverer struct {
	root    string
	cycleID string
	logger  *slog.Logger
}

// NewDirDeliverer creates a DirDeliverer rooted at root for one cycle.
func NewDirDeliverer(root, cycleID string, logger *slog.Logger) *DirDeliverer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DirDeliverer{root: root, cycleID: cycleID, logger: logger}
}

// Deliver renders the reports and writes the non-empty ones. An empty result
// set produces no files and no error.
func (d *DirDeliverer) Deliver(ctx context.Context, client *types.ClientProfile, sets types.ResultSets) (Outcome, error) {
	out := Outcome{ClientID: client.ID, Rows: sets.Total()}
	if out.Rows == 0 {
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	arts, err := report.Build(&sets)
	if err != nil {
		return out, fmt.Errorf("build reports for client %d: %w", client.ID, err)
	}

	dir := filepath.Join(d.root, d.cycleID, clientSlug(client))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return out, fmt.Errorf("create delivery dir: %w", err)
	}

	files := []struct {
		name string
		data []byte
		rows int
	}{
		{"inclusion.csv", arts.Inclusion, len(sets.Inclusion)},
		{"exclusion.csv", arts.Exclusion, len(sets.Exclusion)},
		{"semantic.csv", arts.Semantic, len(sets.Semantic)},
	}
	for _, f := range files {
		if f.rows == 0 {
			continue
		}
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, f.data, 0o644); err != nil {
			return out, fmt.Errorf("write %s: %w", f.name, err)
		}
		out.Files = append(out.Files, path)
	}
	d.logger.Info("delivered", "client_id", client.ID, "rows", out.Rows, "files", len(out.Files))
	return out, nil
}

// clientSlug builds a stable directory name from the client id and name.
func clientSlug(c *types.ClientProfile) string {
	name := strings.ToLower(strings.TrimSpace(c.Name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			if s := b.String(); s != "" && !strings.HasSuffix(s, "-") {
				b.WriteByte('-')
			}
		}
	}
	name = strings.Trim(b.String(), "-")
	if name == "" {
		return fmt.Sprintf("client-%d", c.ID)
	}
	return fmt.Sprintf("%d-%s", c.ID, name)
}

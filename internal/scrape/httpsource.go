package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/permitflow/permitflow/internal/types"
)

// DefaultHTTPTimeout bounds a single request to a source endpoint.
const DefaultHTTPTimeout = 30 * time.Second

const maxResponseBytes = 64 << 20 // 64 MiB

// HTTPSource scrapes a Socrata-style JSON endpoint: a GET with a $where
// clause windowed on the issue date, returning an array of flat objects.
type HTTPSource struct {
	name       string
	endpoint   string
	dateField  string
	fieldMap   map[string]string // canonical field -> source field
	windowDays int
	client     *http.Client
}

// HTTPSourceConfig describes one endpoint.
type HTTPSourceConfig struct {
	Name       string            `yaml:"name"`
	Endpoint   string            `yaml:"endpoint"`
	DateField  string            `yaml:"date_field"`
	FieldMap   map[string]string `yaml:"field_map"`
	WindowDays int               `yaml:"window_days"`
	TimeoutSec int               `yaml:"timeout_sec"`
}

// NewHTTPSource builds a source from config. DateField defaults to
// "issued_date"; the timeout defaults to DefaultHTTPTimeout.
func NewHTTPSource(cfg HTTPSourceConfig) (*HTTPSource, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("source %s: invalid endpoint: %w", cfg.Name, err)
	}
	dateField := cfg.DateField
	if dateField == "" {
		dateField = "issued_date"
	}
	timeout := DefaultHTTPTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	return &HTTPSource{
		name:       cfg.Name,
		endpoint:   cfg.Endpoint,
		dateField:  dateField,
		fieldMap:   cfg.FieldMap,
		windowDays: cfg.WindowDays,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

func (s *HTTPSource) Name() string { return s.name }

// WindowDays reports the rolling window configured for this source; zero
// means same-day.
func (s *HTTPSource) WindowDays() int { return s.windowDays }

// Scrape fetches all rows whose date field falls inside [startDate, endDate].
// Transient failures (5xx, network errors) are retried with backoff; 4xx
// responses are permanent.
func (s *HTTPSource) Scrape(ctx context.Context, startDate, endDate string) ([]types.RawPermit, error) {
	reqURL, err := s.buildURL(startDate, endDate)
	if err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 2 * time.Minute

	var rows []types.RawPermit
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
			return fmt.Errorf("server status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return err
		}
		rows, err = decodeRows(body)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *HTTPSource) buildURL(startDate, endDate string) (string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("$where", fmt.Sprintf("%s between '%s' and '%s'", s.dateField, startDate, endDate))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// decodeRows flattens a JSON array of objects into raw permits. Non-string
// values are rendered through their JSON form.
func decodeRows(body []byte) ([]types.RawPermit, error) {
	var objs []map[string]any
	if err := json.Unmarshal(body, &objs); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	rows := make([]types.RawPermit, 0, len(objs))
	for _, obj := range objs {
		row := make(types.RawPermit, len(obj))
		for k, v := range obj {
			switch val := v.(type) {
			case string:
				row[strings.ToLower(k)] = val
			case nil:
				// skip
			default:
				b, err := json.Marshal(val)
				if err != nil {
					continue
				}
				row[strings.ToLower(k)] = strings.Trim(string(b), `"`)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Normalize maps source-keyed rows onto the canonical field set and drops
// rows without a permit number. An empty field map passes keys through.
func (s *HTTPSource) Normalize(rows []types.RawPermit) []types.RawPermit {
	out := make([]types.RawPermit, 0, len(rows))
	for _, row := range rows {
		mapped := row
		if len(s.fieldMap) > 0 {
			mapped = make(types.RawPermit, len(s.fieldMap))
			for canonical, sourceKey := range s.fieldMap {
				if v := row.Get(sourceKey); v != "" {
					mapped[canonical] = v
				}
			}
		}
		if strings.TrimSpace(mapped.Get("permit_number", "permit_num", "permitnum")) == "" {
			continue
		}
		out = append(out, mapped)
	}
	return out
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/permitflow/permitflow/internal/scrape"
)

// sourcesFile is the YAML shape of the scrape source list:
//
//	sources:
//	  - name: austin
//	    endpoint: https://data.example.gov/resource/permits.json
//	    date_field: issued_date
//	    window_days: 30
//	    field_map:
//	      permit_number: permitnum
type sourcesFile struct {
	Sources []scrape.HTTPSourceConfig `yaml:"sources"`
}

// LoadSources reads the scrape source definitions from a YAML file.
// Duplicate source names are rejected.
func LoadSources(path string) ([]scrape.HTTPSourceConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from config
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources file %s: %w", path, err)
	}
	seen := make(map[string]bool, len(f.Sources))
	for _, src := range f.Sources {
		if src.Name == "" {
			return nil, fmt.Errorf("sources file %s: source with empty name", path)
		}
		if seen[src.Name] {
			return nil, fmt.Errorf("sources file %s: duplicate source %q", path, src.Name)
		}
		seen[src.Name] = true
	}
	return f.Sources, nil
}

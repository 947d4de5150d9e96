package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CycleInterval != 4*time.Hour {
		t.Errorf("CycleInterval = %v, want 4h", cfg.CycleInterval)
	}
	if cfg.BatchSize != 256 || cfg.PerClientTopK != 200 || cfg.Oversample != 5 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.PermitsDBPath == "" || cfg.RAGIndexDir == "" {
		t.Error("data paths must have defaults")
	}
}

func TestEnvOverrides(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("PF_CYCLE_INTERVAL", "30m")
	t.Setenv("PF_BATCH_SIZE", "64")
	t.Setenv("PF_PERMITS_DB_PATH", "/tmp/permits-test.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CycleInterval != 30*time.Minute {
		t.Errorf("CycleInterval = %v, want 30m", cfg.CycleInterval)
	}
	if cfg.BatchSize != 64 {
		t.Errorf("BatchSize = %d, want 64", cfg.BatchSize)
	}
	if cfg.PermitsDBPath != "/tmp/permits-test.db" {
		t.Errorf("PermitsDBPath = %q", cfg.PermitsDBPath)
	}
}

func TestLoadSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	data := `sources:
  - name: austin
    endpoint: https://data.example.gov/resource/permits.json
    window_days: 30
    field_map:
      permit_number: permitnum
      description: projectdesc
  - name: denver
    endpoint: https://denver.example.gov/permits.json
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	srcs, err := LoadSources(path)
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	if len(srcs) != 2 {
		t.Fatalf("got %d sources, want 2", len(srcs))
	}
	if srcs[0].Name != "austin" || srcs[0].WindowDays != 30 {
		t.Errorf("unexpected first source: %+v", srcs[0])
	}
	if srcs[0].FieldMap["permit_number"] != "permitnum" {
		t.Errorf("field map not parsed: %v", srcs[0].FieldMap)
	}
}

func TestLoadSourcesRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	data := `sources:
  - name: austin
    endpoint: https://a.example.gov/p.json
  - name: austin
    endpoint: https://b.example.gov/p.json
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSources(path); err == nil {
		t.Fatal("expected duplicate-name error")
	}
}

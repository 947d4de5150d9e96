// Package config holds the viper-backed runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Explicitly locate config.yaml. Precedence: project .permitflow/config.yaml
	// (walking up from CWD) > ~/.config/permitflow/config.yaml.
	configFileSet := false
	cwd, err := os.Getwd()
	if err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".permitflow", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "permitflow", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Environment variables take precedence over the config file.
	// E.g. PF_PERMITS_DB_PATH, PF_CYCLE_INTERVAL, PF_BATCH_SIZE.
	v.SetEnvPrefix("PF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("permits-db-path", defaultDataPath("permits.db"))
	v.SetDefault("clients-db-path", defaultDataPath("clients.db"))
	v.SetDefault("rag-index-dir", defaultDataPath("index"))
	v.SetDefault("delivery-dir", defaultDataPath("deliveries"))
	v.SetDefault("sources-file", "")
	v.SetDefault("cycle-interval", "4h")
	v.SetDefault("batch-size", 256)
	v.SetDefault("per-client-top-k", 200)
	v.SetDefault("oversample", 5)
	v.SetDefault("log-file", "")
}

func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".permitflow", name)
	}
	return filepath.Join(home, ".permitflow", name)
}

// Config is the resolved runtime configuration.
type Config struct {
	PermitsDBPath string
	ClientsDBPath string
	RAGIndexDir   string
	DeliveryDir   string
	SourcesFile   string
	CycleInterval time.Duration
	BatchSize     int
	PerClientTopK int
	Oversample    int
	LogFile       string
}

// Load resolves the current configuration. Initialize must have been called.
func Load() (*Config, error) {
	if v == nil {
		if err := Initialize(); err != nil {
			return nil, err
		}
	}
	cfg := &Config{
		PermitsDBPath: v.GetString("permits-db-path"),
		ClientsDBPath: v.GetString("clients-db-path"),
		RAGIndexDir:   v.GetString("rag-index-dir"),
		DeliveryDir:   v.GetString("delivery-dir"),
		SourcesFile:   v.GetString("sources-file"),
		CycleInterval: v.GetDuration("cycle-interval"),
		BatchSize:     v.GetInt("batch-size"),
		PerClientTopK: v.GetInt("per-client-top-k"),
		Oversample:    v.GetInt("oversample"),
		LogFile:       v.GetString("log-file"),
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 4 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.PerClientTopK <= 0 {
		cfg.PerClientTopK = 200
	}
	if cfg.Oversample <= 0 {
		cfg.Oversample = 5
	}
	return cfg, nil
}

// GetString reads a raw config key; empty if unset or uninitialized.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// Reset clears the singleton so tests can re-initialize with fresh env.
func Reset() { v = nil }

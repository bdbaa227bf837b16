// Package config reads the flat params.json configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPoolSize        = 5
	DefaultLookbackMinutes = 10
	DefaultBatchSize       = 1000
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = 5 * time.Second
	DefaultStatusDir       = "sync_status"
)

// Config is the resolved sync configuration.
type Config struct {
	DBHost string
	DBPort int
	DBUser string
	DBPass string
	// Tenants are the source schemas to sync, one destination tenant each.
	Tenants []string
	Tables  []string

	BQProject string
	BQDataset string

	PoolSize        int
	LookbackMinutes int
	BatchSize       int
	MaxRetries      int
	RetryDelay      time.Duration
	StatusDir       string
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return errors.New("db_host is required")
	}
	if c.DBUser == "" {
		return errors.New("db_user is required")
	}
	if len(c.Tenants) == 0 {
		return errors.New("db_list is required")
	}
	if len(c.Tables) == 0 {
		return errors.New("table_list is required")
	}
	if c.BQProject == "" {
		return errors.New("bq_project is required")
	}
	if c.BQDataset == "" {
		return errors.New("bq_dataset is required")
	}
	return nil
}

// Lookback returns the incremental-window overlap as a duration.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.LookbackMinutes) * time.Minute
}

// fileParams mirrors the params.json shape. Numeric fields tolerate both JSON
// numbers and numeric strings.
type fileParams struct {
	DBHost          string  `json:"db_host"`
	DBPort          flexInt `json:"db_port"`
	DBUser          string  `json:"db_user"`
	DBPass          string  `json:"db_pass"`
	DBList          string  `json:"db_list"`
	TableList       string  `json:"table_list"`
	BQProject       string  `json:"bq_project"`
	BQDataset       string  `json:"bq_dataset"`
	PoolSize        flexInt `json:"pool_size"`
	LookbackMinutes flexInt `json:"lookback_minutes"`
	BatchSize       flexInt `json:"batch_size"`
	MaxRetries      flexInt `json:"max_retries"`
	RetryDelay      flexInt `json:"retry_delay"`
	StatusDir       string  `json:"status_dir"`
}

type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not an integer: %q", s)
	}
	*f = flexInt(n)
	return nil
}

// Load reads and validates the configuration file, applying defaults for
// absent optional keys.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var params fileParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := &Config{
		DBHost:          params.DBHost,
		DBPort:          int(params.DBPort),
		DBUser:          params.DBUser,
		DBPass:          params.DBPass,
		Tenants:         splitList(params.DBList),
		Tables:          splitList(params.TableList),
		BQProject:       params.BQProject,
		BQDataset:       params.BQDataset,
		PoolSize:        intOr(int(params.PoolSize), DefaultPoolSize),
		LookbackMinutes: intOr(int(params.LookbackMinutes), DefaultLookbackMinutes),
		BatchSize:       intOr(int(params.BatchSize), DefaultBatchSize),
		MaxRetries:      intOr(int(params.MaxRetries), DefaultMaxRetries),
		RetryDelay:      DefaultRetryDelay,
		StatusDir:       params.StatusDir,
	}
	if params.RetryDelay > 0 {
		cfg.RetryDelay = time.Duration(params.RetryDelay) * time.Second
	}
	if cfg.DBPort == 0 {
		cfg.DBPort = 3306
	}
	if cfg.StatusDir == "" {
		cfg.StatusDir = DefaultStatusDir
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv lets connection settings be supplied outside the config file, e.g.
// from a .env loaded by the entrypoint.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.DBHost = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DBPort = n
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.DBUser = v
	}
	if v := os.Getenv("DB_PASS"); v != "" {
		cfg.DBPass = v
	}
	if v := os.Getenv("BQ_PROJECT"); v != "" {
		cfg.BQProject = v
	}
	if v := os.Getenv("BQ_DATASET"); v != "" {
		cfg.BQDataset = v
	}
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func intOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

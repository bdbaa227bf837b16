package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeParams(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "params.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSync_Config_Load(t *testing.T) {
	t.Run("parses a full config", func(t *testing.T) {
		path := writeParams(t, `{
			"db_host": "db.internal",
			"db_port": 3307,
			"db_user": "sync",
			"db_pass": "secret",
			"db_list": "t1, t2 ,t3",
			"table_list": "orders,customers",
			"bq_project": "acme-prod",
			"bq_dataset": "replica",
			"pool_size": 8,
			"lookback_minutes": 15,
			"batch_size": 500,
			"max_retries": 4,
			"retry_delay": 2,
			"status_dir": "state"
		}`)

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, "db.internal", cfg.DBHost)
		require.Equal(t, 3307, cfg.DBPort)
		require.Equal(t, []string{"t1", "t2", "t3"}, cfg.Tenants)
		require.Equal(t, []string{"orders", "customers"}, cfg.Tables)
		require.Equal(t, "acme-prod", cfg.BQProject)
		require.Equal(t, 8, cfg.PoolSize)
		require.Equal(t, 15, cfg.LookbackMinutes)
		require.Equal(t, 15*time.Minute, cfg.Lookback())
		require.Equal(t, 500, cfg.BatchSize)
		require.Equal(t, 4, cfg.MaxRetries)
		require.Equal(t, 2*time.Second, cfg.RetryDelay)
		require.Equal(t, "state", cfg.StatusDir)
	})

	t.Run("applies defaults for absent optional keys", func(t *testing.T) {
		path := writeParams(t, `{
			"db_host": "db.internal",
			"db_user": "sync",
			"db_list": "t1",
			"table_list": "orders",
			"bq_project": "acme-prod",
			"bq_dataset": "replica"
		}`)

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, 3306, cfg.DBPort)
		require.Equal(t, DefaultPoolSize, cfg.PoolSize)
		require.Equal(t, DefaultLookbackMinutes, cfg.LookbackMinutes)
		require.Equal(t, DefaultBatchSize, cfg.BatchSize)
		require.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
		require.Equal(t, DefaultRetryDelay, cfg.RetryDelay)
		require.Equal(t, DefaultStatusDir, cfg.StatusDir)
	})

	t.Run("tolerates numeric strings", func(t *testing.T) {
		path := writeParams(t, `{
			"db_host": "db.internal",
			"db_port": "3308",
			"db_user": "sync",
			"db_list": "t1",
			"table_list": "orders",
			"bq_project": "acme-prod",
			"bq_dataset": "replica",
			"pool_size": "12"
		}`)

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, 3308, cfg.DBPort)
		require.Equal(t, 12, cfg.PoolSize)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("malformed json is an error", func(t *testing.T) {
		path := writeParams(t, `{"db_host": `)
		_, err := Load(path)
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("missing required keys are errors", func(t *testing.T) {
		path := writeParams(t, `{"db_host": "db.internal", "db_user": "sync"}`)
		_, err := Load(path)
		require.Error(t, err)
		require.Contains(t, err.Error(), "db_list is required")
	})

	t.Run("environment overrides connection settings", func(t *testing.T) {
		t.Setenv("DB_PASS", "from-env")
		t.Setenv("DB_PORT", "3310")

		path := writeParams(t, `{
			"db_host": "db.internal",
			"db_user": "sync",
			"db_pass": "from-file",
			"db_list": "t1",
			"table_list": "orders",
			"bq_project": "acme-prod",
			"bq_dataset": "replica"
		}`)

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, "from-env", cfg.DBPass)
		require.Equal(t, 3310, cfg.DBPort)
	})
}

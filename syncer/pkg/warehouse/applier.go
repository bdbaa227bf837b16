// Package warehouse applies extracted batches to the destination: table
// creation, tenant-scoped full reloads, and MERGE-via-staging upserts.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/bqtype"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/metrics"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/schema"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/source"
	"github.com/Learntotolearn/gcp-dataflow/utils/pkg/retry"
)

// Client is the warehouse surface the applier depends on. The bq subpackage
// implements it against BigQuery; tests use fakes.
type Client interface {
	// EnsureDataset creates the configured dataset if absent.
	EnsureDataset(ctx context.Context) error
	TableExists(ctx context.Context, table string) (bool, error)
	// CreateTable creates a table day-partitioned on partitionField and
	// clustered on clusterField.
	CreateTable(ctx context.Context, table string, fields []bqtype.Field, partitionField, clusterField string) error
	// LoadRows runs a load job; truncate replaces the table contents (and
	// creates the table if needed), otherwise rows are appended.
	LoadRows(ctx context.Context, table string, rows []source.Row, fields []bqtype.Field, truncate bool) error
	// Query runs a DML statement (DELETE, MERGE) to completion.
	Query(ctx context.Context, sql string) error
	DeleteTable(ctx context.Context, table string) error
	// TableID returns the fully qualified `project.dataset.table` id for use
	// in SQL statements.
	TableID(table string) string
}

type Config struct {
	Logger *slog.Logger
	Client Client
	Clock  clockwork.Clock
	Retry  retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("warehouse client is required")
	}
	if cfg.Clock == nil {
		return errors.New("clock is required")
	}
	return nil
}

type Applier struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Applier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Applier{log: cfg.Logger, cfg: cfg}, nil
}

// EnsureTable creates the dataset and the destination table if absent. All
// tenants share one table per source table; existing tables are trusted to
// match the schema.
func (a *Applier) EnsureTable(ctx context.Context, table string, fields []bqtype.Field) error {
	if err := a.cfg.Client.EnsureDataset(ctx); err != nil {
		return fmt.Errorf("failed to ensure dataset: %w", err)
	}

	exists, err := a.cfg.Client.TableExists(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to check table %s: %w", table, err)
	}
	if exists {
		return nil
	}

	if err := a.cfg.Client.CreateTable(ctx, table, fields, schema.ColSyncTimestamp, schema.ColTenantID); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	a.log.Info("destination table created", "table", table,
		"partition_field", schema.ColSyncTimestamp, "cluster_field", schema.ColTenantID)
	return nil
}

// Write applies a non-empty batch. Full mode reloads the batch's tenant;
// incremental mode merges by primary key, or appends when the table has none.
func (a *Applier) Write(ctx context.Context, table string, rows []source.Row, fields []bqtype.Field, primaryKeys []string, mode schema.Mode) error {
	if len(rows) == 0 {
		return nil
	}

	switch {
	case mode == schema.ModeFull:
		return a.fullReload(ctx, table, rows, fields)
	case len(primaryKeys) > 0:
		return a.mergeViaStaging(ctx, table, rows, fields, primaryKeys)
	default:
		// Without a primary key updates cannot be matched; appended rows may
		// duplicate earlier versions.
		a.log.Warn("table has no primary key, appending incrementally", "table", table, "rows", len(rows))
		return a.load(ctx, table, rows, fields, false)
	}
}

// fullReload deletes the batch's tenant from the destination and appends the
// batch. Other tenants' rows are untouched.
func (a *Applier) fullReload(ctx context.Context, table string, rows []source.Row, fields []bqtype.Field) error {
	tenant, _ := rows[0][schema.ColTenantID].(string)
	if tenant == "" {
		return errors.New("rows are missing the tenant_id system column")
	}

	deleteSQL := fmt.Sprintf("DELETE FROM `%s` WHERE %s = '%s'",
		a.cfg.Client.TableID(table), schema.ColTenantID, strings.ReplaceAll(tenant, "'", "\\'"))
	if err := a.query(ctx, deleteSQL); err != nil {
		return fmt.Errorf("failed to delete tenant %s from %s: %w", tenant, table, err)
	}
	a.log.Info("tenant rows deleted for full reload", "table", table, "tenant", tenant)

	if err := a.load(ctx, table, rows, fields, false); err != nil {
		return err
	}
	a.log.Info("full reload complete", "table", table, "tenant", tenant, "rows", len(rows))
	return nil
}

// mergeViaStaging loads the batch into a unique staging table and merges it
// into the destination on primary keys + tenant_id. The staging table is
// deleted even when the merge fails.
func (a *Applier) mergeViaStaging(ctx context.Context, table string, rows []source.Row, fields []bqtype.Field, primaryKeys []string) error {
	staging := fmt.Sprintf("%s_temp_%d", table, a.cfg.Clock.Now().UnixMilli())
	if err := a.load(ctx, staging, rows, fields, true); err != nil {
		// A concurrent run can own the same millisecond suffix; retry once
		// with a fresh name.
		if !isAlreadyExists(err) {
			return fmt.Errorf("failed to load staging table %s: %w", staging, err)
		}
		staging = fmt.Sprintf("%s_temp_%d", table, a.cfg.Clock.Now().UnixMilli()+1)
		if err := a.load(ctx, staging, rows, fields, true); err != nil {
			return fmt.Errorf("failed to load staging table %s: %w", staging, err)
		}
	}
	defer func() {
		if err := a.cfg.Client.DeleteTable(context.WithoutCancel(ctx), staging); err != nil {
			a.log.Warn("failed to delete staging table", "table", staging, "error", err)
		}
	}()

	mergeSQL := buildMergeSQL(a.cfg.Client.TableID(table), a.cfg.Client.TableID(staging), fields, primaryKeys)
	if err := a.query(ctx, mergeSQL); err != nil {
		return fmt.Errorf("failed to merge into %s: %w", table, err)
	}

	a.log.Info("merge complete", "table", table, "rows", len(rows))
	return nil
}

func (a *Applier) load(ctx context.Context, table string, rows []source.Row, fields []bqtype.Field, truncate bool) error {
	if err := retry.Do(ctx, a.cfg.Retry, func() error {
		return a.cfg.Client.LoadRows(ctx, table, rows, fields, truncate)
	}); err != nil {
		metrics.WarehouseJobsTotal.WithLabelValues("load", "error").Inc()
		return fmt.Errorf("failed to load %d rows into %s: %w", len(rows), table, err)
	}
	metrics.WarehouseJobsTotal.WithLabelValues("load", "success").Inc()
	return nil
}

func (a *Applier) query(ctx context.Context, sql string) error {
	err := retry.Do(ctx, a.cfg.Retry, func() error {
		return a.cfg.Client.Query(ctx, sql)
	})
	if err != nil {
		metrics.WarehouseJobsTotal.WithLabelValues("query", "error").Inc()
		return err
	}
	metrics.WarehouseJobsTotal.WithLabelValues("query", "success").Inc()
	return nil
}

// buildMergeSQL matches on every primary key plus tenant_id, updates all
// non-key columns on match, and inserts all columns otherwise.
func buildMergeSQL(targetID, stagingID string, fields []bqtype.Field, primaryKeys []string) string {
	pkSet := make(map[string]struct{}, len(primaryKeys))
	conditions := make([]string, 0, len(primaryKeys)+1)
	for _, pk := range primaryKeys {
		pkSet[pk] = struct{}{}
		conditions = append(conditions, fmt.Sprintf("T.%s = S.%s", pk, pk))
	}
	conditions = append(conditions, fmt.Sprintf("T.%s = S.%s", schema.ColTenantID, schema.ColTenantID))

	var updates, insertCols, insertVals []string
	for _, f := range fields {
		insertCols = append(insertCols, f.Name)
		insertVals = append(insertVals, "S."+f.Name)
		if _, isPK := pkSet[f.Name]; !isPK {
			updates = append(updates, fmt.Sprintf("%s = S.%s", f.Name, f.Name))
		}
	}

	return fmt.Sprintf(`MERGE `+"`%s`"+` T
USING `+"`%s`"+` S
ON %s
WHEN MATCHED THEN
  UPDATE SET %s
WHEN NOT MATCHED THEN
  INSERT (%s)
  VALUES (%s)`,
		targetID, stagingID,
		strings.Join(conditions, " AND "),
		strings.Join(updates, ", "),
		strings.Join(insertCols, ", "),
		strings.Join(insertVals, ", "))
}

func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists")
}

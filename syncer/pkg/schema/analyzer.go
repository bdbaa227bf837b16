// Package schema discovers source table structure and derives the destination
// schema: columns, primary keys, and the timestamp field that drives
// incremental extraction.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/bqtype"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/source"
)

// System columns appended to every destination schema, in fixed order.
const (
	ColTenantID      = "tenant_id"
	ColSyncTimestamp = "sync_timestamp"
	ColSyncMode      = "sync_mode"
)

// IsSystemColumn reports whether the column is one the sync engine appends.
func IsSystemColumn(name string) bool {
	return name == ColTenantID || name == ColSyncTimestamp || name == ColSyncMode
}

// timestampFieldPriority lists timestamp column names in selection order.
var timestampFieldPriority = []string{
	"updated_at", "update_time", "last_updated", "modified_at", "last_modified",
	"created_at", "create_time", "insert_time", "timestamp", "sync_time",
}

// TableInfo is the cached per-(tenant, table) metadata. Immutable once built.
type TableInfo struct {
	Tenant  string
	Table   string
	Columns []source.Column
	// Schema is the destination schema: the source columns mapped to
	// BigQuery types followed by the three system columns.
	Schema []bqtype.Field
	// FieldTypes maps column name to its raw MySQL type string, case-folded.
	FieldTypes map[string]string
	// TimestampField is the column driving incremental windows; empty when
	// the table has no usable candidate.
	TimestampField string
	PrimaryKeys    []string
}

type AnalyzerConfig struct {
	Logger *slog.Logger
	Source source.Client
}

func (cfg *AnalyzerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Source == nil {
		return errors.New("source client is required")
	}
	return nil
}

// Analyzer discovers table structure, memoizing results per tenant.table for
// the lifetime of the run.
type Analyzer struct {
	log *slog.Logger
	cfg AnalyzerConfig

	mu    sync.Mutex
	cache map[string]*TableInfo
}

func NewAnalyzer(cfg AnalyzerConfig) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Analyzer{
		log:   cfg.Logger,
		cfg:   cfg,
		cache: make(map[string]*TableInfo),
	}, nil
}

// TableInfo returns the table's metadata, analyzing on first call and serving
// from cache afterwards.
func (a *Analyzer) TableInfo(ctx context.Context, tenant, table string) (*TableInfo, error) {
	key := tenant + "." + table

	a.mu.Lock()
	if info, ok := a.cache[key]; ok {
		a.mu.Unlock()
		a.log.Debug("using cached table info", "table", key)
		return info, nil
	}
	a.mu.Unlock()

	a.log.Debug("analyzing table structure", "table", key)

	cols, err := a.cfg.Source.Columns(ctx, tenant, table)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", key, err)
	}

	pks, err := a.cfg.Source.PrimaryKeys(ctx, tenant, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read primary keys of %s: %w", key, err)
	}

	info := &TableInfo{
		Tenant:      tenant,
		Table:       table,
		Columns:     cols,
		FieldTypes:  make(map[string]string, len(cols)),
		PrimaryKeys: pks,
	}

	for _, col := range cols {
		info.Schema = append(info.Schema, bqtype.Field{Name: col.Name, Type: bqtype.Map(col.Type)})
		info.FieldTypes[col.Name] = strings.ToLower(col.Type)
	}
	info.Schema = append(info.Schema,
		bqtype.Field{Name: ColTenantID, Type: bqtype.TypeString},
		bqtype.Field{Name: ColSyncTimestamp, Type: bqtype.TypeTimestamp},
		bqtype.Field{Name: ColSyncMode, Type: bqtype.TypeString},
	)

	info.TimestampField = selectTimestampField(cols)

	a.mu.Lock()
	a.cache[key] = info
	a.mu.Unlock()

	a.log.Info("table analyzed", "table", key,
		"columns", len(cols),
		"timestamp_field", info.TimestampField,
		"primary_keys", strings.Join(pks, ","))

	return info, nil
}

// selectTimestampField picks the incremental-sync timestamp column. A column
// is a candidate when its name hints at a time and it is either a
// datetime/timestamp column or an integer column holding Unix time. The
// priority list wins over ordinal order.
func selectTimestampField(cols []source.Column) string {
	var candidates []string

	for _, col := range cols {
		nameLower := strings.ToLower(col.Name)
		typeLower := strings.ToLower(col.Type)

		nameHintsTime := false
		for _, hint := range []string{"time", "date", "created", "updated", "modified"} {
			if strings.Contains(nameLower, hint) {
				nameHintsTime = true
				break
			}
		}
		if !nameHintsTime {
			continue
		}

		isDatetime := strings.HasPrefix(typeLower, "datetime") || strings.HasPrefix(typeLower, "timestamp")
		isUnixInt := false
		if strings.Contains(typeLower, "int") {
			for _, hint := range []string{"time", "created", "updated"} {
				if strings.Contains(nameLower, hint) {
					isUnixInt = true
					break
				}
			}
		}
		if isDatetime || isUnixInt {
			candidates = append(candidates, col.Name)
		}
	}

	if len(candidates) == 0 {
		return ""
	}

	for _, preferred := range timestampFieldPriority {
		for _, name := range candidates {
			if strings.EqualFold(preferred, name) {
				return name
			}
		}
	}
	return candidates[0]
}

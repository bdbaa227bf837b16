// Package checkpoint persists per-(tenant, table) sync state as one JSON file
// per tenant under the status directory.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/schema"
)

const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// TableStatus is one table's entry in the tenant's status file.
type TableStatus struct {
	TableName     string      `json:"table_name"`
	LastSyncTime  string      `json:"last_sync_time"`
	SyncStatus    string      `json:"sync_status"`
	SyncMode      schema.Mode `json:"sync_mode"`
	RecordsSynced int         `json:"records_synced"`
	ErrorMessage  *string     `json:"error_message"`
	UpdatedAt     string      `json:"updated_at"`
}

// DatabaseInfo is the tenant-level header of a status file.
type DatabaseInfo struct {
	TenantID    string `json:"tenant_id"`
	LastUpdated string `json:"last_updated"`
	TotalTables int    `json:"total_tables"`
}

// TenantStatus is the full on-disk shape of one tenant's status file.
type TenantStatus struct {
	DatabaseInfo DatabaseInfo           `json:"database_info"`
	Tables       map[string]TableStatus `json:"tables"`
}

type StoreConfig struct {
	Logger *slog.Logger
	Dir    string
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Dir == "" {
		return errors.New("status dir is required")
	}
	return nil
}

// Store reads and writes tenant status files. One process-wide mutex guards
// every file; the scheduler runs one tenant at a time so contention stays low.
type Store struct {
	log *slog.Logger
	dir string
	mu  sync.Mutex
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create status dir %s: %w", cfg.Dir, err)
	}
	cfg.Logger.Debug("status directory ready", "dir", cfg.Dir)
	return &Store{log: cfg.Logger, dir: cfg.Dir}, nil
}

func (s *Store) statusFile(tenant string) string {
	return filepath.Join(s.dir, tenant+".json")
}

// load reads a tenant's status file. A missing file yields an empty status.
func (s *Store) load(tenant string) *TenantStatus {
	path := s.statusFile(tenant)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("failed to read status file", "file", path, "error", err)
		}
		return &TenantStatus{Tables: make(map[string]TableStatus)}
	}

	var status TenantStatus
	if err := json.Unmarshal(data, &status); err != nil {
		s.log.Warn("failed to parse status file", "file", path, "error", err)
		return &TenantStatus{Tables: make(map[string]TableStatus)}
	}
	if status.Tables == nil {
		status.Tables = make(map[string]TableStatus)
	}
	return &status
}

// save writes a tenant's status file via a temp file and an atomic rename so
// a failed write never corrupts a previously readable file.
func (s *Store) save(tenant string, status *TenantStatus) error {
	path := s.statusFile(tenant)
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status for %s: %w", tenant, err)
	}

	tmp, err := os.CreateTemp(s.dir, tenant+".json.tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp status file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp status file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace status file %s: %w", path, err)
	}
	return nil
}

// LastSyncTime returns the table's last recorded sync instant, whether that
// sync succeeded or failed. The second return is false when the file, the
// table entry, or a parseable timestamp is missing.
func (s *Store) LastSyncTime(tenant, table string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.load(tenant)
	entry, ok := status.Tables[table]
	if !ok || entry.LastSyncTime == "" {
		return time.Time{}, false
	}

	t, err := parseTime(entry.LastSyncTime)
	if err != nil {
		s.log.Warn("failed to parse last sync time", "tenant", tenant, "table", table, "value", entry.LastSyncTime, "error", err)
		return time.Time{}, false
	}
	return t, true
}

// Update records a table's sync outcome, recomputing the tenant-level totals.
func (s *Store) Update(tenant, table string, syncTime time.Time, mode schema.Mode, records int, syncStatus string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.load(tenant)
	now := time.Now().Format(time.RFC3339)

	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}

	status.Tables[table] = TableStatus{
		TableName:     table,
		LastSyncTime:  syncTime.Format(time.RFC3339),
		SyncStatus:    syncStatus,
		SyncMode:      mode,
		RecordsSynced: records,
		ErrorMessage:  errPtr,
		UpdatedAt:     now,
	}
	status.DatabaseInfo.TenantID = tenant
	status.DatabaseInfo.LastUpdated = now
	status.DatabaseInfo.TotalTables = len(status.Tables)

	if err := s.save(tenant, status); err != nil {
		return err
	}
	s.log.Debug("status updated", "tenant", tenant, "table", table, "status", syncStatus, "records", records)
	return nil
}

// Summary returns the tenant's current status file contents.
func (s *Store) Summary(tenant string) *TenantStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(tenant)
}

// parseTime accepts RFC3339 as written by Update plus the zone-less layout
// produced by earlier versions of the status files.
func parseTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", value); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999", value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", value)
}

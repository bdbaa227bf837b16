package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const backupDirName = "backup_single_table_files"

// MigrateSingleTableFiles merges legacy per-(tenant, table) status files named
// <tenant>_<table>.json into the tenant-grouped layout, then moves the
// originals into <dir>/backup_single_table_files/. Tenant names are assumed
// not to contain underscores; table names may. Returns the number of table
// entries migrated.
func (s *Store) MigrateSingleTableFiles() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read status dir %s: %w", s.dir, err)
	}

	var legacy []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if strings.Contains(strings.TrimSuffix(name, ".json"), "_") {
			legacy = append(legacy, name)
		}
	}
	if len(legacy) == 0 {
		s.log.Info("no single-table status files to migrate")
		return 0, nil
	}

	s.log.Info("migrating single-table status files", "count", len(legacy))

	migrated := 0
	var moved []string
	for _, name := range legacy {
		stem := strings.TrimSuffix(name, ".json")
		tenant, table, _ := strings.Cut(stem, "_")
		if tenant == "" || table == "" {
			s.log.Warn("skipping malformed status file name", "file", name)
			continue
		}

		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("failed to read legacy status file", "file", name, "error", err)
			continue
		}

		var entry TableStatus
		if err := json.Unmarshal(data, &entry); err != nil || entry.TableName == "" {
			s.log.Warn("skipping malformed legacy status file", "file", name, "error", err)
			continue
		}

		status := s.load(tenant)
		if entry.UpdatedAt == "" {
			entry.UpdatedAt = time.Now().Format(time.RFC3339)
		}
		status.Tables[table] = entry
		status.DatabaseInfo.TenantID = tenant
		status.DatabaseInfo.LastUpdated = time.Now().Format(time.RFC3339)
		status.DatabaseInfo.TotalTables = len(status.Tables)

		if err := s.save(tenant, status); err != nil {
			return migrated, fmt.Errorf("failed to save migrated status for %s: %w", tenant, err)
		}
		migrated++
		moved = append(moved, name)
		s.log.Info("migrated table status", "tenant", tenant, "table", table)
	}

	if len(moved) > 0 {
		backupDir := filepath.Join(s.dir, backupDirName)
		if err := os.MkdirAll(backupDir, 0o755); err != nil {
			return migrated, fmt.Errorf("failed to create backup dir: %w", err)
		}
		for _, name := range moved {
			if err := os.Rename(filepath.Join(s.dir, name), filepath.Join(backupDir, name)); err != nil {
				s.log.Warn("failed to move legacy status file to backup", "file", name, "error", err)
			}
		}
	}

	return migrated, nil
}

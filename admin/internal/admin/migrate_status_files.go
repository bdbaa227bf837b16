package admin

import (
	"fmt"
	"log/slog"

	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/checkpoint"
)

// MigrateStatusFiles merges legacy per-(tenant, table) status files into the
// tenant-grouped layout and moves the originals into a backup subdirectory.
func MigrateStatusFiles(log *slog.Logger, statusDir string) error {
	store, err := checkpoint.NewStore(checkpoint.StoreConfig{Logger: log, Dir: statusDir})
	if err != nil {
		return err
	}

	migrated, err := store.MigrateSingleTableFiles()
	if err != nil {
		return fmt.Errorf("failed to migrate status files: %w", err)
	}
	log.Info("status file migration complete", "dir", statusDir, "tables_migrated", migrated)
	return nil
}

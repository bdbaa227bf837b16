package admin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/checkpoint"
)

// StatusSummary prints a tenant's checkpoint file as indented JSON.
func StatusSummary(log *slog.Logger, statusDir, tenant string) error {
	store, err := checkpoint.NewStore(checkpoint.StoreConfig{Logger: log, Dir: statusDir})
	if err != nil {
		return err
	}

	summary := store.Summary(tenant)
	if len(summary.Tables) == 0 {
		log.Info("no sync status recorded for tenant", "tenant", tenant)
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return nil
}

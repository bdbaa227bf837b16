package syncer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/checkpoint"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/schema"
)

// TableResult is one table's outcome within a run.
type TableResult struct {
	Tenant   string
	Table    string
	Mode     schema.Mode
	Status   string
	Records  int
	Error    string
	Duration time.Duration
}

// Report accumulates per-table outcomes across the run.
type Report struct {
	RunID     string
	StartedAt time.Time
	EndedAt   time.Time

	mu      sync.Mutex
	results []TableResult
}

func newReport(runID string, startedAt time.Time) *Report {
	return &Report{RunID: runID, StartedAt: startedAt}
}

func (r *Report) add(result TableResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

// Results returns a copy of the per-table outcomes.
func (r *Report) Results() []TableResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TableResult, len(r.results))
	copy(out, r.results)
	return out
}

// Failed reports whether any table failed; it drives the process exit code.
func (r *Report) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.results {
		if res.Status == checkpoint.StatusFailed {
			return true
		}
	}
	return false
}

// Log emits the run summary: totals, mode split, throughput, and the failed
// tables with their errors.
func (r *Report) Log(log *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var success, failed, full, incremental, records int
	for _, res := range r.results {
		if res.Status == checkpoint.StatusSuccess {
			success++
			records += res.Records
			if res.Mode == schema.ModeFull {
				full++
			} else {
				incremental++
			}
		} else {
			failed++
		}
	}

	duration := r.EndedAt.Sub(r.StartedAt)
	log.Info("sync run complete",
		"run_id", r.RunID,
		"total_tables", len(r.results),
		"success", success,
		"failed", failed,
		"full_syncs", full,
		"incremental_syncs", incremental,
		"total_records", records,
		"duration", duration.Round(time.Millisecond))

	if records > 0 && duration > 0 {
		throughput := float64(records) / duration.Seconds()
		log.Info("sync throughput", "rows_per_second", fmt.Sprintf("%.1f", throughput))
	}

	for _, res := range r.results {
		if res.Status == checkpoint.StatusFailed {
			log.Error("table sync failed", "tenant", res.Tenant, "table", res.Table, "error", res.Error)
		}
	}
}

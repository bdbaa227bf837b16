// Package normalize batch-coerces extracted row values to their destination
// types ahead of the warehouse load.
package normalize

import (
	"fmt"
	"log/slog"

	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/bqtype"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/metrics"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/schema"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/source"
)

type converter struct {
	dst        bqtype.FieldType
	sourceType string
}

// Rows returns a new batch where every column's value matches its destination
// type. System columns pass through unchanged; columns absent from fieldTypes
// are stringified. The returned map counts actually-changed values per column.
func Rows(log *slog.Logger, rows []source.Row, fieldTypes map[string]string) ([]source.Row, map[string]int) {
	if len(rows) == 0 {
		return rows, nil
	}

	log.Debug("normalizing batch", "rows", len(rows))

	// Precompute the per-column converters once for the whole batch.
	converters := make(map[string]converter, len(fieldTypes))
	for field, sourceType := range fieldTypes {
		converters[field] = converter{dst: bqtype.Map(sourceType), sourceType: sourceType}
	}

	stats := make(map[string]int)
	out := make([]source.Row, 0, len(rows))
	for _, row := range rows {
		normalized := make(source.Row, len(row))
		for key, value := range row {
			switch {
			case schema.IsSystemColumn(key):
				normalized[key] = value
			case value == nil:
				normalized[key] = nil
			default:
				conv, ok := converters[key]
				if !ok {
					normalized[key] = fmt.Sprint(value)
					continue
				}
				coerced, fellBack := bqtype.Coerce(value, conv.dst, conv.sourceType)
				if fellBack {
					metrics.CoercionFallbacks.Inc()
					log.Warn("value failed type coercion, keeping string form",
						"column", key, "type", conv.dst, "value", fmt.Sprint(value))
				}
				normalized[key] = coerced
				if fmt.Sprint(value) != fmt.Sprint(coerced) {
					stats[key]++
				}
			}
		}
		out = append(out, normalized)
	}

	for field, count := range stats {
		if count > 0 {
			conv := converters[field]
			log.Debug("column normalized", "column", field, "source_type", conv.sourceType, "dest_type", conv.dst, "changed", count)
		}
	}

	return out, stats
}

// Package bq implements the warehouse client against BigQuery.
package bq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/bqtype"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/source"
)

type Config struct {
	Logger    *slog.Logger
	ProjectID string
	DatasetID string
	// Location is where the dataset is created if absent; immutable once the
	// dataset exists.
	Location string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ProjectID == "" {
		return errors.New("project id is required")
	}
	if cfg.DatasetID == "" {
		return errors.New("dataset id is required")
	}
	return nil
}

type Client struct {
	log *slog.Logger
	cfg Config
	bq  *bigquery.Client
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Location == "" {
		cfg.Location = "US"
	}

	bqClient, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create BigQuery client: %w", err)
	}

	cfg.Logger.Info("bigquery client initialized", "project", cfg.ProjectID, "dataset", cfg.DatasetID)

	return &Client{log: cfg.Logger, cfg: cfg, bq: bqClient}, nil
}

func (c *Client) Close() error {
	return c.bq.Close()
}

func (c *Client) TableID(table string) string {
	return fmt.Sprintf("%s.%s.%s", c.cfg.ProjectID, c.cfg.DatasetID, table)
}

func (c *Client) EnsureDataset(ctx context.Context) error {
	ds := c.bq.Dataset(c.cfg.DatasetID)
	_, err := ds.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to get dataset %s: %w", c.cfg.DatasetID, err)
	}

	if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: c.cfg.Location}); err != nil {
		// Another table task can win the create race.
		if isAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("failed to create dataset %s: %w", c.cfg.DatasetID, err)
	}
	c.log.Info("dataset created", "dataset", c.cfg.DatasetID, "location", c.cfg.Location)
	return nil
}

func (c *Client) TableExists(ctx context.Context, table string) (bool, error) {
	_, err := c.bq.Dataset(c.cfg.DatasetID).Table(table).Metadata(ctx)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to get table %s: %w", table, err)
}

func (c *Client) CreateTable(ctx context.Context, table string, fields []bqtype.Field, partitionField, clusterField string) error {
	meta := &bigquery.TableMetadata{
		Schema: toBQSchema(fields),
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: partitionField,
		},
		Clustering: &bigquery.Clustering{Fields: []string{clusterField}},
	}
	if err := c.bq.Dataset(c.cfg.DatasetID).Table(table).Create(ctx, meta); err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

// LoadRows runs a newline-delimited JSON load job. With truncate the target
// table is created (or replaced) with the given schema; otherwise rows are
// appended.
func (c *Client) LoadRows(ctx context.Context, table string, rows []source.Row, fields []bqtype.Field, truncate bool) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("failed to encode row %d: %w", i, err)
		}
	}

	src := bigquery.NewReaderSource(&buf)
	src.SourceFormat = bigquery.JSON
	src.Schema = toBQSchema(fields)

	loader := c.bq.Dataset(c.cfg.DatasetID).Table(table).LoaderFrom(src)
	if truncate {
		loader.WriteDisposition = bigquery.WriteTruncate
		loader.CreateDisposition = bigquery.CreateIfNeeded
	} else {
		loader.WriteDisposition = bigquery.WriteAppend
	}

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("failed to start load job for %s: %w", table, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for load job for %s: %w", table, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("load job for %s failed: %w", table, err)
	}

	c.log.Debug("load job complete", "table", table, "rows", len(rows), "truncate", truncate)
	return nil
}

func (c *Client) Query(ctx context.Context, sql string) error {
	q := c.bq.Query(sql)
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("failed to start query job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for query job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("query job failed: %w", err)
	}
	return nil
}

func (c *Client) DeleteTable(ctx context.Context, table string) error {
	if err := c.bq.Dataset(c.cfg.DatasetID).Table(table).Delete(ctx); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete table %s: %w", table, err)
	}
	return nil
}

func toBQSchema(fields []bqtype.Field) bigquery.Schema {
	out := make(bigquery.Schema, 0, len(fields))
	for _, f := range fields {
		out = append(out, &bigquery.FieldSchema{
			Name: f.Name,
			Type: toBQFieldType(f.Type),
		})
	}
	return out
}

func toBQFieldType(t bqtype.FieldType) bigquery.FieldType {
	switch t {
	case bqtype.TypeInt64:
		return bigquery.IntegerFieldType
	case bqtype.TypeNumeric:
		return bigquery.NumericFieldType
	case bqtype.TypeFloat64:
		return bigquery.FloatFieldType
	case bqtype.TypeDate:
		return bigquery.DateFieldType
	case bqtype.TypeTimestamp:
		return bigquery.TimestampFieldType
	case bqtype.TypeBytes:
		return bigquery.BytesFieldType
	case bqtype.TypeBoolean:
		return bigquery.BooleanFieldType
	default:
		return bigquery.StringFieldType
	}
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 409
}

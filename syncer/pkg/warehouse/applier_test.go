package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/bqtype"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/schema"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/source"
	"github.com/Learntotolearn/gcp-dataflow/utils/pkg/retry"
	synctesting "github.com/Learntotolearn/gcp-dataflow/utils/pkg/testing"
)

type loadCall struct {
	table    string
	rows     []source.Row
	truncate bool
}

type createCall struct {
	table          string
	partitionField string
	clusterField   string
}

type fakeClient struct {
	datasetEnsured bool
	tables         map[string]bool

	loads   []loadCall
	creates []createCall
	queries []string
	deletes []string

	loadErr  error
	queryErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{tables: make(map[string]bool)}
}

func (f *fakeClient) EnsureDataset(ctx context.Context) error {
	f.datasetEnsured = true
	return nil
}

func (f *fakeClient) TableExists(ctx context.Context, table string) (bool, error) {
	return f.tables[table], nil
}

func (f *fakeClient) CreateTable(ctx context.Context, table string, fields []bqtype.Field, partitionField, clusterField string) error {
	f.tables[table] = true
	f.creates = append(f.creates, createCall{table: table, partitionField: partitionField, clusterField: clusterField})
	return nil
}

func (f *fakeClient) LoadRows(ctx context.Context, table string, rows []source.Row, fields []bqtype.Field, truncate bool) error {
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loads = append(f.loads, loadCall{table: table, rows: rows, truncate: truncate})
	return nil
}

func (f *fakeClient) Query(ctx context.Context, sql string) error {
	if f.queryErr != nil {
		return f.queryErr
	}
	f.queries = append(f.queries, sql)
	return nil
}

func (f *fakeClient) DeleteTable(ctx context.Context, table string) error {
	f.deletes = append(f.deletes, table)
	return nil
}

func (f *fakeClient) TableID(table string) string {
	return "proj.ds." + table
}

var ordersSchema = []bqtype.Field{
	{Name: "id", Type: bqtype.TypeInt64},
	{Name: "price", Type: bqtype.TypeNumeric},
	{Name: schema.ColTenantID, Type: bqtype.TypeString},
	{Name: schema.ColSyncTimestamp, Type: bqtype.TypeTimestamp},
	{Name: schema.ColSyncMode, Type: bqtype.TypeString},
}

func newApplier(t *testing.T, client Client, clock clockwork.Clock) *Applier {
	t.Helper()
	a, err := New(Config{
		Logger: synctesting.NewLogger(),
		Client: client,
		Clock:  clock,
		Retry:  retry.Config{MaxAttempts: 2, Delay: time.Millisecond},
	})
	require.NoError(t, err)
	return a
}

func tenantRows(tenant string, n int) []source.Row {
	rows := make([]source.Row, 0, n)
	for i := range n {
		rows = append(rows, source.Row{
			"id":                    int64(i + 1),
			"price":                 1.5,
			schema.ColTenantID:      tenant,
			schema.ColSyncMode:      "FULL",
			schema.ColSyncTimestamp: "2024-03-01T12:00:00Z",
		})
	}
	return rows
}

func TestSync_Warehouse_EnsureTable(t *testing.T) {
	t.Parallel()

	t.Run("creates missing table with partitioning and clustering", func(t *testing.T) {
		t.Parallel()

		client := newFakeClient()
		a := newApplier(t, client, clockwork.NewFakeClock())
		require.NoError(t, a.EnsureTable(context.Background(), "orders", ordersSchema))

		require.True(t, client.datasetEnsured)
		require.Len(t, client.creates, 1)
		require.Equal(t, "orders", client.creates[0].table)
		require.Equal(t, schema.ColSyncTimestamp, client.creates[0].partitionField)
		require.Equal(t, schema.ColTenantID, client.creates[0].clusterField)
	})

	t.Run("leaves existing table untouched", func(t *testing.T) {
		t.Parallel()

		client := newFakeClient()
		client.tables["orders"] = true
		a := newApplier(t, client, clockwork.NewFakeClock())
		require.NoError(t, a.EnsureTable(context.Background(), "orders", ordersSchema))
		require.Empty(t, client.creates)
	})
}

func TestSync_Warehouse_WriteFull(t *testing.T) {
	t.Parallel()

	t.Run("deletes the tenant then appends", func(t *testing.T) {
		t.Parallel()

		client := newFakeClient()
		a := newApplier(t, client, clockwork.NewFakeClock())
		rows := tenantRows("t1", 3)
		require.NoError(t, a.Write(context.Background(), "orders", rows, ordersSchema, []string{"id"}, schema.ModeFull))

		require.Len(t, client.queries, 1)
		require.Equal(t, "DELETE FROM `proj.ds.orders` WHERE tenant_id = 't1'", client.queries[0])

		require.Len(t, client.loads, 1)
		require.Equal(t, "orders", client.loads[0].table)
		require.False(t, client.loads[0].truncate)
		require.Len(t, client.loads[0].rows, 3)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		t.Parallel()

		client := newFakeClient()
		a := newApplier(t, client, clockwork.NewFakeClock())
		require.NoError(t, a.Write(context.Background(), "orders", nil, ordersSchema, nil, schema.ModeFull))
		require.Empty(t, client.queries)
		require.Empty(t, client.loads)
	})

	t.Run("missing tenant column is an error", func(t *testing.T) {
		t.Parallel()

		client := newFakeClient()
		a := newApplier(t, client, clockwork.NewFakeClock())
		err := a.Write(context.Background(), "orders", []source.Row{{"id": int64(1)}}, ordersSchema, nil, schema.ModeFull)
		require.Error(t, err)
		require.Contains(t, err.Error(), "tenant_id")
	})
}

func TestSync_Warehouse_WriteIncrementalMerge(t *testing.T) {
	t.Parallel()

	t.Run("loads staging, merges, then deletes staging", func(t *testing.T) {
		t.Parallel()

		clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
		client := newFakeClient()
		a := newApplier(t, client, clock)
		rows := tenantRows("t1", 2)
		require.NoError(t, a.Write(context.Background(), "orders", rows, ordersSchema, []string{"id"}, schema.ModeIncremental))

		staging := fmt.Sprintf("orders_temp_%d", clock.Now().UnixMilli())
		require.Len(t, client.loads, 1)
		require.Equal(t, staging, client.loads[0].table)
		require.True(t, client.loads[0].truncate)

		require.Len(t, client.queries, 1)
		merge := client.queries[0]
		require.Contains(t, merge, "MERGE `proj.ds.orders` T")
		require.Contains(t, merge, "USING `proj.ds."+staging+"` S")
		require.Contains(t, merge, "ON T.id = S.id AND T.tenant_id = S.tenant_id")
		require.Contains(t, merge, "price = S.price")
		require.NotContains(t, merge, "id = S.id,")
		require.Contains(t, merge, "INSERT (id, price, tenant_id, sync_timestamp, sync_mode)")
		require.Contains(t, merge, "VALUES (S.id, S.price, S.tenant_id, S.sync_timestamp, S.sync_mode)")

		require.Equal(t, []string{staging}, client.deletes)
	})

	t.Run("updates exclude every primary key column", func(t *testing.T) {
		t.Parallel()

		client := newFakeClient()
		a := newApplier(t, client, clockwork.NewFakeClock())
		rows := tenantRows("t1", 1)
		require.NoError(t, a.Write(context.Background(), "orders", rows, ordersSchema, []string{"id", "price"}, schema.ModeIncremental))

		merge := client.queries[0]
		require.Contains(t, merge, "ON T.id = S.id AND T.price = S.price AND T.tenant_id = S.tenant_id")
		updateClause := merge[strings.Index(merge, "UPDATE SET"):strings.Index(merge, "WHEN NOT MATCHED")]
		require.NotContains(t, updateClause, "id = S.id")
		require.NotContains(t, updateClause, "price = S.price")
		require.Contains(t, updateClause, "sync_mode = S.sync_mode")
	})

	t.Run("staging table is deleted even when the merge fails", func(t *testing.T) {
		t.Parallel()

		client := newFakeClient()
		client.queryErr = errors.New("merge exploded")
		a := newApplier(t, client, clockwork.NewFakeClock())
		err := a.Write(context.Background(), "orders", tenantRows("t1", 1), ordersSchema, []string{"id"}, schema.ModeIncremental)
		require.Error(t, err)
		require.Len(t, client.deletes, 1)
	})
}

func TestSync_Warehouse_WriteIncrementalAppend(t *testing.T) {
	t.Parallel()

	t.Run("no primary key appends without merge", func(t *testing.T) {
		t.Parallel()

		client := newFakeClient()
		a := newApplier(t, client, clockwork.NewFakeClock())
		rows := tenantRows("t1", 4)
		require.NoError(t, a.Write(context.Background(), "events", rows, ordersSchema, nil, schema.ModeIncremental))

		require.Empty(t, client.queries)
		require.Empty(t, client.deletes)
		require.Len(t, client.loads, 1)
		require.Equal(t, "events", client.loads[0].table)
		require.False(t, client.loads[0].truncate)
		require.Len(t, client.loads[0].rows, 4)
	})
}

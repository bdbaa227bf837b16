// Package source wraps the MySQL connection pool shared by the analyzer and
// the extractor. Every tenant is a schema on the same server; each operation
// takes a dedicated connection, switches the default schema, and releases the
// connection when done.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Row is one source row keyed by column name.
type Row map[string]any

// Column is one source column with its raw MySQL type string, e.g.
// ("price", "decimal(10,2)").
type Column struct {
	Name string
	Type string
}

// Client is the source-database surface the sync engine depends on.
type Client interface {
	// Columns returns the table's columns in ordinal order.
	Columns(ctx context.Context, tenant, table string) ([]Column, error)
	// PrimaryKeys returns the table's primary-key columns ordered by key
	// position. Empty when the table has no primary key.
	PrimaryKeys(ctx context.Context, tenant, table string) ([]string, error)
	// Select runs a query against the tenant's schema and returns all rows.
	Select(ctx context.Context, tenant, query string, args ...any) ([]Row, error)
	Close() error
}

type PoolConfig struct {
	Logger   *slog.Logger
	Host     string
	Port     int
	User     string
	Password string
	PoolSize int
}

func (cfg *PoolConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Host == "" {
		return errors.New("host is required")
	}
	if cfg.User == "" {
		return errors.New("user is required")
	}
	if cfg.PoolSize <= 0 {
		return errors.New("pool size must be positive")
	}
	return nil
}

type Pool struct {
	log *slog.Logger
	db  *sql.DB
}

// NewPool opens a MySQL connection pool without a default schema; callers
// pick the tenant schema per operation.
func NewPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mycfg := mysql.NewConfig()
	mycfg.Net = "tcp"
	mycfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mycfg.User = cfg.User
	mycfg.Passwd = cfg.Password
	mycfg.ParseTime = true
	mycfg.Loc = time.Local

	db, err := sql.Open("mysql", mycfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL pool: %w", err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	cfg.Logger.Info("mysql pool initialized", "addr", mycfg.Addr, "pool_size", cfg.PoolSize)

	return &Pool{log: cfg.Logger, db: db}, nil
}

func (p *Pool) Close() error {
	return p.db.Close()
}

// conn takes a dedicated connection and switches its default schema to the
// tenant. The caller must close the returned connection.
func (p *Pool) conn(ctx context.Context, tenant string) (*sql.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("USE `%s`", tenant)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to switch schema to %s: %w", tenant, err)
	}
	return conn, nil
}

func (p *Pool) Columns(ctx context.Context, tenant, table string) ([]Column, error) {
	conn, err := p.conn(ctx, tenant)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT COLUMN_NAME, COLUMN_TYPE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, tenant, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns of %s.%s: %w", tenant, table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s.%s: %w", tenant, table, err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns of %s.%s: %w", tenant, table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s.%s has no columns", tenant, table)
	}
	return cols, nil
}

func (p *Pool) PrimaryKeys(ctx context.Context, tenant, table string) ([]string, error) {
	conn, err := p.conn(ctx, tenant)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION`, tenant, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query primary keys of %s.%s: %w", tenant, table, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan primary key of %s.%s: %w", tenant, table, err)
		}
		keys = append(keys, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read primary keys of %s.%s: %w", tenant, table, err)
	}
	return keys, nil
}

func (p *Pool) Select(ctx context.Context, tenant, query string, args ...any) ([]Row, error) {
	conn, err := p.conn(ctx, tenant)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", tenant, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	var out []Row
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			switch v := values[i].(type) {
			case []byte:
				// The driver hands back []byte for text and numeric
				// columns; carry them as strings and let the normalizer
				// re-type them.
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return out, nil
}

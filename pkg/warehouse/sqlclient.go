package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ruslano69/whbridge/pkg/schema"
)

// SQLClient implements Client on top of database/sql and a Dialect.
type SQLClient struct {
	db      *sql.DB
	dialect Dialect
}

var _ Client = (*SQLClient)(nil)

// NewSQLClient wraps an open pool.
func NewSQLClient(db *sql.DB, d Dialect) *SQLClient {
	return &SQLClient{db: db, dialect: d}
}

func (c *SQLClient) Dialect() Dialect { return c.dialect }

// DB exposes the pool for tests and fixtures.
func (c *SQLClient) DB() *sql.DB { return c.db }

func (c *SQLClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *SQLClient) Close() error {
	return c.db.Close()
}

func (c *SQLClient) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, c.dialect.ListTablesQuery())
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list tables: scan: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

func (c *SQLClient) DescribeTable(ctx context.Context, table string) ([]schema.ColumnSchema, error) {
	query, args := c.dialect.DescribeQuery(table)
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols []schema.ColumnSchema
	for rows.Next() {
		var name, native string
		if err := rows.Scan(&name, &native); err != nil {
			return nil, fmt.Errorf("describe %s: scan: %w", table, err)
		}
		typ, nullable := c.dialect.ParseType(native)
		cols = append(cols, schema.ColumnSchema{
			Name:       name,
			Type:       typ,
			Nullable:   nullable,
			NativeType: native,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("describe %s: %w", table, ErrTableNotFound)
	}
	return cols, nil
}

func (c *SQLClient) TableExists(ctx context.Context, table string) (bool, error) {
	tables, err := c.ListTables(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tables {
		if t == table {
			return true, nil
		}
	}
	return false, nil
}

func (c *SQLClient) Query(ctx context.Context, q SelectQuery) (Cursor, error) {
	query, err := BuildSelect(c.dialect, q)
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.From, err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("query %s: columns: %w", q.From, err)
	}
	return newRowsCursor(rows, cols), nil
}

func (c *SQLClient) Count(ctx context.Context, q SelectQuery) (int64, error) {
	query, err := BuildCount(c.dialect, q)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := c.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", q.From, err)
	}
	return n, nil
}

func (c *SQLClient) CreateTable(ctx context.Context, table string, cols []schema.ColumnSchema) error {
	stmt, err := BuildCreateTable(c.dialect, table, cols)
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// InsertBatch writes rows inside one transaction through a prepared
// statement. For ClickHouse the transaction is one insert block.
func (c *SQLClient) InsertBatch(ctx context.Context, table string, cols []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert %s: begin: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, c.dialect.InsertStatement(table, cols))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert %s: prepare: %w", table, err)
	}
	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("insert %s: row %d: %w", table, i, err)
		}
	}
	if err := stmt.Close(); err != nil {
		tx.Rollback()
		return fmt.Errorf("insert %s: close statement: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert %s: commit: %w", table, err)
	}
	return nil
}

type rowsCursor struct {
	rows *sql.Rows
	cols []string
	vals []any
	ptrs []any
}

func newRowsCursor(rows *sql.Rows, cols []string) *rowsCursor {
	c := &rowsCursor{
		rows: rows,
		cols: cols,
		vals: make([]any, len(cols)),
		ptrs: make([]any, len(cols)),
	}
	for i := range c.vals {
		c.ptrs[i] = &c.vals[i]
	}
	return c
}

func (c *rowsCursor) Columns() []string { return c.cols }
func (c *rowsCursor) Next() bool        { return c.rows.Next() }
func (c *rowsCursor) Err() error        { return c.rows.Err() }
func (c *rowsCursor) Close() error      { return c.rows.Close() }

func (c *rowsCursor) Values() ([]any, error) {
	if err := c.rows.Scan(c.ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	return c.vals, nil
}

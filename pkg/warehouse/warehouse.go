// Package warehouse is the engine's view of an analytical database: a small
// client contract, a dialect abstraction and a registry that opens clients
// by driver name.
//
// Dialects register themselves from init(), in the same way database/sql
// drivers do:
//
//	import _ "github.com/ruslano69/whbridge/pkg/warehouse/clickhouse"
//
//	client, err := warehouse.Open(ctx, warehouse.Config{Driver: "clickhouse", Host: "localhost", Port: 8123})
package warehouse

import (
	"context"
	"errors"
	"time"

	"github.com/ruslano69/whbridge/pkg/schema"
)

// ErrTableNotFound is returned by DescribeTable for unknown tables.
var ErrTableNotFound = errors.New("table not found")

// Config holds everything a dialect needs to open a connection pool.
type Config struct {
	Driver       string
	Host         string
	Port         int
	Database     string
	Username     string
	Password     string
	Token        string // bearer token; mutually exclusive with Password
	Secure       bool
	DialTimeout  time.Duration
	MaxOpenConns int
}

// JoinKind is the SQL spelling of a join.
type JoinKind string

const (
	JoinInner JoinKind = "INNER JOIN"
	JoinLeft  JoinKind = "LEFT JOIN"
	JoinRight JoinKind = "RIGHT JOIN"
	JoinFull  JoinKind = "FULL OUTER JOIN"
)

// ColumnRef is one projected column. Alias is the output name.
type ColumnRef struct {
	Table string
	Name  string
	Alias string
}

// KeyPair is one equality condition of a join.
type KeyPair struct {
	Left  string
	Right string
}

// Join attaches a second table to a SelectQuery.
type Join struct {
	Table string
	Kind  JoinKind
	On    []KeyPair
}

// SelectQuery is the only query shape the engine issues: a projection over
// one table with at most one join. Limit <= 0 means unbounded.
type SelectQuery struct {
	From    string
	Columns []ColumnRef
	Join    *Join
	Limit   int
}

// Client is a connected warehouse.
type Client interface {
	Dialect() Dialect
	Ping(ctx context.Context) error
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) ([]schema.ColumnSchema, error)
	Query(ctx context.Context, q SelectQuery) (Cursor, error)
	Count(ctx context.Context, q SelectQuery) (int64, error)
	TableExists(ctx context.Context, table string) (bool, error)
	CreateTable(ctx context.Context, table string, cols []schema.ColumnSchema) error
	InsertBatch(ctx context.Context, table string, cols []string, rows [][]any) error
	Close() error
}

// Cursor streams query results one row at a time.
type Cursor interface {
	Columns() []string
	Next() bool
	// Values returns the current row. The slice is reused between calls.
	Values() ([]any, error)
	Err() error
	Close() error
}

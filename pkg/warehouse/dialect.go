package warehouse

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ruslano69/whbridge/pkg/schema"
)

// Dialect hides the SQL differences between warehouses.
type Dialect interface {
	// Name is the driver name used in Config.Driver.
	Name() string
	// Embedded dialects are file based and take no host or port.
	Embedded() bool
	Open(cfg Config) (*sql.DB, error)
	QuoteIdentifier(name string) string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	// Limit bounds a complete SELECT statement to n rows.
	Limit(query string, n int) string
	ListTablesQuery() string
	// DescribeQuery returns a query yielding (name, type) rows in column order.
	DescribeQuery(table string) (string, []any)
	// ParseType maps a native column type to a logical type and nullability.
	ParseType(native string) (schema.LogicalType, bool)
	ColumnType(col schema.ColumnSchema) string
	CreateTableSuffix() string
	InsertStatement(table string, cols []string) string
	SupportsJoin(kind JoinKind) bool
}

// StandardDialect implements the parts most SQL databases agree on.
// Concrete dialects embed it and override what differs.
type StandardDialect struct{}

func (StandardDialect) Embedded() bool { return false }

func (StandardDialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (StandardDialect) Placeholder(int) string { return "?" }

func (StandardDialect) Limit(query string, n int) string {
	return fmt.Sprintf("%s LIMIT %d", query, n)
}

func (StandardDialect) CreateTableSuffix() string { return "" }

func (StandardDialect) SupportsJoin(JoinKind) bool { return true }

// BuildInsert renders INSERT ... VALUES with one placeholder per column.
func BuildInsert(d Dialect, table string, cols []string) string {
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.QuoteIdentifier(c)
		marks[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
}

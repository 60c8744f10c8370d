// Package sqlite registers the SQLite dialect (modernc.org/sqlite, pure Go).
// It is file based: Config.Database is the file path.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ruslano69/whbridge/pkg/schema"
	"github.com/ruslano69/whbridge/pkg/warehouse"
)

const driverSqlite = "sqlite"

var _ warehouse.Dialect = Dialect{}

func init() {
	warehouse.Register(Dialect{}, "sqlite3")
}

// Dialect implements warehouse.Dialect for SQLite.
type Dialect struct {
	warehouse.StandardDialect
}

func (Dialect) Name() string   { return driverSqlite }
func (Dialect) Embedded() bool { return true }

func (Dialect) Open(cfg warehouse.Config) (*sql.DB, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("sqlite: database file path is required")
	}
	dsn := cfg.Database
	if !strings.Contains(dsn, "?") {
		// WAL lets the preview read while an import writes.
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	return sql.Open(driverSqlite, dsn)
}

func (Dialect) ListTablesQuery() string {
	return "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
}

func (Dialect) DescribeQuery(table string) (string, []any) {
	return "SELECT name, type FROM pragma_table_info(?) ORDER BY cid", []any{table}
}

func (d Dialect) InsertStatement(table string, cols []string) string {
	return warehouse.BuildInsert(d, table, cols)
}

// ParseType follows SQLite type affinity rules, with the common date and
// boolean spellings recognized by name. SQLite columns are always nullable.
func (Dialect) ParseType(native string) (schema.LogicalType, bool) {
	t := strings.ToUpper(strings.TrimSpace(native))
	switch {
	case t == "DATE":
		return schema.Date, true
	case t == "DATETIME" || strings.HasPrefix(t, "TIMESTAMP"):
		return schema.DateTime, true
	case t == "BOOLEAN" || t == "BOOL":
		return schema.Boolean, true
	case t == "UUID":
		return schema.UUID, true
	case strings.Contains(t, "INT"):
		return schema.Int64, true
	case strings.Contains(t, "REAL") || strings.Contains(t, "FLOA") || strings.Contains(t, "DOUB") ||
		strings.HasPrefix(t, "NUMERIC") || strings.HasPrefix(t, "DECIMAL"):
		return schema.Float64, true
	}
	return schema.String, true
}

func (Dialect) ColumnType(col schema.ColumnSchema) string {
	switch col.Type.Tag {
	case schema.TagInteger:
		return "INTEGER"
	case schema.TagFloat:
		return "REAL"
	case schema.TagDate:
		return "DATE"
	case schema.TagDateTime:
		return "DATETIME"
	case schema.TagBoolean:
		return "BOOLEAN"
	case schema.TagUUID:
		return "UUID"
	case schema.TagString:
		return "TEXT"
	}
	return "TEXT"
}

// Package postgres registers the PostgreSQL dialect through pgx's database/sql driver.
package postgres

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ruslano69/whbridge/pkg/schema"
	"github.com/ruslano69/whbridge/pkg/warehouse"
)

const driverPgx = "pgx"

var _ warehouse.Dialect = Dialect{}

func init() {
	warehouse.Register(Dialect{}, "postgresql")
}

// Dialect implements warehouse.Dialect for PostgreSQL.
type Dialect struct {
	warehouse.StandardDialect
}

func (Dialect) Name() string { return "postgres" }

// DSN builds a postgres:// URL from cfg.
func DSN(cfg warehouse.Config) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	} else if cfg.Username != "" {
		u.User = url.User(cfg.Username)
	}
	q := url.Values{}
	if cfg.Secure {
		q.Set("sslmode", "require")
	} else {
		q.Set("sslmode", "disable")
	}
	if cfg.DialTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(cfg.DialTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (Dialect) Open(cfg warehouse.Config) (*sql.DB, error) {
	if cfg.Token != "" {
		return nil, fmt.Errorf("postgres: token authentication is not supported")
	}
	return sql.Open(driverPgx, DSN(cfg))
}

func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Dialect) ListTablesQuery() string {
	return `SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' ORDER BY table_name`
}

func (Dialect) DescribeQuery(table string) (string, []any) {
	return `SELECT column_name, data_type || CASE WHEN is_nullable = 'YES' THEN ' NULL' ELSE '' END
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position`, []any{table}
}

func (d Dialect) InsertStatement(table string, cols []string) string {
	return warehouse.BuildInsert(d, table, cols)
}

func (Dialect) ParseType(native string) (schema.LogicalType, bool) {
	t := strings.ToLower(strings.TrimSpace(native))
	nullable := false
	if base, ok := strings.CutSuffix(t, " null"); ok {
		t, nullable = base, true
	}
	switch {
	case t == "smallint":
		return schema.Integer(16, true), nullable
	case t == "integer":
		return schema.Integer(32, true), nullable
	case t == "bigint":
		return schema.Int64, nullable
	case t == "real":
		return schema.Float(32), nullable
	case t == "double precision" || t == "numeric":
		return schema.Float64, nullable
	case t == "date":
		return schema.Date, nullable
	case strings.HasPrefix(t, "timestamp"):
		return schema.DateTime, nullable
	case t == "boolean":
		return schema.Boolean, nullable
	case t == "uuid":
		return schema.UUID, nullable
	}
	return schema.String, nullable
}

func (Dialect) ColumnType(col schema.ColumnSchema) string {
	var native string
	switch col.Type.Tag {
	case schema.TagInteger:
		switch {
		case col.Type.Bits <= 16 && col.Type.Signed:
			native = "SMALLINT"
		case col.Type.Bits <= 32 && (col.Type.Signed || col.Type.Bits <= 16):
			native = "INTEGER"
		default:
			native = "BIGINT"
		}
	case schema.TagFloat:
		if col.Type.Bits == 32 {
			native = "REAL"
		} else {
			native = "DOUBLE PRECISION"
		}
	case schema.TagDate:
		native = "DATE"
	case schema.TagDateTime:
		native = "TIMESTAMPTZ"
	case schema.TagBoolean:
		native = "BOOLEAN"
	case schema.TagUUID:
		native = "UUID"
	case schema.TagString:
		native = "TEXT"
	default:
		native = "TEXT"
	}
	if !col.Nullable {
		native += " NOT NULL"
	}
	return native
}

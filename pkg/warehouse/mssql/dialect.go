// Package mssql registers the SQL Server dialect (denisenkom/go-mssqldb).
package mssql

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/denisenkom/go-mssqldb"

	"github.com/ruslano69/whbridge/pkg/schema"
	"github.com/ruslano69/whbridge/pkg/warehouse"
)

const driverMssql = "sqlserver"

var _ warehouse.Dialect = Dialect{}

func init() {
	warehouse.Register(Dialect{}, "sqlserver")
}

// Dialect implements warehouse.Dialect for Microsoft SQL Server.
type Dialect struct {
	warehouse.StandardDialect
}

func (Dialect) Name() string { return "mssql" }

// DSN builds a sqlserver:// URL from cfg.
func DSN(cfg warehouse.Config) string {
	u := url.URL{
		Scheme: "sqlserver",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	q := url.Values{}
	q.Set("database", cfg.Database)
	if cfg.Secure {
		q.Set("encrypt", "true")
	} else {
		q.Set("encrypt", "disable")
	}
	if cfg.DialTimeout > 0 {
		q.Set("dial timeout", strconv.Itoa(int(cfg.DialTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (Dialect) Open(cfg warehouse.Config) (*sql.DB, error) {
	if cfg.Token != "" {
		return nil, fmt.Errorf("mssql: token authentication is not supported")
	}
	return sql.Open(driverMssql, DSN(cfg))
}

func (Dialect) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (Dialect) Placeholder(n int) string { return "@p" + strconv.Itoa(n) }

// Limit injects TOP after SELECT; SQL Server has no LIMIT clause.
func (Dialect) Limit(query string, n int) string {
	if rest, ok := strings.CutPrefix(query, "SELECT "); ok {
		return fmt.Sprintf("SELECT TOP %d %s", n, rest)
	}
	return query
}

func (Dialect) ListTablesQuery() string {
	return "SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = SCHEMA_NAME() ORDER BY TABLE_NAME"
}

func (Dialect) DescribeQuery(table string) (string, []any) {
	return `SELECT COLUMN_NAME, DATA_TYPE + CASE WHEN IS_NULLABLE = 'YES' THEN ' null' ELSE '' END
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = SCHEMA_NAME() AND TABLE_NAME = @p1 ORDER BY ORDINAL_POSITION`, []any{table}
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
	switch t {
	case "tinyint":
		return schema.Integer(8, false), nullable
	case "smallint":
		return schema.Integer(16, true), nullable
	case "int":
		return schema.Integer(32, true), nullable
	case "bigint":
		return schema.Int64, nullable
	case "real":
		return schema.Float(32), nullable
	case "float", "decimal", "numeric", "money", "smallmoney":
		return schema.Float64, nullable
	case "date":
		return schema.Date, nullable
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset":
		return schema.DateTime, nullable
	case "bit":
		return schema.Boolean, nullable
	case "uniqueidentifier":
		return schema.UUID, nullable
	}
	return schema.String, nullable
}

func (Dialect) ColumnType(col schema.ColumnSchema) string {
	var native string
	switch col.Type.Tag {
	case schema.TagInteger:
		switch {
		case col.Type.Bits == 8 && !col.Type.Signed:
			native = "TINYINT"
		case col.Type.Bits <= 16 && col.Type.Signed:
			native = "SMALLINT"
		case col.Type.Bits <= 32 && (col.Type.Signed || col.Type.Bits <= 16):
			native = "INT"
		default:
			native = "BIGINT"
		}
	case schema.TagFloat:
		if col.Type.Bits == 32 {
			native = "REAL"
		} else {
			native = "FLOAT"
		}
	case schema.TagDate:
		native = "DATE"
	case schema.TagDateTime:
		native = "DATETIME2"
	case schema.TagBoolean:
		native = "BIT"
	case schema.TagUUID:
		native = "UNIQUEIDENTIFIER"
	case schema.TagString:
		native = "NVARCHAR(MAX)"
	default:
		native = "NVARCHAR(MAX)"
	}
	if col.Nullable {
		return native + " NULL"
	}
	return native + " NOT NULL"
}

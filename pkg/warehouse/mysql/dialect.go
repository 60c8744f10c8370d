// Package mysql registers the MySQL dialect (go-sql-driver/mysql).
package mysql

import (
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/ruslano69/whbridge/pkg/schema"
	"github.com/ruslano69/whbridge/pkg/warehouse"
)

const driverMysql = "mysql"

var _ warehouse.Dialect = Dialect{}

func init() {
	warehouse.Register(Dialect{}, "mariadb")
}

// Dialect implements warehouse.Dialect for MySQL and MariaDB.
type Dialect struct {
	warehouse.StandardDialect
}

func (Dialect) Name() string { return driverMysql }

// DSN formats cfg with the driver's own Config so credentials are escaped.
func DSN(cfg warehouse.Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Database
	mc.ParseTime = true
	if cfg.DialTimeout > 0 {
		mc.Timeout = cfg.DialTimeout
	}
	if cfg.Secure {
		mc.TLSConfig = "true"
	}
	return mc.FormatDSN()
}

func (Dialect) Open(cfg warehouse.Config) (*sql.DB, error) {
	if cfg.Token != "" {
		return nil, fmt.Errorf("mysql: token authentication is not supported")
	}
	return sql.Open(driverMysql, DSN(cfg))
}

func (Dialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (Dialect) ListTablesQuery() string {
	return "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE' ORDER BY table_name"
}

func (Dialect) DescribeQuery(table string) (string, []any) {
	return `SELECT column_name, CONCAT(column_type, IF(is_nullable = 'YES', ' null', ''))
FROM information_schema.columns
WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position`, []any{table}
}

func (d Dialect) InsertStatement(table string, cols []string) string {
	return warehouse.BuildInsert(d, table, cols)
}

// SupportsJoin: MySQL has no FULL OUTER JOIN.
func (Dialect) SupportsJoin(kind warehouse.JoinKind) bool {
	return kind != warehouse.JoinFull
}

func (Dialect) ParseType(native string) (schema.LogicalType, bool) {
	t := strings.ToLower(strings.TrimSpace(native))
	nullable := false
	if base, ok := strings.CutSuffix(t, " null"); ok {
		t, nullable = base, true
	}
	unsigned := strings.Contains(t, "unsigned")
	base := t
	if i := strings.IndexAny(base, "( "); i >= 0 {
		base = base[:i]
	}
	switch base {
	case "tinyint":
		if strings.HasPrefix(t, "tinyint(1)") {
			return schema.Boolean, nullable
		}
		return schema.Integer(8, !unsigned), nullable
	case "smallint":
		return schema.Integer(16, !unsigned), nullable
	case "mediumint", "int", "integer":
		return schema.Integer(32, !unsigned), nullable
	case "bigint":
		return schema.Integer(64, !unsigned), nullable
	case "float":
		return schema.Float(32), nullable
	case "double", "decimal", "numeric":
		return schema.Float64, nullable
	case "date":
		return schema.Date, nullable
	case "datetime", "timestamp":
		return schema.DateTime, nullable
	case "bool", "boolean":
		return schema.Boolean, nullable
	}
	return schema.String, nullable
}

func (Dialect) ColumnType(col schema.ColumnSchema) string {
	var native string
	switch col.Type.Tag {
	case schema.TagInteger:
		switch col.Type.Bits {
		case 8:
			native = "TINYINT"
		case 16:
			native = "SMALLINT"
		case 32:
			native = "INT"
		default:
			native = "BIGINT"
		}
		if !col.Type.Signed {
			native += " UNSIGNED"
		}
	case schema.TagFloat:
		if col.Type.Bits == 32 {
			native = "FLOAT"
		} else {
			native = "DOUBLE"
		}
	case schema.TagDate:
		native = "DATE"
	case schema.TagDateTime:
		native = "DATETIME(6)"
	case schema.TagBoolean:
		native = "BOOLEAN"
	case schema.TagUUID:
		native = "CHAR(36)"
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

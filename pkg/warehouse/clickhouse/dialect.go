// Package clickhouse registers the ClickHouse dialect (clickhouse-go/v2).
//
// Ports 8123 and 8443 select the HTTP protocol, anything else the native
// protocol. Bearer-token authentication is only available over HTTP, so a
// token forces HTTP regardless of the port.
package clickhouse

import (
	"crypto/tls"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/ruslano69/whbridge/pkg/schema"
	"github.com/ruslano69/whbridge/pkg/warehouse"
)

const driverClickHouse = "clickhouse"

var _ warehouse.Dialect = Dialect{}

func init() {
	warehouse.Register(Dialect{}, "ch")
}

// Dialect implements warehouse.Dialect for ClickHouse.
type Dialect struct {
	warehouse.StandardDialect
}

func (Dialect) Name() string { return driverClickHouse }

// Options translates cfg into clickhouse-go options.
func Options(cfg warehouse.Config) *clickhouse.Options {
	user := cfg.Username
	if user == "" {
		user = "default"
	}
	opts := &clickhouse.Options{
		Addr: []string{net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: user,
			Password: cfg.Password,
		},
		Protocol:    clickhouse.Native,
		DialTimeout: cfg.DialTimeout,
		Settings: clickhouse.Settings{
			// Outer joins yield NULL instead of type defaults for missing rows.
			"join_use_nulls": 1,
		},
	}
	if cfg.Port == 8123 || cfg.Port == 8443 || cfg.Token != "" {
		opts.Protocol = clickhouse.HTTP
	}
	if cfg.Token != "" {
		opts.Auth.Password = ""
		opts.HttpHeaders = map[string]string{"Authorization": "Bearer " + cfg.Token}
	}
	if cfg.Secure {
		opts.TLS = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}
	if cfg.MaxOpenConns > 0 {
		opts.MaxOpenConns = cfg.MaxOpenConns
	}
	return opts
}

func (Dialect) Open(cfg warehouse.Config) (*sql.DB, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, fmt.Errorf("clickhouse: host and port are required")
	}
	return clickhouse.OpenDB(Options(cfg)), nil
}

func (Dialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}

func (Dialect) ListTablesQuery() string {
	return "SELECT name FROM system.tables WHERE database = currentDatabase() AND NOT startsWith(name, '.inner') ORDER BY name"
}

func (Dialect) DescribeQuery(table string) (string, []any) {
	return "SELECT name, type FROM system.columns WHERE database = currentDatabase() AND table = ? ORDER BY position", []any{table}
}

func (Dialect) CreateTableSuffix() string {
	return "ENGINE = MergeTree() ORDER BY tuple()"
}

// InsertStatement omits VALUES: clickhouse-go turns a prepared INSERT into a
// block insert and binds rows through Exec.
func (d Dialect) InsertStatement(table string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.QuoteIdentifier(c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s)", d.QuoteIdentifier(table), strings.Join(quoted, ", "))
}

// ParseType maps ClickHouse type names, unwrapping Nullable and LowCardinality.
// Types without a logical counterpart (Array, Map, Tuple, Int128, ...) are strings.
func (Dialect) ParseType(native string) (schema.LogicalType, bool) {
	t := strings.TrimSpace(native)
	nullable := false
	for {
		if inner, ok := unwrap(t, "Nullable"); ok {
			t, nullable = inner, true
			continue
		}
		if inner, ok := unwrap(t, "LowCardinality"); ok {
			t = inner
			continue
		}
		break
	}

	base := t
	if i := strings.IndexByte(base, '('); i >= 0 {
		base = base[:i]
	}
	switch base {
	case "Int8", "Int16", "Int32", "Int64":
		bits, _ := strconv.Atoi(strings.TrimPrefix(base, "Int"))
		return schema.Integer(bits, true), nullable
	case "UInt8", "UInt16", "UInt32", "UInt64":
		bits, _ := strconv.Atoi(strings.TrimPrefix(base, "UInt"))
		return schema.Integer(bits, false), nullable
	case "Float32":
		return schema.Float(32), nullable
	case "Float64", "Decimal", "Decimal32", "Decimal64", "Decimal128", "Decimal256":
		return schema.Float64, nullable
	case "Date", "Date32":
		return schema.Date, nullable
	case "DateTime", "DateTime64":
		return schema.DateTime, nullable
	case "Bool", "Boolean":
		return schema.Boolean, nullable
	case "UUID":
		return schema.UUID, nullable
	}
	return schema.String, nullable
}

func unwrap(t, wrapper string) (string, bool) {
	if strings.HasPrefix(t, wrapper+"(") && strings.HasSuffix(t, ")") {
		return t[len(wrapper)+1 : len(t)-1], true
	}
	return t, false
}

func (Dialect) ColumnType(col schema.ColumnSchema) string {
	var native string
	switch col.Type.Tag {
	case schema.TagInteger:
		if col.Type.Signed {
			native = fmt.Sprintf("Int%d", col.Type.Bits)
		} else {
			native = fmt.Sprintf("UInt%d", col.Type.Bits)
		}
	case schema.TagFloat:
		native = fmt.Sprintf("Float%d", col.Type.Bits)
	case schema.TagDate:
		native = "Date"
	case schema.TagDateTime:
		native = "DateTime"
	case schema.TagBoolean:
		native = "Bool"
	case schema.TagUUID:
		native = "UUID"
	case schema.TagString:
		native = "String"
	default:
		native = "String"
	}
	if col.Nullable {
		return "Nullable(" + native + ")"
	}
	return native
}

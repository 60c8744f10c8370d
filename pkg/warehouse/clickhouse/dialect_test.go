package clickhouse

import (
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/whbridge/pkg/schema"
	"github.com/ruslano69/whbridge/pkg/warehouse"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		native   string
		want     schema.LogicalType
		nullable bool
	}{
		{"UInt32", schema.Integer(32, false), false},
		{"Int64", schema.Int64, false},
		{"Nullable(UInt8)", schema.Integer(8, false), true},
		{"Float32", schema.Float(32), false},
		{"Decimal(18, 2)", schema.Float64, false},
		{"String", schema.String, false},
		{"LowCardinality(Nullable(String))", schema.String, true},
		{"FixedString(16)", schema.String, false},
		{"Date", schema.Date, false},
		{"Date32", schema.Date, false},
		{"DateTime('UTC')", schema.DateTime, false},
		{"DateTime64(3)", schema.DateTime, false},
		{"Bool", schema.Boolean, false},
		{"UUID", schema.UUID, false},
		{"Array(String)", schema.String, false},
		{"Int128", schema.String, false},
	}
	d := Dialect{}
	for _, tt := range tests {
		t.Run(tt.native, func(t *testing.T) {
			got, nullable := d.ParseType(tt.native)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.nullable, nullable)
		})
	}
}

func TestColumnTypeRoundTrip(t *testing.T) {
	d := Dialect{}
	for _, typ := range []schema.LogicalType{
		schema.Int64, schema.Integer(8, false), schema.Float(32), schema.Float64,
		schema.String, schema.Date, schema.DateTime, schema.Boolean, schema.UUID,
	} {
		native := d.ColumnType(schema.ColumnSchema{Name: "c", Type: typ, Nullable: true})
		got, nullable := d.ParseType(native)
		assert.Equal(t, typ, got, native)
		assert.True(t, nullable, native)
	}
}

func TestCreateTableStatement(t *testing.T) {
	stmt, err := warehouse.BuildCreateTable(Dialect{}, "sales_2024", []schema.ColumnSchema{
		{Name: "id", Type: schema.Int64, Nullable: true},
		{Name: "region", Type: schema.String},
	})
	require.NoError(t, err)
	assert.Equal(t,
		"CREATE TABLE `sales_2024` (`id` Nullable(Int64), `region` String) ENGINE = MergeTree() ORDER BY tuple()",
		stmt)
}

func TestJoinedSelect(t *testing.T) {
	q, err := warehouse.BuildSelect(Dialect{}, warehouse.SelectQuery{
		From: "orders",
		Columns: []warehouse.ColumnRef{
			{Table: "orders", Name: "id"},
			{Table: "customers", Name: "id", Alias: "id_customers"},
		},
		Join: &warehouse.Join{
			Table: "customers",
			Kind:  warehouse.JoinLeft,
			On:    []warehouse.KeyPair{{Left: "customer_id", Right: "id"}, {Left: "region", Right: "region"}},
		},
		Limit: 3,
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT `orders`.`id` AS `id`, `customers`.`id` AS `id_customers` FROM `orders` "+
			"LEFT JOIN `customers` ON `orders`.`customer_id` = `customers`.`id` AND `orders`.`region` = `customers`.`region` LIMIT 3",
		q)
}

func TestOptions(t *testing.T) {
	t.Run("password over http port", func(t *testing.T) {
		opts := Options(warehouse.Config{Host: "localhost", Port: 8123, Database: "default", Password: "pw", DialTimeout: time.Second})
		assert.Equal(t, []string{"localhost:8123"}, opts.Addr)
		assert.Equal(t, clickhouse.HTTP, opts.Protocol)
		assert.Equal(t, "default", opts.Auth.Username)
		assert.Equal(t, "pw", opts.Auth.Password)
		assert.Empty(t, opts.HttpHeaders)
	})
	t.Run("token forces http and bearer header", func(t *testing.T) {
		opts := Options(warehouse.Config{Host: "ch.internal", Port: 9000, Database: "sales", Token: "abc"})
		assert.Equal(t, clickhouse.HTTP, opts.Protocol)
		assert.Equal(t, "Bearer abc", opts.HttpHeaders["Authorization"])
		assert.Empty(t, opts.Auth.Password)
	})
	t.Run("native port", func(t *testing.T) {
		opts := Options(warehouse.Config{Host: "ch.internal", Port: 9000, Database: "sales", Secure: true})
		assert.Equal(t, clickhouse.Native, opts.Protocol)
		require.NotNil(t, opts.TLS)
		assert.Equal(t, "ch.internal", opts.TLS.ServerName)
	})
}

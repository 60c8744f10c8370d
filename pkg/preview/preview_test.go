package preview

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/whbridge/internal/whtest"
	"github.com/ruslano69/whbridge/pkg/catalog"
	"github.com/ruslano69/whbridge/pkg/connection"
	"github.com/ruslano69/whbridge/pkg/csvinfer"
	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/plan"
	"github.com/ruslano69/whbridge/pkg/retry"
	"github.com/ruslano69/whbridge/pkg/schema"
)

type fixture struct {
	conn    *connection.Manager
	builder *plan.Builder
	engine  *Engine
	session *connection.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := connection.NewManager(connection.Options{Retry: retry.Disabled(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	cfg := whtest.NewSQLite(t)
	s, err := conn.Connect(context.Background(), connection.Profile{Driver: "sqlite", Database: cfg.Database})
	require.NoError(t, err)
	return &fixture{
		conn:    conn,
		builder: plan.NewBuilder(catalog.New(conn, zerolog.Nop())),
		engine:  New(conn, zerolog.Nop()),
		session: s,
	}
}

func TestPreviewExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.builder.BuildExportPlan(ctx, f.session.ID, "orders", []string{"id", "total"}, nil)
	require.NoError(t, err)

	res, err := f.engine.Preview(ctx, p, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "total"}, res.Columns)
	require.Len(t, res.Rows, 3)
	for _, row := range res.Rows {
		assert.Len(t, row, 2)
		assert.Contains(t, row, "id")
		assert.Contains(t, row, "total")
	}
}

func TestPreviewCapIsMinOfLimitAndRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.builder.BuildExportPlan(ctx, f.session.ID, "customers", []string{"name"}, nil)
	require.NoError(t, err)

	for _, limit := range []int{1, 2, 3, 10} {
		res, err := f.engine.Preview(ctx, p, limit)
		require.NoError(t, err)
		assert.Len(t, res.Rows, min(limit, whtest.CustomersRows), "limit %d", limit)
	}

	res, err := f.engine.Preview(ctx, p, 0)
	require.NoError(t, err)
	assert.Len(t, res.Rows, DefaultCap)
}

func TestPreviewJoinDisambiguates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	join := &plan.JoinSpec{Table: "customers", Kind: plan.JoinInner, Keys: []plan.JoinKeyPair{{Left: "customer_id", Right: "id"}}}
	p, err := f.builder.BuildExportPlan(ctx, f.session.ID, "orders", []string{"id", "customers.id", "name", "active"}, join)
	require.NoError(t, err)

	res, err := f.engine.Preview(ctx, p, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "id_customers", "name", "active"}, res.Columns)
	// order o-5 has no customer
	require.Len(t, res.Rows, 4)
	for _, row := range res.Rows {
		assert.IsType(t, "", row["id"])
		assert.IsType(t, int64(0), row["id_customers"])
		assert.IsType(t, true, row["active"])
	}
}

func TestPreviewStalePlanFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.builder.BuildExportPlan(ctx, f.session.ID, "orders", []string{"id"}, nil)
	require.NoError(t, err)

	f.conn.Disconnect()
	_, err = f.engine.Preview(ctx, p, 3)
	assert.Equal(t, errs.KindNoSession, errs.KindOf(err))
}

func TestPreviewImportIsSampled(t *testing.T) {
	cols := []schema.ColumnSchema{
		{Name: "id", Type: schema.Int64, Nullable: true},
		{Name: "day", Type: schema.Date, Nullable: true},
		{Name: "note", Type: schema.String, Nullable: true},
	}
	sample := [][]string{{"1", "2024-01-01", "a"}, {"x", "", ""}, {"3", "2024-01-03", "c"}}
	// the source is never opened
	src := csvinfer.FileSource{Path: "/nonexistent/file.csv"}
	p, err := plan.BuildImportPlan("t", cols, src, sample)
	require.NoError(t, err)

	res, err := New(nil, zerolog.Nop()).Preview(context.Background(), p, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "day", "note"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, Row{"id": int64(1), "day": "2024-01-01", "note": "a"}, res.Rows[0])
	assert.Equal(t, Row{"id": "x", "day": nil, "note": ""}, res.Rows[1])
}

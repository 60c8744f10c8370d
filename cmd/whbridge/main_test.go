package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/whbridge/internal/config"
	"github.com/ruslano69/whbridge/internal/whtest"
	"github.com/ruslano69/whbridge/pkg/connection"
	"github.com/ruslano69/whbridge/pkg/engine"
	"github.com/ruslano69/whbridge/pkg/plan"
	"github.com/ruslano69/whbridge/pkg/retry"
	"github.com/ruslano69/whbridge/pkg/transfer"
)

func TestJoinSpec(t *testing.T) {
	spec, err := joinSpec("customers", "LEFT", "customer_id=id, region = region")
	require.NoError(t, err)
	assert.Equal(t, &plan.JoinSpec{Table: "customers", Kind: plan.JoinLeft, Keys: []plan.JoinKeyPair{
		{Left: "customer_id", Right: "id"}, {Left: "region", Right: "region"},
	}}, spec)

	spec, err = joinSpec("", "inner", "")
	require.NoError(t, err)
	assert.Nil(t, spec)

	for _, tc := range []struct{ table, kind, on string }{
		{"", "inner", "a=b"},
		{"c", "cross", "a=b"},
		{"c", "inner", "a"},
		{"c", "inner", "=b"},
	} {
		_, err := joinSpec(tc.table, tc.kind, tc.on)
		assert.Error(t, err, "%+v", tc)
	}
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags([]string{"--export", "orders", "--columns", "id, total,", "--preview"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.commandCount())
	assert.Equal(t, []string{"id", "total"}, splitList(*f.Columns))
	assert.True(t, *f.Preview)

	f, err = ParseFlags([]string{"--tables", "--import", "x.csv"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.commandCount())

	cfg := config.Default()
	f, err = ParseFlags([]string{"--export", "t", "--format", "xlsx", "--compress", "--output", "/tmp/out", "--limit", "7"})
	require.NoError(t, err)
	require.NoError(t, applyFlags(cfg, f))
	assert.Equal(t, "xlsx", cfg.Engine.ArtifactFormat)
	assert.Equal(t, "zstd", cfg.Engine.Compression)
	assert.Equal(t, "/tmp/out", cfg.Engine.ArtifactDir)
	assert.Equal(t, 7, cfg.Engine.PreviewCap)

	f, err = ParseFlags([]string{"--format", "parquet"})
	require.NoError(t, err)
	assert.Error(t, applyFlags(cfg, f))
}

func TestCommands(t *testing.T) {
	e, err := engine.New(engine.Options{
		Logger:       zerolog.Nop(),
		ConnectRetry: retry.Disabled(),
		Transfer: transfer.Options{
			ArtifactDir:      t.TempDir(),
			ProgressInterval: time.Millisecond,
			Retry:            retry.Disabled(),
		},
	})
	require.NoError(t, err)
	defer e.Close(context.Background())
	ctx := context.Background()
	_, err = e.Connect(ctx, connection.Profile{Driver: "sqlite", Database: whtest.NewSQLite(t).Database})
	require.NoError(t, err)

	var out, errOut bytes.Buffer
	c := &cli{engine: e, out: &out, errOut: &errOut}

	require.NoError(t, c.tables(ctx, false))
	assert.Contains(t, out.String(), "orders")

	out.Reset()
	require.NoError(t, c.describe(ctx, "customers", false))
	assert.Contains(t, out.String(), "active")

	out.Reset()
	f, err := ParseFlags([]string{"--export", "orders", "--columns", "id,name", "--join", "customers", "--on", "customer_id=id", "--preview"})
	require.NoError(t, err)
	require.NoError(t, c.export(ctx, f))
	assert.Contains(t, out.String(), "(3 rows)")

	out.Reset()
	f, err = ParseFlags([]string{"--export", "orders", "--columns", "id,total"})
	require.NoError(t, err)
	require.NoError(t, c.export(ctx, f))
	assert.Contains(t, out.String(), "Exported 5 rows")
	assert.Contains(t, errOut.String(), "100%")
}

package catalog

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/whbridge/internal/whtest"
	"github.com/ruslano69/whbridge/pkg/connection"
	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/retry"
	"github.com/ruslano69/whbridge/pkg/schema"
)

type fixture struct {
	conn    *connection.Manager
	catalog *Catalog
	session *connection.Session
	dbPath  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := connection.NewManager(connection.Options{Retry: retry.Disabled(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	cfg := whtest.NewSQLite(t)
	s, err := conn.Connect(context.Background(), connection.Profile{Driver: "sqlite", Database: cfg.Database})
	require.NoError(t, err)
	return &fixture{conn: conn, catalog: New(conn, zerolog.Nop()), session: s, dbPath: cfg.Database}
}

func TestListTables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tables, err := f.catalog.ListTables(ctx, f.session.ID, false)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "customers", tables[0].Name)
	assert.Equal(t, "orders", tables[1].Name)
	assert.Equal(t, []string{"id", "total", "customer_id", "created"}, tables[1].Names())

	again, err := f.catalog.ListTables(ctx, f.session.ID, false)
	require.NoError(t, err)
	assert.Equal(t, tables, again)
}

func TestListTablesCacheAndRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.catalog.ListTables(ctx, f.session.ID, false)
	require.NoError(t, err)

	whtest.Exec(t, f.dbPath, "CREATE TABLE audit (at DATETIME, note TEXT)")

	cached, err := f.catalog.ListTables(ctx, f.session.ID, false)
	require.NoError(t, err)
	assert.Len(t, cached, 2)

	fresh, err := f.catalog.ListTables(ctx, f.session.ID, true)
	require.NoError(t, err)
	require.Len(t, fresh, 3)
	assert.Equal(t, "audit", fresh[0].Name)
	assert.Equal(t, schema.DateTime, fresh[0].Columns[0].Type)
}

func TestListTablesEmptyWarehouse(t *testing.T) {
	conn, err := connection.NewManager(connection.Options{Retry: retry.Disabled(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	s, err := conn.Connect(context.Background(), connection.Profile{Driver: "sqlite", Database: whtest.NewEmptySQLite(t).Database})
	require.NoError(t, err)

	tables, err := New(conn, zerolog.Nop()).ListTables(context.Background(), s.ID, false)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestDescribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ts, err := f.catalog.Describe(ctx, f.session.ID, "customers", false)
	require.NoError(t, err)
	assert.Equal(t, "customers", ts.Name)
	col, ok := ts.Column("active")
	require.True(t, ok)
	assert.Equal(t, schema.Boolean, col.Type)

	// returned values are copies
	ts.Columns[0].Name = "mutated"
	again, err := f.catalog.Describe(ctx, f.session.ID, "customers", false)
	require.NoError(t, err)
	assert.Equal(t, "id", again.Columns[0].Name)
}

func TestDescribeNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.catalog.Describe(context.Background(), f.session.ID, "nope", false)
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	assert.Contains(t, err.Error(), "nope")
}

func TestNoSession(t *testing.T) {
	f := newFixture(t)
	f.conn.Disconnect()

	_, err := f.catalog.ListTables(context.Background(), f.session.ID, false)
	assert.Equal(t, errs.KindNoSession, errs.KindOf(err))
	_, err = f.catalog.Describe(context.Background(), "", "orders", false)
	assert.Equal(t, errs.KindNoSession, errs.KindOf(err))
}

func TestReconnectDropsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.catalog.ListTables(ctx, f.session.ID, false)
	require.NoError(t, err)

	next, err := f.conn.Connect(ctx, connection.Profile{Driver: "sqlite", Database: whtest.NewEmptySQLite(t).Database})
	require.NoError(t, err)

	_, err = f.catalog.ListTables(ctx, f.session.ID, false)
	assert.Equal(t, errs.KindNoSession, errs.KindOf(err), "stale session id must fail")

	tables, err := f.catalog.ListTables(ctx, next.ID, false)
	require.NoError(t, err)
	assert.Empty(t, tables)

	f.catalog.mu.RLock()
	_, stale := f.catalog.cache[f.session.ID]
	f.catalog.mu.RUnlock()
	assert.False(t, stale)
}

func TestStoreSkipsRetiredSession(t *testing.T) {
	f := newFixture(t)
	lease, err := f.conn.Acquire(context.Background(), f.session.ID)
	require.NoError(t, err)
	defer lease.Release()

	f.conn.Disconnect()
	f.catalog.store(lease.Session, schema.TableSchema{Name: "orders"})

	f.catalog.mu.RLock()
	_, cached := f.catalog.cache[f.session.ID]
	f.catalog.mu.RUnlock()
	assert.False(t, cached)
}

func TestSharedLoadSurvivesCancelledCaller(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	load := func(l *connection.Lease) (any, error) {
		once.Do(func() { close(started) })
		<-release
		return l.Client.ListTables(l.Ctx)
	}

	impatientCtx, cancel := context.WithCancel(context.Background())
	impatient, err := f.conn.Acquire(impatientCtx, f.session.ID)
	require.NoError(t, err)
	defer impatient.Release()
	patient, err := f.conn.Acquire(context.Background(), f.session.ID)
	require.NoError(t, err)
	defer patient.Release()

	impatientErr := make(chan error, 1)
	go func() {
		_, err := f.catalog.shared(impatient, "listTables", "", "list-test", load)
		impatientErr <- err
	}()
	<-started

	type outcome struct {
		v   any
		err error
	}
	patientRes := make(chan outcome, 1)
	go func() {
		v, err := f.catalog.shared(patient, "listTables", "", "list-test", load)
		patientRes <- outcome{v, err}
	}()

	cancel()
	err = <-impatientErr
	require.Error(t, err)
	assert.Equal(t, errs.KindCancelled, errs.KindOf(err))

	close(release)
	res := <-patientRes
	require.NoError(t, res.err)
	assert.Contains(t, res.v, "orders")
}

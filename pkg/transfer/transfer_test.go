package transfer

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/whbridge/internal/whtest"
	"github.com/ruslano69/whbridge/pkg/artifact"
	"github.com/ruslano69/whbridge/pkg/catalog"
	"github.com/ruslano69/whbridge/pkg/connection"
	"github.com/ruslano69/whbridge/pkg/csvinfer"
	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/plan"
	"github.com/ruslano69/whbridge/pkg/retry"
	"github.com/ruslano69/whbridge/pkg/schema"
)

type fixture struct {
	conn       *connection.Manager
	builder    *plan.Builder
	engine     *Engine
	session    *connection.Session
	dbPath     string
	rejectsDir string
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	conn, err := connection.NewManager(connection.Options{Retry: retry.Disabled(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	cfg := whtest.NewSQLite(t)
	s, err := conn.Connect(context.Background(), connection.Profile{Driver: "sqlite", Database: cfg.Database})
	require.NoError(t, err)

	rejects := t.TempDir()
	opts := Options{
		Conn:             conn,
		Logger:           zerolog.Nop(),
		ArtifactDir:      t.TempDir(),
		RejectsDir:       rejects,
		ProgressInterval: time.Microsecond,
		BatchSize:        2,
		MaxErrors:        DefaultMaxErrors,
		Retry:            retry.Disabled(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	e, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.Shutdown(ctx)
	})
	return &fixture{
		conn:       conn,
		builder:    plan.NewBuilder(catalog.New(conn, zerolog.Nop())),
		engine:     e,
		session:    s,
		dbPath:     cfg.Database,
		rejectsDir: rejects,
	}
}

func (f *fixture) count(t *testing.T, table string) int {
	return whtest.Count(t, whtest.Config(f.dbPath), table)
}

// tableHasRows polls without failing the test when the table is not there yet.
func tableHasRows(path, table string, want int) bool {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return false
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "` + table + `"`).Scan(&n); err != nil {
		return false
	}
	return n == want
}

func wait(t *testing.T, h *Handle) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := h.Result(ctx)
	require.NoError(t, err)
	return res
}

func writeCSV(t *testing.T, content string) csvinfer.FileSource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return csvinfer.FileSource{Path: path}
}

func importPlan(t *testing.T, table string, src csvinfer.Source) plan.TransferPlan {
	t.Helper()
	cols, sample, err := csvinfer.InferSchema(src, 3)
	require.NoError(t, err)
	p, err := plan.BuildImportPlan(table, cols, src, sample)
	require.NoError(t, err)
	return p
}

func TestExportImportRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	p, err := f.builder.BuildExportPlan(ctx, f.session.ID, "orders", []string{"id", "total", "customer_id", "created"}, nil)
	require.NoError(t, err)
	h, err := f.engine.Execute(ctx, p)
	require.NoError(t, err)

	res := wait(t, h)
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, int64(whtest.OrdersRows), res.RecordsProcessed)
	require.NotNil(t, res.Artifact)
	assert.Equal(t, ".csv", filepath.Ext(res.Artifact.Location))

	data, err := os.ReadFile(res.Artifact.Path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, whtest.OrdersRows+1)
	assert.Equal(t, "id,total,customer_id,created", lines[0])
	assert.Equal(t, "o-1,10.5,1,2024-01-01", lines[1])

	src := csvinfer.FileSource{Path: res.Artifact.Path}
	ip := importPlan(t, "orders_copy", src)
	assert.Equal(t, []schema.LogicalType{schema.String, schema.Float64, schema.Int64, schema.Date},
		[]schema.LogicalType{ip.Schema[0].Type, ip.Schema[1].Type, ip.Schema[2].Type, ip.Schema[3].Type})

	h, err = f.engine.Execute(ctx, ip)
	require.NoError(t, err)
	res = wait(t, h)
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, int64(whtest.OrdersRows), res.RecordsProcessed)
	assert.Zero(t, res.Rejected)
	assert.Equal(t, whtest.OrdersRows, f.count(t, "orders_copy"))
}

func TestExportJoinedZstd(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Artifact = artifact.Options{Format: artifact.FormatCSV, Compression: artifact.CompressionZstd}
	})
	ctx := context.Background()
	join := &plan.JoinSpec{Table: "customers", Kind: plan.JoinLeft, Keys: []plan.JoinKeyPair{{Left: "customer_id", Right: "id"}}}
	p, err := f.builder.BuildExportPlan(ctx, f.session.ID, "orders", []string{"id", "customers.id", "name"}, join)
	require.NoError(t, err)

	h, err := f.engine.Execute(ctx, p)
	require.NoError(t, err)
	res := wait(t, h)
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, int64(whtest.OrdersRows), res.RecordsProcessed)
	assert.True(t, strings.HasSuffix(res.Artifact.Path, ".csv.zst"))

	sum, err := artifact.Checksum(res.Artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, sum, res.Artifact.Checksum)

	file, err := os.Open(res.Artifact.Path)
	require.NoError(t, err)
	defer file.Close()
	r, err := artifact.NewZstdReader(file)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "id,id_customers,name\n"))
	// o-5 has no customer: NULLs render as empty cells
	assert.Contains(t, string(data), "o-5,,\n")
}

func TestProgressIsMonotonicAndEndsAt100(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p, err := f.builder.BuildExportPlan(ctx, f.session.ID, "orders", []string{"id"}, nil)
	require.NoError(t, err)

	h, err := f.engine.Execute(ctx, p)
	require.NoError(t, err)

	var ticks []Progress
	for tick := range h.Progress() {
		ticks = append(ticks, tick)
	}
	require.NotEmpty(t, ticks)
	for i := 1; i < len(ticks); i++ {
		assert.GreaterOrEqual(t, ticks[i].Percent, ticks[i-1].Percent)
	}
	last := ticks[len(ticks)-1]
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, StateSucceeded, last.State)
	for _, tick := range ticks[:len(ticks)-1] {
		assert.Less(t, tick.Percent, 100)
	}

	// late subscribers get the terminal tick and a closed channel
	late := h.Progress()
	tick, ok := <-late
	assert.True(t, ok)
	assert.Equal(t, 100, tick.Percent)
	_, ok = <-late
	assert.False(t, ok)
}

func TestImportRejectsBelowThreshold(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	src := writeCSV(t, "n,day\n1,2024-01-01\n2,2024-01-02\n3,2024-01-03\nfour,2024-01-04\n5,not a date\n6,2024-01-06\n")

	h, err := f.engine.Execute(ctx, importPlan(t, "events", src))
	require.NoError(t, err)
	res := wait(t, h)

	require.True(t, res.Success)
	assert.Equal(t, int64(4), res.RecordsProcessed)
	assert.Equal(t, int64(2), res.Rejected)
	require.NotNil(t, res.Error)
	assert.Equal(t, errs.KindCoercion, res.Error.Kind)
	require.Len(t, res.Error.Rows, 2)
	assert.Equal(t, RowError{Line: 5, Column: "n", Value: "four", Reason: "not a number"}, res.Error.Rows[0])
	assert.Equal(t, 6, res.Error.Rows[1].Line)
	assert.Equal(t, "day", res.Error.Rows[1].Column)
	assert.Equal(t, 4, f.count(t, "events"))

	entries, err := retry.ReadDLQ(filepath.Join(f.rejectsDir, h.ID()+".json"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestImportFailsAboveThreshold(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxErrors = 1 })
	ctx := context.Background()
	src := writeCSV(t, "n\n1\n2\n3\nx\n4\ny\n5\n")

	h, err := f.engine.Execute(ctx, importPlan(t, "nums", src))
	require.NoError(t, err)
	res := wait(t, h)

	assert.False(t, res.Success)
	assert.Equal(t, StateFailed, res.State)
	require.NotNil(t, res.Error)
	assert.Equal(t, errs.KindCoercion, res.Error.Kind)
	assert.Len(t, res.Error.Rows, 2)
	assert.Equal(t, int64(2), res.Rejected)
	// committed batches stay and are counted exactly
	assert.Equal(t, int(res.RecordsProcessed), f.count(t, "nums"))
	assert.LessOrEqual(t, res.RecordsProcessed, int64(4))
}

func TestImportIntoExistingTable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	src := writeCSV(t, "id,name,active\n7,Barbara,true\n8,Edsger,false\n")
	h, err := f.engine.Execute(ctx, importPlan(t, "customers", src))
	require.NoError(t, err)
	res := wait(t, h)
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, whtest.CustomersRows+2, f.count(t, "customers"))

	bad := writeCSV(t, "id,nickname\n9,bob\n")
	h, err = f.engine.Execute(ctx, importPlan(t, "customers", bad))
	require.NoError(t, err)
	res = wait(t, h)
	assert.False(t, res.Success)
	assert.Equal(t, errs.KindValidation, res.Error.Kind)
	assert.Zero(t, res.RecordsProcessed)
	assert.Equal(t, whtest.CustomersRows+2, f.count(t, "customers"))
}

func TestExecuteWithoutSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p, err := f.builder.BuildExportPlan(ctx, f.session.ID, "orders", []string{"id"}, nil)
	require.NoError(t, err)

	f.conn.Disconnect()
	_, err = f.engine.Execute(ctx, p)
	assert.Equal(t, errs.KindNoSession, errs.KindOf(err))
}

func TestCancelWhileQueued(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxConcurrent = 1 })
	ctx := context.Background()
	require.NoError(t, f.engine.slots.Acquire(ctx, 1))
	defer f.engine.slots.Release(1)

	p, err := f.builder.BuildExportPlan(ctx, f.session.ID, "orders", []string{"id"}, nil)
	require.NoError(t, err)
	h, err := f.engine.Execute(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, h.State())

	h.Cancel()
	res := wait(t, h)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, errs.KindCancelled, res.Error.Kind)
	assert.Zero(t, res.RecordsProcessed)

	entries, err := os.ReadDir(f.engine.opts.ArtifactDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// seriesRows is large enough that an export is still streaming when the
// first progress tick arrives.
const seriesRows = 300_000

func startSeriesExport(t *testing.T, f *fixture) *Handle {
	t.Helper()
	whtest.SeedSeries(t, f.dbPath, "series", seriesRows)
	ctx := context.Background()
	p, err := f.builder.BuildExportPlan(ctx, f.session.ID, "series", []string{"id", "label"}, nil)
	require.NoError(t, err)
	h, err := f.engine.Execute(ctx, p)
	require.NoError(t, err)
	return h
}

// awaitStreaming blocks until h reports committed rows.
func awaitStreaming(t *testing.T, h *Handle) {
	t.Helper()
	timeout := time.After(10 * time.Second)
	ticks := h.Progress()
	for {
		select {
		case tick, ok := <-ticks:
			if !ok || tick.State.Terminal() {
				t.Fatalf("export ended before streaming was observed: %+v", tick)
			}
			if tick.Rows > 0 {
				return
			}
		case <-timeout:
			t.Fatal("no progress tick with rows")
		}
	}
}

func TestCancelMidExportDiscardsArtifact(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ChannelBuffer = 1 })
	h := startSeriesExport(t, f)
	awaitStreaming(t, h)

	h.Cancel()
	res := wait(t, h)
	assert.Equal(t, StateFailed, res.State)
	require.NotNil(t, res.Error)
	assert.Equal(t, errs.KindCancelled, res.Error.Kind)
	assert.Greater(t, res.RecordsProcessed, int64(0))
	assert.Less(t, res.RecordsProcessed, int64(seriesRows))
	assert.Nil(t, res.Artifact)

	entries, err := os.ReadDir(f.engine.opts.ArtifactDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial artifact must be removed")
}

func TestReconnectMidExportFailsWithNoSession(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ChannelBuffer = 1 })
	h := startSeriesExport(t, f)
	awaitStreaming(t, h)

	_, err := f.conn.Connect(context.Background(), connection.Profile{Driver: "sqlite", Database: whtest.NewEmptySQLite(t).Database})
	require.NoError(t, err)

	res := wait(t, h)
	assert.Equal(t, StateFailed, res.State)
	require.NotNil(t, res.Error)
	assert.Equal(t, errs.KindNoSession, res.Error.Kind)
	assert.Less(t, res.RecordsProcessed, int64(seriesRows))

	entries, err := os.ReadDir(f.engine.opts.ArtifactDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type failingStore struct{}

func (failingStore) Put(context.Context, artifact.Info) (string, error) {
	return "", errors.New("bucket unreachable")
}

func (failingStore) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("bucket unreachable")
}

func TestExportStoreFailureRemovesLocalArtifact(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Store = failingStore{} })
	ctx := context.Background()
	p, err := f.builder.BuildExportPlan(ctx, f.session.ID, "orders", []string{"id"}, nil)
	require.NoError(t, err)

	h, err := f.engine.Execute(ctx, p)
	require.NoError(t, err)
	res := wait(t, h)

	assert.Equal(t, StateFailed, res.State)
	require.NotNil(t, res.Error)
	assert.Equal(t, errs.KindEngine, res.Error.Kind)
	assert.Contains(t, res.Error.Message, "bucket unreachable")
	assert.Nil(t, res.Artifact)

	entries, err := os.ReadDir(f.engine.opts.ArtifactDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestImportPaddedCells(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	src := writeCSV(t, "d,n\n 2024-01-01 ,1\n2024-01-02, \n")

	ip := importPlan(t, "padded", src)
	assert.Equal(t, schema.Date, ip.Schema[0].Type)
	assert.Equal(t, schema.Int64, ip.Schema[1].Type)

	h, err := f.engine.Execute(ctx, ip)
	require.NoError(t, err)
	res := wait(t, h)
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, int64(2), res.RecordsProcessed)
	assert.Zero(t, res.Rejected)
	assert.Equal(t, 2, f.count(t, "padded"))
}

// gatedSource serves a prefix of a CSV, then blocks until released.
type gatedSource struct {
	head, tail string
	release    chan struct{}
}

func (g *gatedSource) Name() string { return "gated.csv" }
func (g *gatedSource) Size() int64  { return -1 }
func (g *gatedSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(io.MultiReader(strings.NewReader(g.head), &gate{g: g})), nil
}

type gate struct {
	g    *gatedSource
	once sync.Once
	r    io.Reader
}

func (r *gate) Read(p []byte) (int, error) {
	r.once.Do(func() {
		<-r.g.release
		r.r = strings.NewReader(r.g.tail)
	})
	return r.r.Read(p)
}

func TestCancelMidImport(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.BatchSize = 1 })
	ctx := context.Background()

	src := &gatedSource{head: "n,s\n1,a\n2,b\n3,c\n", tail: "4,d\n5,e\n", release: make(chan struct{})}
	cols := []schema.ColumnSchema{{Name: "n", Type: schema.Int64, Nullable: true}, {Name: "s", Type: schema.String, Nullable: true}}
	p, err := plan.BuildImportPlan("gated", cols, src, nil)
	require.NoError(t, err)

	h, err := f.engine.Execute(ctx, p)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return tableHasRows(f.dbPath, "gated", 3)
	}, 5*time.Second, 10*time.Millisecond)

	h.Cancel()
	close(src.release)
	res := wait(t, h)

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, errs.KindCancelled, res.Error.Kind)
	assert.Equal(t, int64(3), res.RecordsProcessed)
	assert.Equal(t, 3, f.count(t, "gated"))
}

func TestRetainBoundsHandles(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Retain = 1 })
	ctx := context.Background()
	p, err := f.builder.BuildExportPlan(ctx, f.session.ID, "customers", []string{"name"}, nil)
	require.NoError(t, err)

	h1, err := f.engine.Execute(ctx, p)
	require.NoError(t, err)
	wait(t, h1)
	h2, err := f.engine.Execute(ctx, p)
	require.NoError(t, err)
	wait(t, h2)

	_, ok := f.engine.Get(h1.ID())
	assert.False(t, ok)
	got, ok := f.engine.Get(h2.ID())
	require.True(t, ok)
	assert.Equal(t, StateSucceeded, got.Snapshot().State)
	assert.Len(t, f.engine.List(), 1)
}

func TestObserversSeeRunningAndTerminal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var states []State
	f.engine.AddObserver(ObserverFunc(func(_ context.Context, s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s.State)
		if s.State.Terminal() {
			assert.NotNil(t, s.Result)
		}
	}))

	p, err := f.builder.BuildExportPlan(ctx, f.session.ID, "customers", []string{"name"}, nil)
	require.NoError(t, err)
	h, err := f.engine.Execute(ctx, p)
	require.NoError(t, err)
	wait(t, h)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []State{StateRunning, StateSucceeded}, states)
}

func TestPercentOf(t *testing.T) {
	assert.Equal(t, 0, percentOf(0, 10))
	assert.Equal(t, 50, percentOf(5, 10))
	assert.Equal(t, 99, percentOf(10, 10))
	assert.Equal(t, 99, percentOf(20, 10))
	assert.Less(t, percentOf(1_000_000_000, -1), 100)
	assert.GreaterOrEqual(t, percentOf(20000, -1), percentOf(10000, -1))
}

// Package engine wires the connection manager, schema catalog, plan
// builder, preview engine and bulk transfer engine into the operation set
// a caller (HTTP API, CLI) drives.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ruslano69/whbridge/pkg/catalog"
	"github.com/ruslano69/whbridge/pkg/connection"
	"github.com/ruslano69/whbridge/pkg/csvinfer"
	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/plan"
	"github.com/ruslano69/whbridge/pkg/preview"
	"github.com/ruslano69/whbridge/pkg/retry"
	"github.com/ruslano69/whbridge/pkg/schema"
	"github.com/ruslano69/whbridge/pkg/transfer"
	"github.com/ruslano69/whbridge/pkg/warehouse"

	// dialects available to every engine
	_ "github.com/ruslano69/whbridge/pkg/warehouse/clickhouse"
	_ "github.com/ruslano69/whbridge/pkg/warehouse/mssql"
	_ "github.com/ruslano69/whbridge/pkg/warehouse/mysql"
	_ "github.com/ruslano69/whbridge/pkg/warehouse/postgres"
	_ "github.com/ruslano69/whbridge/pkg/warehouse/sqlite"
)

// Options configure an Engine.
type Options struct {
	Logger   zerolog.Logger
	Registry *warehouse.Registry
	// ConnectRetry applies to the connect handshake.
	ConnectRetry        retry.Config
	DefaultMaxOpenConns int

	// PreviewCap is the row cap used when a caller passes none.
	PreviewCap int
	// SampleRows is how many data rows the inferencer reads.
	SampleRows int

	// Transfer configures the bulk engine; its Conn and Logger are set here.
	Transfer transfer.Options
}

// Engine is safe for concurrent use.
type Engine struct {
	opts Options
	log  zerolog.Logger

	conn      *connection.Manager
	catalog   *catalog.Catalog
	builder   *plan.Builder
	previews  *preview.Engine
	transfers *transfer.Engine
}

// New builds every component. No warehouse is contacted until Connect.
func New(opts Options) (*Engine, error) {
	if opts.PreviewCap <= 0 {
		opts.PreviewCap = preview.DefaultCap
	}
	if opts.SampleRows <= 0 {
		opts.SampleRows = csvinfer.DefaultSampleRows
	}

	conn, err := connection.NewManager(connection.Options{
		Registry:            opts.Registry,
		Retry:               opts.ConnectRetry,
		Logger:              opts.Logger.With().Str("component", "connection").Logger(),
		DefaultMaxOpenConns: opts.DefaultMaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("connection manager: %w", err)
	}

	cat := catalog.New(conn, opts.Logger.With().Str("component", "catalog").Logger())

	topts := opts.Transfer
	topts.Conn = conn
	topts.Logger = opts.Logger.With().Str("component", "transfer").Logger()
	transfers, err := transfer.New(topts)
	if err != nil {
		return nil, fmt.Errorf("transfer engine: %w", err)
	}

	return &Engine{
		opts:      opts,
		log:       opts.Logger,
		conn:      conn,
		catalog:   cat,
		builder:   plan.NewBuilder(cat),
		previews:  preview.New(conn, opts.Logger.With().Str("component", "preview").Logger()),
		transfers: transfers,
	}, nil
}

// AddObserver registers o for transfer state changes.
func (e *Engine) AddObserver(o transfer.Observer) { e.transfers.AddObserver(o) }

// Connect replaces the live session with one for p.
func (e *Engine) Connect(ctx context.Context, p connection.Profile) (*connection.Session, error) {
	return e.conn.Connect(ctx, p)
}

func (e *Engine) Disconnect() { e.conn.Disconnect() }

// CurrentSession returns the live session or nil.
func (e *Engine) CurrentSession() *connection.Session { return e.conn.CurrentSession() }

// Ping checks the live session's warehouse.
func (e *Engine) Ping(ctx context.Context) error {
	lease, err := e.conn.Acquire(ctx, "")
	if err != nil {
		return err
	}
	defer lease.Release()
	if err := lease.Client.Ping(lease.Ctx); err != nil {
		return errs.Translate(errs.KindEngine, "ping", lease.Session.ID, lease.Wrap("ping", err))
	}
	return nil
}

// ListTables returns the session's tables ordered by name.
func (e *Engine) ListTables(ctx context.Context, sessionID string, refresh bool) ([]schema.TableSchema, error) {
	return e.catalog.ListTables(ctx, sessionID, refresh)
}

// DescribeTable returns one table or NotFound.
func (e *Engine) DescribeTable(ctx context.Context, sessionID, table string, refresh bool) (schema.TableSchema, error) {
	return e.catalog.Describe(ctx, sessionID, table, refresh)
}

// BuildExportPlan validates an export of columns from table, optionally joined.
func (e *Engine) BuildExportPlan(ctx context.Context, sessionID, table string, columns []string, join *plan.JoinSpec) (plan.TransferPlan, error) {
	return e.builder.BuildExportPlan(ctx, sessionID, table, columns, join)
}

// PreviewExport runs p with a row cap; limit <= 0 uses the configured cap.
func (e *Engine) PreviewExport(ctx context.Context, p plan.TransferPlan, limit int) (preview.Result, error) {
	if p.Direction != plan.Export {
		return preview.Result{}, errs.E(errs.KindValidation, "previewExport", p.Table, errors.New("not an export plan"))
	}
	return e.previews.Preview(ctx, p, e.previewCap(limit))
}

// ImportPreview is what a caller needs to confirm an import.
type ImportPreview struct {
	Preview        preview.Result        `json:"preview"`
	Schema         []schema.ColumnSchema `json:"schema"`
	SuggestedTable string                `json:"suggested_table"`

	source csvinfer.Source
	sample [][]string
}

// Plan validates the import of the previewed file into table. An empty
// table uses the suggested name.
func (ip ImportPreview) Plan(table string) (plan.TransferPlan, error) {
	if table == "" {
		table = ip.SuggestedTable
	}
	return plan.BuildImportPlan(table, ip.Schema, ip.source, ip.sample)
}

// PreviewImport infers src's schema and samples its first rows.
func (e *Engine) PreviewImport(ctx context.Context, src csvinfer.Source, limit int) (ImportPreview, error) {
	cols, sample, err := csvinfer.InferSchema(src, e.opts.SampleRows)
	if err != nil {
		return ImportPreview{}, err
	}
	ip := ImportPreview{
		Schema:         cols,
		SuggestedTable: plan.SuggestTableName(src.Name()),
		source:         src,
		sample:         sample,
	}
	p, err := ip.Plan(ip.SuggestedTable)
	if err != nil {
		return ImportPreview{}, err
	}
	ip.Preview, err = e.previews.Preview(ctx, p, e.previewCap(limit))
	if err != nil {
		return ImportPreview{}, err
	}
	e.log.Debug().Str("file", src.Name()).Int("columns", len(cols)).Str("suggested", ip.SuggestedTable).Msg("import previewed")
	return ip, nil
}

// BuildImportPlan infers src and validates an import into table.
func (e *Engine) BuildImportPlan(sessionID string, src csvinfer.Source, table string) (plan.TransferPlan, error) {
	cols, sample, err := csvinfer.InferSchema(src, e.opts.SampleRows)
	if err != nil {
		return plan.TransferPlan{}, err
	}
	p, err := plan.BuildImportPlan(table, cols, src, sample)
	if err != nil {
		return plan.TransferPlan{}, err
	}
	p.SessionID = sessionID
	return p, nil
}

// ExportToArtifact starts the export of p.
func (e *Engine) ExportToArtifact(ctx context.Context, p plan.TransferPlan) (*transfer.Handle, error) {
	if p.Direction != plan.Export {
		return nil, errs.E(errs.KindValidation, "exportToArtifact", p.Table, errors.New("not an export plan"))
	}
	return e.transfers.Execute(ctx, p)
}

// ImportFromFile infers src, validates the target and starts the import.
func (e *Engine) ImportFromFile(ctx context.Context, sessionID string, src csvinfer.Source, table string) (*transfer.Handle, error) {
	p, err := e.BuildImportPlan(sessionID, src, table)
	if err != nil {
		return nil, err
	}
	return e.transfers.Execute(ctx, p)
}

// Execute starts an already validated plan.
func (e *Engine) Execute(ctx context.Context, p plan.TransferPlan) (*transfer.Handle, error) {
	return e.transfers.Execute(ctx, p)
}

// Transfer returns a known transfer handle.
func (e *Engine) Transfer(id string) (*transfer.Handle, bool) { return e.transfers.Get(id) }

// Transfers lists known transfers, newest first.
func (e *Engine) Transfers() []transfer.Snapshot { return e.transfers.List() }

// Cancel requests cancellation of transfer id.
func (e *Engine) Cancel(id string) error {
	h, ok := e.transfers.Get(id)
	if !ok {
		return errs.E(errs.KindNotFound, "cancel", id, errors.New("unknown transfer"))
	}
	h.Cancel()
	return nil
}

// Close cancels running transfers, waits for them up to ctx and closes
// the session.
func (e *Engine) Close(ctx context.Context) error {
	err := e.transfers.Shutdown(ctx)
	if cerr := e.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func (e *Engine) previewCap(limit int) int {
	if limit <= 0 {
		return e.opts.PreviewCap
	}
	return limit
}

// Package preview materializes a bounded sample of a transfer plan.
package preview

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/whbridge/pkg/connection"
	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/metrics"
	"github.com/ruslano69/whbridge/pkg/plan"
	"github.com/ruslano69/whbridge/pkg/schema"
)

// DefaultCap is used when the caller passes a non-positive cap.
const DefaultCap = 3

// Row maps an output column name to its value.
type Row map[string]any

// Result is a bounded sample. Columns gives the order of every Row's keys.
type Result struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Engine runs previews. It holds no state besides its collaborators.
type Engine struct {
	conn *connection.Manager
	log  zerolog.Logger
}

func New(conn *connection.Manager, log zerolog.Logger) *Engine {
	return &Engine{conn: conn, log: log}
}

// Preview returns at most limit rows of p. Export plans run a LIMIT query
// against the plan's session; import plans return the sampled CSV rows.
func (e *Engine) Preview(ctx context.Context, p plan.TransferPlan, limit int) (Result, error) {
	if limit <= 0 {
		limit = DefaultCap
	}
	start := time.Now()
	defer func() { metrics.ObservePreview(string(p.Direction), time.Since(start)) }()

	switch p.Direction {
	case plan.Export:
		return e.export(ctx, p, limit)
	case plan.Import:
		return Sampled(p, limit), nil
	}
	return Result{}, errs.E(errs.KindEngine, "preview", string(p.Direction), nil)
}

func (e *Engine) export(ctx context.Context, p plan.TransferPlan, limit int) (Result, error) {
	q, err := p.Query(limit)
	if err != nil {
		return Result{}, errs.E(errs.KindEngine, "preview", p.Table, err)
	}
	lease, err := e.conn.Acquire(ctx, p.SessionID)
	if err != nil {
		return Result{}, err
	}
	defer lease.Release()

	fail := func(err error) (Result, error) {
		return Result{}, errs.Translate(errs.KindEngine, "preview", p.Table, lease.Wrap("preview", err))
	}

	cur, err := lease.Client.Query(lease.Ctx, q)
	if err != nil {
		return fail(err)
	}
	defer cur.Close()

	res := Result{Columns: p.Header(), Rows: make([]Row, 0, limit)}
	for len(res.Rows) < limit && cur.Next() {
		vals, err := cur.Values()
		if err != nil {
			return fail(err)
		}
		row := make(Row, len(p.Output))
		for i, col := range p.Output {
			row[col.Name] = schema.Scalar(vals[i], col.Type)
		}
		res.Rows = append(res.Rows, row)
	}
	if err := cur.Err(); err != nil {
		return fail(err)
	}

	e.log.Debug().
		Str("session", lease.Session.ID).
		Str("table", p.Table).
		Int("rows", len(res.Rows)).
		Msg("export preview")
	return res, nil
}

// Sampled builds a preview from an import plan's sample rows without any I/O.
// Cells are typed by the inferred schema; a cell that does not coerce is
// shown as its raw text.
func Sampled(p plan.TransferPlan, limit int) Result {
	if limit <= 0 {
		limit = DefaultCap
	}
	res := Result{Columns: p.Header(), Rows: make([]Row, 0, min(limit, len(p.Sample)))}
	for _, rec := range p.Sample {
		if len(res.Rows) == limit {
			break
		}
		row := make(Row, len(p.Schema))
		for i, col := range p.Schema {
			if i >= len(rec) {
				break
			}
			v, err := schema.Coerce(rec[i], col)
			if err != nil {
				row[col.Name] = rec[i]
				continue
			}
			row[col.Name] = schema.Scalar(v, col.Type)
		}
		res.Rows = append(res.Rows, row)
	}
	return res
}

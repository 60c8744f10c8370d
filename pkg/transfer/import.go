package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ruslano69/whbridge/pkg/csvinfer"
	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/plan"
	"github.com/ruslano69/whbridge/pkg/retry"
	"github.com/ruslano69/whbridge/pkg/schema"
)

type batch struct {
	rows   [][]any
	offset int64
}

// rejects collects coercion failures of one import.
type rejects struct {
	count int64
	rows  []RowError
	dlq   *retry.DLQ
}

func (r *rejects) add(id string, rowErr RowError, record []string) error {
	r.count++
	if len(r.rows) < maxReportedRows {
		r.rows = append(r.rows, rowErr)
	}
	if r.dlq == nil {
		return nil
	}
	return r.dlq.Add(retry.DLQEntry{
		ID:     fmt.Sprintf("%s:%d", id, rowErr.Line),
		Reason: rowErr.Reason,
		Data:   map[string]any{"line": rowErr.Line, "column": rowErr.Column, "value": rowErr.Value, "record": record},
	})
}

func (r *rejects) detail() *ErrorDetail {
	if r.count == 0 {
		return nil
	}
	return &ErrorDetail{
		Kind:    errs.KindCoercion,
		Message: fmt.Sprintf("%d rows rejected", r.count),
		Rows:    r.rows,
	}
}

// runImport streams the source CSV into the target table in batches.
// Rows that fail coercion are rejected individually; once more than
// MaxErrors are rejected the transfer fails. Committed batches stay.
func (e *Engine) runImport(ctx context.Context, j *job) (Result, error) {
	p := j.plan
	cols, err := e.prepareTarget(ctx, j)
	if err != nil {
		return Result{}, err
	}

	rc, err := p.Source.Open()
	if err != nil {
		return Result{}, &csvinfer.ParseError{Err: csvinfer.ErrMalformed, Detail: err.Error()}
	}
	defer rc.Close()
	r, err := csvinfer.NewReader(rc)
	if err != nil {
		return Result{}, err
	}
	names := r.Header()
	if err := matchHeader(names, cols); err != nil {
		return Result{}, err
	}

	rej := &rejects{}
	if e.opts.RejectsDir != "" {
		path := filepath.Join(e.opts.RejectsDir, j.handle.id+".json")
		dlq, err := retry.NewDLQ(path, 0)
		if err != nil {
			j.log.Warn().Err(err).Msg("rejected rows will not be kept")
		} else {
			rej.dlq = dlq
			defer func() {
				if err := dlq.Close(); err != nil {
					j.log.Warn().Err(err).Str("path", path).Msg("closing rejects file")
				}
			}()
		}
	}

	var committed atomic.Int64
	tick := newTicker(j.handle, e.opts.ProgressInterval, p.Source.Size())
	batches := make(chan batch, 2)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(batches)
		cur := batch{rows: make([][]any, 0, e.opts.BatchSize)}
		flush := func() error {
			if len(cur.rows) == 0 {
				return nil
			}
			cur.offset = r.Offset()
			select {
			case batches <- cur:
			case <-gctx.Done():
				return gctx.Err()
			}
			cur = batch{rows: make([][]any, 0, e.opts.BatchSize)}
			return nil
		}
		for {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, line, err := r.Read()
			if errors.Is(err, io.EOF) {
				return flush()
			}
			if err != nil {
				return err
			}
			row, rowErr := coerceRow(rec, cols, line)
			if rowErr != nil {
				if err := rej.add(j.handle.id, *rowErr, rec); err != nil {
					j.log.Warn().Err(err).Msg("writing rejected row")
				}
				if e.opts.MaxErrors >= 0 && rej.count > int64(e.opts.MaxErrors) {
					return errs.E(errs.KindCoercion, "import", p.Table,
						fmt.Errorf("%d rows rejected, limit is %d", rej.count, e.opts.MaxErrors))
				}
				continue
			}
			cur.rows = append(cur.rows, row)
			if len(cur.rows) >= e.opts.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		for b := range batches {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := e.retryer.Do(gctx, func(ctx context.Context) error {
				return j.lease.Client.InsertBatch(ctx, p.Table, names, b.rows)
			})
			if err != nil {
				return fmt.Errorf("insert into %s: %w", p.Table, err)
			}
			n := committed.Add(int64(len(b.rows)))
			tick.bytes(b.offset, n)
		}
		return nil
	})

	err = g.Wait()
	res := Result{RecordsProcessed: committed.Load(), Rejected: rej.count, Error: rej.detail()}
	if err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	res.Message = fmt.Sprintf("imported %d rows into %s", res.RecordsProcessed, p.Table)
	if rej.count > 0 {
		res.Message += fmt.Sprintf(", %d rejected", rej.count)
	}
	return res, nil
}

// prepareTarget creates the table from the inferred schema when it is
// missing, or checks every CSV column against the declared columns.
func (e *Engine) prepareTarget(ctx context.Context, j *job) ([]schema.ColumnSchema, error) {
	p := j.plan
	client := j.lease.Client
	exists, err := client.TableExists(ctx, p.Table)
	if err != nil {
		return nil, fmt.Errorf("check table %s: %w", p.Table, err)
	}
	if !exists {
		if err := client.CreateTable(ctx, p.Table, p.Schema); err != nil {
			return nil, fmt.Errorf("create table %s: %w", p.Table, err)
		}
		j.log.Info().Int("columns", len(p.Schema)).Msg("created target table")
		return p.Schema, nil
	}

	declared, err := client.DescribeTable(ctx, p.Table)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", p.Table, err)
	}
	ts := schema.TableSchema{Name: p.Table, Columns: declared}
	cols := make([]schema.ColumnSchema, len(p.Schema))
	for i, c := range p.Schema {
		d, ok := ts.Column(c.Name)
		if !ok {
			return nil, &plan.ValidationError{Check: plan.CheckColumn, Name: c.Name, Reason: "not a column of " + p.Table}
		}
		cols[i] = d
	}
	return cols, nil
}

// matchHeader checks the file still has the columns the plan was built from.
func matchHeader(header []string, cols []schema.ColumnSchema) error {
	if len(header) != len(cols) {
		return &csvinfer.ParseError{Line: 1, Err: csvinfer.ErrRaggedRow,
			Detail: fmt.Sprintf("header has %d columns, plan has %d", len(header), len(cols))}
	}
	for i, name := range header {
		if name != cols[i].Name {
			return &csvinfer.ParseError{Line: 1, Column: name, Err: csvinfer.ErrMalformed,
				Detail: fmt.Sprintf("expected column %q", cols[i].Name)}
		}
	}
	return nil
}

func coerceRow(rec []string, cols []schema.ColumnSchema, line int) ([]any, *RowError) {
	row := make([]any, len(cols))
	for i, c := range cols {
		v, err := schema.Coerce(rec[i], c)
		if err != nil {
			reason := err.Error()
			var ce *schema.CoercionError
			if errors.As(err, &ce) {
				reason = ce.Reason
			}
			return nil, &RowError{Line: line, Column: c.Name, Value: rec[i], Reason: reason}
		}
		row[i] = v
	}
	return row, nil
}

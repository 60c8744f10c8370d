package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/ruslano69/whbridge/pkg/artifact"
	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/schema"
)

// runExport streams the full query into a partial artifact. Rows flow
// through a bounded channel so a slow disk throttles the cursor.
func (e *Engine) runExport(ctx context.Context, j *job) (Result, error) {
	p := j.plan
	client := j.lease.Client
	q, err := p.Query(0)
	if err != nil {
		return Result{}, err
	}

	total, err := client.Count(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		j.log.Warn().Err(err).Msg("row count unavailable, progress is estimated")
		total = -1
	}

	opts := e.opts.Artifact
	opts.Types = make([]schema.LogicalType, 0, len(p.Output))
	opts.Sheet = p.Table
	for _, c := range p.Output {
		opts.Types = append(opts.Types, c.Type)
	}
	file, err := artifact.Create(e.opts.ArtifactDir, j.handle.id, opts)
	if err != nil {
		return Result{}, errs.E(errs.KindEngine, "export", p.Table, err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := file.Discard(); err != nil {
				j.log.Warn().Err(err).Msg("discarding partial artifact")
			}
		}
	}()
	if err := file.WriteHeader(p.Header()); err != nil {
		return Result{}, errs.E(errs.KindEngine, "export", p.Table, err)
	}

	tick := newTicker(j.handle, e.opts.ProgressInterval, total)
	rows := make(chan []any, e.opts.ChannelBuffer)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(rows)
		cur, err := client.Query(gctx, q)
		if err != nil {
			return fmt.Errorf("query %s: %w", p.Table, err)
		}
		defer cur.Close()
		for cur.Next() {
			vals, err := cur.Values()
			if err != nil {
				return err
			}
			row := make([]any, len(vals))
			copy(row, vals)
			select {
			case rows <- row:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return cur.Err()
	})

	g.Go(func() error {
		for row := range rows {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := file.WriteRow(row); err != nil {
				return errs.E(errs.KindEngine, "export", p.Table, err)
			}
			tick.rows(file.Rows())
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Result{RecordsProcessed: file.Rows()}, err
	}
	// a cancel that lands after the last row still fails the transfer
	if err := ctx.Err(); err != nil {
		return Result{RecordsProcessed: file.Rows()}, err
	}

	info, err := file.Commit()
	if err != nil {
		return Result{RecordsProcessed: file.Rows()}, errs.E(errs.KindEngine, "export", p.Table, err)
	}
	committed = true

	loc, err := e.opts.Store.Put(ctx, info)
	if err != nil {
		// a failed transfer leaves no artifact behind
		if rmErr := os.Remove(info.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			j.log.Warn().Err(rmErr).Str("path", info.Path).Msg("removing unstored artifact")
		}
		return Result{RecordsProcessed: info.Rows}, errs.E(errs.KindEngine, "export", p.Table, err)
	}
	info.Location = loc
	return Result{
		RecordsProcessed: info.Rows,
		Artifact:         &info,
		Message:          fmt.Sprintf("exported %d rows to %s", info.Rows, loc),
	}, nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ruslano69/whbridge/pkg/csvinfer"
	"github.com/ruslano69/whbridge/pkg/engine"
	"github.com/ruslano69/whbridge/pkg/plan"
	"github.com/ruslano69/whbridge/pkg/preview"
	"github.com/ruslano69/whbridge/pkg/schema"
	"github.com/ruslano69/whbridge/pkg/transfer"
)

type cli struct {
	engine *engine.Engine
	out    io.Writer
	errOut io.Writer
}

func (c *cli) tables(ctx context.Context, refresh bool) error {
	tables, err := c.engine.ListTables(ctx, "", refresh)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		fmt.Fprintln(c.out, "No tables found")
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tCOLUMNS")
	for _, t := range tables {
		fmt.Fprintf(tw, "%s\t%d\n", t.Name, len(t.Columns))
	}
	return tw.Flush()
}

func (c *cli) describe(ctx context.Context, table string, refresh bool) error {
	ts, err := c.engine.DescribeTable(ctx, "", table, refresh)
	if err != nil {
		return err
	}
	printSchema(c.out, ts.Columns)
	return nil
}

func printSchema(w io.Writer, cols []schema.ColumnSchema) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tTYPE\tNULLABLE\tNATIVE")
	for _, col := range cols {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", col.Name, col.Type, col.Nullable, col.NativeType)
	}
	tw.Flush()
}

func printPreview(w io.Writer, res preview.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, name := range res.Columns {
			if v := row[name]; v != nil {
				cells[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
	fmt.Fprintf(w, "(%d rows)\n", len(res.Rows))
}

func (c *cli) export(ctx context.Context, f *Flags) error {
	join, err := joinSpec(*f.Join, *f.JoinKind, *f.On)
	if err != nil {
		return err
	}
	p, err := c.engine.BuildExportPlan(ctx, "", *f.Export, splitList(*f.Columns), join)
	if err != nil {
		return err
	}
	if *f.Preview {
		res, err := c.engine.PreviewExport(ctx, p, 0)
		if err != nil {
			return err
		}
		printPreview(c.out, res)
		return nil
	}

	h, err := c.engine.ExportToArtifact(ctx, p)
	if err != nil {
		return err
	}
	res, err := c.follow(ctx, h)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Exported %d rows to %s\n", res.RecordsProcessed, res.Artifact.Location)
	fmt.Fprintf(c.out, "  checksum xxh3:%s, %d bytes\n", res.Artifact.Checksum, res.Artifact.Size)
	return nil
}

func (c *cli) importFile(ctx context.Context, f *Flags) error {
	src := csvinfer.FileSource{Path: *f.Import}
	if *f.Preview {
		ip, err := c.engine.PreviewImport(ctx, src, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Suggested table: %s\n\n", ip.SuggestedTable)
		printSchema(c.out, ip.Schema)
		fmt.Fprintln(c.out)
		printPreview(c.out, ip.Preview)
		return nil
	}

	table := *f.Table
	if table == "" {
		table = plan.SuggestTableName(src.Name())
	}
	h, err := c.engine.ImportFromFile(ctx, "", src, table)
	if err != nil {
		return err
	}
	res, err := c.follow(ctx, h)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Imported %d rows into %s\n", res.RecordsProcessed, table)
	if res.Rejected > 0 {
		fmt.Fprintf(c.out, "  %d rows rejected:\n", res.Rejected)
		for _, r := range res.Error.Rows {
			fmt.Fprintf(c.out, "    line %d column %s %q: %s\n", r.Line, r.Column, r.Value, r.Reason)
		}
	}
	return nil
}

// follow prints progress to stderr until the transfer ends. Interrupting
// the command cancels the transfer.
func (c *cli) follow(ctx context.Context, h *transfer.Handle) (transfer.Result, error) {
	stop := context.AfterFunc(ctx, h.Cancel)
	defer stop()

	last := -1
	for p := range h.Progress() {
		if p.Percent != last {
			fmt.Fprintf(c.errOut, "\r%3d%%  %d rows", p.Percent, p.Rows)
			last = p.Percent
		}
	}
	fmt.Fprintln(c.errOut)

	res, err := h.Result(context.WithoutCancel(ctx))
	if err != nil {
		return res, err
	}
	if !res.Success {
		if res.Error != nil {
			return res, fmt.Errorf("%s: %s", res.Message, res.Error.Message)
		}
		return res, fmt.Errorf("%s", res.Message)
	}
	return res, nil
}

package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/ruslano69/whbridge/pkg/plan"
)

// Flags holds all command-line flags
type Flags struct {
	// Commands
	Tables   *bool
	Describe *string
	Export   *string
	Import   *string

	// Export shape
	Columns  *string
	Join     *string
	JoinKind *string
	On       *string

	// Options
	Config   *string
	Table    *string
	Output   *string
	Format   *string
	Compress *bool
	Preview  *bool
	Limit    *int
	Refresh  *bool

	// Misc
	Version *bool
	Help    *bool
}

// ParseFlags defines and parses all command-line flags
func ParseFlags(args []string) (*Flags, error) {
	fs := flag.NewFlagSet("whbridge", flag.ContinueOnError)
	f := &Flags{
		Tables:   fs.Bool("tables", false, "List warehouse tables"),
		Describe: fs.String("describe", "", "Describe a table"),
		Export:   fs.String("export", "", "Export a table to a CSV artifact"),
		Import:   fs.String("import", "", "Import a CSV file"),

		Columns:  fs.String("columns", "", "Columns to export, comma-separated (table.column for joined ones)"),
		Join:     fs.String("join", "", "Second table to join"),
		JoinKind: fs.String("join-kind", "inner", "Join kind: inner, left, right, full"),
		On:       fs.String("on", "", "Join keys: left=right[,left=right]"),

		Config:   fs.String("config", "", "Configuration file"),
		Table:    fs.String("table", "", "Import target table (default: derived from the file name)"),
		Output:   fs.String("output", "", "Artifact directory (overrides engine.artifact_dir)"),
		Format:   fs.String("format", "", "Artifact format: csv or xlsx"),
		Compress: fs.Bool("compress", false, "Compress CSV artifacts with zstd"),
		Preview:  fs.Bool("preview", false, "Show a preview instead of transferring"),
		Limit:    fs.Int("limit", 0, "Preview row cap (default: engine.preview_cap)"),
		Refresh:  fs.Bool("refresh", false, "Bypass the schema cache"),

		Version: fs.Bool("version", false, "Show version"),
		Help:    fs.Bool("help", false, "Show help"),
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Flags) commandCount() int {
	n := 0
	for _, set := range []bool{*f.Tables, *f.Describe != "", *f.Export != "", *f.Import != ""} {
		if set {
			n++
		}
	}
	return n
}

// splitList splits a comma-separated flag, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// joinSpec builds the join of --join/--join-kind/--on, or nil without --join.
func joinSpec(table, kind, on string) (*plan.JoinSpec, error) {
	if table == "" {
		if on != "" {
			return nil, fmt.Errorf("--on requires --join")
		}
		return nil, nil
	}
	k, ok := plan.ParseJoinKind(kind)
	if !ok {
		return nil, fmt.Errorf("invalid --join-kind %q (inner, left, right, full)", kind)
	}
	spec := &plan.JoinSpec{Table: table, Kind: k}
	for _, pair := range splitList(on) {
		left, right, found := strings.Cut(pair, "=")
		left, right = strings.TrimSpace(left), strings.TrimSpace(right)
		if !found || left == "" || right == "" {
			return nil, fmt.Errorf("invalid --on pair %q, want left=right", pair)
		}
		spec.Keys = append(spec.Keys, plan.JoinKeyPair{Left: left, Right: right})
	}
	return spec, nil
}

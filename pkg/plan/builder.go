package plan

import (
	"context"
	"fmt"
	"strings"

	"github.com/ruslano69/whbridge/pkg/csvinfer"
	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/schema"
)

// SchemaSource resolves table schemas; *catalog.Catalog implements it.
type SchemaSource interface {
	Describe(ctx context.Context, sessionID, table string, refresh bool) (schema.TableSchema, error)
}

// Builder validates plans against a schema source.
type Builder struct {
	schemas SchemaSource
}

func NewBuilder(schemas SchemaSource) *Builder {
	return &Builder{schemas: schemas}
}

// BuildExportPlan validates, in order: the primary table, the column
// selection, then the join. The first failing check is returned.
func (b *Builder) BuildExportPlan(ctx context.Context, sessionID, primary string, columns []string, join *JoinSpec) (TransferPlan, error) {
	// (a) primary table
	if primary == "" {
		return TransferPlan{}, invalid(CheckPrimaryTable, "", "primary table is required")
	}
	primarySchema, err := b.lookup(ctx, sessionID, primary, CheckPrimaryTable)
	if err != nil {
		return TransferPlan{}, err
	}

	// The joined schema takes part in column resolution; its own checks
	// are reported after the column checks.
	var joined *schema.TableSchema
	var joinLookupErr error
	if join != nil && join.Table != "" {
		ts, err := b.lookup(ctx, sessionID, join.Table, CheckJoinTable)
		if err != nil {
			if errs.KindOf(err) != errs.KindValidation {
				return TransferPlan{}, err
			}
			joinLookupErr = err
		} else {
			joined = &ts
		}
	}

	// (b) column selection
	output, err := resolveColumns(primarySchema, joined, columns)
	if err != nil {
		return TransferPlan{}, err
	}

	// (c) join
	var joinCopy *JoinSpec
	if join != nil {
		if err := validateJoin(primarySchema, joined, join, joinLookupErr); err != nil {
			return TransferPlan{}, err
		}
		joinCopy = &JoinSpec{Table: join.Table, Kind: join.Kind, Keys: append([]JoinKeyPair(nil), join.Keys...)}
	}

	return TransferPlan{
		Direction: Export,
		SessionID: sessionID,
		Table:     primary,
		Columns:   append([]string(nil), columns...),
		Join:      joinCopy,
		Output:    output,
	}, nil
}

func (b *Builder) lookup(ctx context.Context, sessionID, table, check string) (schema.TableSchema, error) {
	ts, err := b.schemas.Describe(ctx, sessionID, table, false)
	if errs.KindOf(err) == errs.KindNotFound {
		return schema.TableSchema{}, invalid(check, table, "table does not exist")
	}
	return ts, err
}

func validateJoin(primary schema.TableSchema, joined *schema.TableSchema, join *JoinSpec, lookupErr error) error {
	if join.Table == "" {
		return invalid(CheckJoinTable, "", "join table is required")
	}
	if lookupErr != nil {
		return lookupErr
	}
	if join.Table == primary.Name {
		return invalid(CheckJoinSelf, join.Table, "join table must differ from the primary table")
	}
	if !join.Kind.Valid() {
		return invalid(CheckJoinKind, string(join.Kind), "join kind must be one of inner, left, right, full")
	}
	if len(join.Keys) == 0 {
		return invalid(CheckJoinKeys, join.Table, "at least one key pair is required")
	}
	for _, k := range join.Keys {
		if !primary.Has(k.Left) {
			return invalid(CheckJoinLeftKey, k.Left, "not a column of %s", primary.Name)
		}
		if !joined.Has(k.Right) {
			return invalid(CheckJoinRightKey, k.Right, "not a column of %s", joined.Name)
		}
	}
	return nil
}

type selected struct {
	table  string
	column schema.ColumnSchema
}

// resolveColumns maps selection items to owning tables and assigns unique
// output names. Bare names prefer the primary table; "table.column" picks a
// side explicitly. Primary columns come first, then joined columns, each in
// selection order. A joined name that collides gets a "_<table>" suffix.
func resolveColumns(primary schema.TableSchema, joined *schema.TableSchema, columns []string) ([]OutputColumn, error) {
	if len(columns) == 0 {
		return nil, invalid(CheckColumns, "", "column selection is empty")
	}

	var fromPrimary, fromJoined []selected
	seen := make(map[string]struct{}, len(columns))
	for _, item := range columns {
		sel, err := resolveOne(primary, joined, item)
		if err != nil {
			return nil, err
		}
		key := sel.table + "." + sel.column.Name
		if _, dup := seen[key]; dup {
			return nil, invalid(CheckColumn, item, "selected more than once")
		}
		seen[key] = struct{}{}
		if sel.table == primary.Name {
			fromPrimary = append(fromPrimary, sel)
		} else {
			fromJoined = append(fromJoined, sel)
		}
	}

	used := make(map[string]struct{}, len(columns))
	output := make([]OutputColumn, 0, len(columns))
	for _, sel := range append(fromPrimary, fromJoined...) {
		name := sel.column.Name
		if _, taken := used[name]; taken {
			name = uniqueName(used, sel.column.Name+"_"+sel.table)
		}
		used[name] = struct{}{}
		output = append(output, OutputColumn{
			Name:   name,
			Table:  sel.table,
			Column: sel.column.Name,
			Type:   sel.column.Type,
		})
	}
	return output, nil
}

func resolveOne(primary schema.TableSchema, joined *schema.TableSchema, item string) (selected, error) {
	if item == "" {
		return selected{}, invalid(CheckColumn, item, "column name is empty")
	}
	if table, col, ok := strings.Cut(item, "."); ok {
		var ts *schema.TableSchema
		switch {
		case table == primary.Name:
			ts = &primary
		case joined != nil && table == joined.Name:
			ts = joined
		default:
			return selected{}, invalid(CheckColumn, item, "table %q is not part of the plan", table)
		}
		c, found := ts.Column(col)
		if !found {
			return selected{}, invalid(CheckColumn, item, "not a column of %s", table)
		}
		return selected{table: ts.Name, column: c}, nil
	}

	if c, found := primary.Column(item); found {
		return selected{table: primary.Name, column: c}, nil
	}
	if joined != nil {
		if c, found := joined.Column(item); found {
			return selected{table: joined.Name, column: c}, nil
		}
		return selected{}, invalid(CheckColumn, item, "not a column of %s or %s", primary.Name, joined.Name)
	}
	return selected{}, invalid(CheckColumn, item, "not a column of %s", primary.Name)
}

func uniqueName(used map[string]struct{}, base string) string {
	if _, taken := used[base]; !taken {
		return base
	}
	for i := 2; ; i++ {
		name := fmt.Sprintf("%s_%d", base, i)
		if _, taken := used[name]; !taken {
			return name
		}
	}
}

// BuildImportPlan validates an import of src into target using the
// inferred column schema and sampled rows.
func BuildImportPlan(target string, inferred []schema.ColumnSchema, src csvinfer.Source, sample [][]string) (TransferPlan, error) {
	if target == "" {
		return TransferPlan{}, invalid(CheckTargetTable, "", "target table name is required")
	}
	if !schema.ValidIdentifier(target) {
		return TransferPlan{}, invalid(CheckTargetTable, target, "must contain only letters, digits and underscore and not start with a digit")
	}
	if len(inferred) == 0 {
		return TransferPlan{}, invalid(CheckSchema, target, "inferred schema has no columns")
	}
	if src == nil {
		return TransferPlan{}, invalid(CheckSource, target, "source file is required")
	}
	rows := make([][]string, len(sample))
	for i, r := range sample {
		rows[i] = append([]string(nil), r...)
	}
	return TransferPlan{
		Direction: Import,
		Table:     target,
		Source:    src,
		Schema:    append([]schema.ColumnSchema(nil), inferred...),
		Sample:    rows,
	}, nil
}

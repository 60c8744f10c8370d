package plan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/whbridge/pkg/csvinfer"
	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/schema"
	"github.com/ruslano69/whbridge/pkg/warehouse"
)

type fakeSchemas map[string]schema.TableSchema

func (f fakeSchemas) Describe(_ context.Context, _ string, table string, _ bool) (schema.TableSchema, error) {
	ts, ok := f[table]
	if !ok {
		return schema.TableSchema{}, errs.E(errs.KindNotFound, "describeTable", table, nil)
	}
	return ts, nil
}

var testSchemas = fakeSchemas{
	"orders": {Name: "orders", Columns: []schema.ColumnSchema{
		{Name: "id", Type: schema.String},
		{Name: "total", Type: schema.Float64},
		{Name: "customer_id", Type: schema.Int64},
		{Name: "region", Type: schema.String},
	}},
	"customers": {Name: "customers", Columns: []schema.ColumnSchema{
		{Name: "id", Type: schema.Int64},
		{Name: "name", Type: schema.String},
		{Name: "region", Type: schema.String},
	}},
}

func build(t *testing.T, primary string, cols []string, join *JoinSpec) (TransferPlan, error) {
	t.Helper()
	return NewBuilder(testSchemas).BuildExportPlan(context.Background(), "s1", primary, cols, join)
}

func requireValidation(t *testing.T, err error, check, name string) {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	assert.Equal(t, check, ve.Check)
	assert.Equal(t, name, ve.Name)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestBuildExportPlanSimple(t *testing.T) {
	p, err := build(t, "orders", []string{"id", "total"}, nil)
	require.NoError(t, err)
	assert.Equal(t, Export, p.Direction)
	assert.Equal(t, "s1", p.SessionID)
	assert.Equal(t, []string{"id", "total"}, p.Header())
	assert.Equal(t, schema.Float64, p.Output[1].Type)

	q, err := p.Query(3)
	require.NoError(t, err)
	assert.Equal(t, warehouse.SelectQuery{
		From:    "orders",
		Columns: []warehouse.ColumnRef{{Table: "orders", Name: "id", Alias: "id"}, {Table: "orders", Name: "total", Alias: "total"}},
		Limit:   3,
	}, q)
}

func TestBuildExportPlanFailures(t *testing.T) {
	keys := []JoinKeyPair{{Left: "customer_id", Right: "id"}}
	tests := []struct {
		name    string
		primary string
		cols    []string
		join    *JoinSpec
		check   string
		ident   string
	}{
		{"unknown primary", "invoices", []string{"id"}, nil, CheckPrimaryTable, "invoices"},
		{"empty selection", "orders", []string{}, nil, CheckColumns, ""},
		{"nil selection", "orders", nil, nil, CheckColumns, ""},
		{"unknown column", "orders", []string{"id", "amount"}, nil, CheckColumn, "amount"},
		{"joined column without join", "orders", []string{"name"}, nil, CheckColumn, "name"},
		{"duplicate column", "orders", []string{"id", "orders.id"}, nil, CheckColumn, "orders.id"},
		{"qualified foreign table", "orders", []string{"payments.id"}, nil, CheckColumn, "payments.id"},
		{"column check before join check", "orders", []string{"missing"}, &JoinSpec{Table: "nope", Kind: JoinInner, Keys: keys}, CheckColumn, "missing"},
		{"unknown join table", "orders", []string{"id"}, &JoinSpec{Table: "nope", Kind: JoinInner, Keys: keys}, CheckJoinTable, "nope"},
		{"empty join table", "orders", []string{"id"}, &JoinSpec{Kind: JoinInner, Keys: keys}, CheckJoinTable, ""},
		{"self join", "orders", []string{"id"}, &JoinSpec{Table: "orders", Kind: JoinInner, Keys: keys}, CheckJoinSelf, "orders"},
		{"bad kind", "orders", []string{"id"}, &JoinSpec{Table: "customers", Kind: "cross", Keys: keys}, CheckJoinKind, "cross"},
		{"no key pairs", "orders", []string{"id"}, &JoinSpec{Table: "customers", Kind: JoinLeft}, CheckJoinKeys, "customers"},
		{"bad left key", "orders", []string{"id"}, &JoinSpec{Table: "customers", Kind: JoinLeft, Keys: []JoinKeyPair{{Left: "name", Right: "id"}}}, CheckJoinLeftKey, "name"},
		{"bad right key", "orders", []string{"id"}, &JoinSpec{Table: "customers", Kind: JoinLeft, Keys: []JoinKeyPair{{Left: "customer_id", Right: "customer_id"}}}, CheckJoinRightKey, "customer_id"},
		{"second pair invalid", "orders", []string{"id"}, &JoinSpec{Table: "customers", Kind: JoinFull, Keys: []JoinKeyPair{{Left: "customer_id", Right: "id"}, {Left: "region", Right: "zone"}}}, CheckJoinRightKey, "zone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := build(t, tt.primary, tt.cols, tt.join)
			requireValidation(t, err, tt.check, tt.ident)
		})
	}
}

func TestBuildExportPlanJoin(t *testing.T) {
	join := &JoinSpec{Table: "customers", Kind: JoinLeft, Keys: []JoinKeyPair{
		{Left: "customer_id", Right: "id"},
		{Left: "region", Right: "region"},
	}}
	p, err := build(t, "orders", []string{"name", "id", "customers.id", "total", "customers.region", "region"}, join)
	require.NoError(t, err)

	// primary columns first in selection order, then joined ones; collisions suffixed
	assert.Equal(t, []string{"id", "total", "region", "name", "id_customers", "region_customers"}, p.Header())
	assert.Equal(t, "customers", p.Output[4].Table)
	assert.Equal(t, "id", p.Output[4].Column)
	assert.Equal(t, schema.Int64, p.Output[4].Type)

	q, err := p.Query(0)
	require.NoError(t, err)
	require.NotNil(t, q.Join)
	assert.Equal(t, warehouse.JoinLeft, q.Join.Kind)
	assert.Equal(t, []warehouse.KeyPair{{Left: "customer_id", Right: "id"}, {Left: "region", Right: "region"}}, q.Join.On)

	// the caller's join spec is not aliased by the plan
	join.Keys[0].Left = "changed"
	assert.Equal(t, "customer_id", p.Join.Keys[0].Left)
}

func TestBuildExportPlanDeterministic(t *testing.T) {
	join := &JoinSpec{Table: "customers", Kind: JoinInner, Keys: []JoinKeyPair{{Left: "customer_id", Right: "id"}}}
	cols := []string{"customers.id", "id", "name"}
	a, err := build(t, "orders", cols, join)
	require.NoError(t, err)
	b, err := build(t, "orders", cols, join)
	require.NoError(t, err)
	assert.Equal(t, a.Header(), b.Header())
	assert.Equal(t, []string{"id", "id_customers", "name"}, a.Header())
}

func TestRemovingLastKeyPairFailsOnSubmit(t *testing.T) {
	join := &JoinSpec{Table: "customers", Kind: JoinInner, Keys: []JoinKeyPair{{Left: "customer_id", Right: "id"}}}
	_, err := build(t, "orders", []string{"id"}, join)
	require.NoError(t, err)

	join.Keys = join.Keys[:0]
	_, err = build(t, "orders", []string{"id"}, join)
	requireValidation(t, err, CheckJoinKeys, "customers")
}

func TestBuildExportPlanPassesThroughSessionErrors(t *testing.T) {
	failing := schemaFunc(func(string) (schema.TableSchema, error) {
		return schema.TableSchema{}, errs.E(errs.KindNoSession, "acquire", "", nil)
	})
	_, err := NewBuilder(failing).BuildExportPlan(context.Background(), "", "orders", []string{"id"}, nil)
	assert.Equal(t, errs.KindNoSession, errs.KindOf(err))
}

type schemaFunc func(string) (schema.TableSchema, error)

func (f schemaFunc) Describe(_ context.Context, _ string, table string, _ bool) (schema.TableSchema, error) {
	return f(table)
}

func TestParseJoinKind(t *testing.T) {
	tests := []struct {
		in   string
		want JoinKind
		ok   bool
	}{
		{"INNER", JoinInner, true},
		{"left", JoinLeft, true},
		{"Right", JoinRight, true},
		{"FULL", JoinFull, true},
		{"full_outer", JoinFull, true},
		{"cross", JoinKind("cross"), false},
	}
	for _, tt := range tests {
		got, ok := ParseJoinKind(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseJoinKind(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBuildImportPlan(t *testing.T) {
	cols := []schema.ColumnSchema{{Name: "id", Type: schema.Int64, Nullable: true}}
	src := csvinfer.FileSource{Path: "/tmp/data.csv"}

	p, err := BuildImportPlan("sales_2024", cols, src, [][]string{{"1"}})
	require.NoError(t, err)
	assert.Equal(t, Import, p.Direction)
	assert.Equal(t, []string{"id"}, p.Header())
	_, err = p.Query(3)
	assert.Error(t, err)

	tests := []struct {
		name   string
		target string
		cols   []schema.ColumnSchema
		src    csvinfer.Source
		check  string
	}{
		{"empty target", "", cols, src, CheckTargetTable},
		{"leading digit", "2024_sales", cols, src, CheckTargetTable},
		{"dash", "sales-2024", cols, src, CheckTargetTable},
		{"injection", "t; DROP TABLE x", cols, src, CheckTargetTable},
		{"no columns", "sales", nil, src, CheckSchema},
		{"no source", "sales", cols, nil, CheckSource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildImportPlan(tt.target, tt.cols, tt.src, nil)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.check, ve.Check)
		})
	}
}

func TestSuggestTableName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"orders.csv", "orders"},
		{"Sales Q1-2024.CSV", "sales_q1_2024"},
		{"/uploads/My Data.csv", "my_data"},
		{"2024.csv", "t_2024"},
		{".csv", "imported"},
		{"report.tsv", "report_tsv"},
	}
	for _, tt := range tests {
		got := SuggestTableName(tt.in)
		if got != tt.want {
			t.Errorf("SuggestTableName(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if !schema.ValidIdentifier(got) {
			t.Errorf("SuggestTableName(%q) = %q is not a valid identifier", tt.in, got)
		}
	}
}

package warehouse

import (
	"fmt"
	"strings"

	"github.com/ruslano69/whbridge/pkg/schema"
)

// BuildSelect renders q for dialect d. Every column is table-qualified and
// aliased to its output name so joined results stay unambiguous.
func BuildSelect(d Dialect, q SelectQuery) (string, error) {
	if q.From == "" {
		return "", fmt.Errorf("select: no source table")
	}
	if len(q.Columns) == 0 {
		return "", fmt.Errorf("select: no columns")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	for i, c := range q.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		table := c.Table
		if table == "" {
			table = q.From
		}
		sb.WriteString(d.QuoteIdentifier(table))
		sb.WriteByte('.')
		sb.WriteString(d.QuoteIdentifier(c.Name))
		alias := c.Alias
		if alias == "" {
			alias = c.Name
		}
		sb.WriteString(" AS ")
		sb.WriteString(d.QuoteIdentifier(alias))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(d.QuoteIdentifier(q.From))

	if j := q.Join; j != nil {
		if len(j.On) == 0 {
			return "", fmt.Errorf("select: join with %q has no key pairs", j.Table)
		}
		if !d.SupportsJoin(j.Kind) {
			return "", fmt.Errorf("select: %s does not support %s", d.Name(), j.Kind)
		}
		fmt.Fprintf(&sb, " %s %s ON ", j.Kind, d.QuoteIdentifier(j.Table))
		for i, k := range j.On {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			fmt.Fprintf(&sb, "%s.%s = %s.%s",
				d.QuoteIdentifier(q.From), d.QuoteIdentifier(k.Left),
				d.QuoteIdentifier(j.Table), d.QuoteIdentifier(k.Right))
		}
	}

	query := sb.String()
	if q.Limit > 0 {
		query = d.Limit(query, q.Limit)
	}
	return query, nil
}

// BuildCount wraps the unbounded form of q in a row count.
func BuildCount(d Dialect, q SelectQuery) (string, error) {
	q.Limit = 0
	inner, err := BuildSelect(d, q)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS %s", inner, d.QuoteIdentifier("q")), nil
}

// BuildCreateTable renders CREATE TABLE from a column list.
func BuildCreateTable(d Dialect, table string, cols []schema.ColumnSchema) (string, error) {
	if len(cols) == 0 {
		return "", fmt.Errorf("create table %q: no columns", table)
	}
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = d.QuoteIdentifier(c.Name) + " " + d.ColumnType(c)
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", d.QuoteIdentifier(table), strings.Join(defs, ", "))
	if suffix := d.CreateTableSuffix(); suffix != "" {
		stmt += " " + suffix
	}
	return stmt, nil
}

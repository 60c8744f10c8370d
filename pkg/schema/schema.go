// Package schema models warehouse tables and the logical column types the
// engine understands, and converts values between CSV text and typed values.
package schema

import "fmt"

// ColumnSchema describes one column. NativeType keeps the warehouse spelling
// (e.g. "Nullable(UInt32)") for display.
type ColumnSchema struct {
	Name       string      `json:"name"`
	Type       LogicalType `json:"type"`
	Nullable   bool        `json:"nullable"`
	NativeType string      `json:"native_type,omitempty"`
}

// TableSchema is an ordered column list in warehouse-reported order.
type TableSchema struct {
	Name    string         `json:"name"`
	Columns []ColumnSchema `json:"columns"`
}

// Column looks a column up by exact name.
func (t TableSchema) Column(name string) (ColumnSchema, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSchema{}, false
}

// Has reports whether the table has a column called name.
func (t TableSchema) Has(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// Names returns column names in order.
func (t TableSchema) Names() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Validate checks that the table is named, has columns and that column names are unique.
func (t TableSchema) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %q has no columns", t.Name)
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("table %q has an unnamed column", t.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("table %q: duplicate column %q", t.Name, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

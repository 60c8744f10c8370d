// Package plan composes and validates transfer plans: an export query over
// one table with an optional join, or an import of a CSV file into a table.
package plan

import (
	"fmt"
	"strings"

	"github.com/ruslano69/whbridge/pkg/csvinfer"
	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/schema"
	"github.com/ruslano69/whbridge/pkg/warehouse"
)

// Direction of a transfer.
type Direction string

const (
	Export Direction = "export"
	Import Direction = "import"
)

// JoinKind is one of the four supported joins.
type JoinKind string

const (
	JoinInner JoinKind = "inner"
	JoinLeft  JoinKind = "left"
	JoinRight JoinKind = "right"
	JoinFull  JoinKind = "full"
)

// ParseJoinKind accepts the kinds case-insensitively, plus "full outer".
func ParseJoinKind(s string) (JoinKind, bool) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "_", " "))) {
	case "inner":
		return JoinInner, true
	case "left", "left outer":
		return JoinLeft, true
	case "right", "right outer":
		return JoinRight, true
	case "full", "full outer", "outer":
		return JoinFull, true
	}
	return JoinKind(s), false
}

// Valid reports whether k is one of the four kinds.
func (k JoinKind) Valid() bool {
	switch k {
	case JoinInner, JoinLeft, JoinRight, JoinFull:
		return true
	}
	return false
}

func (k JoinKind) sql() warehouse.JoinKind {
	switch k {
	case JoinLeft:
		return warehouse.JoinLeft
	case JoinRight:
		return warehouse.JoinRight
	case JoinFull:
		return warehouse.JoinFull
	}
	return warehouse.JoinInner
}

// JoinKeyPair is one equality condition: primary.Left = joined.Right.
type JoinKeyPair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// JoinSpec joins a second table to the primary one. Pairs are ANDed.
type JoinSpec struct {
	Table string        `json:"table"`
	Kind  JoinKind      `json:"kind"`
	Keys  []JoinKeyPair `json:"keys"`
}

// OutputColumn is one resolved export column.
type OutputColumn struct {
	Name   string             `json:"name"`
	Table  string             `json:"table"`
	Column string             `json:"column"`
	Type   schema.LogicalType `json:"type"`
}

// TransferPlan is a validated description of one transfer. Plans are values:
// the engine never mutates them.
type TransferPlan struct {
	Direction Direction `json:"direction"`
	// SessionID is the session the plan was validated against.
	SessionID string `json:"session_id,omitempty"`
	// Table is the primary table (export) or the target table (import).
	Table string `json:"table"`

	// Export only.
	Columns []string       `json:"columns,omitempty"`
	Join    *JoinSpec      `json:"join,omitempty"`
	Output  []OutputColumn `json:"output,omitempty"`

	// Import only.
	Source csvinfer.Source       `json:"-"`
	Schema []schema.ColumnSchema `json:"schema,omitempty"`
	Sample [][]string            `json:"-"`
}

// Header is the ordered list of output names.
func (p TransferPlan) Header() []string {
	if p.Direction == Import {
		names := make([]string, len(p.Schema))
		for i, c := range p.Schema {
			names[i] = c.Name
		}
		return names
	}
	names := make([]string, len(p.Output))
	for i, c := range p.Output {
		names[i] = c.Name
	}
	return names
}

// Query translates an export plan into a warehouse query. limit <= 0 is unbounded.
func (p TransferPlan) Query(limit int) (warehouse.SelectQuery, error) {
	if p.Direction != Export {
		return warehouse.SelectQuery{}, fmt.Errorf("plan for %s has no query", p.Direction)
	}
	q := warehouse.SelectQuery{From: p.Table, Limit: limit}
	for _, c := range p.Output {
		q.Columns = append(q.Columns, warehouse.ColumnRef{Table: c.Table, Name: c.Column, Alias: c.Name})
	}
	if p.Join != nil {
		j := &warehouse.Join{Table: p.Join.Table, Kind: p.Join.Kind.sql()}
		for _, k := range p.Join.Keys {
			j.On = append(j.On, warehouse.KeyPair{Left: k.Left, Right: k.Right})
		}
		q.Join = j
	}
	return q, nil
}

// ValidationError names the failed check and the offending identifier.
type ValidationError struct {
	Check  string
	Name   string
	Reason string
}

// Checks reported by ValidationError.Check.
const (
	CheckPrimaryTable = "primary_table"
	CheckColumns      = "columns"
	CheckColumn       = "column"
	CheckJoinTable    = "join_table"
	CheckJoinSelf     = "join_self"
	CheckJoinKind     = "join_kind"
	CheckJoinKeys     = "join_keys"
	CheckJoinLeftKey  = "join_left_key"
	CheckJoinRightKey = "join_right_key"
	CheckTargetTable  = "target_table"
	CheckSchema       = "schema"
	CheckSource       = "source"
)

func (e *ValidationError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Check, e.Reason)
	}
	return fmt.Sprintf("validation failed: %s %q: %s", e.Check, e.Name, e.Reason)
}

func (e *ValidationError) Kind() errs.Kind { return errs.KindValidation }

func invalid(check, name, format string, args ...any) *ValidationError {
	return &ValidationError{Check: check, Name: name, Reason: fmt.Sprintf(format, args...)}
}

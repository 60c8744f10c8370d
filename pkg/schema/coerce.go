package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ruslano69/whbridge/pkg/errs"
)

const DateLayout = "2006-01-02"

// DateTimeLayouts are tried in order when parsing date-time text.
// The space separated forms are what ClickHouse prints for DateTime.
var DateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
}

// CoercionError reports a CSV value that does not fit its column type.
type CoercionError struct {
	Column string
	Value  string
	Type   LogicalType
	Reason string
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("column %q: cannot convert %q to %s: %s", e.Column, e.Value, e.Type, e.Reason)
}

func (e *CoercionError) Kind() errs.Kind { return errs.KindCoercion }

// ParseDate parses an ISO 8601 calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// ParseDateTime parses an ISO 8601 date-time, with or without zone.
func ParseDateTime(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range DateTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// Coerce converts raw CSV text into the Go value the warehouse drivers expect
// for col. Integers keep their declared width so strict drivers accept them.
// Surrounding whitespace is ignored for every type except string, so a blank
// cell is NULL there.
func Coerce(raw string, col ColumnSchema) (any, error) {
	t := col.Type
	cell := raw
	if t.Tag != TagString {
		raw = strings.TrimSpace(raw)
	}
	if raw == "" && t.Tag != TagString {
		if !col.Nullable {
			return nil, &CoercionError{Column: col.Name, Value: cell, Type: t, Reason: "empty value for non-nullable column"}
		}
		return nil, nil
	}
	fail := func(reason string) error {
		return &CoercionError{Column: col.Name, Value: cell, Type: t, Reason: reason}
	}

	switch t.Tag {
	case TagString:
		return raw, nil
	case TagInteger:
		if t.Signed {
			v, err := strconv.ParseInt(raw, 10, int(t.Bits))
			if err != nil {
				return nil, fail(numErrReason(err))
			}
			switch t.Bits {
			case 8:
				return int8(v), nil
			case 16:
				return int16(v), nil
			case 32:
				return int32(v), nil
			}
			return v, nil
		}
		v, err := strconv.ParseUint(raw, 10, int(t.Bits))
		if err != nil {
			return nil, fail(numErrReason(err))
		}
		switch t.Bits {
		case 8:
			return uint8(v), nil
		case 16:
			return uint16(v), nil
		case 32:
			return uint32(v), nil
		}
		return v, nil
	case TagFloat:
		v, err := strconv.ParseFloat(raw, int(t.Bits))
		if err != nil {
			return nil, fail(numErrReason(err))
		}
		if t.Bits == 32 {
			return float32(v), nil
		}
		return v, nil
	case TagDate:
		if d, err := ParseDate(raw); err == nil {
			return d, nil
		}
		// Some drivers hand dates back as midnight timestamps; accept those too.
		dt, err := ParseDateTime(raw)
		if err != nil {
			return nil, fail("expected YYYY-MM-DD")
		}
		return time.Date(dt.Year(), dt.Month(), dt.Day(), 0, 0, 0, 0, time.UTC), nil
	case TagDateTime:
		dt, err := ParseDateTime(raw)
		if err != nil {
			return nil, fail("expected ISO 8601 date-time")
		}
		return dt, nil
	case TagBoolean:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fail("expected true/false or 1/0")
		}
		return v, nil
	case TagUUID:
		v, err := uuid.Parse(raw)
		if err != nil {
			return nil, fail("invalid UUID")
		}
		return v, nil
	}
	return nil, fail("unsupported type")
}

func numErrReason(err error) string {
	if ne, ok := err.(*strconv.NumError); ok {
		if ne.Err == strconv.ErrRange {
			return "out of range"
		}
		return "not a number"
	}
	return err.Error()
}

// Render formats a value scanned from the warehouse as CSV text.
// NULL renders as an empty cell, temporal types as ISO 8601.
func Render(v any, t LogicalType) string {
	switch x := v.(type) {
	case nil:
		return ""
	case *any:
		if x == nil {
			return ""
		}
		return Render(*x, t)
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		if t.Tag == TagDate {
			return x.Format(DateLayout)
		}
		return x.Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(x)
	case float32:
		return formatFloat(float64(x), 32)
	case float64:
		return formatFloat(x, 64)
	case uuid.UUID:
		return x.String()
	case fmt.Stringer:
		return x.String()
	}

	// Integer-backed booleans (SQLite, MySQL tinyint) still render as true/false.
	if t.Tag == TagBoolean {
		if n, ok := asInt64(v); ok {
			return strconv.FormatBool(n != 0)
		}
	}
	if n, ok := asInt64(v); ok {
		return strconv.FormatInt(n, 10)
	}
	if u, ok := v.(uint64); ok {
		return strconv.FormatUint(u, 10)
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64, bits int) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, bits)
	}
	s := strconv.FormatFloat(f, 'f', -1, bits)
	// Whole values keep a fraction so the column still reads back as float.
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	}
	return 0, false
}

// Scalar normalizes a scanned value for preview payloads: byte slices become
// strings and temporal values are rendered as ISO 8601 text.
func Scalar(v any, t LogicalType) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte, time.Time, uuid.UUID:
		return Render(x, t)
	case int64, int32, int16, int8, int, uint8, uint16, uint32, uint64:
		if t.Tag == TagBoolean {
			n, _ := asInt64(x)
			return n != 0
		}
		return x
	}
	return v
}

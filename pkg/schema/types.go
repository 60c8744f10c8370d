package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Tag is the discriminator of LogicalType. The set is closed: every switch
// over Tag in this module lists all members.
type Tag uint8

const (
	TagString Tag = iota
	TagInteger
	TagFloat
	TagDate
	TagDateTime
	TagBoolean
	TagUUID
)

// LogicalType is the engine-side type of a column, independent of the
// warehouse dialect. Bits and Signed are meaningful for integers, Bits for floats.
type LogicalType struct {
	Tag    Tag
	Bits   uint8
	Signed bool
}

var (
	String   = LogicalType{Tag: TagString}
	Date     = LogicalType{Tag: TagDate}
	DateTime = LogicalType{Tag: TagDateTime}
	Boolean  = LogicalType{Tag: TagBoolean}
	UUID     = LogicalType{Tag: TagUUID}
	Int64    = Integer(64, true)
	Float64  = Float(64)
)

// Integer returns an integer type. Widths other than 8/16/32/64 are rounded up.
func Integer(bits int, signed bool) LogicalType {
	return LogicalType{Tag: TagInteger, Bits: normalizeBits(bits, 8, 16, 32, 64), Signed: signed}
}

// Float returns a floating point type of 32 or 64 bits.
func Float(bits int) LogicalType {
	return LogicalType{Tag: TagFloat, Bits: normalizeBits(bits, 32, 64)}
}

func normalizeBits(bits int, allowed ...int) uint8 {
	for _, a := range allowed {
		if bits <= a {
			return uint8(a)
		}
	}
	return uint8(allowed[len(allowed)-1])
}

// String renders the type the way it appears in API payloads:
// int64, uint8, float32, string, date, datetime, bool, uuid.
func (t LogicalType) String() string {
	switch t.Tag {
	case TagInteger:
		if t.Signed {
			return "int" + strconv.Itoa(int(t.Bits))
		}
		return "uint" + strconv.Itoa(int(t.Bits))
	case TagFloat:
		return "float" + strconv.Itoa(int(t.Bits))
	case TagString:
		return "string"
	case TagDate:
		return "date"
	case TagDateTime:
		return "datetime"
	case TagBoolean:
		return "bool"
	case TagUUID:
		return "uuid"
	}
	return fmt.Sprintf("tag(%d)", t.Tag)
}

// ParseLogicalType is the inverse of LogicalType.String.
func ParseLogicalType(s string) (LogicalType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "string":
		return String, nil
	case "date":
		return Date, nil
	case "datetime":
		return DateTime, nil
	case "bool", "boolean":
		return Boolean, nil
	case "uuid":
		return UUID, nil
	}
	for _, p := range []struct {
		prefix string
		build  func(int) LogicalType
	}{
		{"uint", func(b int) LogicalType { return Integer(b, false) }},
		{"int", func(b int) LogicalType { return Integer(b, true) }},
		{"float", Float},
	} {
		if rest, ok := strings.CutPrefix(s, p.prefix); ok {
			bits, err := strconv.Atoi(rest)
			if err != nil || bits <= 0 {
				break
			}
			t := p.build(bits)
			if int(t.Bits) != bits {
				return LogicalType{}, fmt.Errorf("unsupported width in type %q", s)
			}
			return t, nil
		}
	}
	return LogicalType{}, fmt.Errorf("unknown logical type %q", s)
}

func (t LogicalType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *LogicalType) UnmarshalText(b []byte) error {
	parsed, err := ParseLogicalType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// IsTemporal reports whether values are rendered as ISO 8601 text.
func (t LogicalType) IsTemporal() bool {
	return t.Tag == TagDate || t.Tag == TagDateTime
}

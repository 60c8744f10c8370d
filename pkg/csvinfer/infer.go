// Package csvinfer reads CSV headers and sample rows and infers a column
// schema from them.
package csvinfer

import (
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ruslano69/whbridge/pkg/schema"
)

// DefaultSampleRows is the number of data rows inspected when the caller
// passes a non-positive count.
const DefaultSampleRows = 3

// lattice is tried narrowest first; string is the fallback.
var lattice = []struct {
	typ   schema.LogicalType
	parse func(string) bool
}{
	{schema.Int64, isInteger},
	{schema.Float64, isFloat},
	{schema.Date, func(s string) bool { _, err := schema.ParseDate(s); return err == nil }},
	{schema.DateTime, func(s string) bool { _, err := schema.ParseDateTime(s); return err == nil }},
	{schema.Boolean, func(s string) bool { _, err := strconv.ParseBool(s); return err == nil }},
}

// InferSchema reads the header and up to sampleRows data rows of src and
// returns the inferred columns together with the sampled rows. Inferred
// columns are nullable since a sample cannot prove otherwise.
func InferSchema(src Source, sampleRows int) ([]schema.ColumnSchema, [][]string, error) {
	if sampleRows <= 0 {
		sampleRows = DefaultSampleRows
	}
	rc, err := src.Open()
	if err != nil {
		return nil, nil, &ParseError{Err: ErrMalformed, Detail: err.Error()}
	}
	defer rc.Close()

	r, err := NewReader(rc)
	if err != nil {
		return nil, nil, err
	}

	var sample [][]string
	for len(sample) < sampleRows {
		rec, _, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		sample = append(sample, rec)
	}

	header := r.Header()
	cols := make([]schema.ColumnSchema, len(header))
	for i, name := range header {
		values := make([]string, 0, len(sample))
		for _, rec := range sample {
			values = append(values, rec[i])
		}
		cols[i] = schema.ColumnSchema{Name: name, Type: InferType(values), Nullable: true}
	}
	return cols, sample, nil
}

// InferType picks the narrowest type every non-empty value parses as.
// A column with no non-empty values, or whose values disagree, is a string.
func InferType(values []string) schema.LogicalType {
	nonEmpty := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			nonEmpty = append(nonEmpty, v)
		}
	}
	if len(nonEmpty) == 0 {
		return schema.String
	}
next:
	for _, cand := range lattice {
		for _, v := range nonEmpty {
			if !cand.parse(v) {
				continue next
			}
		}
		return cand.typ
	}
	return schema.String
}

func isInteger(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func isFloat(s string) bool {
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
}

package artifact

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/ruslano69/whbridge/pkg/schema"
)

// csvFlushEvery bounds how many rows sit in the csv.Writer buffer.
const csvFlushEvery = 256

type csvSink struct {
	w       *csv.Writer
	types   []schema.LogicalType
	record  []string
	pending int
}

func newCSVSink(w io.Writer, types []schema.LogicalType) *csvSink {
	return &csvSink{w: csv.NewWriter(w), types: types}
}

func (s *csvSink) header(names []string) error {
	if err := s.w.Write(names); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	s.record = make([]string, len(names))
	return nil
}

func (s *csvSink) row(values []any) error {
	if len(values) != len(s.record) {
		return fmt.Errorf("row has %d values, header has %d columns", len(values), len(s.record))
	}
	for i, v := range values {
		s.record[i] = schema.Render(v, s.typeOf(i))
	}
	if err := s.w.Write(s.record); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	s.pending++
	if s.pending >= csvFlushEvery {
		s.pending = 0
		s.w.Flush()
		return s.w.Error()
	}
	return nil
}

func (s *csvSink) typeOf(i int) schema.LogicalType {
	if i < len(s.types) {
		return s.types[i]
	}
	return schema.String
}

func (s *csvSink) finish() error {
	s.w.Flush()
	return s.w.Error()
}

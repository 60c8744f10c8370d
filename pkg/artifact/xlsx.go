package artifact

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/ruslano69/whbridge/pkg/schema"
)

// maxSheetRows is the worksheet row limit, header included.
const maxSheetRows = excelize.TotalRows

var ErrSheetFull = errors.New("xlsx worksheet row limit reached")

type xlsxSink struct {
	out   io.Writer
	file  *excelize.File
	sw    *excelize.StreamWriter
	types []schema.LogicalType
	next  int
}

func newXLSXSink(out io.Writer, opts Options) (*xlsxSink, error) {
	f := excelize.NewFile()
	sheet := "Sheet1"
	if opts.Sheet != "" {
		name := opts.Sheet
		if len(name) > excelize.MaxSheetNameLength {
			name = name[:excelize.MaxSheetNameLength]
		}
		if err := f.SetSheetName(sheet, name); err != nil {
			f.Close()
			return nil, fmt.Errorf("name worksheet: %w", err)
		}
		sheet = name
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create stream writer: %w", err)
	}
	return &xlsxSink{out: out, file: f, sw: sw, types: opts.Types, next: 1}, nil
}

func (s *xlsxSink) header(names []string) error {
	style, err := s.file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	cells := make([]any, len(names))
	for i, n := range names {
		cells[i] = excelize.Cell{StyleID: style, Value: n}
	}
	return s.write(cells)
}

func (s *xlsxSink) row(values []any) error {
	cells := make([]any, len(values))
	for i, v := range values {
		t := schema.String
		if i < len(s.types) {
			t = s.types[i]
		}
		cells[i] = cellValue(v, t)
	}
	return s.write(cells)
}

func (s *xlsxSink) write(cells []any) error {
	if s.next > maxSheetRows {
		return ErrSheetFull
	}
	cell, err := excelize.CoordinatesToCellName(1, s.next)
	if err != nil {
		return err
	}
	if err := s.sw.SetRow(cell, cells); err != nil {
		return fmt.Errorf("write xlsx row %d: %w", s.next, err)
	}
	s.next++
	return nil
}

// cellValue keeps numbers and booleans native so the sheet can compute with
// them; everything else is the CSV rendering.
func cellValue(v any, t schema.LogicalType) any {
	if v == nil {
		return nil
	}
	switch t.Tag {
	case schema.TagInteger, schema.TagFloat, schema.TagBoolean:
		switch sv := schema.Scalar(v, t).(type) {
		case int64, int32, int16, int8, int, uint8, uint16, uint32, uint64, float32, float64, bool:
			return sv
		}
	}
	return schema.Render(v, t)
}

func (s *xlsxSink) finish() error {
	defer s.file.Close()
	if err := s.sw.Flush(); err != nil {
		return fmt.Errorf("flush xlsx: %w", err)
	}
	if _, err := s.file.WriteTo(s.out); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

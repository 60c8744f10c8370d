package csvinfer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ruslano69/whbridge/pkg/errs"
)

var (
	ErrEmptyHeader     = errors.New("EmptyHeader")
	ErrDuplicateColumn = errors.New("DuplicateColumn")
	ErrRaggedRow       = errors.New("RaggedRow")
	ErrMalformed       = errors.New("Malformed")
)

// ParseError reports a structural CSV problem. Line is 1-based and counts
// the header; Column is set when a single header cell is at fault.
type ParseError struct {
	Line   int
	Column string
	Err    error
	Detail string
}

func (e *ParseError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ParseError: %v at line %d", e.Err, e.Line)
	if e.Column != "" {
		fmt.Fprintf(&sb, " column %q", e.Column)
	}
	if e.Detail != "" {
		sb.WriteString(": " + e.Detail)
	}
	return sb.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Kind() errs.Kind { return errs.KindParse }

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Reader streams records from a CSV file with a header row. Every data row
// must have exactly as many fields as the header.
type Reader struct {
	csv    *csv.Reader
	header []string
	bom    int64
}

// NewReader reads and validates the header. Header names are trimmed and
// must be non-empty and unique.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	var bom int64
	if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
		bom = int64(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.ReuseRecord = false

	rec, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ParseError{Line: 1, Err: ErrEmptyHeader, Detail: "file is empty"}
	}
	if err != nil {
		return nil, translate(err)
	}

	header := make([]string, len(rec))
	seen := make(map[string]struct{}, len(rec))
	for i, name := range rec {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, &ParseError{Line: 1, Column: fmt.Sprintf("#%d", i+1), Err: ErrEmptyHeader, Detail: "header name is empty"}
		}
		if _, dup := seen[name]; dup {
			return nil, &ParseError{Line: 1, Column: name, Err: ErrDuplicateColumn}
		}
		seen[name] = struct{}{}
		header[i] = name
	}
	cr.FieldsPerRecord = len(header)
	return &Reader{csv: cr, header: header, bom: bom}, nil
}

// Header returns the trimmed column names.
func (r *Reader) Header() []string { return r.header }

// Read returns the next data record and the line it started on. It returns
// io.EOF after the last record.
func (r *Reader) Read() ([]string, int, error) {
	rec, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, io.EOF
		}
		return nil, 0, translate(err)
	}
	line, _ := r.csv.FieldPos(0)
	return rec, line, nil
}

// Offset is the number of input bytes consumed so far.
func (r *Reader) Offset() int64 {
	return r.bom + r.csv.InputOffset()
}

func translate(err error) error {
	var pe *csv.ParseError
	if !errors.As(err, &pe) {
		return &ParseError{Err: ErrMalformed, Detail: err.Error()}
	}
	if errors.Is(pe.Err, csv.ErrFieldCount) {
		return &ParseError{Line: pe.StartLine, Err: ErrRaggedRow, Detail: "wrong number of fields"}
	}
	return &ParseError{Line: pe.Line, Err: ErrMalformed, Detail: pe.Err.Error()}
}

// Package artifact writes export artifacts: a CSV or XLSX file, optionally
// zstd compressed, checksummed with xxh3 and kept in a Store.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruslano69/whbridge/pkg/schema"
)

// Format of the artifact payload.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Compression applied to CSV payloads. XLSX files are already zipped and
// are never compressed again.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// ParseFormat accepts "", "csv" and "xlsx".
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unknown artifact format %q", s)
}

// ParseCompression accepts "", "none" and "zstd".
func ParseCompression(s string) (Compression, error) {
	switch Compression(strings.ToLower(s)) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd:
		return CompressionZstd, nil
	}
	return "", fmt.Errorf("unknown artifact compression %q", s)
}

// Options describe one artifact.
type Options struct {
	Format      Format
	Compression Compression
	// Sheet names the XLSX worksheet.
	Sheet string
	// Types of the columns, used to render values.
	Types []schema.LogicalType
}

// Extension is the final file suffix for opts.
func (o Options) Extension() string {
	if o.Format == FormatXLSX {
		return ".xlsx"
	}
	if o.Compression == CompressionZstd {
		return ".csv.zst"
	}
	return ".csv"
}

// Info describes a committed artifact.
type Info struct {
	// Path of the local file.
	Path string `json:"path"`
	// Location is Path, or the remote URL when a store uploaded it.
	Location string `json:"location"`
	Format   Format `json:"format"`
	Size     int64  `json:"size"`
	// Checksum is the hex xxh3-64 of the file bytes.
	Checksum string `json:"checksum"`
	Rows     int64  `json:"rows"`
}

// sink encodes rows into an output stream.
type sink interface {
	header(names []string) error
	row(values []any) error
	// finish flushes everything into the underlying writer.
	finish() error
}

// File is an artifact being written. It lives at <dir>/<id>.partial until
// Commit renames it; Discard removes it.
type File struct {
	opts      Options
	partial   string
	final     string
	f         *os.File
	hw        *hashWriter
	sink      sink
	rows      int64
	closeOnce func() error
	done      bool
}

// Create opens a new partial artifact in dir.
func Create(dir, id string, opts Options) (*File, error) {
	if opts.Format == "" {
		opts.Format = FormatCSV
	}
	if opts.Compression == "" || opts.Format == FormatXLSX {
		opts.Compression = CompressionNone
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	partial := filepath.Join(dir, id+".partial")
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create artifact: %w", err)
	}

	a := &File{
		opts:    opts,
		partial: partial,
		final:   filepath.Join(dir, id+opts.Extension()),
		f:       f,
		hw:      newHashWriter(f),
	}

	var w io.Writer = a.hw
	var enc io.WriteCloser
	if opts.Compression == CompressionZstd {
		enc, err = newZstdWriter(a.hw)
		if err != nil {
			f.Close()
			os.Remove(partial)
			return nil, err
		}
		w = enc
	}

	switch opts.Format {
	case FormatXLSX:
		a.sink, err = newXLSXSink(w, opts)
	default:
		a.sink = newCSVSink(w, opts.Types)
	}
	if err != nil {
		if enc != nil {
			enc.Close()
		}
		f.Close()
		os.Remove(partial)
		return nil, err
	}
	a.closeOnce = func() error {
		err := a.sink.finish()
		if enc != nil {
			err = errors.Join(err, enc.Close())
		}
		return err
	}
	return a, nil
}

// WriteHeader writes the column names once, before any row.
func (a *File) WriteHeader(names []string) error {
	return a.sink.header(names)
}

// WriteRow writes one row of scanned warehouse values.
func (a *File) WriteRow(values []any) error {
	if err := a.sink.row(values); err != nil {
		return err
	}
	a.rows++
	return nil
}

// Rows written so far.
func (a *File) Rows() int64 { return a.rows }

// Commit flushes, closes and renames the artifact to its final name.
func (a *File) Commit() (Info, error) {
	if a.done {
		return Info{}, errors.New("artifact already closed")
	}
	a.done = true
	err := a.closeOnce()
	err = errors.Join(err, a.f.Close())
	if err != nil {
		os.Remove(a.partial)
		return Info{}, fmt.Errorf("finish artifact: %w", err)
	}
	if err := os.Rename(a.partial, a.final); err != nil {
		os.Remove(a.partial)
		return Info{}, fmt.Errorf("rename artifact: %w", err)
	}
	return Info{
		Path:     a.final,
		Location: a.final,
		Format:   a.opts.Format,
		Size:     a.hw.n,
		Checksum: a.hw.sum(),
		Rows:     a.rows,
	}, nil
}

// Discard closes and removes the partial file. It is a no-op after Commit.
func (a *File) Discard() error {
	if a.done {
		return nil
	}
	a.done = true
	a.f.Close()
	if err := os.Remove(a.partial); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove partial artifact: %w", err)
	}
	return nil
}

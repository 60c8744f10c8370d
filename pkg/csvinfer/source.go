package csvinfer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Source is a re-openable CSV file handle. The inferencer and the bulk
// import each open it independently.
type Source interface {
	Name() string
	Open() (io.ReadCloser, error)
	// Size in bytes, or -1 when unknown.
	Size() int64
}

// FileSource is a CSV file on local disk.
type FileSource struct {
	Path string
	// DisplayName overrides the base name, e.g. the original upload name.
	DisplayName string
}

func (f FileSource) Name() string {
	if f.DisplayName != "" {
		return f.DisplayName
	}
	return filepath.Base(f.Path)
}

func (f FileSource) Open() (io.ReadCloser, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name(), err)
	}
	return file, nil
}

func (f FileSource) Size() int64 {
	st, err := os.Stat(f.Path)
	if err != nil {
		return -1
	}
	return st.Size()
}

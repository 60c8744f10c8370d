package api

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/ruslano69/whbridge/pkg/csvinfer"
)

// uploads keeps CSV files between preview and import.
type uploads struct {
	dir string

	mu    sync.Mutex
	files map[string]csvinfer.FileSource
}

func newUploads(dir string) (*uploads, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &uploads{dir: dir, files: make(map[string]csvinfer.FileSource)}, nil
}

// save copies r to disk under a fresh id.
func (u *uploads) save(name string, r io.Reader) (string, csvinfer.FileSource, error) {
	id := uuid.NewString()
	path := filepath.Join(u.dir, id+".csv")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", csvinfer.FileSource{}, fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", csvinfer.FileSource{}, fmt.Errorf("store upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", csvinfer.FileSource{}, fmt.Errorf("store upload: %w", err)
	}

	src := csvinfer.FileSource{Path: path, DisplayName: filepath.Base(name)}
	u.mu.Lock()
	u.files[id] = src
	u.mu.Unlock()
	return id, src, nil
}

func (u *uploads) get(id string) (csvinfer.FileSource, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	src, ok := u.files[id]
	return src, ok
}

func (u *uploads) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	var first error
	for id, src := range u.files {
		if err := os.Remove(src.Path); err != nil && !os.IsNotExist(err) && first == nil {
			first = err
		}
		delete(u.files, id)
	}
	return first
}

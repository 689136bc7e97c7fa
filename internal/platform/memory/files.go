package memory

import (
	"context"
	"path"
	"strings"
	"sync"

	"omnichat/internal/platform"
)

// Files is a flat in-memory FileStore that tracks directories so that
// CreateMissingParents behaves like the real store.
type Files struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool

	WriteErr error
	ReadErr  error
}

func NewFiles() *Files {
	return &Files{files: map[string][]byte{}, dirs: map[string]bool{".": true}}
}

func (f *Files) Write(ctx context.Context, p string, data []byte, opts platform.WriteOptions) error {
	clean, err := cleanPath(p)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteErr != nil {
		return f.WriteErr
	}
	dir := path.Dir(clean)
	if !f.dirs[dir] {
		if !opts.CreateMissingParents {
			return platform.ErrFileNotFound
		}
		for d := dir; d != "." && d != "/"; d = path.Dir(d) {
			f.dirs[d] = true
		}
	}
	f.files[clean] = append([]byte(nil), data...)
	return nil
}

func (f *Files) Read(ctx context.Context, p string) ([]byte, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	data, ok := f.files[clean]
	if !ok {
		return nil, platform.ErrFileNotFound
	}
	return append([]byte(nil), data...), nil
}

func cleanPath(p string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(p, "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", platform.ErrInvalidPath
	}
	return clean, nil
}

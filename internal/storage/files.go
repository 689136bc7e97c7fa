package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"omnichat/internal/platform"
)

// LocalFiles stores user files under <base>/<uid>/.
type LocalFiles struct {
	base string
}

func NewLocalFiles(base string) (*LocalFiles, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve file base: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create file base: %w", err)
	}
	return &LocalFiles{base: abs}, nil
}

func (l *LocalFiles) Base() string {
	return l.base
}

func (l *LocalFiles) ForUser(uid string) platform.FileStore {
	return &userFiles{root: filepath.Join(l.base, filepath.Base(uid))}
}

type userFiles struct {
	root string
}

func (u *userFiles) resolve(p string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(p, "/")))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", platform.ErrInvalidPath, p)
	}
	return filepath.Join(u.root, rel), nil
}

func (u *userFiles) Write(ctx context.Context, p string, data []byte, opts platform.WriteOptions) error {
	full, err := u.resolve(p)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if opts.CreateMissingParents {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	} else if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: parent of %s", platform.ErrFileNotFound, p)
		}
		return err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

func (u *userFiles) Read(ctx context.Context, p string) ([]byte, error) {
	full, err := u.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", platform.ErrFileNotFound, p)
		}
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

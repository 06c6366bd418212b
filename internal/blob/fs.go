package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FS writes objects under a root directory and returns baseURL/<object>.
type FS struct {
	root    string
	baseURL string
}

func NewFS(root, baseURL string) (*FS, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("blob: root directory must not be empty")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("blob: mkdir %s: %w", root, err)
	}
	return &FS{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (f *FS) Upload(ctx context.Context, data []byte, contentType, prefix string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := objectName(prefix, contentType)
	path := filepath.Join(f.root, filepath.FromSlash(name))
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("blob: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("blob: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("blob: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("blob: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("blob: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("blob: rename: %w", err)
	}
	return f.baseURL + "/" + name, nil
}

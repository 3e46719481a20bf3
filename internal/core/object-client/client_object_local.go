package objectclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/dossier/internal/core"
)

var _ core.ObjectClient = (*LocalClient)(nil)

// LocalClient keeps blobs as files under a root directory. Paths are keys relative to the root.
type LocalClient struct {
	root string
}

func NewLocalClient(root string) (*LocalClient, error) {
	if root == "" {
		return nil, fmt.Errorf("upload directory not set")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create upload directory: %v", core.ErrStorage, err)
	}
	return &LocalClient{root: abs}, nil
}

// UploadFile creates the file exclusively; writing an existing key fails.
func (c *LocalClient) UploadFile(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrStorage, err)
	}
	full, err := c.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("%w: create directory for %s: %v", core.ErrStorage, key, err)
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("%w: create %s: %v", core.ErrStorage, key, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return "", fmt.Errorf("%w: write %s: %v", core.ErrStorage, key, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(full)
		return "", fmt.Errorf("%w: close %s: %v", core.ErrStorage, key, err)
	}
	return key, nil
}

// DeleteFile removes the file if it exists.
func (c *LocalClient) DeleteFile(_ context.Context, path string) error {
	full, err := c.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: delete %s: %v", core.ErrStorage, path, err)
	}
	return nil
}

func (c *LocalClient) GetFile(ctx context.Context, path string) ([]byte, error) {
	rc, err := c.GetObjectReader(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", core.ErrStorage, path, err)
	}
	return data, nil
}

func (c *LocalClient) GetObjectReader(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: file %s", core.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", core.ErrStorage, path, err)
	}
	return f, nil
}

// resolve maps a key onto the root, refusing keys that escape it.
func (c *LocalClient) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: invalid storage path %q", core.ErrStorage, key)
	}
	return filepath.Join(c.root, clean), nil
}

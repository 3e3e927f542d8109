package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/devaloi/giftline/internal/domain"
)

// Storage stores opaque files and resolves them to URLs.
type Storage interface {
	Upload(ctx context.Context, data []byte) (string, error)
	URL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// MaxUploadSize bounds a single upload.
const MaxUploadSize = 5 << 20

// DiskStorage keeps files in a local directory served under baseURL.
type DiskStorage struct {
	dir     string
	baseURL string
}

// NewDisk creates the directory if needed and returns a DiskStorage.
func NewDisk(dir, baseURL string) (*DiskStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create files dir: %w", err)
	}
	return &DiskStorage{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the directory files are written to.
func (d *DiskStorage) Dir() string {
	return d.dir
}

// Upload writes data under a new key whose extension matches the detected
// content type.
func (d *DiskStorage) Upload(_ context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", domain.InvalidArgument("file is empty")
	}
	if len(data) > MaxUploadSize {
		return "", domain.InvalidArgument("file is too large")
	}

	key := uuid.NewString() + mimetype.Detect(data).Extension()
	if err := os.WriteFile(filepath.Join(d.dir, key), data, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return key, nil
}

// URL returns the public URL of an existing file.
func (d *DiskStorage) URL(_ context.Context, key string) (string, error) {
	path, err := d.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", domain.NotFound("file does not exist")
		}
		return "", fmt.Errorf("stat file: %w", err)
	}
	return d.baseURL + "/" + url.PathEscape(key), nil
}

// Delete removes a file.
func (d *DiskStorage) Delete(_ context.Context, key string) error {
	path, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.NotFound("file does not exist")
		}
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func (d *DiskStorage) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", domain.InvalidArgument("invalid file key")
	}
	return filepath.Join(d.dir, key), nil
}

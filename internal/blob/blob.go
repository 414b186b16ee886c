// Package blob stores attachment content. The workflow only keeps the locator
// a store returns.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var ErrNotFound = errors.New("blob not found")

type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
	Delete(ctx context.Context, locator string) error
}

// DetectContentType sniffs data when the uploader did not send a usable type.
func DetectContentType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return mimetype.Detect(data).String()
}

// Key builds a store key for an attachment of a report.
func Key(reportID, attachmentID, fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		base = "file"
	}
	return path.Join("reports", reportID, attachmentID+"-"+base)
}

// FS keeps blobs under a local directory; the locator is the relative key.
type FS struct {
	Dir string
}

func (s FS) resolve(locator string) (string, error) {
	clean := path.Clean("/" + locator)
	if clean == "/" {
		return "", fmt.Errorf("invalid locator %q", locator)
	}
	return filepath.Join(s.Dir, filepath.FromSlash(clean)), nil
}

func (s FS) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return key, nil
}

func (s FS) Open(_ context.Context, locator string) (io.ReadCloser, error) {
	p, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, locator)
	}
	return f, err
}

func (s FS) Delete(_ context.Context, locator string) error {
	p, err := s.resolve(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

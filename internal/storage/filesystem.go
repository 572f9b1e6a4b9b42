// Package storage persists uploaded media on the local filesystem and
// exposes it under a public URL prefix.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// ErrPathTraversal indicates a storage path tried to leave the root.
var ErrPathTraversal = errors.New("path traversal is forbidden")

// Config configures the filesystem store.
type Config struct {
	Root         string // base directory for stored files
	PublicURL    string // scheme://host the files are reachable on
	PublicPrefix string // URL path prefix mapped onto Root (default: /core/storage/app)
	MaxSizeBytes int64  // max file size in bytes (default: 50MB)
	Logger       *slog.Logger
}

// Filesystem implements domain.BlobStore on a local directory.
type Filesystem struct {
	root         string
	publicURL    string
	publicPrefix string
	maxSizeBytes int64
	logger       *slog.Logger
}

// NewFilesystem creates the root directory if needed.
func NewFilesystem(cfg Config) (*Filesystem, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	if cfg.PublicPrefix == "" {
		cfg.PublicPrefix = "/core/storage/app"
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = 50 * 1024 * 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Filesystem{
		root:         cfg.Root,
		publicURL:    strings.TrimRight(cfg.PublicURL, "/"),
		publicPrefix: "/" + strings.Trim(cfg.PublicPrefix, "/"),
		maxSizeBytes: cfg.MaxSizeBytes,
		logger:       cfg.Logger,
	}, nil
}

// Root returns the directory files are written to.
func (f *Filesystem) Root() string { return f.root }

// PublicPrefix returns the URL path prefix files are served under.
func (f *Filesystem) PublicPrefix() string { return f.publicPrefix }

func (f *Filesystem) resolve(p string) (string, error) {
	clean := path.Clean("/" + filepath.ToSlash(p))
	if clean == "/" || strings.Contains(p, "..") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, p)
	}
	full := filepath.Join(f.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	return full, nil
}

// Put stores the bytes unchanged.
func (f *Filesystem) Put(ctx context.Context, p string, r io.Reader) error {
	full, err := f.resolve(p)
	if err != nil {
		return err
	}

	out, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	written, err := io.Copy(out, io.LimitReader(r, f.maxSizeBytes+1))
	out.Close()
	if err != nil {
		os.Remove(full)
		return fmt.Errorf("write file: %w", err)
	}
	if written > f.maxSizeBytes {
		os.Remove(full)
		return fmt.Errorf("file too large: %d bytes (max: %d)", written, f.maxSizeBytes)
	}

	f.logger.Debug("file stored", "path", p, "size", written)
	return nil
}

// ResizeAndSave fits the image inside maxW×maxH keeping its aspect ratio and
// writes it as PNG. Images already inside the bounds are not enlarged.
func (f *Filesystem) ResizeAndSave(ctx context.Context, r io.Reader, maxW, maxH int, p string) error {
	full, err := f.resolve(p)
	if err != nil {
		return err
	}

	img, err := imaging.Decode(io.LimitReader(r, f.maxSizeBytes+1), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	resized := imaging.Fit(img, maxW, maxH, imaging.Lanczos)

	out, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if err := imaging.Encode(out, resized, imaging.PNG); err != nil {
		out.Close()
		os.Remove(full)
		return fmt.Errorf("encode png: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	b := resized.Bounds()
	f.logger.Debug("image stored", "path", p, "width", b.Dx(), "height", b.Dy())
	return nil
}

// URL returns the public URL of a stored path.
func (f *Filesystem) URL(p string) string {
	escaped := (&url.URL{Path: strings.TrimLeft(filepath.ToSlash(p), "/")}).EscapedPath()
	return f.publicURL + f.publicPrefix + "/" + escaped
}

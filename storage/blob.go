// Package storage persists signature images, exported documents and
// signature catalogs.
package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/georgepadayatti/docsign/logging"
)

// Common errors
var (
	ErrBlobNotFound   = errors.New("blob not found")
	ErrInvalidPath    = errors.New("invalid blob path")
	ErrUnsupportedURL = errors.New("unsupported blob URL")
)

// BlobStore stores opaque files and hands out URLs for them.
type BlobStore interface {
	// Store writes data at path and returns the URL it can be fetched from.
	Store(ctx context.Context, data []byte, path string) (string, error)
	Delete(ctx context.Context, path string) error
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ContentPath returns a content-addressed path for data:
// prefix/ab/cdef0123...ext, derived from the SHA3-256 of the bytes.
func ContentPath(prefix string, data []byte, ext string) string {
	sum := sha3.Sum256(data)
	h := hex.EncodeToString(sum[:16])
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join(prefix, h[:2], h[2:]+ext)
}

// cleanPath validates a slash-separated relative blob path.
func cleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	c := path.Clean(p)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return c, nil
}

// FSBlobStore keeps blobs under a directory. URLs are file:// URLs, or
// BaseURL/path when a public base URL is configured. Fetch also accepts
// http(s) URLs from anywhere.
type FSBlobStore struct {
	Root    string
	BaseURL string
	Client  *http.Client
	Logger  *slog.Logger
}

// NewFSBlobStore creates a store rooted at root.
func NewFSBlobStore(root, baseURL string) *FSBlobStore {
	return &FSBlobStore{Root: root, BaseURL: strings.TrimSuffix(baseURL, "/"), Client: http.DefaultClient}
}

func (s *FSBlobStore) file(p string) (string, error) {
	c, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Root, filepath.FromSlash(c)), nil
}

// Store implements BlobStore. The file is written to a temporary name and
// renamed into place.
func (s *FSBlobStore) Store(ctx context.Context, data []byte, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := s.file(p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(name), ".blob-*")
	if err != nil {
		return "", fmt.Errorf("failed to create blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store blob: %w", err)
	}

	logging.OrDefault(s.Logger).Debug("blob stored", slog.String("path", p), slog.Int("bytes", len(data)))
	return s.url(name, p)
}

func (s *FSBlobStore) url(name, p string) (string, error) {
	if s.BaseURL != "" {
		c, _ := cleanPath(p)
		return s.BaseURL + "/" + c, nil
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", fmt.Errorf("failed to resolve blob path: %w", err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// Delete implements BlobStore.
func (s *FSBlobStore) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := s.file(p)
	if err != nil {
		return err
	}
	if err := os.Remove(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrBlobNotFound, p)
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Fetch implements BlobStore.
func (s *FSBlobStore) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if s.BaseURL != "" && strings.HasPrefix(rawURL, s.BaseURL+"/") {
		name, err := s.file(strings.TrimPrefix(rawURL, s.BaseURL+"/"))
		if err != nil {
			return nil, err
		}
		return readFile(name)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	switch u.Scheme {
	case "file":
		return readFile(filepath.FromSlash(u.Path))
	case "http", "https":
		return s.fetchHTTP(ctx, rawURL)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}
}

func (s *FSBlobStore) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, rawURL)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("failed to fetch %s: status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, nil
}

func readFile(name string) ([]byte, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, name)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

const memScheme = "mem://"

// MemoryBlobStore keeps blobs in memory under mem:// URLs.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore creates an empty in-memory store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

// Store implements BlobStore.
func (s *MemoryBlobStore) Store(ctx context.Context, data []byte, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.blobs[c] = append([]byte(nil), data...)
	s.mu.Unlock()
	return memScheme + c, nil
}

// Delete implements BlobStore.
func (s *MemoryBlobStore) Delete(ctx context.Context, p string) error {
	c, err := cleanPath(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[c]; !ok {
		return fmt.Errorf("%w: %s", ErrBlobNotFound, p)
	}
	delete(s.blobs, c)
	return nil
}

// Fetch implements BlobStore.
func (s *MemoryBlobStore) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if !strings.HasPrefix(rawURL, memScheme) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[strings.TrimPrefix(rawURL, memScheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, rawURL)
	}
	return append([]byte(nil), data...), nil
}

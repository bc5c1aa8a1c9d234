package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/georgepadayatti/docsign/placement"
)

// ErrInvalidDataURI is returned for malformed data: references.
var ErrInvalidDataURI = errors.New("invalid data URI")

// EncodeDataURI returns data as a base64 data: URI.
func EncodeDataURI(mimeType string, data []byte) placement.ImageRef {
	return placement.ImageRef("data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data))
}

// DecodeDataURI returns the media type and payload of a data: URI.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, ErrInvalidDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidDataURI
	}

	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if mediaType == "" {
		mediaType = "text/plain"
	}
	if !isBase64 {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
		}
		return mediaType, []byte(s), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	return mediaType, data, nil
}

// ImageResolver loads signature images. data: URIs are decoded inline,
// URLs with a scheme go through Blobs and anything else is a file path
// relative to BaseDir.
type ImageResolver struct {
	Blobs   BlobStore
	BaseDir string
}

// NewImageResolver creates a resolver backed by blobs.
func NewImageResolver(blobs BlobStore, baseDir string) *ImageResolver {
	return &ImageResolver{Blobs: blobs, BaseDir: baseDir}
}

// Resolve fetches and decodes the image behind ref.
func (r *ImageResolver) Resolve(ctx context.Context, ref placement.ImageRef) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := r.fetch(ctx, string(ref))
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature image: %w", err)
	}
	return img, nil
}

func (r *ImageResolver) fetch(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case ref == "":
		return nil, fmt.Errorf("%w: empty image reference", ErrBlobNotFound)
	case strings.HasPrefix(ref, "data:"):
		_, data, err := DecodeDataURI(ref)
		return data, err
	case strings.Contains(ref, "://"):
		if r.Blobs == nil {
			return nil, fmt.Errorf("%w: no blob store for %s", ErrUnsupportedURL, ref)
		}
		return r.Blobs.Fetch(ctx, ref)
	}

	name := ref
	if !filepath.IsAbs(name) && r.BaseDir != "" {
		name = filepath.Join(r.BaseDir, name)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, ref)
		}
		return nil, fmt.Errorf("failed to read signature image: %w", err)
	}
	return data, nil
}

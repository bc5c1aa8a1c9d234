// Package document loads documents and renders their pages to images.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"math"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"golang.org/x/image/draw"
)

// Common errors
var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrInvalidPage       = errors.New("invalid page number")
	ErrInvalidScale      = errors.New("invalid render scale")
	ErrEmptyDocument     = errors.New("empty document")
)

// Kind classifies a document source.
type Kind int

const (
	KindImage Kind = iota
	KindPDF
	// KindOffice covers word-processor and spreadsheet files, shown as a
	// placeholder page.
	KindOffice
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindPDF:
		return "pdf"
	case KindOffice:
		return "office"
	default:
		return "unknown"
	}
}

// Source provides the pages of a document.
type Source interface {
	Kind() Kind
	Name() string
	PageCount() int
	// PageSize returns the size of page (1-indexed) in points.
	PageSize(page int) (float64, float64, error)
	// Render rasterizes page at scale pixels per point.
	Render(ctx context.Context, page int, scale float64) (image.Image, error)
}

// officeExtensions are rendered with a placeholder page.
var officeExtensions = map[string]bool{
	".doc": true, ".docx": true, ".odt": true, ".rtf": true, ".txt": true,
	".xls": true, ".xlsx": true, ".ods": true,
	".ppt": true, ".pptx": true, ".odp": true,
}

// SourceOptions configures NewSource.
type SourceOptions struct {
	// Rasterizer renders PDF pages. Nil renders placeholder pages of the
	// right size.
	Rasterizer Rasterizer
}

// NewSource picks a source for data by content, falling back to the file
// extension of name for office documents.
func NewSource(name string, data []byte, opts *SourceOptions) (Source, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	if opts == nil {
		opts = &SourceOptions{}
	}

	head := data[:min(len(data), 1024)]
	if bytes.Contains(head, []byte("%PDF-")) {
		return NewPDFSource(name, data, opts.Rasterizer)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return NewImageSource(name, data)
	}
	if officeExtensions[strings.ToLower(filepath.Ext(name))] {
		return NewPlaceholderSource(name, 1, LetterWidth, LetterHeight), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

func checkPage(page, count int) error {
	if page < 1 || page > count {
		return fmt.Errorf("%w: %d of %d", ErrInvalidPage, page, count)
	}
	return nil
}

func checkScale(scale float64) error {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}
	return nil
}

// scaledSize returns the pixel size of a w x h point page at scale.
func scaledSize(w, h, scale float64) (int, int) {
	return max(1, int(math.Round(w*scale))), max(1, int(math.Round(h*scale)))
}

// resample scales img to width x height with Catmull-Rom interpolation.
func resample(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

package compose

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"
)

// Export defaults.
const (
	DefaultScale       = 2.0
	DefaultJPEGQuality = 90
)

// Format selects the exported file type.
type Format int

const (
	// FormatAuto writes single-page image documents in their own format
	// and everything else as PDF.
	FormatAuto Format = iota
	FormatPNG
	FormatJPEG
	FormatPDF
)

// String returns the string representation of the format.
func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	case FormatPDF:
		return "pdf"
	default:
		return "unknown"
	}
}

// MIMEType returns the media type of files in this format.
func (f Format) MIMEType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension without the dot.
func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return f.String()
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "auto", "":
		return FormatAuto, nil
	case "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "pdf":
		return FormatPDF, nil
	default:
		return FormatAuto, fmt.Errorf("unknown export format: %s", s)
	}
}

// Options configures an export.
type Options struct {
	// Scale is the export raster resolution in pixels per point.
	Scale float64

	Format Format

	// JPEGQuality applies to JPEG output and to JPEG-compressed PDF pages.
	JPEGQuality int

	// PDFJPEG stores PDF page images with DCT instead of Flate compression.
	PDFJPEG bool

	// Author goes into the PDF information dictionary of rasterized PDFs.
	Author string

	// RasterizePDF exports PDF documents as rendered page images instead
	// of drawing the signatures over the original pages. It needs a
	// document.PDFSource with a rasterizer.
	RasterizePDF bool

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// DefaultOptions returns the default export options.
func DefaultOptions() *Options {
	return &Options{
		Scale:       DefaultScale,
		Format:      FormatAuto,
		JPEGQuality: DefaultJPEGQuality,
		Clock:       clockwork.NewRealClock(),
	}
}

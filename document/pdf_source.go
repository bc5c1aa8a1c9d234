package document

import (
	"context"
	"fmt"
	"image"

	"github.com/georgepadayatti/docsign/pdf/reader"
)

// Rasterizer renders one page of a PDF file.
type Rasterizer interface {
	RenderPage(ctx context.Context, data []byte, page int, scale float64) (image.Image, error)
}

// RasterizerFunc adapts a function to Rasterizer.
type RasterizerFunc func(ctx context.Context, data []byte, page int, scale float64) (image.Image, error)

// RenderPage implements Rasterizer.
func (f RasterizerFunc) RenderPage(ctx context.Context, data []byte, page int, scale float64) (image.Image, error) {
	return f(ctx, data, page, scale)
}

// PDFSource is a PDF document. Page geometry comes from the file itself;
// pixels come from the Rasterizer, or a placeholder page of the right size
// when there is none.
type PDFSource struct {
	name       string
	data       []byte
	doc        *reader.Document
	rasterizer Rasterizer
}

// NewPDFSource parses the page geometry of data.
func NewPDFSource(name string, data []byte, rasterizer Rasterizer) (*PDFSource, error) {
	doc, err := reader.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF %s: %w", name, err)
	}
	return &PDFSource{name: name, data: data, doc: doc, rasterizer: rasterizer}, nil
}

func (s *PDFSource) Kind() Kind     { return KindPDF }
func (s *PDFSource) Name() string   { return s.name }
func (s *PDFSource) PageCount() int { return s.doc.PageCount() }

// Data returns the file contents.
func (s *PDFSource) Data() []byte { return s.data }

// Rasterized reports whether pages are rendered from the file content
// rather than as placeholders.
func (s *PDFSource) Rasterized() bool { return s.rasterizer != nil }

// Encrypted reports whether the file declares encryption.
func (s *PDFSource) Encrypted() bool { return s.doc.Encrypted }

// PageSize returns the displayed size of the page, rotation applied.
func (s *PDFSource) PageSize(page int) (float64, float64, error) {
	p, err := s.doc.Page(page)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidPage, err)
	}
	w, h := p.Size()
	return w, h, nil
}

// Render implements Source.
func (s *PDFSource) Render(ctx context.Context, page int, scale float64) (image.Image, error) {
	w, h, err := s.PageSize(page)
	if err != nil {
		return nil, err
	}
	if err := checkScale(scale); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.rasterizer == nil {
		pw, ph := scaledSize(w, h, scale)
		return placeholderPage(pw, ph, s.name, fmt.Sprintf("page %d of %d", page, s.PageCount())), nil
	}
	img, err := s.rasterizer.RenderPage(ctx, s.data, page, scale)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", page, err)
	}
	return img, nil
}

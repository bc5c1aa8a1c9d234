package document

import (
	"bytes"
	"context"
	"fmt"
	"image"
)

// ImageSource is a single-page document backed by a raster image. One image
// pixel is one point unless a page size is set.
type ImageSource struct {
	name   string
	format string
	img    image.Image

	// pageW and pageH override the page size in points when positive.
	pageW, pageH float64
}

// NewImageSource decodes data as PNG, JPEG, GIF, BMP, TIFF or WebP. Only
// the first frame of an animated image is used.
func NewImageSource(name string, data []byte) (*ImageSource, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", name, err)
	}
	return &ImageSource{name: name, format: format, img: img}, nil
}

// NewImageSourceWithSize is NewImageSource for an image that covers a page
// of width x height points, such as an export rendered at a higher scale.
func NewImageSourceWithSize(name string, data []byte, width, height float64) (*ImageSource, error) {
	s, err := NewImageSource(name, data)
	if err != nil {
		return nil, err
	}
	if width > 0 && height > 0 {
		s.pageW, s.pageH = width, height
	}
	return s, nil
}

// NewImageSourceFromImage wraps an already decoded image.
func NewImageSourceFromImage(name string, img image.Image) *ImageSource {
	return &ImageSource{name: name, img: img}
}

func (s *ImageSource) Kind() Kind     { return KindImage }
func (s *ImageSource) Name() string   { return s.name }
func (s *ImageSource) PageCount() int { return 1 }

// Format returns the decoder name, e.g. "png".
func (s *ImageSource) Format() string { return s.format }

// PageSize implements Source.
func (s *ImageSource) PageSize(page int) (float64, float64, error) {
	if err := checkPage(page, 1); err != nil {
		return 0, 0, err
	}
	if s.pageW > 0 {
		return s.pageW, s.pageH, nil
	}
	b := s.img.Bounds()
	return float64(b.Dx()), float64(b.Dy()), nil
}

// Render implements Source. Scale 1 returns the decoded image itself.
func (s *ImageSource) Render(ctx context.Context, page int, scale float64) (image.Image, error) {
	if err := checkPage(page, 1); err != nil {
		return nil, err
	}
	if err := checkScale(scale); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, ph, _ := s.PageSize(page)
	w, h := scaledSize(pw, ph, scale)
	if b := s.img.Bounds(); b.Dx() == w && b.Dy() == h {
		return s.img, nil
	}
	return resample(s.img, w, h), nil
}

package document

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// US Letter in points.
const (
	LetterWidth  = 612
	LetterHeight = 792
)

// PlaceholderSource renders white pages labelled with the file name, for
// formats that cannot be rasterized here.
type PlaceholderSource struct {
	name          string
	pages         int
	width, height float64
	kind          Kind
}

// NewPlaceholderSource creates a placeholder of pages pages, each
// width x height points.
func NewPlaceholderSource(name string, pages int, width, height float64) *PlaceholderSource {
	return &PlaceholderSource{name: name, pages: max(1, pages), width: width, height: height, kind: KindOffice}
}

func (s *PlaceholderSource) Kind() Kind     { return s.kind }
func (s *PlaceholderSource) Name() string   { return s.name }
func (s *PlaceholderSource) PageCount() int { return s.pages }

// PageSize implements Source.
func (s *PlaceholderSource) PageSize(page int) (float64, float64, error) {
	if err := checkPage(page, s.pages); err != nil {
		return 0, 0, err
	}
	return s.width, s.height, nil
}

// Render implements Source.
func (s *PlaceholderSource) Render(ctx context.Context, page int, scale float64) (image.Image, error) {
	if err := checkPage(page, s.pages); err != nil {
		return nil, err
	}
	if err := checkScale(scale); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, h := scaledSize(s.width, s.height, scale)
	return placeholderPage(w, h, s.name, fmt.Sprintf("page %d of %d", page, s.pages)), nil
}

// placeholderPage draws a white page with a thin frame and a few lines of
// text near the top.
func placeholderPage(w, h int, lines ...string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	frame := color.Gray{Y: 200}
	for x := 0; x < w; x++ {
		img.Set(x, 0, frame)
		img.Set(x, h-1, frame)
	}
	for y := 0; y < h; y++ {
		img.Set(0, y, frame)
		img.Set(w-1, y, frame)
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Gray{Y: 90}),
		Face: basicfont.Face7x13,
	}
	y := 30
	for _, line := range lines {
		if y > h-5 {
			break
		}
		d.Dot = fixed.P(15, y)
		d.DrawString(line)
		y += 18
	}
	return img
}

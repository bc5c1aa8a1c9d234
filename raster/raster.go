// Package raster provides sampled pixel scanning over a rendered page.
//
// A Raster is built once from any image.Image into an 8-bit luminance buffer,
// so every scan afterwards reads a flat byte slice instead of going through
// image.Image.At. All scans are pure reads; coordinates outside the raster
// are clamped or skipped, never a panic.
package raster

import (
	"errors"
	"image"
)

// Default luminance thresholds on a 0-255 scale.
const (
	// DefaultWhiteThreshold is the luminance above which a pixel counts as paper.
	DefaultWhiteThreshold = 220
	// DefaultDarkThreshold is the luminance below which a pixel counts as ink.
	DefaultDarkThreshold = 100
)

// Common errors
var (
	ErrNilImage          = errors.New("nil image")
	ErrInvalidDimensions = errors.New("invalid raster dimensions")
)

// Raster is a luminance view of one rendered document page.
type Raster struct {
	gray *image.Gray

	// WhiteThreshold is used by RegionEmptyRatio and RegionDarkRatio.
	WhiteThreshold uint8
}

// FromImage converts img into a luminance raster.
func FromImage(img image.Image) (*Raster, error) {
	if img == nil {
		return nil, ErrNilImage
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrInvalidDimensions
	}

	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			srcRow := src.Pix[(y+b.Min.Y-src.Rect.Min.Y)*src.Stride+(b.Min.X-src.Rect.Min.X):]
			copy(gray.Pix[y*gray.Stride:y*gray.Stride+b.Dx()], srcRow[:b.Dx()])
		}
	case *image.RGBA:
		fillFromRGBA(gray, src.Pix, src.Stride, b, src.Rect.Min, false)
	case *image.NRGBA:
		fillFromRGBA(gray, src.Pix, src.Stride, b, src.Rect.Min, true)
	case *image.YCbCr:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				// Y is already the luma channel.
				gray.Pix[y*gray.Stride+x] = src.Y[src.YOffset(x+b.Min.X, y+b.Min.Y)]
			}
		}
	default:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				r, g, bl, a := img.At(x+b.Min.X, y+b.Min.Y).RGBA()
				gray.Pix[y*gray.Stride+x] = compositeOnWhite(
					uint8(r>>8), uint8(g>>8), uint8(bl>>8), uint8(a>>8), false)
			}
		}
	}

	return &Raster{gray: gray, WhiteThreshold: DefaultWhiteThreshold}, nil
}

func fillFromRGBA(dst *image.Gray, pix []byte, stride int, b image.Rectangle, origin image.Point, straight bool) {
	for y := 0; y < b.Dy(); y++ {
		row := (y+b.Min.Y-origin.Y)*stride + (b.Min.X-origin.X)*4
		for x := 0; x < b.Dx(); x++ {
			i := row + x*4
			dst.Pix[y*dst.Stride+x] = compositeOnWhite(pix[i], pix[i+1], pix[i+2], pix[i+3], straight)
		}
	}
}

// compositeOnWhite returns the luminance of a pixel as it would appear over
// white paper. Transparent regions of a rendered page read as empty.
func compositeOnWhite(r, g, b, a uint8, straight bool) uint8 {
	if a == 255 {
		return Luminance(r, g, b)
	}
	if straight {
		// Non-premultiplied: scale toward the color by alpha.
		r = uint8((uint32(r)*uint32(a) + 255*(255-uint32(a))) / 255)
		g = uint8((uint32(g)*uint32(a) + 255*(255-uint32(a))) / 255)
		b = uint8((uint32(b)*uint32(a) + 255*(255-uint32(a))) / 255)
	} else {
		r = uint8(min(uint32(r)+255-uint32(a), 255))
		g = uint8(min(uint32(g)+255-uint32(a), 255))
		b = uint8(min(uint32(b)+255-uint32(a), 255))
	}
	return Luminance(r, g, b)
}

// Luminance returns the weighted RGB average (ITU-R BT.601 weights).
func Luminance(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b) + 500) / 1000)
}

// Width returns the raster width in pixels.
func (r *Raster) Width() int { return r.gray.Rect.Dx() }

// Height returns the raster height in pixels.
func (r *Raster) Height() int { return r.gray.Rect.Dy() }

// Bounds returns the raster bounds, always anchored at (0,0).
func (r *Raster) Bounds() image.Rectangle { return r.gray.Rect }

// Gray returns the underlying luminance image. Callers must not modify it.
func (r *Raster) Gray() *image.Gray { return r.gray }

// At returns the luminance at (x, y); ok is false outside the raster.
func (r *Raster) At(x, y int) (lum uint8, ok bool) {
	if x < 0 || y < 0 || x >= r.Width() || y >= r.Height() {
		return 0, false
	}
	return r.gray.Pix[y*r.gray.Stride+x], true
}

// row returns the pixels of row y. The caller has checked the bounds.
func (r *Raster) row(y int) []uint8 {
	return r.gray.Pix[y*r.gray.Stride : y*r.gray.Stride+r.Width()]
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

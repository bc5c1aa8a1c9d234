// Package images converts rendered page rasters to PDF image XObjects.
package images

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
)

// Common errors
var (
	ErrInvalidDimensions = errors.New("invalid image dimensions")
	ErrUnsupportedFilter = errors.New("unsupported image filter")
)

// ColorSpace represents a PDF color space.
type ColorSpace string

const (
	ColorSpaceGray ColorSpace = "DeviceGray"
	ColorSpaceRGB  ColorSpace = "DeviceRGB"
)

// Components returns the number of color components.
func (cs ColorSpace) Components() int {
	if cs == ColorSpaceGray {
		return 1
	}
	return 3
}

// Stream filters.
const (
	FilterFlate = "FlateDecode"
	FilterDCT   = "DCTDecode"
)

// XObject is an image ready to be embedded as a PDF image XObject.
type XObject struct {
	Width            int
	Height           int
	BitsPerComponent int
	ColorSpace       ColorSpace
	// Data is the encoded sample data.
	Data   []byte
	Filter string
	// Alpha is the Flate-encoded soft mask, nil for opaque images.
	Alpha []byte
}

// HasAlpha reports whether the image carries a soft mask.
func (x *XObject) HasAlpha() bool { return len(x.Alpha) > 0 }

// FromImage encodes img losslessly. Gray images stay gray; anything else is
// written as RGB, with a soft mask when some pixel is not fully opaque.
func FromImage(img image.Image) (*XObject, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, ErrInvalidDimensions
	}

	cs := ColorSpaceRGB
	if _, ok := img.(*image.Gray); ok {
		cs = ColorSpaceGray
	}

	samples := make([]byte, 0, w*h*cs.Components())
	alpha := make([]byte, 0, w*h)
	opaque := true
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if cs == ColorSpaceGray {
				samples = append(samples, c.R)
			} else {
				samples = append(samples, c.R, c.G, c.B)
			}
			alpha = append(alpha, c.A)
			if c.A != 0xff {
				opaque = false
			}
		}
	}

	data, err := compressZlib(samples)
	if err != nil {
		return nil, fmt.Errorf("failed to compress image samples: %w", err)
	}
	x := &XObject{
		Width:            w,
		Height:           h,
		BitsPerComponent: 8,
		ColorSpace:       cs,
		Data:             data,
		Filter:           FilterFlate,
	}
	if !opaque {
		if x.Alpha, err = compressZlib(alpha); err != nil {
			return nil, fmt.Errorf("failed to compress soft mask: %w", err)
		}
	}
	return x, nil
}

// FromImageJPEG encodes img as a DCT (JPEG) stream. Transparency is lost;
// pages are opaque, so this only matters for unusual inputs.
func FromImageJPEG(img image.Image, quality int) (*XObject, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrInvalidDimensions
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	cs := ColorSpaceRGB
	if _, ok := img.(*image.Gray); ok {
		cs = ColorSpaceGray
	}
	return &XObject{
		Width:            b.Dx(),
		Height:           b.Dy(),
		BitsPerComponent: 8,
		ColorSpace:       cs,
		Data:             buf.Bytes(),
		Filter:           FilterDCT,
	}, nil
}

// Samples returns the decoded sample data of a Flate-encoded image.
func (x *XObject) Samples() ([]byte, error) {
	if x.Filter != FilterFlate {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, x.Filter)
	}
	return inflate(x.Data)
}

// AlphaSamples returns the decoded soft mask, nil for opaque images.
func (x *XObject) AlphaSamples() ([]byte, error) {
	if !x.HasAlpha() {
		return nil, nil
	}
	return inflate(x.Alpha)
}

func compressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

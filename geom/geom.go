// Package geom provides the pixel rectangle type shared by detection,
// placement and compositing.
package geom

import (
	"fmt"
	"math"
)

// Rect is an axis-aligned rectangle in raster pixel coordinates with the
// origin in the upper-left corner.
type Rect struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// NewRect creates a rectangle.
func NewRect(x, y, w, h float64) Rect {
	return Rect{X: x, Y: y, Width: w, Height: h}
}

// Right returns the x coordinate of the right edge.
func (r Rect) Right() float64 { return r.X + r.Width }

// Bottom returns the y coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Center returns the center point.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// IsEmpty reports whether the rectangle has non-positive dimensions.
func (r Rect) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// Intersects reports whether r and o share interior area. Rectangles that
// only touch along an edge do not intersect.
func (r Rect) Intersects(o Rect) bool {
	if r.IsEmpty() || o.IsEmpty() {
		return false
	}
	return r.X < o.Right() && o.X < r.Right() &&
		r.Y < o.Bottom() && o.Y < r.Bottom()
}

// IntersectsAny reports whether r intersects any of the given rectangles.
func (r Rect) IntersectsAny(others []Rect) bool {
	for _, o := range others {
		if r.Intersects(o) {
			return true
		}
	}
	return false
}

// Contains reports whether the point lies inside the rectangle.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.Right() && y >= r.Y && y <= r.Bottom()
}

// Scale multiplies position and size by the given factors.
func (r Rect) Scale(sx, sy float64) Rect {
	return Rect{X: r.X * sx, Y: r.Y * sy, Width: r.Width * sx, Height: r.Height * sy}
}

// Clamp keeps the rectangle within [margin, width-margin] x
// [margin, height-margin]. A rectangle larger than the available area is
// shrunk to fit before it is moved.
func (r Rect) Clamp(width, height, margin float64) Rect {
	availW := width - 2*margin
	availH := height - 2*margin
	if availW < 0 {
		availW = 0
	}
	if availH < 0 {
		availH = 0
	}
	if r.Width > availW {
		r.Width = availW
	}
	if r.Height > availH {
		r.Height = availH
	}
	r.X = math.Max(margin, math.Min(r.X, width-margin-r.Width))
	r.Y = math.Max(margin, math.Min(r.Y, height-margin-r.Height))
	return r
}

// Round rounds all components to whole pixels.
func (r Rect) Round() Rect {
	return Rect{
		X:      math.Round(r.X),
		Y:      math.Round(r.Y),
		Width:  math.Round(r.Width),
		Height: math.Round(r.Height),
	}
}

// String returns a compact representation, e.g. "(100,100 90x36)".
func (r Rect) String() string {
	return fmt.Sprintf("(%g,%g %gx%g)", r.X, r.Y, r.Width, r.Height)
}

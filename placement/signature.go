// Package placement holds the catalog of signatures placed on a document.
//
// Normalized geometry (fractions of the page raster) is the source of
// truth. Pixel geometry is derived from it for whatever raster is current:
// the display raster at some zoom level, or the export raster.
package placement

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/georgepadayatti/docsign/geom"
)

// State is the lifecycle state of a placed signature.
type State int

const (
	// StatePlaced signatures are editable overlays.
	StatePlaced State = iota
	// StateBaked signatures have been burned into an exported document.
	StateBaked
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StatePlaced:
		return "placed"
	case StateBaked:
		return "baked"
	default:
		return "unknown"
	}
}

// ParseState parses a state name.
func ParseState(s string) (State, error) {
	switch strings.ToLower(s) {
	case "placed", "":
		return StatePlaced, nil
	case "baked":
		return StateBaked, nil
	default:
		return StatePlaced, fmt.Errorf("unknown signature state: %s", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ImageRef locates a signature image: a data: URI, a blob URL or a path.
type ImageRef string

// Author identifies who placed a signature.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// NormalizeAuthor trims both fields, puts the name in Unicode NFC form and
// lowercases the email.
func NormalizeAuthor(a Author) Author {
	return Author{
		Name:  norm.NFC.String(strings.TrimSpace(a.Name)),
		Email: strings.ToLower(strings.TrimSpace(a.Email)),
	}
}

// Signature is a signature image placed on one page.
type Signature struct {
	ID    string   `json:"id"`
	Image ImageRef `json:"image"`

	// Rect is the pixel geometry on a RasterWidth x RasterHeight raster.
	Rect         geom.Rect `json:"rect"`
	RasterWidth  int       `json:"raster_width"`
	RasterHeight int       `json:"raster_height"`

	// Norm is Rect divided by the raster dimensions, each component in [0,1].
	Norm geom.Rect `json:"norm"`

	// Page is 1-indexed.
	Page      int       `json:"page"`
	Author    Author    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	State     State     `json:"state"`
}

// Baked reports whether the signature has been burned into a document.
func (s Signature) Baked() bool { return s.State == StateBaked }

// PixelRect projects the normalized geometry onto a raster of the given size.
func (s Signature) PixelRect(rasterW, rasterH int) geom.Rect {
	return s.Norm.Scale(float64(rasterW), float64(rasterH))
}

func normalize(r geom.Rect, rasterW, rasterH int) geom.Rect {
	w, h := float64(rasterW), float64(rasterH)
	return geom.Rect{X: r.X / w, Y: r.Y / h, Width: r.Width / w, Height: r.Height / h}
}

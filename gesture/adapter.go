package gesture

import "github.com/georgepadayatti/docsign/geom"

// DefaultTouchTolerance is the distance in display pixels within which a
// touch grabs a resize handle.
const DefaultTouchTolerance = 45

// Point is a position in client (viewport) coordinates.
type Point struct {
	X, Y float64
}

// Input is an input event after translation by an Adapter.
type Input struct {
	Pos    Point
	Handle Handle
}

// Adapter translates raw input coordinates into client coordinates and, on
// gesture start, decides which handle was grabbed. overlay is the signature
// overlay in client coordinates.
type Adapter interface {
	Translate(x, y float64, target Handle, overlay geom.Rect) Input
}

// PointerAdapter handles mouse and pen input. Coordinates are already
// client coordinates and the hit target names the handle.
type PointerAdapter struct{}

// Translate implements Adapter.
func (PointerAdapter) Translate(x, y float64, target Handle, _ geom.Rect) Input {
	return Input{Pos: Point{X: x, Y: y}, Handle: target}
}

// TouchAdapter handles touch input. Touch coordinates are page coordinates,
// so the scroll offset is removed first. Fingers are imprecise: the nearest
// handle within Tolerance is grabbed whatever element was hit.
type TouchAdapter struct {
	// ScrollOffset returns the current page scroll. Nil means no scrolling.
	ScrollOffset func() Point
	Tolerance    float64
}

// NewTouchAdapter creates a touch adapter with the default tolerance.
func NewTouchAdapter(scroll func() Point) *TouchAdapter {
	return &TouchAdapter{ScrollOffset: scroll, Tolerance: DefaultTouchTolerance}
}

// Translate implements Adapter.
func (a *TouchAdapter) Translate(x, y float64, _ Handle, overlay geom.Rect) Input {
	var off Point
	if a.ScrollOffset != nil {
		off = a.ScrollOffset()
	}
	p := Point{X: x - off.X, Y: y - off.Y}
	if overlay.IsEmpty() {
		return Input{Pos: p}
	}
	return Input{Pos: p, Handle: nearestHandle(overlay, p, a.Tolerance)}
}

// Capturer routes document-level move and end events to the controller for
// the duration of a gesture. Capture returns the function that releases
// the listeners.
type Capturer interface {
	Capture() (release func())
}

// CapturerFunc adapts a function to Capturer.
type CapturerFunc func() func()

// Capture implements Capturer.
func (f CapturerFunc) Capture() func() { return f() }

type nopCapturer struct{}

func (nopCapturer) Capture() func() { return func() {} }

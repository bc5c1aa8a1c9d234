// Package gesture turns pointer and touch input into moves and resizes of
// placed signatures.
//
// Both input kinds are translated by an Adapter into one Input shape and
// drive the same Controller state machine, so dragging with a mouse and
// with a finger behave identically.
package gesture

import (
	"fmt"
	"math"
	"strings"

	"github.com/georgepadayatti/docsign/geom"
)

// Handle identifies a resize handle on a signature overlay. HandleNone means
// the overlay body, which drags.
type Handle int

const (
	HandleNone Handle = iota
	HandleN
	HandleS
	HandleE
	HandleW
	HandleNE
	HandleNW
	HandleSE
	HandleSW
)

var handleNames = map[Handle]string{
	HandleNone: "none",
	HandleN:    "n",
	HandleS:    "s",
	HandleE:    "e",
	HandleW:    "w",
	HandleNE:   "ne",
	HandleNW:   "nw",
	HandleSE:   "se",
	HandleSW:   "sw",
}

// String returns the handle name, e.g. "se".
func (h Handle) String() string {
	if name, ok := handleNames[h]; ok {
		return name
	}
	return "unknown"
}

// ParseHandle parses a handle name as used in overlay markup ("nw", "e").
func ParseHandle(s string) (Handle, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for h, name := range handleNames {
		if name == s {
			return h, nil
		}
	}
	if s == "" {
		return HandleNone, nil
	}
	return HandleNone, fmt.Errorf("unknown resize handle: %s", s)
}

// edges reports which edges of the rectangle the handle moves.
func (h Handle) edges() (left, right, top, bottom bool) {
	switch h {
	case HandleN:
		top = true
	case HandleS:
		bottom = true
	case HandleE:
		right = true
	case HandleW:
		left = true
	case HandleNE:
		top, right = true, true
	case HandleNW:
		top, left = true, true
	case HandleSE:
		bottom, right = true, true
	case HandleSW:
		bottom, left = true, true
	}
	return
}

// handlePoint returns the position of handle h on rectangle r.
func handlePoint(r geom.Rect, h Handle) Point {
	left, right, top, bottom := h.edges()
	p := Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
	switch {
	case left:
		p.X = r.X
	case right:
		p.X = r.Right()
	}
	switch {
	case top:
		p.Y = r.Y
	case bottom:
		p.Y = r.Bottom()
	}
	return p
}

// nearestHandle returns the handle of r closest to p when it lies within
// tolerance, else HandleNone.
func nearestHandle(r geom.Rect, p Point, tolerance float64) Handle {
	best, bestDist := HandleNone, math.Inf(1)
	for h := HandleN; h <= HandleSW; h++ {
		hp := handlePoint(r, h)
		d := math.Hypot(hp.X-p.X, hp.Y-p.Y)
		if d <= tolerance && d < bestDist {
			best, bestDist = h, d
		}
	}
	return best
}

// Mode is the state of the gesture state machine.
type Mode int

const (
	ModeIdle Mode = iota
	ModeDragging
	ModeResizing
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeDragging:
		return "dragging"
	case ModeResizing:
		return "resizing"
	default:
		return "unknown"
	}
}

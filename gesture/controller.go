package gesture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/georgepadayatti/docsign/geom"
	"github.com/georgepadayatti/docsign/logging"
	"github.com/georgepadayatti/docsign/placement"
)

// Common errors
var (
	ErrGestureActive   = errors.New("a gesture is already in progress")
	ErrNoGesture       = errors.New("no gesture in progress")
	ErrInvalidViewport = errors.New("invalid display rectangle")
)

// Minimum signature size in raster pixels.
const (
	DefaultMinWidth  = 50
	DefaultMinHeight = 30
)

// Store is the part of placement.Store the controller writes through.
type Store interface {
	Get(id string) (placement.Signature, error)
	SetGeometry(id string, r geom.Rect, rasterW, rasterH int) (placement.Signature, error)
}

// Options configures a Controller.
type Options struct {
	MinWidth  float64
	MinHeight float64
	Logger    *slog.Logger
}

// DefaultOptions returns the default controller options.
func DefaultOptions() *Options {
	return &Options{MinWidth: DefaultMinWidth, MinHeight: DefaultMinHeight}
}

// Surface describes where the page raster is shown: its size in raster
// pixels and its on-screen rectangle in client coordinates.
type Surface struct {
	RasterWidth  int
	RasterHeight int
	Display      geom.Rect
}

func (s Surface) valid() bool {
	return s.RasterWidth > 0 && s.RasterHeight > 0 && !s.Display.IsEmpty()
}

// scale returns raster pixels per display pixel on each axis.
func (s Surface) scale() (float64, float64) {
	return float64(s.RasterWidth) / s.Display.Width, float64(s.RasterHeight) / s.Display.Height
}

// ToDisplay maps a rectangle in raster pixels to client coordinates.
func (s Surface) ToDisplay(r geom.Rect) geom.Rect {
	sx, sy := s.scale()
	d := r.Scale(1/sx, 1/sy)
	d.X += s.Display.X
	d.Y += s.Display.Y
	return d
}

// OverlayRect returns where the overlay of sig belongs on screen.
func (s Surface) OverlayRect(sig placement.Signature) geom.Rect {
	return s.ToDisplay(sig.PixelRect(s.RasterWidth, s.RasterHeight))
}

// Controller is the gesture state machine: idle, then dragging or resizing
// one signature, then idle again. One gesture at a time.
type Controller struct {
	store    Store
	adapter  Adapter
	capturer Capturer
	opts     Options

	// OnChange is called after every committed geometry change so overlay
	// elements can follow.
	OnChange func(placement.Signature)

	mu        sync.Mutex
	mode      Mode
	id        string
	handle    Handle
	start     Point
	startRect geom.Rect
	surface   Surface
	release   func()
}

// NewController creates a controller writing through store. A nil capturer
// captures nothing; a nil opts uses DefaultOptions.
func NewController(store Store, adapter Adapter, capturer Capturer, opts *Options) *Controller {
	if opts == nil {
		opts = DefaultOptions()
	}
	if capturer == nil {
		capturer = nopCapturer{}
	}
	if adapter == nil {
		adapter = PointerAdapter{}
	}
	return &Controller{store: store, adapter: adapter, capturer: capturer, opts: *opts}
}

// Mode returns the current state.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Active returns the ID of the signature being manipulated, if any.
func (c *Controller) Active() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id, c.mode != ModeIdle
}

// Start begins a gesture on signature id at raw input position (x, y).
// target is the handle element that was hit, HandleNone for the body.
func (c *Controller) Start(id string, x, y float64, target Handle, surface Surface) (Mode, error) {
	if !surface.valid() {
		return ModeIdle, fmt.Errorf("%w: %v", ErrInvalidViewport, surface.Display)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeIdle {
		return c.mode, fmt.Errorf("%w: %s", ErrGestureActive, c.id)
	}

	sig, err := c.store.Get(id)
	if err != nil {
		return ModeIdle, err
	}
	if sig.Baked() {
		return ModeIdle, fmt.Errorf("failed to start gesture: %w", placement.ErrSignatureBaked)
	}

	startRect := sig.PixelRect(surface.RasterWidth, surface.RasterHeight)
	in := c.adapter.Translate(x, y, target, surface.ToDisplay(startRect))

	c.id = id
	c.handle = in.Handle
	c.start = in.Pos
	c.startRect = startRect
	c.surface = surface
	c.mode = ModeDragging
	if in.Handle != HandleNone {
		c.mode = ModeResizing
	}
	c.release = c.capturer.Capture()

	logging.OrDefault(c.opts.Logger).Debug("gesture started",
		slog.String("id", id), slog.String("mode", c.mode.String()), slog.String("handle", in.Handle.String()))
	return c.mode, nil
}

// Move applies the input position (x, y) to the active gesture and commits
// the new geometry to the store.
func (c *Controller) Move(x, y float64) (placement.Signature, error) {
	c.mu.Lock()
	if c.mode == ModeIdle {
		c.mu.Unlock()
		return placement.Signature{}, ErrNoGesture
	}
	in := c.adapter.Translate(x, y, HandleNone, geom.Rect{})
	sx, sy := c.surface.scale()
	dx := (in.Pos.X - c.start.X) * sx
	dy := (in.Pos.Y - c.start.Y) * sy

	var r geom.Rect
	if c.mode == ModeDragging {
		r = c.startRect
		r.X += dx
		r.Y += dy
	} else {
		r = c.resized(dx, dy)
	}
	id, surface := c.id, c.surface
	c.mu.Unlock()

	return c.commit(id, r, surface)
}

// resized applies a raster-pixel delta to the edges the handle controls.
// The edge opposite the handle stays put when the minimum size is reached.
func (c *Controller) resized(dx, dy float64) geom.Rect {
	r := c.startRect
	left, right, top, bottom := c.handle.edges()

	switch {
	case left:
		r.Width = max(c.opts.MinWidth, c.startRect.Width-dx)
		r.X = c.startRect.Right() - r.Width
	case right:
		r.Width = max(c.opts.MinWidth, c.startRect.Width+dx)
	}
	switch {
	case top:
		r.Height = max(c.opts.MinHeight, c.startRect.Height-dy)
		r.Y = c.startRect.Bottom() - r.Height
	case bottom:
		r.Height = max(c.opts.MinHeight, c.startRect.Height+dy)
	}
	return r
}

// End finishes the gesture and releases the captured listeners.
func (c *Controller) End() (placement.Signature, error) {
	c.mu.Lock()
	if c.mode == ModeIdle {
		c.mu.Unlock()
		return placement.Signature{}, ErrNoGesture
	}
	id := c.id
	c.reset()
	c.mu.Unlock()

	return c.store.Get(id)
}

// Cancel aborts the gesture and restores the geometry it started from.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if c.mode == ModeIdle {
		c.mu.Unlock()
		return ErrNoGesture
	}
	id, r, surface := c.id, c.startRect, c.surface
	c.reset()
	c.mu.Unlock()

	_, err := c.commit(id, r, surface)
	return err
}

// reset returns to idle. The caller holds the lock.
func (c *Controller) reset() {
	if c.release != nil {
		c.release()
	}
	c.mode = ModeIdle
	c.id = ""
	c.handle = HandleNone
	c.release = nil
}

func (c *Controller) commit(id string, r geom.Rect, surface Surface) (placement.Signature, error) {
	sig, err := c.store.SetGeometry(id, r, surface.RasterWidth, surface.RasterHeight)
	if err != nil {
		return placement.Signature{}, fmt.Errorf("failed to update signature geometry: %w", err)
	}
	if c.OnChange != nil {
		c.OnChange(sig)
	}
	return sig, nil
}

package document

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/georgepadayatti/docsign/logging"
)

// ErrRenderCancelled is returned by a render that was superseded by a newer
// one. Callers are expected to ignore it.
var ErrRenderCancelled = errors.New("render cancelled")

// Page is a published page raster.
type Page struct {
	Number int
	Scale  float64
	Image  image.Image
}

// Width returns the raster width in pixels.
func (p *Page) Width() int { return p.Image.Bounds().Dx() }

// Height returns the raster height in pixels.
func (p *Page) Height() int { return p.Image.Bounds().Dy() }

// Renderer renders pages for one canvas. Starting a render cancels the one
// in flight; only the latest render publishes its result.
type Renderer struct {
	Logger *slog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	last   *Page
}

// NewRenderer creates a renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render rasterizes page of src at scale. A render superseded while running
// returns ErrRenderCancelled and publishes nothing.
func (r *Renderer) Render(ctx context.Context, src Source, page int, scale float64) (*Page, error) {
	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.gen++
	gen := r.gen
	r.cancel = cancel
	r.mu.Unlock()

	img, err := src.Render(ctx, page, scale)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		cancel()
		logging.OrDefault(r.Logger).Debug("render superseded", slog.Int("page", page))
		return nil, ErrRenderCancelled
	}
	r.cancel = nil
	cancel()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %v", ErrRenderCancelled, err)
		}
		return nil, fmt.Errorf("failed to render page %d: %w", page, err)
	}
	p := &Page{Number: page, Scale: scale, Image: img}
	r.last = p
	return p, nil
}

// Last returns the most recently published page.
func (r *Renderer) Last() (*Page, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.last != nil
}

// Cancel stops the render in flight, if any.
func (r *Renderer) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.gen++
}

// Reset cancels any render and forgets the published page.
func (r *Renderer) Reset() {
	r.Cancel()
	r.mu.Lock()
	r.last = nil
	r.mu.Unlock()
}

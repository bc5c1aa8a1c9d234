package placement

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/docsign/geom"
	"github.com/georgepadayatti/docsign/logging"
)

// Common errors
var (
	ErrSignatureNotFound = errors.New("signature not found")
	ErrInvalidRaster     = errors.New("invalid raster dimensions")
	ErrInvalidPage       = errors.New("invalid page number")
	ErrInvalidGeometry   = errors.New("invalid signature geometry")
	ErrSignatureBaked    = errors.New("signature is baked into the document")
)

// DefaultMargin keeps signatures this many pixels inside the page edges.
const DefaultMargin = 10

// Options configures a Store.
type Options struct {
	// Margin in raster pixels.
	Margin float64
	// Clock stamps placements. Nil uses the real clock.
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// DefaultOptions returns the default store options.
func DefaultOptions() *Options {
	return &Options{
		Margin: DefaultMargin,
		Clock:  clockwork.NewRealClock(),
	}
}

// Store is the signature catalog of one document. It is safe for
// concurrent use.
type Store struct {
	mu     sync.RWMutex
	opts   Options
	sigs   []*Signature
	issued map[string]struct{}
	seq    uint64
}

// NewStore creates an empty store. A nil opts uses DefaultOptions.
func NewStore(opts *Options) *Store {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return &Store{opts: o, issued: make(map[string]struct{})}
}

func (s *Store) logger() *slog.Logger {
	return logging.OrDefault(s.opts.Logger)
}

// Place adds a signature at r on a rasterW x rasterH page raster. The box is
// clamped inside the page margin, shrinking it when it does not fit.
func (s *Store) Place(img ImageRef, r geom.Rect, rasterW, rasterH, page int, author Author) (Signature, error) {
	if err := checkRaster(rasterW, rasterH); err != nil {
		return Signature{}, err
	}
	if page < 1 {
		return Signature{}, fmt.Errorf("%w: %d", ErrInvalidPage, page)
	}
	if err := checkGeometry(r); err != nil {
		return Signature{}, err
	}

	sig := Signature{
		Image:  img,
		Page:   page,
		Author: NormalizeAuthor(author),
		State:  StatePlaced,
	}
	if err := s.project(&sig, r, rasterW, rasterH); err != nil {
		return Signature{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.nextID()
	if err != nil {
		return Signature{}, err
	}
	sig.ID = id
	sig.Timestamp = s.opts.Clock.Now()
	s.sigs = append(s.sigs, &sig)

	s.logger().Debug("signature placed",
		slog.String("id", id), slog.Int("page", page), slog.String("rect", sig.Rect.String()))
	return sig, nil
}

// Move sets the top-left corner of a signature. The size is carried over
// from its normalized geometry.
func (s *Store) Move(id string, x, y float64, rasterW, rasterH int) (Signature, error) {
	return s.update(id, rasterW, rasterH, func(cur geom.Rect) geom.Rect {
		cur.X, cur.Y = x, y
		return cur
	})
}

// Resize sets the size of a signature keeping its top-left corner.
func (s *Store) Resize(id string, w, h float64, rasterW, rasterH int) (Signature, error) {
	return s.update(id, rasterW, rasterH, func(cur geom.Rect) geom.Rect {
		cur.Width, cur.Height = w, h
		return cur
	})
}

// SetGeometry replaces position and size in one step.
func (s *Store) SetGeometry(id string, r geom.Rect, rasterW, rasterH int) (Signature, error) {
	return s.update(id, rasterW, rasterH, func(geom.Rect) geom.Rect { return r })
}

// update computes the new geometry from the current one projected on the
// given raster and commits pixel and normalized fields together.
func (s *Store) update(id string, rasterW, rasterH int, change func(geom.Rect) geom.Rect) (Signature, error) {
	if err := checkRaster(rasterW, rasterH); err != nil {
		return Signature{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sig := s.find(id)
	if sig == nil {
		return Signature{}, fmt.Errorf("%w: %s", ErrSignatureNotFound, id)
	}
	if sig.Baked() {
		return Signature{}, fmt.Errorf("%w: %s", ErrSignatureBaked, id)
	}

	r := change(sig.PixelRect(rasterW, rasterH))
	if err := checkGeometry(r); err != nil {
		return Signature{}, err
	}
	next := *sig
	if err := s.project(&next, r, rasterW, rasterH); err != nil {
		return Signature{}, err
	}
	*sig = next
	return next, nil
}

// project clamps r to the raster and stores pixel and normalized geometry.
// A raster too small to leave any area inside the margin is rejected.
func (s *Store) project(sig *Signature, r geom.Rect, rasterW, rasterH int) error {
	r = r.Clamp(float64(rasterW), float64(rasterH), s.opts.Margin)
	if checkGeometry(r) != nil {
		return fmt.Errorf("%w: no room inside margin %g of a %dx%d raster", ErrInvalidGeometry, s.opts.Margin, rasterW, rasterH)
	}
	sig.Rect = r
	sig.RasterWidth = rasterW
	sig.RasterHeight = rasterH
	sig.Norm = normalize(r, rasterW, rasterH)
	return nil
}

// ReprojectAll recomputes the pixel geometry of every signature on page for
// a new raster size, e.g. after a zoom change. Positions are not clamped
// again. It returns the number of signatures updated.
func (s *Store) ReprojectAll(page, rasterW, rasterH int) int {
	if checkRaster(rasterW, rasterH) != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sig := range s.sigs {
		if sig.Page != page {
			continue
		}
		sig.Rect = sig.PixelRect(rasterW, rasterH)
		sig.RasterWidth = rasterW
		sig.RasterHeight = rasterH
		n++
	}
	return n
}

// Remove deletes a signature. Its ID is never issued again.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sig := range s.sigs {
		if sig.ID == id {
			s.sigs = append(s.sigs[:i], s.sigs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrSignatureNotFound, id)
}

// ClearAll removes every signature.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.sigs = nil
	s.mu.Unlock()
}

// Get returns a copy of the signature with the given ID.
func (s *Store) Get(id string) (Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sig := s.find(id); sig != nil {
		return *sig, nil
	}
	return Signature{}, fmt.Errorf("%w: %s", ErrSignatureNotFound, id)
}

// Len returns the number of signatures in the catalog.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sigs)
}

// All returns copies of every signature in placement order.
func (s *Store) All() []Signature {
	return s.collect(func(*Signature) bool { return true })
}

// Overlays returns the editable signatures of a page.
func (s *Store) Overlays(page int) []Signature {
	return s.collect(func(sig *Signature) bool {
		return sig.Page == page && !sig.Baked()
	})
}

// OccupiedRegions returns the rectangles taken by signatures on page,
// projected onto a rasterW x rasterH raster.
func (s *Store) OccupiedRegions(page, rasterW, rasterH int) []geom.Rect {
	var out []geom.Rect
	for _, sig := range s.collect(func(sig *Signature) bool { return sig.Page == page }) {
		out = append(out, sig.PixelRect(rasterW, rasterH))
	}
	return out
}

// MarkBaked moves the given signatures to StateBaked and returns how many
// changed. Unknown IDs are ignored.
func (s *Store) MarkBaked(ids ...string) int {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sig := range s.sigs {
		if want[sig.ID] && !sig.Baked() {
			sig.State = StateBaked
			n++
		}
	}
	return n
}

// Snapshot returns the catalog for persistence.
func (s *Store) Snapshot() []Signature {
	return s.All()
}

// Restore replaces the catalog with previously saved signatures. Their IDs
// are reserved so new placements never reuse them.
func (s *Store) Restore(sigs []Signature) error {
	seen := make(map[string]bool, len(sigs))
	restored := make([]*Signature, 0, len(sigs))
	for i := range sigs {
		sig := sigs[i]
		if sig.ID == "" || seen[sig.ID] {
			return fmt.Errorf("failed to restore signature %d: %w: duplicate or empty id %q", i, ErrInvalidGeometry, sig.ID)
		}
		if sig.Page < 1 {
			return fmt.Errorf("failed to restore signature %s: %w", sig.ID, ErrInvalidPage)
		}
		if !validNorm(sig.Norm) {
			return fmt.Errorf("failed to restore signature %s: %w: %v", sig.ID, ErrInvalidGeometry, sig.Norm)
		}
		if sig.Rect.IsEmpty() && checkRaster(sig.RasterWidth, sig.RasterHeight) == nil {
			sig.Rect = sig.PixelRect(sig.RasterWidth, sig.RasterHeight)
		}
		seen[sig.ID] = true
		restored = append(restored, &sig)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sigs = restored
	for id := range seen {
		s.issued[id] = struct{}{}
	}
	return nil
}

func (s *Store) collect(keep func(*Signature) bool) []Signature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Signature
	for _, sig := range s.sigs {
		if keep(sig) {
			out = append(out, *sig)
		}
	}
	return out
}

func (s *Store) find(id string) *Signature {
	for _, sig := range s.sigs {
		if sig.ID == id {
			return sig
		}
	}
	return nil
}

// nextID issues an ID that has never been issued by this store. The caller
// holds the lock.
func (s *Store) nextID() (string, error) {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return "", fmt.Errorf("failed to generate signature id: %w", err)
		}
		s.seq++
		id := fmt.Sprintf("sig-%d-%s", s.seq, hex.EncodeToString(b[:]))
		if _, taken := s.issued[id]; !taken {
			s.issued[id] = struct{}{}
			return id, nil
		}
	}
}

func checkRaster(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidRaster, w, h)
	}
	return nil
}

func checkGeometry(r geom.Rect) error {
	for _, v := range []float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %v", ErrInvalidGeometry, r)
		}
	}
	if r.IsEmpty() {
		return fmt.Errorf("%w: %v", ErrInvalidGeometry, r)
	}
	return nil
}

func validNorm(r geom.Rect) bool {
	if checkGeometry(r) != nil {
		return false
	}
	return r.X >= 0 && r.Y >= 0 && r.Right() <= 1+1e-9 && r.Bottom() <= 1+1e-9
}

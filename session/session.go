// Package session is one editing session: a document, its page view and the
// signatures placed on it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/docsign/compose"
	"github.com/georgepadayatti/docsign/detect"
	"github.com/georgepadayatti/docsign/document"
	"github.com/georgepadayatti/docsign/geom"
	"github.com/georgepadayatti/docsign/gesture"
	"github.com/georgepadayatti/docsign/logging"
	"github.com/georgepadayatti/docsign/placement"
	"github.com/georgepadayatti/docsign/raster"
	"github.com/georgepadayatti/docsign/storage"
)

// Common errors
var (
	ErrNoDocument   = errors.New("no document open")
	ErrNotRendered  = errors.New("current page has not been rendered")
	ErrNoCandidates = errors.New("no signature position found")

	// ErrNoPageContent is returned by Detect on a PDF opened without a
	// rasterizer, whose pages are placeholders.
	ErrNoPageContent = errors.New("page content is not available without a PDF rasterizer")
)

// Options configures a Session.
type Options struct {
	// DisplayScale is the initial zoom; SetZoom clamps to [MinScale, MaxScale].
	DisplayScale float64
	MinScale     float64
	MaxScale     float64

	Detection  *detect.Options
	Labels     detect.LabelLocator
	Placement  *placement.Options
	Gesture    *gesture.Options
	Export     *compose.Options
	Rasterizer document.Rasterizer

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// DefaultOptions returns the default session options.
func DefaultOptions() *Options {
	return &Options{
		DisplayScale: 1.5,
		MinScale:     0.5,
		MaxScale:     4,
		Clock:        clockwork.NewRealClock(),
	}
}

// Session owns the open document and its signature catalog. Blobs and
// Metadata are optional; without them signatures are kept inline and the
// catalog is not persisted.
type Session struct {
	Blobs    storage.BlobStore
	Metadata storage.MetadataStore
	Resolver compose.ImageResolver

	opts     Options
	renderer *document.Renderer
	detector *detect.Detector

	mu    sync.Mutex
	doc   *document.Document
	store *placement.Store
	scale float64
}

// New creates a session without a document. A nil opts uses
// DefaultOptions.
func New(blobs storage.BlobStore, meta storage.MetadataStore, opts *Options) *Session {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.DisplayScale <= 0 {
		o.DisplayScale = 1
	}

	det := detect.NewDetector(o.Detection)
	det.Labels = o.Labels
	det.Logger = o.Logger

	r := document.NewRenderer()
	r.Logger = o.Logger

	s := &Session{
		Blobs:    blobs,
		Metadata: meta,
		Resolver: storage.NewImageResolver(blobs, ""),
		opts:     o,
		renderer: r,
		detector: det,
		scale:    o.DisplayScale,
	}
	s.store = s.newStore()
	return s
}

func (s *Session) logger() *slog.Logger {
	return logging.OrDefault(s.opts.Logger)
}

func (s *Session) newStore() *placement.Store {
	po := placement.DefaultOptions()
	if s.opts.Placement != nil {
		po = s.opts.Placement
	}
	o := *po
	o.Clock = s.opts.Clock
	o.Logger = s.opts.Logger
	return placement.NewStore(&o)
}

// Open loads a document from its bytes, restores its saved catalog and
// renders the first page. Any previously open document is closed.
func (s *Session) Open(ctx context.Context, name string, data []byte) (*document.Page, error) {
	src, err := document.NewSource(name, data, &document.SourceOptions{Rasterizer: s.opts.Rasterizer})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return s.OpenSource(ctx, document.ContentID(data), src)
}

// OpenSource is Open for an already constructed source. The open document
// is only replaced once the new one is restored.
func (s *Session) OpenSource(ctx context.Context, id string, src document.Source) (*document.Page, error) {
	if src.PageCount() < 1 {
		return nil, document.ErrEmptyDocument
	}

	doc := document.New(id, src)
	store := s.newStore()
	if err := s.restore(ctx, doc, store); err != nil {
		return nil, err
	}

	s.Close()
	s.mu.Lock()
	s.doc = doc
	s.store = store
	s.scale = s.opts.DisplayScale
	s.mu.Unlock()

	s.logger().Info("document opened", slog.String("document", doc.String()))
	return s.Render(ctx)
}

func (s *Session) restore(ctx context.Context, doc *document.Document, store *placement.Store) error {
	if s.Metadata == nil {
		return nil
	}
	rec, err := s.Metadata.LoadCatalog(ctx, doc.ID)
	if errors.Is(err, storage.ErrCatalogNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	if err := store.Restore(rec.PlacedSignatures()); err != nil {
		return fmt.Errorf("failed to restore catalog: %w", err)
	}
	s.logger().Debug("catalog restored",
		slog.String("document", doc.ID), slog.Int("signatures", len(rec.Signatures)))
	return nil
}

// Close cancels rendering and drops the document and its catalog. The
// persisted catalog is left alone.
func (s *Session) Close() {
	s.renderer.Reset()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc != nil {
		s.logger().Debug("document closed", slog.String("document", s.doc.ID))
	}
	s.doc = nil
	s.store.ClearAll()
}

// Document returns the open document.
func (s *Session) Document() (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, ErrNoDocument
	}
	return s.doc, nil
}

// Store returns the signature catalog of the open document.
func (s *Session) Store() *placement.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// Scale returns the current display zoom.
func (s *Session) Scale() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scale
}

// Render renders the current page at the current zoom and reprojects the
// page's signatures onto the new raster. A render superseded by a newer one
// returns document.ErrRenderCancelled.
func (s *Session) Render(ctx context.Context) (*document.Page, error) {
	s.mu.Lock()
	doc, store, scale := s.doc, s.store, s.scale
	s.mu.Unlock()
	if doc == nil {
		return nil, ErrNoDocument
	}

	page, err := s.renderer.Render(ctx, doc.Source, doc.CurrentPage(), scale)
	if err != nil {
		return nil, err
	}
	doc.SetRasterSize(page.Number, page.Width(), page.Height())
	n := store.ReprojectAll(page.Number, page.Width(), page.Height())
	s.logger().Debug("page rendered",
		slog.Int("page", page.Number), slog.Float64("scale", scale),
		slog.Int("width", page.Width()), slog.Int("height", page.Height()),
		slog.Int("reprojected", n))
	return page, nil
}

// SetZoom changes the display zoom, clamped to the configured range, and
// re-renders.
func (s *Session) SetZoom(ctx context.Context, scale float64) (*document.Page, error) {
	if math.IsNaN(scale) {
		return nil, fmt.Errorf("%w: %v", document.ErrInvalidScale, scale)
	}
	if s.opts.MinScale > 0 {
		scale = math.Max(scale, s.opts.MinScale)
	}
	if s.opts.MaxScale > 0 {
		scale = math.Min(scale, s.opts.MaxScale)
	}
	s.mu.Lock()
	s.scale = scale
	s.mu.Unlock()
	return s.Render(ctx)
}

// GoToPage switches to page and renders it.
func (s *Session) GoToPage(ctx context.Context, page int) (*document.Page, error) {
	doc, err := s.Document()
	if err != nil {
		return nil, err
	}
	if err := doc.SetCurrentPage(page); err != nil {
		return nil, err
	}
	return s.Render(ctx)
}

// current returns the open document and the published raster of its
// current page.
func (s *Session) current() (*document.Document, *document.Page, error) {
	doc, err := s.Document()
	if err != nil {
		return nil, nil, err
	}
	page, ok := s.renderer.Last()
	if !ok || page.Number != doc.CurrentPage() {
		return nil, nil, ErrNotRendered
	}
	return doc, page, nil
}

// Surface describes the current page raster shown at display on screen, for
// the gesture controller.
func (s *Session) Surface(display geom.Rect) (gesture.Surface, error) {
	_, page, err := s.current()
	if err != nil {
		return gesture.Surface{}, err
	}
	return gesture.Surface{RasterWidth: page.Width(), RasterHeight: page.Height(), Display: display}, nil
}

// Controller returns a gesture controller writing to the catalog.
func (s *Session) Controller(adapter gesture.Adapter, capturer gesture.Capturer) *gesture.Controller {
	opts := gesture.DefaultOptions()
	if s.opts.Gesture != nil {
		o := *s.opts.Gesture
		opts = &o
	}
	if opts.Logger == nil {
		opts.Logger = s.opts.Logger
	}
	return gesture.NewController(s.Store(), adapter, capturer, opts)
}

// Detect suggests signature positions on the current page, avoiding
// signatures already there. It reads the last published raster only.
func (s *Session) Detect(ctx context.Context) ([]detect.Candidate, error) {
	doc, page, err := s.current()
	if err != nil {
		return nil, err
	}
	if pdf, ok := doc.Source.(*document.PDFSource); ok && !pdf.Rasterized() {
		return nil, ErrNoPageContent
	}
	r, err := raster.FromImage(page.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to read page raster: %w", err)
	}
	occupied := s.Store().OccupiedRegions(page.Number, page.Width(), page.Height())
	return s.detector.Detect(ctx, r, occupied), nil
}

// Overlays returns the editable signatures of the current page.
func (s *Session) Overlays() ([]placement.Signature, error) {
	doc, err := s.Document()
	if err != nil {
		return nil, err
	}
	return s.Store().Overlays(doc.CurrentPage()), nil
}

// Place adds a signature at r in current raster pixels.
func (s *Session) Place(img placement.ImageRef, r geom.Rect, author placement.Author) (placement.Signature, error) {
	_, page, err := s.current()
	if err != nil {
		return placement.Signature{}, err
	}
	return s.Store().Place(img, r, page.Width(), page.Height(), page.Number, author)
}

// AutoPlace places a signature at the best detected position.
func (s *Session) AutoPlace(ctx context.Context, img placement.ImageRef, author placement.Author) (placement.Signature, detect.Candidate, error) {
	cands, err := s.Detect(ctx)
	if err != nil {
		return placement.Signature{}, detect.Candidate{}, err
	}
	if len(cands) == 0 {
		return placement.Signature{}, detect.Candidate{}, ErrNoCandidates
	}
	best := cands[0]
	sig, err := s.Place(img, best.Rect, author)
	if err != nil {
		return placement.Signature{}, best, err
	}
	s.logger().Info("signature placed automatically",
		slog.String("id", sig.ID), slog.String("field_type", best.FieldType.String()),
		slog.Float64("confidence", best.Confidence), slog.String("reason", best.Reason))
	return sig, best, nil
}

// StoreImage keeps a signature image and returns its reference: a blob URL
// when a blob store is configured, a data: URI otherwise.
func (s *Session) StoreImage(ctx context.Context, data []byte) (placement.ImageRef, error) {
	mimeType := http.DetectContentType(data)
	if s.Blobs == nil {
		return storage.EncodeDataURI(mimeType, data), nil
	}
	ext := ""
	switch mimeType {
	case "image/png":
		ext = ".png"
	case "image/jpeg":
		ext = ".jpg"
	case "image/gif":
		ext = ".gif"
	case "image/webp":
		ext = ".webp"
	}
	u, err := s.Blobs.Store(ctx, data, storage.ContentPath("signatures", data, ext))
	if err != nil {
		return "", fmt.Errorf("failed to store signature image: %w", err)
	}
	return placement.ImageRef(u), nil
}

// Export flattens the catalog into the document and saves the result. On
// success the session continues on the exported document, whose catalog
// has the drawn signatures marked baked, so a later export keeps them. When
// the flatten or the save fails the session is unchanged; a save failure
// still returns the blob.
func (s *Session) Export(ctx context.Context) (*compose.ExportedBlob, error) {
	doc, err := s.Document()
	if err != nil {
		return nil, err
	}
	snapshot := s.Store().Snapshot()

	opts := compose.DefaultOptions()
	if s.opts.Export != nil {
		o := *s.opts.Export
		opts = &o
	}
	if opts.Logger == nil {
		opts.Logger = s.opts.Logger
	}
	if opts.Clock == nil {
		opts.Clock = s.opts.Clock
	}

	blob, err := compose.Flatten(ctx, doc.Source, snapshot, s.Resolver, opts)
	if err != nil {
		return nil, err
	}

	next, err := s.exportedDocument(doc, blob)
	if err != nil {
		return blob, err
	}
	store := s.newStore()
	if err := store.Restore(snapshot); err != nil {
		return blob, fmt.Errorf("failed to carry catalog over: %w", err)
	}
	n := store.MarkBaked(blob.Baked...)
	if err := s.saveCatalog(ctx, next, store); err != nil {
		return blob, err
	}

	s.renderer.Reset()
	s.mu.Lock()
	s.doc = next
	s.store = store
	s.mu.Unlock()
	s.logger().Info("signatures baked",
		slog.String("document", doc.ID), slog.String("exported", next.ID), slog.Int("count", n))

	if _, err := s.Render(ctx); err != nil {
		s.logger().Warn("failed to render exported document", slog.Any("error", err))
	}
	return blob, nil
}

// exportedDocument opens blob as the successor of doc. It keeps the name
// and page geometry of doc.
func (s *Session) exportedDocument(doc *document.Document, blob *compose.ExportedBlob) (*document.Document, error) {
	name := doc.Source.Name()
	var src document.Source
	var err error
	switch blob.Format {
	case compose.FormatPDF:
		src, err = document.NewPDFSource(name, blob.Data, s.opts.Rasterizer)
	default:
		w, h, perr := doc.Source.PageSize(1)
		if perr != nil {
			return nil, perr
		}
		src, err = document.NewImageSourceWithSize(name, blob.Data, w, h)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reopen export: %w", err)
	}
	next := document.New(document.ContentID(blob.Data), src)
	if err := next.SetCurrentPage(doc.CurrentPage()); err != nil {
		s.logger().Debug("export has fewer pages", slog.Int("page", doc.CurrentPage()))
	}
	return next, nil
}

// PublishExport stores an exported blob under exports/<document id>/ and
// returns its URL.
func (s *Session) PublishExport(ctx context.Context, blob *compose.ExportedBlob) (string, error) {
	doc, err := s.Document()
	if err != nil {
		return "", err
	}
	if s.Blobs == nil {
		return "", fmt.Errorf("failed to publish export: no blob store configured")
	}
	return s.Blobs.Store(ctx, blob.Data, "exports/"+doc.ID+"/"+blob.Filename)
}

// Save persists the catalog. Without a metadata store it does nothing.
func (s *Session) Save(ctx context.Context) error {
	if s.Metadata == nil {
		return nil
	}
	doc, err := s.Document()
	if err != nil {
		return err
	}
	return s.saveCatalog(ctx, doc, s.Store())
}

func (s *Session) saveCatalog(ctx context.Context, doc *document.Document, store *placement.Store) error {
	if s.Metadata == nil {
		return nil
	}
	rec := storage.NewCatalogRecord(doc.ID, doc.Name, store.Snapshot(), s.opts.Clock.Now())
	if err := s.Metadata.SaveCatalog(ctx, rec); err != nil {
		return fmt.Errorf("failed to save catalog: %w", err)
	}
	return nil
}

// Remove deletes a signature from the catalog.
func (s *Session) Remove(id string) error {
	return s.Store().Remove(id)
}

// Reset removes every signature of the open document, including its saved
// catalog.
func (s *Session) Reset(ctx context.Context) error {
	doc, err := s.Document()
	if err != nil {
		return err
	}
	s.Store().ClearAll()
	if s.Metadata == nil {
		return nil
	}
	err = s.Metadata.DeleteCatalog(ctx, doc.ID)
	if err != nil && !errors.Is(err, storage.ErrCatalogNotFound) {
		return fmt.Errorf("failed to delete catalog: %w", err)
	}
	return nil
}
